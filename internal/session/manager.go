// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package session implements the stateful core of the sync protocol: the
// open/is-open/resume/transfer/finalize operations that turn an apply
// plan into files committed on disk.
package session

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/ClementNerma/Harmony/internal/apperr"
	"github.com/ClementNerma/Harmony/internal/diff"
	"github.com/ClementNerma/Harmony/internal/idgen"
	"github.com/ClementNerma/Harmony/internal/safepath"
	"github.com/ClementNerma/Harmony/internal/slot"
)

// SyncInfo is returned by open and resume: enough for a client to start
// (or continue) streaming files.
type SyncInfo struct {
	AccessToken       string
	TransferFileIDs   map[string]string // file_id -> relative_path
	TransferTotalSize uint64
}

// Manager implements the six session operations against a slot registry.
type Manager struct {
	registry *slot.Registry
}

// NewManager returns a Manager backed by reg.
func NewManager(reg *slot.Registry) *Manager {
	return &Manager{registry: reg}
}

func (m *Manager) lookupSlot(slotName string) (*slot.Slot, error) {
	s, ok := m.registry.Get(slotName)
	if !ok {
		return nil, apperr.NotFound("unknown slot %q", slotName)
	}
	return s, nil
}

// Open begins a new session on slotName from the already-computed diff
// d.
func (m *Manager) Open(slotName string, d *diff.Diff) (*SyncInfo, error) {
	s, err := m.lookupSlot(slotName)
	if err != nil {
		return nil, err
	}

	s.Lock()
	defer s.Unlock()

	if s.OpenSyncLocked() != nil {
		return nil, apperr.Conflict("slot %q already has an open session", slotName)
	}

	if err := validateDiffPaths(d); err != nil {
		return nil, err
	}

	plan := diff.Derive(d)

	files := make(map[string]slot.FileEntry, len(plan.SendFiles))
	fileIDs := make(map[string]string, len(plan.SendFiles))
	var total uint64
	for _, sf := range plan.SendFiles {
		id := idgen.New()
		files[id] = slot.FileEntry{RelativePath: sf.RelativePath, Expected: sf.Meta}
		fileIDs[id] = sf.RelativePath
		total += sf.Meta.Size
	}

	id := idgen.New()
	sessionDir, pendingDir, completeDir := s.SessionDir(id), s.PendingDir(id), s.CompleteDir(id)
	if err := os.MkdirAll(pendingDir, 0o755); err != nil {
		_ = os.RemoveAll(sessionDir)
		return nil, apperr.Internal(err, "create pending directory")
	}
	if err := os.MkdirAll(completeDir, 0o755); err != nil {
		_ = os.RemoveAll(sessionDir)
		return nil, apperr.Internal(err, "create complete directory")
	}

	if err := applyPreDelete(s.ContentDir(), plan); err != nil {
		_ = os.RemoveAll(sessionDir)
		return nil, err
	}

	token := idgen.New()
	s.SetOpenSyncLocked(&slot.OpenSync{
		ID:          id,
		AccessToken: token,
		Diff:        d,
		Plan:        plan,
		Files:       files,
	})

	return &SyncInfo{AccessToken: token, TransferFileIDs: fileIDs, TransferTotalSize: total}, nil
}

// validateDiffPaths rejects a diff containing any path that is not a
// safe relative path, before the diff is turned into a plan and before
// any of the plan's directory creates or pre-deletes run. Every key
// across the diff's four sections feeds into one of Plan's fields
// (CreateDirs, SendFiles, DeleteFiles, DeleteEmptyDirs), so validating
// here covers all of them, not just the ones sent as file uploads.
func validateDiffPaths(d *diff.Diff) error {
	for path := range d.Added {
		if err := safepath.Validate(path); err != nil {
			return apperr.BadRequest("unsafe path in diff: %s: %v", path, err)
		}
	}
	for path := range d.Modified {
		if err := safepath.Validate(path); err != nil {
			return apperr.BadRequest("unsafe path in diff: %s: %v", path, err)
		}
	}
	for path := range d.TypeChanged {
		if err := safepath.Validate(path); err != nil {
			return apperr.BadRequest("unsafe path in diff: %s: %v", path, err)
		}
	}
	for path := range d.Deleted {
		if err := safepath.Validate(path); err != nil {
			return apperr.BadRequest("unsafe path in diff: %s: %v", path, err)
		}
	}
	return nil
}

// applyPreDelete executes the plan's destructive, idempotent-from-the-
// client's-viewpoint steps: delete_files then delete_empty_dirs.
func applyPreDelete(contentDir string, plan *diff.Plan) error {
	for _, path := range plan.DeleteFiles {
		abs := safepath.Join(contentDir, path)
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return apperr.Internal(err, "delete file %s", path)
		}
	}
	for _, path := range plan.DeleteEmptyDirs {
		abs := safepath.Join(contentDir, path)
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return apperr.Internal(err, "delete directory %s", path)
		}
	}
	return nil
}

// IsOpen reports whether slotName currently has an open session.
func (m *Manager) IsOpen(slotName string) (bool, error) {
	s, err := m.lookupSlot(slotName)
	if err != nil {
		return false, err
	}
	s.RLock()
	defer s.RUnlock()
	return s.OpenSyncLocked() != nil, nil
}

// Resume regenerates the access token of slotName's open session and
// reports which files remain to be transferred.
func (m *Manager) Resume(slotName string) (*SyncInfo, error) {
	s, err := m.lookupSlot(slotName)
	if err != nil {
		return nil, err
	}

	s.Lock()
	defer s.Unlock()

	open := s.OpenSyncLocked()
	if open == nil {
		return nil, apperr.Conflict("slot %q has no open session", slotName)
	}

	completeDir := s.CompleteDir(open.ID)
	pendingDir := s.PendingDir(open.ID)

	remaining := make(map[string]string)
	var total uint64
	for id, entry := range open.Files {
		if _, err := os.Stat(safepath.Join(completeDir, id)); err == nil {
			continue // already committed
		}
		remaining[id] = entry.RelativePath
		total += entry.Expected.Size
	}

	if err := clearDir(pendingDir); err != nil {
		return nil, apperr.Internal(err, "clear stale pending entries")
	}

	open.AccessToken = idgen.New()

	return &SyncInfo{AccessToken: open.AccessToken, TransferFileIDs: remaining, TransferTotalSize: total}, nil
}

// clearDir removes every direct entry of dir, leaving dir itself in place.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Finalize commits a session: verifies completeness, creates the
// remaining empty directories, and tears down staging.
func (m *Manager) Finalize(slotName, token string) error {
	s, err := m.lookupSlot(slotName)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	open := s.OpenSyncLocked()
	if open == nil {
		return apperr.NotFound("slot %q has no open session", slotName)
	}
	if token != open.AccessToken {
		return apperr.Forbidden("invalid session token")
	}

	completeDir := s.CompleteDir(open.ID)
	for id, entry := range open.Files {
		if _, err := os.Stat(safepath.Join(completeDir, id)); err != nil {
			return apperr.BadRequest("file not transferred yet: %s", entry.RelativePath)
		}
	}

	contentDir := s.ContentDir()
	dirs := append([]string(nil), open.Plan.CreateDirs...)
	sort.Strings(dirs)
	for _, d := range dirs {
		if err := os.MkdirAll(safepath.Join(contentDir, d), 0o755); err != nil {
			return apperr.Internal(err, "create directory %s", d)
		}
	}

	if err := os.RemoveAll(s.SessionDir(open.ID)); err != nil {
		return apperr.Internal(err, "remove session directory")
	}

	s.SetOpenSyncLocked(nil)
	return nil
}

// Abort discards slotName's open session without touching the content
// tree: the staging directories are removed and open_sync is cleared,
// but no pending transfer is promoted and no directory is created. Pre-
// deleted entries from open are not restored, matching the rest of the
// protocol's "client is authority" model.
func (m *Manager) Abort(slotName, token string) error {
	s, err := m.lookupSlot(slotName)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	open := s.OpenSyncLocked()
	if open == nil {
		return apperr.NotFound("slot %q has no open session", slotName)
	}
	if token != open.AccessToken {
		return apperr.Forbidden("invalid session token")
	}

	if err := os.RemoveAll(s.SessionDir(open.ID)); err != nil {
		return apperr.Internal(err, "remove session directory")
	}

	s.SetOpenSyncLocked(nil)
	return nil
}
