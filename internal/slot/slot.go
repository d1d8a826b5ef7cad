// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package slot models the server's replication targets: named slots, each
// backed by one content tree, each carrying at most one in-progress sync
// session. The registry built from configuration is immutable after
// startup; only a slot's session field ever changes, and it changes
// behind that slot's own lock so activity on distinct slots never
// contends.
package slot

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ClementNerma/Harmony/internal/diff"
	"github.com/ClementNerma/Harmony/internal/snapshot"
)

// forbiddenNameChars lists the characters a slot name may never contain.
const forbiddenNameChars = "/\\<>:\"|?*\r\n\x00"

// ValidateName reports whether name is a legal slot name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("slot: name must be non-empty")
	}
	if strings.ContainsAny(name, forbiddenNameChars) {
		return fmt.Errorf("slot: name %q contains a forbidden character", name)
	}
	return nil
}

// FileEntry is one file advertised by an open session's apply plan: the
// path it will land at and the metadata a transferred body must match.
type FileEntry struct {
	RelativePath string
	Expected     snapshot.FileMeta
}

// OpenSync is the stateful record of an in-progress sync against a
// slot. It lives behind the owning Slot's lock.
type OpenSync struct {
	ID          string
	AccessToken string
	Diff        *diff.Diff
	Plan        *diff.Plan
	Files       map[string]FileEntry // file_id -> entry
}

// Slot is one named replication target. The on-disk session directories
// (open-sync-<id>/pending, .../complete) always live under Root(),
// regardless of LinkedPath; only ContentDir() is redirected when a slot
// is linked.
type Slot struct {
	Name       string
	LinkedPath string // empty unless this slot's content lives elsewhere
	dataRoot   string

	mu   sync.RWMutex
	open *OpenSync
}

// New builds a Slot. dataRoot is the server's configured data directory.
func New(name, linkedPath, dataRoot string) (*Slot, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if linkedPath != "" {
		if !filepath.IsAbs(linkedPath) {
			return nil, fmt.Errorf("slot %q: linked path must be absolute", name)
		}
		for _, part := range strings.Split(filepath.ToSlash(linkedPath), "/") {
			if part == "." || part == ".." {
				return nil, fmt.Errorf("slot %q: linked path must not contain . or .. components", name)
			}
		}
	}
	return &Slot{Name: name, LinkedPath: linkedPath, dataRoot: dataRoot}, nil
}

// Root returns <data_root>/slots/<name>, the directory session staging
// trees live under regardless of where content is linked.
func (s *Slot) Root() string {
	return filepath.Join(s.dataRoot, "slots", s.Name)
}

// ContentDir returns the slot's live, authoritative tree.
func (s *Slot) ContentDir() string {
	if s.LinkedPath != "" {
		return s.LinkedPath
	}
	return filepath.Join(s.Root(), "content")
}

// SessionDir returns the per-session directory for session id.
func (s *Slot) SessionDir(id string) string {
	return filepath.Join(s.Root(), "open-sync-"+id)
}

// PendingDir returns the in-flight upload directory for session id.
func (s *Slot) PendingDir(id string) string {
	return filepath.Join(s.SessionDir(id), "pending")
}

// CompleteDir returns the completion-marker directory for session id.
func (s *Slot) CompleteDir(id string) string {
	return filepath.Join(s.SessionDir(id), "complete")
}

// RLock acquires the slot's read lock. Callers must release it with
// RUnlock before doing any long-running I/O.
func (s *Slot) RLock() { s.mu.RLock() }

// RUnlock releases the slot's read lock.
func (s *Slot) RUnlock() { s.mu.RUnlock() }

// Lock acquires the slot's write lock, used by open/resume/finalize.
func (s *Slot) Lock() { s.mu.Lock() }

// Unlock releases the slot's write lock.
func (s *Slot) Unlock() { s.mu.Unlock() }

// OpenSyncLocked returns the slot's current session. Callers must hold
// either lock.
func (s *Slot) OpenSyncLocked() *OpenSync { return s.open }

// SetOpenSyncLocked installs (or clears, with nil) the slot's session.
// Callers must hold the write lock.
func (s *Slot) SetOpenSyncLocked(o *OpenSync) { s.open = o }

// Registry is the process-wide, immutable-after-startup mapping from
// slot name to slot state.
type Registry struct {
	slots map[string]*Slot
}

// NewRegistry builds a Registry from a fixed set of slots. It is built
// once at process start and never mutated afterwards.
func NewRegistry(slots []*Slot) (*Registry, error) {
	m := make(map[string]*Slot, len(slots))
	for _, s := range slots {
		if _, dup := m[s.Name]; dup {
			return nil, fmt.Errorf("slot: duplicate slot name %q", s.Name)
		}
		m[s.Name] = s
	}
	return &Registry{slots: m}, nil
}

// Get returns the slot named name, or ok=false if no such slot exists.
func (r *Registry) Get(name string) (*Slot, bool) {
	s, ok := r.slots[name]
	return s, ok
}

// Names returns every configured slot name, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	return names
}
