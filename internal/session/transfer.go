// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/ClementNerma/Harmony/internal/apperr"
	"github.com/ClementNerma/Harmony/internal/safepath"
	"github.com/ClementNerma/Harmony/internal/slot"
)

// transferTarget is the information Transfer needs to stream a body,
// extracted under the slot's read lock and used after releasing it:
// the lock must not be held during the body stream.
type transferTarget struct {
	fileID      string
	pendingPath string
	completeDir string
	destPath    string
	expected    struct {
		size       uint64
		mtimeSecs  uint64
		mtimeNanos uint32
		hash       [32]byte // zero means the session carries no expected hash
	}
}

// Transfer streams body into the staged location for relPath within
// slotName's open session, then atomically promotes it into the
// content tree.
func (m *Manager) Transfer(slotName, token, relPath string, body io.Reader) error {
	s, err := m.lookupSlot(slotName)
	if err != nil {
		return err
	}

	target, err := resolveTransferTarget(s, token, relPath)
	if err != nil {
		return err
	}

	if err := removeStale(target.pendingPath); err != nil {
		return apperr.BadRequest("stale pending file could not be removed: %v", err)
	}

	written, hash, err := streamToPending(target.pendingPath, body)
	if err != nil {
		return apperr.Internal(err, "write pending file for %s", relPath)
	}
	if written != target.expected.size {
		return apperr.BadRequest("size mismatch for %s: wrote %d bytes, expected %d", relPath, written, target.expected.size)
	}
	if target.expected.hash != ([32]byte{}) && hash != target.expected.hash {
		return apperr.BadRequest("content hash mismatch for %s", relPath)
	}

	mtime := time.Unix(int64(target.expected.mtimeSecs), int64(target.expected.mtimeNanos))
	if err := os.Chtimes(target.pendingPath, mtime, mtime); err != nil {
		return apperr.Internal(err, "set mtime for %s", relPath)
	}

	if err := os.MkdirAll(filepath.Dir(target.destPath), 0o755); err != nil {
		return apperr.Internal(err, "create parent directory for %s", relPath)
	}
	if err := promote(target.pendingPath, target.destPath); err != nil {
		return apperr.Internal(err, "promote %s into content tree", relPath)
	}

	markerPath := filepath.Join(target.completeDir, target.fileID)
	if err := os.WriteFile(markerPath, nil, 0o644); err != nil {
		return apperr.Internal(err, "write completion marker for %s", relPath)
	}

	return nil
}

func resolveTransferTarget(s *slot.Slot, token, relPath string) (transferTarget, error) {
	if err := safepath.Validate(relPath); err != nil {
		return transferTarget{}, apperr.BadRequest("unsafe path %q: %v", relPath, err)
	}

	s.RLock()
	defer s.RUnlock()

	open := s.OpenSyncLocked()
	if open == nil {
		return transferTarget{}, apperr.NotFound("slot %q has no open session", s.Name)
	}
	if token != open.AccessToken {
		return transferTarget{}, apperr.Forbidden("invalid access token")
	}

	var fileID string
	var entry slot.FileEntry
	found := false
	for id, e := range open.Files {
		if e.RelativePath == relPath {
			fileID, entry, found = id, e, true
			break
		}
	}
	if !found {
		return transferTarget{}, apperr.BadRequest("path %q is not part of the open session", relPath)
	}

	t := transferTarget{
		fileID:      fileID,
		pendingPath: filepath.Join(s.PendingDir(open.ID), fileID),
		completeDir: s.CompleteDir(open.ID),
		destPath:    safepath.Join(s.ContentDir(), relPath),
	}
	t.expected.size = entry.Expected.Size
	t.expected.mtimeSecs = entry.Expected.MtimeSecs
	t.expected.mtimeNanos = entry.Expected.MtimeNanos
	t.expected.hash = entry.Expected.ContentHash
	return t, nil
}

func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// streamToPending writes body to path while hashing it with BLAKE3, so
// a session carrying an expected content hash can be verified without
// a second read pass.
func streamToPending(path string, body io.Reader) (uint64, [32]byte, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, [32]byte{}, err
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(f, io.TeeReader(body, h))
	if err != nil {
		return 0, [32]byte{}, err
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return uint64(n), sum, nil
}

// promote moves src to dst, overwriting dst. If the two paths are on
// different filesystems os.Rename fails with EXDEV; fall back to
// copy-then-delete within the staging tree so the marker is only
// written once the destination is durable.
func promote(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
