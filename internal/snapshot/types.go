// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package snapshot builds a flat catalog of a directory tree: the first
// phase of Harmony's three-phase synchronization protocol.
//
// A Snapshot is never persisted as part of the sync protocol itself — it
// is built fresh on each request, by both client and server, and handed
// to the differ. See package diff.
package snapshot

import "sort"

// Kind distinguishes directory entries from file entries. Symbolic links
// and anything else are rejected during capture, never represented here.
type Kind uint8

const (
	// KindDirectory marks an entry as a directory.
	KindDirectory Kind = iota
	// KindFile marks an entry as a regular file.
	KindFile
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// FileMeta is the metadata captured for a regular file. The differ
// compares Size, MtimeSecs and MtimeNanos exactly and ignores
// ContentHash; the only relaxation is the explicit time-granularity
// filter applied after diffing (see package diff).
type FileMeta struct {
	Size        uint64
	MtimeSecs   uint64
	MtimeNanos  uint32
	ContentHash [32]byte // zero value means "not computed", see Options.VerifyHashes
}

// HasHash reports whether ContentHash was populated during capture.
func (m FileMeta) HasHash() bool {
	return m.ContentHash != [32]byte{}
}

// Item is a single catalog entry: a relative path plus its kind-specific
// metadata. RelativePath is forward-slash separated, UTF-8, and never
// contains "." or ".." components (see package safepath).
type Item struct {
	RelativePath string
	Kind         Kind
	File         FileMeta // zero value when Kind == KindDirectory
}

// Snapshot is the flat catalog produced by Capture.
type Snapshot struct {
	FromDir string
	Items   []Item
}

// ByPath returns the snapshot's items indexed by relative path, for
// constant-time lookups during diffing.
func (s *Snapshot) ByPath() map[string]Item {
	out := make(map[string]Item, len(s.Items))
	for _, it := range s.Items {
		out[it.RelativePath] = it
	}
	return out
}

// SortedPaths returns the snapshot's relative paths in ascending
// lexicographic order. Capture does not guarantee item order; callers
// that need determinism call this instead of relying on Items' order
// directly.
func (s *Snapshot) SortedPaths() []string {
	paths := make([]string, len(s.Items))
	for i, it := range s.Items {
		paths[i] = it.RelativePath
	}
	sort.Strings(paths)
	return paths
}
