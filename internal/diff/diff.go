// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package diff implements the second phase of Harmony's synchronization
// protocol: comparing two snapshots and deriving an ordered apply plan.
package diff

import (
	"sort"
	"time"

	"github.com/ClementNerma/Harmony/internal/snapshot"
)

// Added describes a path present only in the local (authoritative) snapshot.
type Added struct {
	NewItem snapshot.Item
}

// Modified describes a path that is a file on both sides with differing
// metadata.
type Modified struct {
	Prev snapshot.FileMeta
	New  snapshot.FileMeta
}

// TypeChanged describes a path that switched between file and directory.
type TypeChanged struct {
	Prev snapshot.Item
	New  snapshot.Item
}

// Deleted describes a path present only in the remote (current) snapshot.
type Deleted struct {
	PrevItem snapshot.Item
}

// Diff is the structured difference between a local (authority) and a
// remote (current) snapshot.
type Diff struct {
	Added       map[string]Added
	Modified    map[string]Modified
	TypeChanged map[string]TypeChanged
	Deleted     map[string]Deleted
}

// New returns an empty Diff, ready for its buckets to be populated
// directly. Used when rebuilding a Diff received over the wire, where
// Compute's snapshot-comparison path does not apply.
func New() *Diff {
	return &Diff{
		Added:       map[string]Added{},
		Modified:    map[string]Modified{},
		TypeChanged: map[string]TypeChanged{},
		Deleted:     map[string]Deleted{},
	}
}

// IsEmpty reports whether the diff carries no changes at all.
func (d *Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.TypeChanged) == 0 && len(d.Deleted) == 0
}

// Compute classifies every path present in either snapshot. local is
// the authoritative (client) snapshot; remote is the current (server)
// snapshot. Entries are visited in ascending
// lexicographic path order so downstream consumers see deterministic
// output, even though Diff itself is just a set of per-bucket maps.
func Compute(local, remote *snapshot.Snapshot) *Diff {
	localByPath := local.ByPath()
	remoteByPath := remote.ByPath()

	allPaths := make(map[string]struct{}, len(localByPath)+len(remoteByPath))
	for p := range localByPath {
		allPaths[p] = struct{}{}
	}
	for p := range remoteByPath {
		allPaths[p] = struct{}{}
	}
	sorted := make([]string, 0, len(allPaths))
	for p := range allPaths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	d := New()
	for _, p := range sorted {
		localItem, inLocal := localByPath[p]
		remoteItem, inRemote := remoteByPath[p]

		switch {
		case inLocal && !inRemote:
			d.Added[p] = Added{NewItem: localItem}

		case !inLocal && inRemote:
			d.Deleted[p] = Deleted{PrevItem: remoteItem}

		case localItem.Kind == snapshot.KindDirectory && remoteItem.Kind == snapshot.KindDirectory:
			// no entry: unchanged directory

		case localItem.Kind != remoteItem.Kind:
			d.TypeChanged[p] = TypeChanged{Prev: remoteItem, New: localItem}

		case sizeOrMtimeDiffer(localItem.File, remoteItem.File):
			d.Modified[p] = Modified{Prev: remoteItem.File, New: localItem.File}

			// else: both files, size/mtime equal -> no entry (an optional
			// ContentHash never affects classification)
		}
	}

	return d
}

// ApplyGranularity drops modified entries whose sizes match and whose
// mtimes differ by no more than granularity. Clients call this with
// granularity = 1s to tolerate filesystems that truncate sub-second
// precision.
func (d *Diff) ApplyGranularity(granularity time.Duration) {
	for p, m := range d.Modified {
		if m.Prev.Size != m.New.Size {
			continue
		}
		if mtimeDelta(m.Prev, m.New) <= granularity {
			delete(d.Modified, p)
		}
	}
}

// sizeOrMtimeDiffer reports whether a and b differ in size or mtime.
// ContentHash is deliberately excluded: it is an optional extra
// integrity guard checked at transfer time, not part of what makes a
// file "modified".
func sizeOrMtimeDiffer(a, b snapshot.FileMeta) bool {
	return a.Size != b.Size || a.MtimeSecs != b.MtimeSecs || a.MtimeNanos != b.MtimeNanos
}

func mtimeDelta(a, b snapshot.FileMeta) time.Duration {
	ta := time.Unix(int64(a.MtimeSecs), int64(a.MtimeNanos))
	tb := time.Unix(int64(b.MtimeSecs), int64(b.MtimeNanos))
	delta := ta.Sub(tb)
	if delta < 0 {
		delta = -delta
	}
	return delta
}
