// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"sort"

	"github.com/ClementNerma/Harmony/internal/snapshot"
)

// SendFile is one file that the client must upload during the session.
type SendFile struct {
	RelativePath string
	Meta         snapshot.FileMeta
}

// Plan is the ordered, deterministic set of filesystem operations
// derived from a Diff. It is a pure function of the diff: for the same
// d, Derive(d) always yields the same CreateDirs and DeleteEmptyDirs
// slices, and SendFiles and DeleteFiles hold the same entries in an
// order that may differ between calls.
type Plan struct {
	// CreateDirs is sorted ascending so parents precede children.
	CreateDirs []string

	// SendFiles covers every file in Added, Modified, and the file side
	// of TypeChanged. Order is unspecified.
	SendFiles []SendFile

	// DeleteFiles covers every file in Deleted plus the file side of
	// TypeChanged. Order is unspecified.
	DeleteFiles []string

	// DeleteEmptyDirs covers every directory in Deleted plus the
	// directory side of TypeChanged, sorted descending so that leaves
	// are removed before their parents.
	DeleteEmptyDirs []string
}

// Derive computes the apply plan for d.
func Derive(d *Diff) *Plan {
	p := &Plan{}

	for path, a := range d.Added {
		switch a.NewItem.Kind {
		case snapshot.KindDirectory:
			p.CreateDirs = append(p.CreateDirs, path)
		case snapshot.KindFile:
			p.SendFiles = append(p.SendFiles, SendFile{RelativePath: path, Meta: a.NewItem.File})
		}
	}

	for path, m := range d.Modified {
		p.SendFiles = append(p.SendFiles, SendFile{RelativePath: path, Meta: m.New})
	}

	for path, tc := range d.TypeChanged {
		switch tc.New.Kind {
		case snapshot.KindDirectory:
			p.CreateDirs = append(p.CreateDirs, path)
		case snapshot.KindFile:
			p.SendFiles = append(p.SendFiles, SendFile{RelativePath: path, Meta: tc.New.File})
		}
		switch tc.Prev.Kind {
		case snapshot.KindDirectory:
			p.DeleteEmptyDirs = append(p.DeleteEmptyDirs, path)
		case snapshot.KindFile:
			p.DeleteFiles = append(p.DeleteFiles, path)
		}
	}

	for path, del := range d.Deleted {
		switch del.PrevItem.Kind {
		case snapshot.KindDirectory:
			p.DeleteEmptyDirs = append(p.DeleteEmptyDirs, path)
		case snapshot.KindFile:
			p.DeleteFiles = append(p.DeleteFiles, path)
		}
	}

	sort.Strings(p.CreateDirs)
	sort.Sort(sort.Reverse(sort.StringSlice(p.DeleteEmptyDirs)))

	return p
}

// TotalSendSize sums the size of every file the plan would send.
func (p *Plan) TotalSendSize() uint64 {
	var total uint64
	for _, f := range p.SendFiles {
		total += f.Meta.Size
	}
	return total
}
