// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"testing"
	"time"

	"github.com/ClementNerma/Harmony/internal/snapshot"
)

func file(path string, size, mtimeSecs uint64) snapshot.Item {
	return snapshot.Item{
		RelativePath: path,
		Kind:         snapshot.KindFile,
		File:         snapshot.FileMeta{Size: size, MtimeSecs: mtimeSecs},
	}
}

func dir(path string) snapshot.Item {
	return snapshot.Item{RelativePath: path, Kind: snapshot.KindDirectory}
}

func TestCompute_Classification(t *testing.T) {
	local := &snapshot.Snapshot{Items: []snapshot.Item{
		file("a.txt", 3, 1700000000),
		dir("sub"),
		file("sub/b.txt", 5, 1700000001),
		file("x", 2, 1700000002), // was a directory on remote -> type change
		file("keep.txt", 5, 1700000003),
	}}
	remote := &snapshot.Snapshot{Items: []snapshot.Item{
		file("old.txt", 10, 1600000000), // deleted
		dir("x"),                        // type change: dir -> file
		file("keep.txt", 5, 1700000003), // unchanged
	}}

	d := Compute(local, remote)

	if _, ok := d.Added["a.txt"]; !ok {
		t.Fatalf("a.txt should be Added")
	}
	if _, ok := d.Added["sub"]; !ok {
		t.Fatalf("sub should be Added")
	}
	if _, ok := d.Added["sub/b.txt"]; !ok {
		t.Fatalf("sub/b.txt should be Added")
	}
	if _, ok := d.Deleted["old.txt"]; !ok {
		t.Fatalf("old.txt should be Deleted")
	}
	if _, ok := d.TypeChanged["x"]; !ok {
		t.Fatalf("x should be TypeChanged")
	}
	if _, ok := d.Modified["keep.txt"]; ok {
		t.Fatalf("keep.txt should be unchanged, not Modified")
	}
	if len(d.Modified) != 0 {
		t.Fatalf("expected no Modified entries, got %v", d.Modified)
	}
}

func TestCompute_Symmetry(t *testing.T) {
	a := &snapshot.Snapshot{Items: []snapshot.Item{
		file("only_a.txt", 1, 100),
		file("changed.txt", 2, 200),
		dir("only_a_dir"),
	}}
	b := &snapshot.Snapshot{Items: []snapshot.Item{
		file("only_b.txt", 1, 100),
		file("changed.txt", 3, 300),
		dir("only_b_dir"),
	}}

	ab := Compute(a, b)
	ba := Compute(b, a)

	if _, ok := ab.Added["only_a.txt"]; !ok {
		t.Fatalf("Diff(a,b).Added should contain only_a.txt")
	}
	if _, ok := ba.Deleted["only_a.txt"]; !ok {
		t.Fatalf("Diff(b,a).Deleted should contain only_a.txt")
	}

	abMod, ok := ab.Modified["changed.txt"]
	if !ok {
		t.Fatalf("Diff(a,b).Modified should contain changed.txt")
	}
	baMod, ok := ba.Modified["changed.txt"]
	if !ok {
		t.Fatalf("Diff(b,a).Modified should contain changed.txt")
	}
	if abMod.New != baMod.Prev || abMod.Prev != baMod.New {
		t.Fatalf("Modified prev/new should swap under role reversal: ab=%+v ba=%+v", abMod, baMod)
	}
}

func TestApplyGranularity(t *testing.T) {
	local := &snapshot.Snapshot{Items: []snapshot.Item{
		file("keep.txt", 5, 1700000000),
	}}
	remote := &snapshot.Snapshot{Items: []snapshot.Item{
		file("keep.txt", 5, 1699999999), // 1s earlier, same size
	}}

	d := Compute(local, remote)
	if len(d.Modified) != 1 {
		t.Fatalf("expected Modified before granularity filter, got %d", len(d.Modified))
	}

	d.ApplyGranularity(1 * time.Second)
	if len(d.Modified) != 0 {
		t.Fatalf("expected granularity filter to collapse the 1s-apart entry, got %+v", d.Modified)
	}
}

func TestApplyGranularity_SizeChangeNeverCollapses(t *testing.T) {
	local := &snapshot.Snapshot{Items: []snapshot.Item{file("a.txt", 6, 1700000000)}}
	remote := &snapshot.Snapshot{Items: []snapshot.Item{file("a.txt", 5, 1700000000)}}

	d := Compute(local, remote)
	d.ApplyGranularity(10 * time.Second)
	if len(d.Modified) != 1 {
		t.Fatalf("size-differing entries must never be collapsed by granularity filter")
	}
}

func TestDerive_Plan(t *testing.T) {
	local := &snapshot.Snapshot{Items: []snapshot.Item{
		dir("newdir"),
		file("newdir/a.txt", 3, 100),
		file("x", 2, 200), // type change target (was dir)
	}}
	remote := &snapshot.Snapshot{Items: []snapshot.Item{
		dir("x"),
		dir("oldempty"),
		file("gone.txt", 1, 50),
	}}

	plan := Derive(Compute(local, remote))

	if len(plan.CreateDirs) != 1 || plan.CreateDirs[0] != "newdir" {
		t.Fatalf("CreateDirs = %v, want [newdir]", plan.CreateDirs)
	}

	wantSend := map[string]bool{"newdir/a.txt": true, "x": true}
	if len(plan.SendFiles) != len(wantSend) {
		t.Fatalf("SendFiles = %+v, want keys %v", plan.SendFiles, wantSend)
	}
	for _, f := range plan.SendFiles {
		if !wantSend[f.RelativePath] {
			t.Fatalf("unexpected SendFiles entry %s", f.RelativePath)
		}
	}

	wantDeleteFiles := map[string]bool{"gone.txt": true}
	if len(plan.DeleteFiles) != len(wantDeleteFiles) {
		t.Fatalf("DeleteFiles = %v", plan.DeleteFiles)
	}

	// oldempty and x (dir side) must be deleted, descending order.
	if len(plan.DeleteEmptyDirs) != 2 {
		t.Fatalf("DeleteEmptyDirs = %v, want 2 entries", plan.DeleteEmptyDirs)
	}
	for i := 1; i < len(plan.DeleteEmptyDirs); i++ {
		if plan.DeleteEmptyDirs[i-1] < plan.DeleteEmptyDirs[i] {
			t.Fatalf("DeleteEmptyDirs not sorted descending: %v", plan.DeleteEmptyDirs)
		}
	}
}

func TestDerive_Deterministic(t *testing.T) {
	local := &snapshot.Snapshot{Items: []snapshot.Item{dir("b"), dir("a"), file("a/f.txt", 1, 1)}}
	remote := &snapshot.Snapshot{}

	d := Compute(local, remote)
	p1 := Derive(d)
	p2 := Derive(d)

	if len(p1.CreateDirs) != len(p2.CreateDirs) {
		t.Fatalf("Derive is not deterministic across calls")
	}
	for i := range p1.CreateDirs {
		if p1.CreateDirs[i] != p2.CreateDirs[i] {
			t.Fatalf("Derive is not deterministic across calls at index %d", i)
		}
	}
}
