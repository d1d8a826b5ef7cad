// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/blake3"

	"github.com/ClementNerma/Harmony/internal/diff"
	"github.com/ClementNerma/Harmony/internal/slot"
	"github.com/ClementNerma/Harmony/internal/snapshot"
)

func newTestManager(t *testing.T, slotNames ...string) (*Manager, *slot.Registry, string) {
	t.Helper()
	dataRoot := t.TempDir()

	var slots []*slot.Slot
	for _, name := range slotNames {
		s, err := slot.New(name, "", dataRoot)
		if err != nil {
			t.Fatalf("slot.New: %v", err)
		}
		slots = append(slots, s)
	}
	reg, err := slot.NewRegistry(slots)
	if err != nil {
		t.Fatalf("slot.NewRegistry: %v", err)
	}
	return NewManager(reg), reg, dataRoot
}

func fileItem(path string, size, mtimeSecs uint64) snapshot.Item {
	return snapshot.Item{RelativePath: path, Kind: snapshot.KindFile, File: snapshot.FileMeta{Size: size, MtimeSecs: mtimeSecs}}
}

func TestOpen_FreshSync(t *testing.T) {
	m, _, _ := newTestManager(t, "backups")

	local := &snapshot.Snapshot{Items: []snapshot.Item{
		fileItem("a.txt", 3, 1700000000),
		{RelativePath: "sub", Kind: snapshot.KindDirectory},
		fileItem("sub/b.txt", 5, 1700000001),
	}}
	remote := &snapshot.Snapshot{}

	d := diff.Compute(local, remote)
	info, err := m.Open("backups", d)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(info.TransferFileIDs) != 2 {
		t.Fatalf("expected 2 transfer file ids, got %d", len(info.TransferFileIDs))
	}
	if info.TransferTotalSize != 8 {
		t.Fatalf("TransferTotalSize = %d, want 8", info.TransferTotalSize)
	}

	open, err := m.IsOpen("backups")
	if err != nil || !open {
		t.Fatalf("IsOpen = %v, %v; want true, nil", open, err)
	}
}

func TestOpen_Conflict(t *testing.T) {
	m, _, _ := newTestManager(t, "backups")
	d := diff.Compute(&snapshot.Snapshot{}, &snapshot.Snapshot{})

	if _, err := m.Open("backups", d); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := m.Open("backups", d); err == nil {
		t.Fatalf("expected Conflict on second Open")
	}
}

func TestFullLifecycle(t *testing.T) {
	m, _, dataRoot := newTestManager(t, "backups")

	local := &snapshot.Snapshot{Items: []snapshot.Item{
		fileItem("a.txt", 3, 1700000000),
		fileItem("sub/b.txt", 5, 1700000001),
	}}
	d := diff.Compute(local, &snapshot.Snapshot{})

	info, err := m.Open("backups", d)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	contents := map[string][]byte{"a.txt": []byte("abc"), "sub/b.txt": []byte("hello")}
	for id, path := range info.TransferFileIDs {
		if err := m.Transfer("backups", info.AccessToken, path, bytes.NewReader(contents[path])); err != nil {
			t.Fatalf("Transfer(%s): %v", path, err)
		}
		_ = id
	}

	if err := m.Finalize("backups", info.AccessToken); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	contentDir := filepath.Join(dataRoot, "slots", "backups", "content")
	for path, data := range contents {
		got, err := os.ReadFile(filepath.Join(contentDir, path))
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", path, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("content mismatch for %s", path)
		}
	}

	if open, _ := m.IsOpen("backups"); open {
		t.Fatalf("expected session to be closed after finalize")
	}
	if matches, _ := filepath.Glob(filepath.Join(dataRoot, "slots", "backups", "open-sync-*")); len(matches) != 0 {
		t.Fatalf("expected session directory to be gone, found %v", matches)
	}
}

func TestResume_AfterPartialTransfer(t *testing.T) {
	m, _, _ := newTestManager(t, "backups")

	local := &snapshot.Snapshot{Items: []snapshot.Item{
		fileItem("a.txt", 3, 1700000000),
		fileItem("b.txt", 3, 1700000000),
		fileItem("c.txt", 3, 1700000000),
	}}
	d := diff.Compute(local, &snapshot.Snapshot{})

	info, err := m.Open("backups", d)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var firstPath string
	for _, path := range info.TransferFileIDs {
		firstPath = path
		break
	}
	if err := m.Transfer("backups", info.AccessToken, firstPath, bytes.NewReader([]byte("abc"))); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	resumed, err := m.Resume("backups")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(resumed.TransferFileIDs) != 2 {
		t.Fatalf("expected 2 remaining files after resume, got %d", len(resumed.TransferFileIDs))
	}
	if resumed.AccessToken == info.AccessToken {
		t.Fatalf("resume must regenerate the access token")
	}

	for _, path := range resumed.TransferFileIDs {
		if err := m.Transfer("backups", resumed.AccessToken, path, bytes.NewReader([]byte("abc"))); err != nil {
			t.Fatalf("Transfer(%s): %v", path, err)
		}
	}
	if err := m.Finalize("backups", resumed.AccessToken); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func TestTransfer_SizeMismatch(t *testing.T) {
	m, _, _ := newTestManager(t, "backups")

	local := &snapshot.Snapshot{Items: []snapshot.Item{fileItem("a.txt", 5, 1700000000)}}
	d := diff.Compute(local, &snapshot.Snapshot{})

	info, err := m.Open("backups", d)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := m.Transfer("backups", info.AccessToken, "a.txt", bytes.NewReader([]byte("abcd"))); err == nil {
		t.Fatalf("expected size mismatch error")
	}

	if err := m.Finalize("backups", info.AccessToken); err == nil {
		t.Fatalf("expected finalize to reject an incomplete session")
	}
}

func TestFinalize_WrongToken(t *testing.T) {
	m, _, _ := newTestManager(t, "backups")
	d := diff.Compute(&snapshot.Snapshot{}, &snapshot.Snapshot{})

	info, err := m.Open("backups", d)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Finalize("backups", info.AccessToken+"x"); err == nil {
		t.Fatalf("expected Forbidden for wrong token")
	}
}

func TestTransfer_ContentHash(t *testing.T) {
	h := blake3.New()
	h.Write([]byte("abc"))
	var sum [32]byte
	copy(sum[:], h.Sum(nil))

	t.Run("matching hash succeeds", func(t *testing.T) {
		m, _, _ := newTestManager(t, "backups")
		local := &snapshot.Snapshot{Items: []snapshot.Item{
			{RelativePath: "a.txt", Kind: snapshot.KindFile, File: snapshot.FileMeta{Size: 3, MtimeSecs: 1700000000, ContentHash: sum}},
		}}
		d := diff.Compute(local, &snapshot.Snapshot{})

		info, err := m.Open("backups", d)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := m.Transfer("backups", info.AccessToken, "a.txt", bytes.NewReader([]byte("abc"))); err != nil {
			t.Fatalf("Transfer: %v", err)
		}
		if err := m.Finalize("backups", info.AccessToken); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
	})

	t.Run("mismatched hash rejected", func(t *testing.T) {
		m, _, _ := newTestManager(t, "backups")
		local := &snapshot.Snapshot{Items: []snapshot.Item{
			{RelativePath: "a.txt", Kind: snapshot.KindFile, File: snapshot.FileMeta{Size: 3, MtimeSecs: 1700000000, ContentHash: sum}},
		}}
		d := diff.Compute(local, &snapshot.Snapshot{})

		info, err := m.Open("backups", d)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := m.Transfer("backups", info.AccessToken, "a.txt", bytes.NewReader([]byte("xyz"))); err == nil {
			t.Fatalf("expected content hash mismatch error")
		}
	})
}

func TestOpen_RejectsUnsafePaths(t *testing.T) {
	cases := []struct {
		name string
		d    func() *diff.Diff
	}{
		{
			name: "added directory escapes via ..",
			d: func() *diff.Diff {
				d := diff.New()
				d.Added["../../../../etc/cron.d/x"] = diff.Added{NewItem: snapshot.Item{
					RelativePath: "../../../../etc/cron.d/x", Kind: snapshot.KindDirectory,
				}}
				return d
			},
		},
		{
			name: "deleted file escapes via ..",
			d: func() *diff.Diff {
				d := diff.New()
				d.Deleted["../outside.txt"] = diff.Deleted{PrevItem: fileItem("../outside.txt", 3, 1700000000)}
				return d
			},
		},
		{
			name: "deleted directory escapes via ..",
			d: func() *diff.Diff {
				d := diff.New()
				d.Deleted["../outside"] = diff.Deleted{PrevItem: snapshot.Item{RelativePath: "../outside", Kind: snapshot.KindDirectory}}
				return d
			},
		},
		{
			name: "type-changed entry escapes via ..",
			d: func() *diff.Diff {
				d := diff.New()
				d.TypeChanged["../x"] = diff.TypeChanged{
					Prev: snapshot.Item{RelativePath: "../x", Kind: snapshot.KindDirectory},
					New:  fileItem("../x", 2, 1700000000),
				}
				return d
			},
		},
		{
			name: "modified entry is absolute",
			d: func() *diff.Diff {
				d := diff.New()
				d.Modified["/abs/path"] = diff.Modified{
					Prev: snapshot.FileMeta{Size: 1, MtimeSecs: 1700000000},
					New:  snapshot.FileMeta{Size: 2, MtimeSecs: 1700000001},
				}
				return d
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m, _, dataRoot := newTestManager(t, "backups")
			if _, err := m.Open("backups", c.d()); err == nil {
				t.Fatalf("expected Open to reject an unsafe path")
			}
			if open, _ := m.IsOpen("backups"); open {
				t.Fatalf("a rejected Open must not leave a session open")
			}
			if entries, err := os.ReadDir(filepath.Join(dataRoot, "slots", "backups")); err == nil {
				for _, e := range entries {
					if e.Name() != "content" {
						t.Fatalf("unexpected leftover slot entry %s after rejected Open", e.Name())
					}
				}
			}
		})
	}
}

func TestTypeChange(t *testing.T) {
	m, _, dataRoot := newTestManager(t, "backups")

	contentDir := filepath.Join(dataRoot, "slots", "backups", "content")
	if err := os.MkdirAll(filepath.Join(contentDir, "x"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	local := &snapshot.Snapshot{Items: []snapshot.Item{fileItem("x", 2, 1700000000)}}
	remote := &snapshot.Snapshot{Items: []snapshot.Item{{RelativePath: "x", Kind: snapshot.KindDirectory}}}

	d := diff.Compute(local, remote)
	info, err := m.Open("backups", d)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for id, path := range info.TransferFileIDs {
		if err := m.Transfer("backups", info.AccessToken, path, bytes.NewReader([]byte("xy"))); err != nil {
			t.Fatalf("Transfer: %v", err)
		}
		_ = id
	}
	if err := m.Finalize("backups", info.AccessToken); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	fi, err := os.Stat(filepath.Join(contentDir, "x"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.IsDir() {
		t.Fatalf("expected x to be a regular file after type change")
	}
}
