// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/hex"
	"fmt"

	"github.com/ClementNerma/Harmony/internal/diff"
	"github.com/ClementNerma/Harmony/internal/snapshot"
)

// SnapshotOptions is the wire shape of a snapshot request's filter options.
type SnapshotOptions struct {
	IgnorePaths  []string `json:"ignore_paths"`
	IgnoreNames  []string `json:"ignore_names"`
	IgnoreExts   []string `json:"ignore_exts"`
	VerifyHashes bool     `json:"verify_hashes"`
}

// MetadataWire is the wire shape of a snapshot item's tagged metadata.
type MetadataWire struct {
	Kind         string  `json:"kind"`
	Size         *uint64 `json:"size,omitempty"`
	MtimeSeconds *uint64 `json:"mtime_seconds,omitempty"`
	MtimeNanos   *uint32 `json:"mtime_nanos,omitempty"`
	ContentHash  string  `json:"content_hash,omitempty"`
}

// ItemWire is the wire shape of one snapshot entry.
type ItemWire struct {
	RelativePath string       `json:"relative_path"`
	Metadata     MetadataWire `json:"metadata"`
}

// SnapshotWire is the wire shape of a Snapshot.
type SnapshotWire struct {
	FromDir string     `json:"from_dir"`
	Items   []ItemWire `json:"items"`
}

// ToSnapshot converts the wire form into an internal snapshot, for
// diffing against a local capture.
func (s SnapshotWire) ToSnapshot() (*snapshot.Snapshot, error) {
	out := &snapshot.Snapshot{FromDir: s.FromDir, Items: make([]snapshot.Item, 0, len(s.Items))}
	for _, it := range s.Items {
		item, err := it.Metadata.toItem(it.RelativePath)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (m MetadataWire) toItem(relPath string) (snapshot.Item, error) {
	switch m.Kind {
	case "directory":
		return snapshot.Item{RelativePath: relPath, Kind: snapshot.KindDirectory}, nil
	case "file":
		if m.Size == nil || m.MtimeSeconds == nil || m.MtimeNanos == nil {
			return snapshot.Item{}, fmt.Errorf("file metadata for %q missing size/mtime fields", relPath)
		}
		meta := snapshot.FileMeta{Size: *m.Size, MtimeSecs: *m.MtimeSeconds, MtimeNanos: *m.MtimeNanos}
		if m.ContentHash != "" {
			raw, err := hex.DecodeString(m.ContentHash)
			if err != nil || len(raw) != len(meta.ContentHash) {
				return snapshot.Item{}, fmt.Errorf("invalid content hash for %q", relPath)
			}
			copy(meta.ContentHash[:], raw)
		}
		return snapshot.Item{
			RelativePath: relPath,
			Kind:         snapshot.KindFile,
			File:         meta,
		}, nil
	default:
		return snapshot.Item{}, fmt.Errorf("unknown metadata kind %q for %q", m.Kind, relPath)
	}
}

func metadataFromItem(item snapshot.Item) MetadataWire {
	if item.Kind == snapshot.KindDirectory {
		return MetadataWire{Kind: "directory"}
	}
	return metadataFromFileMeta(item.File)
}

func metadataFromFileMeta(m snapshot.FileMeta) MetadataWire {
	size, secs, nanos := m.Size, m.MtimeSecs, m.MtimeNanos
	w := MetadataWire{Kind: "file", Size: &size, MtimeSeconds: &secs, MtimeNanos: &nanos}
	if m.HasHash() {
		w.ContentHash = hex.EncodeToString(m.ContentHash[:])
	}
	return w
}

// AddedWire, ModifiedWire, TypeChangedWire, DeletedWire, and DiffWire
// mirror package server's wire shapes for /sync/begin's diff field.
type AddedWire struct {
	NewMetadata MetadataWire `json:"new_metadata"`
}

type ModifiedWire struct {
	PrevFileMeta MetadataWire `json:"prev_file_meta"`
	NewFileMeta  MetadataWire `json:"new_file_meta"`
}

type TypeChangedWire struct {
	PrevMetadata MetadataWire `json:"prev_metadata"`
	NewMetadata  MetadataWire `json:"new_metadata"`
}

type DeletedWire struct {
	PrevMetadata MetadataWire `json:"prev_metadata"`
}

// DiffWire is the JSON body sent to POST /sync/begin.
type DiffWire struct {
	Added       map[string]AddedWire       `json:"added"`
	Modified    map[string]ModifiedWire    `json:"modified"`
	TypeChanged map[string]TypeChangedWire `json:"type_changed"`
	Deleted     map[string]DeletedWire     `json:"deleted"`
}

// DiffToWire converts an internal diff into its wire shape.
func DiffToWire(d *diff.Diff) DiffWire {
	w := DiffWire{
		Added:       make(map[string]AddedWire, len(d.Added)),
		Modified:    make(map[string]ModifiedWire, len(d.Modified)),
		TypeChanged: make(map[string]TypeChangedWire, len(d.TypeChanged)),
		Deleted:     make(map[string]DeletedWire, len(d.Deleted)),
	}
	for path, a := range d.Added {
		w.Added[path] = AddedWire{NewMetadata: metadataFromItem(a.NewItem)}
	}
	for path, m := range d.Modified {
		w.Modified[path] = ModifiedWire{
			PrevFileMeta: metadataFromFileMeta(m.Prev),
			NewFileMeta:  metadataFromFileMeta(m.New),
		}
	}
	for path, tc := range d.TypeChanged {
		w.TypeChanged[path] = TypeChangedWire{
			PrevMetadata: metadataFromItem(tc.Prev),
			NewMetadata:  metadataFromItem(tc.New),
		}
	}
	for path, del := range d.Deleted {
		w.Deleted[path] = DeletedWire{PrevMetadata: metadataFromItem(del.PrevItem)}
	}
	return w
}

// SyncInfo is the wire shape returned by begin and resume.
type SyncInfo struct {
	SyncToken       string            `json:"sync_token"`
	TransferFileIDs map[string]string `json:"transfer_file_ids"`
	TransferSize    uint64            `json:"transfer_size"`
}
