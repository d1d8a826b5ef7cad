// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/hex"
	"fmt"

	"github.com/ClementNerma/Harmony/internal/diff"
	"github.com/ClementNerma/Harmony/internal/session"
	"github.com/ClementNerma/Harmony/internal/snapshot"
)

// The wire types in this file are the JSON shapes exchanged over HTTP.
// Internal types stay free of json tags; conversion happens at the edge.

type metadataWire struct {
	Kind         string  `json:"kind"`
	Size         *uint64 `json:"size,omitempty"`
	MtimeSeconds *uint64 `json:"mtime_seconds,omitempty"`
	MtimeNanos   *uint32 `json:"mtime_nanos,omitempty"`
	ContentHash  string  `json:"content_hash,omitempty"`
}

func metadataToWire(item snapshot.Item) metadataWire {
	if item.Kind == snapshot.KindDirectory {
		return metadataWire{Kind: "directory"}
	}
	return fileMetaToWire(item.File)
}

func fileMetaToWire(m snapshot.FileMeta) metadataWire {
	size, secs, nanos := m.Size, m.MtimeSecs, m.MtimeNanos
	w := metadataWire{Kind: "file", Size: &size, MtimeSeconds: &secs, MtimeNanos: &nanos}
	if m.HasHash() {
		w.ContentHash = hex.EncodeToString(m.ContentHash[:])
	}
	return w
}

func (w metadataWire) toItem(relPath string) (snapshot.Item, error) {
	switch w.Kind {
	case "directory":
		return snapshot.Item{RelativePath: relPath, Kind: snapshot.KindDirectory}, nil
	case "file":
		if w.Size == nil || w.MtimeSeconds == nil || w.MtimeNanos == nil {
			return snapshot.Item{}, fmt.Errorf("file metadata for %q missing size/mtime fields", relPath)
		}
		meta := snapshot.FileMeta{Size: *w.Size, MtimeSecs: *w.MtimeSeconds, MtimeNanos: *w.MtimeNanos}
		if w.ContentHash != "" {
			raw, err := hex.DecodeString(w.ContentHash)
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
		return snapshot.Item{}, fmt.Errorf("unknown metadata kind %q for %q", w.Kind, relPath)
	}
}

func (w metadataWire) toFileMeta(relPath string) (snapshot.FileMeta, error) {
	item, err := w.toItem(relPath)
	if err != nil {
		return snapshot.FileMeta{}, err
	}
	if item.Kind != snapshot.KindFile {
		return snapshot.FileMeta{}, fmt.Errorf("%q: expected file metadata, got directory", relPath)
	}
	return item.File, nil
}

type itemWire struct {
	RelativePath string       `json:"relative_path"`
	Metadata     metadataWire `json:"metadata"`
}

type snapshotWire struct {
	FromDir string     `json:"from_dir"`
	Items   []itemWire `json:"items"`
}

func snapshotToWire(s *snapshot.Snapshot) snapshotWire {
	out := snapshotWire{FromDir: s.FromDir, Items: make([]itemWire, 0, len(s.Items))}
	for _, item := range s.Items {
		out.Items = append(out.Items, itemWire{RelativePath: item.RelativePath, Metadata: metadataToWire(item)})
	}
	return out
}

type optionsWire struct {
	IgnorePaths  []string `json:"ignore_paths"`
	IgnoreNames  []string `json:"ignore_names"`
	IgnoreExts   []string `json:"ignore_exts"`
	VerifyHashes bool     `json:"verify_hashes"`
}

func (w optionsWire) toOptions() snapshot.Options {
	return snapshot.Options{
		IgnorePaths:  w.IgnorePaths,
		IgnoreNames:  w.IgnoreNames,
		IgnoreExts:   w.IgnoreExts,
		VerifyHashes: w.VerifyHashes,
	}
}

type addedWire struct {
	NewMetadata metadataWire `json:"new_metadata"`
}

type modifiedWire struct {
	PrevFileMeta metadataWire `json:"prev_file_meta"`
	NewFileMeta  metadataWire `json:"new_file_meta"`
}

type typeChangedWire struct {
	PrevMetadata metadataWire `json:"prev_metadata"`
	NewMetadata  metadataWire `json:"new_metadata"`
}

type deletedWire struct {
	PrevMetadata metadataWire `json:"prev_metadata"`
}

type diffWire struct {
	Added       map[string]addedWire       `json:"added"`
	Modified    map[string]modifiedWire    `json:"modified"`
	TypeChanged map[string]typeChangedWire `json:"type_changed"`
	Deleted     map[string]deletedWire     `json:"deleted"`
}

// diffFromWire rebuilds a *diff.Diff from its wire representation, as
// received by POST /sync/begin.
func diffFromWire(w diffWire) (*diff.Diff, error) {
	d := diff.New()

	for path, a := range w.Added {
		item, err := a.NewMetadata.toItem(path)
		if err != nil {
			return nil, err
		}
		d.Added[path] = diff.Added{NewItem: item}
	}
	for path, m := range w.Modified {
		prev, err := m.PrevFileMeta.toFileMeta(path)
		if err != nil {
			return nil, err
		}
		next, err := m.NewFileMeta.toFileMeta(path)
		if err != nil {
			return nil, err
		}
		d.Modified[path] = diff.Modified{Prev: prev, New: next}
	}
	for path, tc := range w.TypeChanged {
		prev, err := tc.PrevMetadata.toItem(path)
		if err != nil {
			return nil, err
		}
		next, err := tc.NewMetadata.toItem(path)
		if err != nil {
			return nil, err
		}
		d.TypeChanged[path] = diff.TypeChanged{Prev: prev, New: next}
	}
	for path, del := range w.Deleted {
		item, err := del.PrevMetadata.toItem(path)
		if err != nil {
			return nil, err
		}
		d.Deleted[path] = diff.Deleted{PrevItem: item}
	}

	return d, nil
}

type syncInfoWire struct {
	SyncToken       string            `json:"sync_token"`
	TransferFileIDs map[string]string `json:"transfer_file_ids"`
	TransferSize    uint64            `json:"transfer_size"`
}

func syncInfoToWire(info *session.SyncInfo) syncInfoWire {
	return syncInfoWire{
		SyncToken:       info.AccessToken,
		TransferFileIDs: info.TransferFileIDs,
		TransferSize:    info.TransferTotalSize,
	}
}
