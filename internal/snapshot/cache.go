// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// CacheFileName is the name of the on-disk cache file written beneath a
// capture root when caching is enabled.
const CacheFileName = ".harmony-snapshot-cache"

// cacheRecord is the msgpack-encoded shape persisted to CacheFileName.
// Numeric field tags keep the format stable across Go struct field
// renames.
type cacheRecord struct {
	FromDir string        `msgpack:"1"`
	Items   []cacheItem   `msgpack:"2"`
}

type cacheItem struct {
	RelativePath string `msgpack:"1"`
	IsDir        bool   `msgpack:"2"`
	Size         uint64 `msgpack:"3"`
	MtimeSecs    uint64 `msgpack:"4"`
	MtimeNanos   uint32 `msgpack:"5"`
}

// SaveCache writes snap to the cache file beneath snap.FromDir. It is a
// pure convenience for repeated dry-run invocations and is never read
// by open/resume/finalize.
func SaveCache(snap *Snapshot) error {
	rec := cacheRecord{FromDir: snap.FromDir, Items: make([]cacheItem, len(snap.Items))}
	for i, it := range snap.Items {
		rec.Items[i] = cacheItem{
			RelativePath: it.RelativePath,
			IsDir:        it.Kind == KindDirectory,
			Size:         it.File.Size,
			MtimeSecs:    it.File.MtimeSecs,
			MtimeNanos:   it.File.MtimeNanos,
		}
	}

	buf := &bytes.Buffer{}
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("snapshot: encode cache: %w", err)
	}

	path := filepath.Join(snap.FromDir, CacheFileName)
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// LoadCache reads back a previously saved cache for root, if any. It
// returns (nil, nil) when no cache file exists.
func LoadCache(root string) (*Snapshot, error) {
	path := filepath.Join(root, CacheFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: read cache: %w", err)
	}

	var rec cacheRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("snapshot: decode cache: %w", err)
	}

	snap := &Snapshot{FromDir: rec.FromDir, Items: make([]Item, len(rec.Items))}
	for i, it := range rec.Items {
		item := Item{RelativePath: it.RelativePath}
		if it.IsDir {
			item.Kind = KindDirectory
		} else {
			item.Kind = KindFile
			item.File = FileMeta{Size: it.Size, MtimeSecs: it.MtimeSecs, MtimeNanos: it.MtimeNanos}
		}
		snap.Items[i] = item
	}
	return snap, nil
}
