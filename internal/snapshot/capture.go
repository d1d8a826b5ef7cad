// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

// ErrSymlinkRejected is returned when Capture encounters a symbolic
// link. Harmony does not support symlinks; the walk aborts.
var ErrSymlinkRejected = errors.New("snapshot: symbolic links are not supported")

// ErrUnsupportedEntry is returned for anything that is neither a
// regular file nor a directory (device nodes, sockets, FIFOs, ...).
var ErrUnsupportedEntry = errors.New("snapshot: unsupported filesystem entry")

// ErrInvalidPath is returned when a path component is not valid UTF-8.
var ErrInvalidPath = errors.New("snapshot: invalid path")

// Capture walks root (which must be an existing directory) and builds a
// flat Snapshot of everything beneath it. The root itself is not
// recorded as an item. The first error encountered aborts the whole
// walk — there is no partial snapshot.
func Capture(root string, opts Options) (*Snapshot, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("snapshot: resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("snapshot: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snapshot: root is not a directory: %s", absRoot)
	}

	b := &builder{root: absRoot, opts: opts}
	if err := b.walk(absRoot, ""); err != nil {
		return nil, err
	}

	return &Snapshot{FromDir: absRoot, Items: b.items}, nil
}

type builder struct {
	root  string
	opts  Options
	items []Item
	count int
}

// walk recursively visits the directory at absDir (relPath "" for the
// root). Entries are filtered before descending: a rejected directory's
// subtree is never visited.
func (b *builder) walk(absDir, relPath string) error {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return fmt.Errorf("snapshot: read dir %s: %w", relPath, err)
	}

	for _, de := range entries {
		name := de.Name()
		if !utf8.ValidString(name) {
			return fmt.Errorf("%w: non-UTF-8 name under %s", ErrInvalidPath, relPath)
		}
		childRel := name
		if relPath != "" {
			childRel = path.Join(relPath, name)
		}
		childAbs := filepath.Join(absDir, name)

		info, err := os.Lstat(childAbs)
		if err != nil {
			return fmt.Errorf("snapshot: lstat %s: %w", childRel, err)
		}

		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrSymlinkRejected, childRel)
		}

		isDir := info.IsDir()
		if b.opts.shouldExclude(childRel, isDir) {
			continue
		}

		switch {
		case isDir:
			b.items = append(b.items, Item{RelativePath: childRel, Kind: KindDirectory})
			b.count++
			if b.opts.Progress != nil {
				b.opts.Progress(b.count)
			}
			if err := b.walk(childAbs, childRel); err != nil {
				return err
			}

		case info.Mode().IsRegular():
			meta, err := fileMeta(childAbs, info, b.opts.VerifyHashes)
			if err != nil {
				return fmt.Errorf("snapshot: %s: %w", childRel, err)
			}
			b.items = append(b.items, Item{RelativePath: childRel, Kind: KindFile, File: meta})
			b.count++
			if b.opts.Progress != nil {
				b.opts.Progress(b.count)
			}

		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedEntry, childRel)
		}
	}

	return nil
}

func fileMeta(absPath string, info fs.FileInfo, verifyHashes bool) (FileMeta, error) {
	mtime := info.ModTime()
	meta := FileMeta{
		Size:       uint64(info.Size()),
		MtimeSecs:  uint64(mtime.Unix()),
		MtimeNanos: uint32(mtime.Nanosecond()),
	}

	if verifyHashes {
		hash, err := hashFile(absPath)
		if err != nil {
			return FileMeta{}, err
		}
		meta.ContentHash = hash
	}

	return meta, nil
}

func hashFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, err
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
