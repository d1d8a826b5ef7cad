// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"fmt"
	"strings"
)

// Options configures a Capture call. The three ignore lists are
// evaluated in order against every entry before it is descended into
// (for directories) or included (for files); any positive match
// excludes the entry.
type Options struct {
	// IgnorePaths are relative paths matched as a prefix of path
	// components, anchored at the snapshot root.
	IgnorePaths []string

	// IgnoreNames are path-component names matched against any
	// component of the relative path.
	IgnoreNames []string

	// IgnoreExts are extensions (no leading dot) matched against a
	// file's final extension, case-sensitively.
	IgnoreExts []string

	// VerifyHashes, when true, makes Capture additionally compute a
	// BLAKE3-256 digest of every file's contents. Off by default so
	// the wire-visible snapshot carries only size and mtime.
	VerifyHashes bool

	// Progress is invoked after each item is captured, with a
	// monotonically increasing count. May be nil.
	Progress func(count int)
}

// Validate checks the ignore lists: paths must be relative, names must
// contain no path separator, extensions must contain no dot.
func (o Options) Validate() error {
	for _, p := range o.IgnorePaths {
		if strings.HasPrefix(p, "/") {
			return fmt.Errorf("snapshot: ignore path %q must be relative", p)
		}
	}
	for _, n := range o.IgnoreNames {
		if strings.ContainsAny(n, "/\\") {
			return fmt.Errorf("snapshot: ignore name %q must not contain a path separator", n)
		}
	}
	for _, e := range o.IgnoreExts {
		if strings.Contains(e, ".") {
			return fmt.Errorf("snapshot: ignore extension %q must not contain a dot", e)
		}
	}
	return nil
}

// shouldExclude implements the three filter rules in order:
// ignore_paths prefix match, ignore_names component match, ignore_exts
// extension match (files only).
func (o Options) shouldExclude(relPath string, isDir bool) bool {
	for _, prefix := range o.IgnorePaths {
		if pathHasPrefix(relPath, prefix) {
			return true
		}
	}

	components := strings.Split(relPath, "/")
	for _, name := range o.IgnoreNames {
		for _, c := range components {
			if c == name {
				return true
			}
		}
	}

	if !isDir {
		ext := fileExt(components[len(components)-1])
		for _, e := range o.IgnoreExts {
			if ext == e {
				return true
			}
		}
	}

	return false
}

// pathHasPrefix reports whether relPath starts with prefix as a
// sequence of whole path components (not a raw string prefix, so
// "ignore_paths: foo" does not also match "foobar").
func pathHasPrefix(relPath, prefix string) bool {
	if prefix == "" {
		return false
	}
	relParts := strings.Split(relPath, "/")
	prefixParts := strings.Split(prefix, "/")
	if len(prefixParts) > len(relParts) {
		return false
	}
	for i, p := range prefixParts {
		if relParts[i] != p {
			return false
		}
	}
	return true
}

// fileExt returns name's final extension without the leading dot, or
// "" if name has none (or is a dotfile with no further extension).
func fileExt(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return ""
	}
	return name[idx+1:]
}
