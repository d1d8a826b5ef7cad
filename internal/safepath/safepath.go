// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package safepath validates and resolves the slot-relative paths that
// travel through snapshots, diffs, and transfer requests.
//
// A "safe relative path" is never absolute, never contains a "." or ".."
// component, is valid UTF-8, is non-empty, and uses "/" as its separator
// regardless of host OS. Validating this centrally is what keeps a
// malicious or buggy client from writing outside a slot's content tree.
package safepath

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsafe is returned by Validate when a relative path is not safe.
var ErrUnsafe = errors.New("safepath: unsafe relative path")

// Validate checks that rel is a safe relative path per the package doc.
func Validate(rel string) error {
	if rel == "" {
		return errUnsafe("empty path")
	}
	if !utf8.ValidString(rel) {
		return errUnsafe("not valid UTF-8")
	}
	if strings.HasPrefix(rel, "/") {
		return errUnsafe("absolute path")
	}
	if strings.Contains(rel, "\\") {
		return errUnsafe("contains backslash")
	}
	if strings.ContainsRune(rel, 0) {
		return errUnsafe("contains NUL")
	}
	for _, part := range strings.Split(rel, "/") {
		switch part {
		case "":
			return errUnsafe("contains empty component")
		case ".", "..":
			return errUnsafe("contains . or .. component")
		}
	}
	return nil
}

func errUnsafe(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnsafe, reason)
}

// Join resolves a validated safe relative path onto an absolute root,
// using the host's native separator. Callers must call Validate first;
// Join does not re-validate, it only translates separators and cleans.
func Join(root, rel string) string {
	cleaned := path.Clean(rel)
	return filepath.Join(root, filepath.FromSlash(cleaned))
}
