// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package idgen mints the 32-character alphanumeric identifiers used
// throughout the sync protocol: session ids, access tokens, and
// per-file transfer ids. All of them are drawn from a cryptographic
// random source.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	length   = 32
)

// New mints a fresh 32-character alphanumeric identifier. uuid.NewRandom
// (the default, crypto/rand-backed generator) supplies the entropy; two
// UUIDs are concatenated to cover the 32 output characters.
func New() string {
	a, err := uuid.NewRandom()
	if err != nil {
		// uuid.NewRandom only fails if crypto/rand itself fails to read,
		// which means the process environment is broken beyond repair.
		panic(fmt.Sprintf("idgen: crypto/rand unavailable: %v", err))
	}
	b, err := uuid.NewRandom()
	if err != nil {
		panic(fmt.Sprintf("idgen: crypto/rand unavailable: %v", err))
	}

	raw := append(a[:], b[:]...) // 32 bytes of entropy
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = alphabet[int(raw[i])%len(alphabet)]
	}
	return string(out)
}
