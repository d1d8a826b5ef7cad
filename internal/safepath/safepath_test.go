// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package safepath

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rel     string
		wantErr bool
	}{
		{"simple file", "a.txt", false},
		{"nested file", "sub/dir/b.txt", false},
		{"empty", "", true},
		{"absolute", "/etc/passwd", true},
		{"dot component", "a/./b", true},
		{"dotdot component", "a/../b", true},
		{"leading dotdot", "../escape", true},
		{"backslash", "a\\b", true},
		{"trailing slash empty component", "a/", true},
		{"double slash empty component", "a//b", true},
		{"just dot", ".", true},
		{"just dotdot", "..", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rel)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%q) error = %v, wantErr %v", tt.rel, err, tt.wantErr)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	got := Join("/data/slots/a/content", "sub/file.txt")
	want := "/data/slots/a/content/sub/file.txt"
	if got != want {
		t.Fatalf("Join() = %q, want %q", got, want)
	}
}
