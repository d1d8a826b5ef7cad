// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package slot

import "testing"

func TestValidateName(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"backups", false},
		{"my-laptop_01", false},
		{"", true},
		{"   ", true},
		{"a/b", true},
		{"a\\b", true},
		{"a:b", true},
		{"a*b", true},
		{"a\rb", true},
		{"a\nb", true},
	}
	for _, c := range cases {
		err := ValidateName(c.name)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateName(%q) err=%v, wantErr=%v", c.name, err, c.wantErr)
		}
	}
}

func TestNew_LinkedPathValidation(t *testing.T) {
	if _, err := New("s", "relative/path", "/data"); err == nil {
		t.Fatalf("expected error for relative linked path")
	}
	if _, err := New("s", "/abs/../escape", "/data"); err == nil {
		t.Fatalf("expected error for linked path containing ..")
	}
	s, err := New("s", "/abs/path", "/data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ContentDir() != "/abs/path" {
		t.Fatalf("ContentDir() = %q, want /abs/path", s.ContentDir())
	}
}

func TestSlot_Paths(t *testing.T) {
	s, err := New("backups", "", "/data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := s.Root(), "/data/slots/backups"; got != want {
		t.Fatalf("Root() = %q, want %q", got, want)
	}
	if got, want := s.ContentDir(), "/data/slots/backups/content"; got != want {
		t.Fatalf("ContentDir() = %q, want %q", got, want)
	}
	if got, want := s.SessionDir("abc"), "/data/slots/backups/open-sync-abc"; got != want {
		t.Fatalf("SessionDir() = %q, want %q", got, want)
	}
	if got, want := s.PendingDir("abc"), "/data/slots/backups/open-sync-abc/pending"; got != want {
		t.Fatalf("PendingDir() = %q, want %q", got, want)
	}
	if got, want := s.CompleteDir("abc"), "/data/slots/backups/open-sync-abc/complete"; got != want {
		t.Fatalf("CompleteDir() = %q, want %q", got, want)
	}
}

func TestRegistry(t *testing.T) {
	a, _ := New("a", "", "/data")
	b, _ := New("b", "", "/data")

	reg, err := NewRegistry([]*Slot{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Get("a"); !ok {
		t.Fatalf("expected slot a to be found")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Fatalf("expected slot missing to be absent")
	}

	dup, _ := New("a", "", "/data")
	if _, err := NewRegistry([]*Slot{a, dup}); err == nil {
		t.Fatalf("expected error for duplicate slot name")
	}
	_ = dup
	_ = b
}
