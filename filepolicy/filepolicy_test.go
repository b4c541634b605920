// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package filepolicy

import "testing"

func TestDecide(t *testing.T) {
	p := Policy{
		MaxFileSize:    1000,
		IgnorePatterns: []string{"**/*.tmp", "build/**"},
		LfsThreshold:   500,
		LfsPatterns:    []string{"*.psd"},
	}

	tests := []struct {
		name   string
		path   string
		size   int64
		want   Outcome
		reason SkipReason
	}{
		{"plain include", "src/main.go", 100, Include, ""},
		{"ignored by glob", "src/cache.tmp", 10, Skip, ReasonIgnore},
		{"ignored by dir glob", "build/output.bin", 10, Skip, ReasonIgnore},
		{"oversize", "assets/huge.bin", 2000, Skip, ReasonOversize},
		{"lfs pattern regardless of size", "design/logo.psd", 10, LfsTrack, ""},
		{"lfs threshold by size", "assets/medium.bin", 600, LfsTrack, ""},
		{"ignore wins over oversize", "build/huge.tmp", 2000, Skip, ReasonIgnore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Decide(tt.path, tt.size)
			if got.Outcome != tt.want {
				t.Fatalf("Decide(%q, %d).Outcome = %v, want %v", tt.path, tt.size, got.Outcome, tt.want)
			}
			if tt.want == Skip && got.SkipReason != tt.reason {
				t.Errorf("SkipReason = %v, want %v", got.SkipReason, tt.reason)
			}
		})
	}
}

func TestDecideZeroPolicy(t *testing.T) {
	var p Policy
	got := p.Decide("anything/at/all.bin", 1<<40)
	if got.Outcome != Include {
		t.Fatalf("zero Policy Decide() = %v, want Include", got.Outcome)
	}
}

func TestDeterminism(t *testing.T) {
	p := Policy{MaxFileSize: 100, IgnorePatterns: []string{"*.log"}}
	a := p.Decide("x/y.log", 10)
	b := p.Decide("x/y.log", 10)
	if a != b {
		t.Fatalf("Decide() not deterministic: %v vs %v", a, b)
	}
}

func TestLfsExtensionPattern(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"assets/large.bin", "*.bin"},
		{"noext", "noext"},
	}
	for _, tt := range tests {
		if got := lfsExtensionPattern(tt.path); got != tt.want {
			t.Errorf("lfsExtensionPattern(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestIsDotEntry(t *testing.T) {
	if !IsDotEntry(".git") {
		t.Error("IsDotEntry(\".git\") = false, want true")
	}
	if IsDotEntry("main.go") {
		t.Error("IsDotEntry(\"main.go\") = true, want false")
	}
}
