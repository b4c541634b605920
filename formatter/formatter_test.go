// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formatter

import (
	"testing"
	"time"

	"github.com/microsoft/gitsvnsync/goldentest"
)

func TestIsSyncMarker(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"present", "Synced from Git [gitsvnsync] extra", true},
		{"absent", "A regular commit message", false},
		{"empty", "", false},
		{"marker only", "[gitsvnsync]", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSyncMarker(tt.message); got != tt.want {
				t.Errorf("IsSyncMarker(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestRenderSvnToGit_Golden(t *testing.T) {
	got := RenderSvnToGit("{original_message}", SvnToGitData{
		OriginalMessage: "Add feature X",
		SvnRev:          42,
		SvnAuthor:       "alice",
		SvnDate:         time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC),
	})
	goldentest.Check(t, "message.txt", got)
}

func TestRenderGitToSvn_Golden(t *testing.T) {
	got := RenderGitToSvn("{original_message}", GitToSvnData{
		OriginalMessage: "Fix bug Y",
		GitSHA:          "abcdef1234567890",
		PRNumber:        7,
		PRBranch:        "feature/y",
	})
	goldentest.Check(t, "message.txt", got)
}

func TestRenderSvnToGit_AlreadyMarked(t *testing.T) {
	template := "Manually synced [gitsvnsync] already"
	got := RenderSvnToGit(template, SvnToGitData{OriginalMessage: "ignored"})
	if got != template {
		t.Errorf("RenderSvnToGit() = %q, want template left untouched: %q", got, template)
	}
}

func TestRenderGitToSvn_ContainsMarker(t *testing.T) {
	got := RenderGitToSvn("{original_message}", GitToSvnData{OriginalMessage: "hello"})
	if !IsSyncMarker(got) {
		t.Errorf("RenderGitToSvn() result doesn't contain sync marker: %q", got)
	}
}
