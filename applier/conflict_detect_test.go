// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package applier

import (
	"reflect"
	"testing"

	"github.com/microsoft/gitsvnsync/svncmd"
)

func TestRelativeChangedPaths(t *testing.T) {
	tests := []struct {
		name   string
		paths  []svncmd.ChangedPath
		prefix string
		want   []string
	}{
		{
			name: "strips tracked subtree prefix",
			paths: []svncmd.ChangedPath{
				{Path: "/trunk/src/a.txt", Action: "M"},
				{Path: "/trunk/src/sub/b.txt", Action: "A"},
			},
			prefix: "/trunk",
			want:   []string{"src/a.txt", "src/sub/b.txt"},
		},
		{
			name: "drops paths outside the tracked subtree",
			paths: []svncmd.ChangedPath{
				{Path: "/trunk/src/a.txt", Action: "M"},
				{Path: "/branches/feature/a.txt", Action: "M"},
			},
			prefix: "/trunk",
			want:   []string{"src/a.txt"},
		},
		{
			name: "empty prefix tracks the whole repository",
			paths: []svncmd.ChangedPath{
				{Path: "/src/a.txt", Action: "M"},
			},
			prefix: "",
			want:   []string{"src/a.txt"},
		},
		{
			name: "path equal to the prefix itself is dropped",
			paths: []svncmd.ChangedPath{
				{Path: "/trunk", Action: "M"},
				{Path: "/trunk/a.txt", Action: "M"},
			},
			prefix: "/trunk",
			want:   []string{"a.txt"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := relativeChangedPaths(tt.paths, tt.prefix)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("relativeChangedPaths() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectConflictsSkipsWithoutBase(t *testing.T) {
	a := &SvnToGitApplier{}
	held, rows, err := a.detectConflicts(svnLogEntryWithPaths("a.txt"), t.TempDir(), "")
	if err != nil {
		t.Fatalf("detectConflicts() = %v", err)
	}
	if len(held) != 0 || rows != nil {
		t.Fatalf("detectConflicts() with no base = %v, %v, want none", held, rows)
	}
}

func svnLogEntryWithPaths(paths ...string) svncmd.LogEntry {
	changed := make([]svncmd.ChangedPath, len(paths))
	for i, p := range paths {
		changed[i] = svncmd.ChangedPath{Path: "/" + p, Action: "M"}
	}
	return svncmd.LogEntry{Revision: 1, ChangedPaths: changed}
}
