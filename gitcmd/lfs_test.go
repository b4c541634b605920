// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package gitcmd

import "testing"

func TestIsLfsPointer(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    bool
	}{
		{"pointer file", []byte("version https://git-lfs.github.com/spec/v1\noid sha256:abc\nsize 123\n"), true},
		{"ordinary text", []byte("hello world\n"), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLfsPointer(tt.content); got != tt.want {
				t.Errorf("IsLfsPointer(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}
