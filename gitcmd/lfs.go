// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package gitcmd

import (
	"bytes"
	"context"
	"fmt"

	"github.com/microsoft/gitsvnsync/executil"
)

// lfsPointerHeader is the fixed first line of a Git LFS pointer file, as written into a working
// tree whenever a path is tracked by a ".gitattributes" filter=lfs rule.
const lfsPointerHeader = "version https://git-lfs.github.com/spec/v1"

// IsLfsPointer reports whether content is a Git LFS pointer file rather than real file content.
func IsLfsPointer(content []byte) bool {
	return bytes.HasPrefix(content, []byte(lfsPointerHeader))
}

// SmudgeLfsPointer resolves pointer (the verbatim content of a pointer file) to the real content
// it references, by piping it through "git lfs smudge" in dir. This mirrors what Git itself does
// on checkout for a path tracked by an LFS filter.
func SmudgeLfsPointer(ctx context.Context, dir string, pointer []byte) ([]byte, error) {
	cmd := executil.Dir(dir, "git", "lfs", "smudge")
	cmd.Stdin = bytes.NewReader(pointer)
	out, err := executil.RunWithTimeout(ctx, DefaultTimeout, cmd)
	if err != nil {
		return nil, fmt.Errorf("smudge lfs pointer: %w", err)
	}
	return []byte(out), nil
}
