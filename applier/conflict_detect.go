// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package applier

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/microsoft/gitsvnsync/conflict"
	"github.com/microsoft/gitsvnsync/gitcmd"
	"github.com/microsoft/gitsvnsync/internal/store"
	"github.com/microsoft/gitsvnsync/svncmd"
)

// relativeChangedPaths converts a revision's repository-rooted changed paths (as "svn log
// --verbose" reports them) into paths relative to the tracked subtree, dropping any path that
// falls outside it.
func relativeChangedPaths(paths []svncmd.ChangedPath, repoPathPrefix string) []string {
	prefix := "/" + strings.Trim(repoPathPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	rel := make([]string, 0, len(paths))
	for _, p := range paths {
		path := p.Path
		if prefix != "" {
			if path != prefix && !strings.HasPrefix(path, prefix+"/") {
				continue
			}
			path = strings.TrimPrefix(path, prefix)
		}
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			continue
		}
		rel = append(rel, path)
	}
	return rel
}

// detectConflicts classifies every path entry touched against baseSHA (the Git commit both sides
// last agreed on), the incoming SVN export at exportDir ("ours"), and the current Git working tree
// at a.GitRepoDir ("theirs"). It returns the subset of those paths with an unresolved conflict —
// which the caller must exclude from this cycle's tree sync — alongside one
// ConflictRow per unresolved path, ready for EnqueueConflict. baseSHA == "" means no prior sync
// exists yet, so nothing can have diverged; detection is skipped.
func (a *SvnToGitApplier) detectConflicts(entry svncmd.LogEntry, exportDir, baseSHA string) (held map[string]bool, rows []store.ConflictRow, err error) {
	held = map[string]bool{}
	if baseSHA == "" || len(entry.ChangedPaths) == 0 {
		return held, nil, nil
	}

	repo, err := gitcmd.OpenRepository(a.GitRepoDir)
	if err != nil {
		return nil, nil, err
	}
	base, err := gitcmd.GetCommit(repo, baseSHA)
	if err != nil {
		return nil, nil, fmt.Errorf("open base commit %s for conflict detection: %w", baseSHA, err)
	}

	for _, path := range relativeChangedPaths(entry.ChangedPaths, a.RepoPathPrefix) {
		baseContent, baseFound, err := base.ReadFileOrNil(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read base content of %q: %w", path, err)
		}
		oursContent, oursFound, err := readOptionalFile(filepath.Join(exportDir, path))
		if err != nil {
			return nil, nil, fmt.Errorf("read incoming content of %q: %w", path, err)
		}
		theirsContent, theirsFound, err := readOptionalFile(filepath.Join(a.GitRepoDir, path))
		if err != nil {
			return nil, nil, fmt.Errorf("read git working tree content of %q: %w", path, err)
		}

		result := conflict.Detect(path,
			conflict.FileChange{Path: path, Content: baseContent, Deleted: !baseFound, IsBinary: baseFound && !conflict.IsTextLike(baseContent)},
			conflict.FileChange{Path: path, Content: oursContent, Deleted: !oursFound, IsBinary: oursFound && !conflict.IsTextLike(oursContent)},
			conflict.FileChange{Path: path, Content: theirsContent, Deleted: !theirsFound, IsBinary: theirsFound && !conflict.IsTextLike(theirsContent)},
			a.NormalizeLineEndings, a.AutoMerge)

		if result.Conflict == nil {
			continue
		}

		held[path] = true
		rows = append(rows, store.ConflictRow{
			Path:        path,
			Kind:        string(result.Conflict.Kind),
			SvnContent:  result.Conflict.Ours,
			GitContent:  result.Conflict.Theirs,
			BaseContent: result.Conflict.Base,
			SvnRev:      entry.Revision,
			GitSHA:      baseSHA,
			Status:      store.ConflictStatusDetected,
		})
	}
	return held, rows, nil
}

func readOptionalFile(path string) (content []byte, found bool, err error) {
	content, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return content, true, nil
}
