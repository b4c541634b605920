// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package gitcmd

import (
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Identity is a Git author or committer name/email pair with a timestamp.
type Identity struct {
	Name  string
	Email string
	When  string
}

// CommitInfo is the structural information about a commit that the merge-strategy detector and
// the Git→SVN applier need: its parent shape, its author/committer, and a way to walk its tree.
type CommitInfo struct {
	SHA       string
	Parents   []string
	Author    Identity
	Committer Identity
	Message   string

	repo   *git.Repository
	commit *object.Commit
}

// OpenRepository opens an existing local Git repository for read-only structural inspection. This
// is kept separate from the argv-vector mutating operations above: reading Git's object graph
// through go-git avoids parsing "git show"/"git log" text output.
func OpenRepository(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository at %q: %w", path, err)
	}
	return repo, nil
}

// GetCommit returns structural information about the commit at sha, including its parent hashes
// (used by the merge-strategy detector) and its author/committer identities.
func GetCommit(repo *git.Repository, sha string) (*CommitInfo, error) {
	hash := plumbing.NewHash(sha)
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up commit %q: %w", sha, err)
	}

	parents := make([]string, 0, commit.NumParents())
	for _, p := range commit.ParentHashes {
		parents = append(parents, p.String())
	}

	return &CommitInfo{
		SHA:     commit.Hash.String(),
		Parents: parents,
		Author: Identity{
			Name:  commit.Author.Name,
			Email: commit.Author.Email,
			When:  commit.Author.When.Format("2006-01-02T15:04:05Z07:00"),
		},
		Committer: Identity{
			Name:  commit.Committer.Name,
			Email: commit.Committer.Email,
			When:  commit.Committer.When.Format("2006-01-02T15:04:05Z07:00"),
		},
		Message: commit.Message,
		repo:    repo,
		commit:  commit,
	}, nil
}

// TreeFile is one regular file found while walking a commit's tree.
type TreeFile struct {
	Path       string
	Executable bool
}

// WalkTree visits every regular (non-submodule, non-symlink) file present in the commit's tree, in
// lexical path order. Used by the Git→SVN applier to copy changed files into the SVN working copy
// and to determine what should still exist when pruning stale files.
func (c *CommitInfo) WalkTree(visit func(TreeFile) error) error {
	tree, err := c.commit.Tree()
	if err != nil {
		return fmt.Errorf("failed to read tree for commit %q: %w", c.SHA, err)
	}
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to walk tree for commit %q: %w", c.SHA, err)
		}
		if !entry.Mode.IsFile() || entry.Mode == filemode.Symlink {
			continue
		}
		if err := visit(TreeFile{
			Path:       name,
			Executable: entry.Mode == 0o100755,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ReadFile returns the content of the file at path in the commit's tree.
func (c *CommitInfo) ReadFile(path string) ([]byte, error) {
	tree, err := c.commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree for commit %q: %w", c.SHA, err)
	}
	f, err := tree.File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to find %q in commit %q: %w", path, c.SHA, err)
	}
	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// ReadFileOrNil is ReadFile, except a path absent from the commit's tree reports (nil, false, nil)
// instead of an error. Used by the conflict-detection base lookup, where a path simply not
// existing at the base commit is an ordinary, expected outcome.
func (c *CommitInfo) ReadFileOrNil(path string) (content []byte, found bool, err error) {
	tree, err := c.commit.Tree()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read tree for commit %q: %w", c.SHA, err)
	}
	f, err := tree.File(path)
	if err != nil {
		if err == object.ErrFileNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to find %q in commit %q: %w", path, c.SHA, err)
	}
	r, err := f.Reader()
	if err != nil {
		return nil, false, err
	}
	defer r.Close()
	content, err = io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	return content, true, nil
}
