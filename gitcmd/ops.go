// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package gitcmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/microsoft/gitsvnsync/executil"
)

// DefaultTimeout bounds every Git subprocess invocation issued through this package.
const DefaultTimeout = 2 * time.Minute

// InitOrOpen creates a new Git repository at path if one doesn't already exist, or does nothing if
// path already contains a ".git" directory.
func InitOrOpen(ctx context.Context, path string) error {
	if _, err := os.Stat(path + "/.git"); err == nil {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create git work tree dir %q: %w", path, err)
	}
	_, err := executil.RunWithTimeout(ctx, DefaultTimeout, executil.Dir(path, "git", "init"))
	return err
}

// Clone clones remoteURL into path. auth is applied to the URL before the subprocess runs.
func Clone(ctx context.Context, remoteURL, path string, auth URLAuther) error {
	if auth == nil {
		auth = NoAuther{}
	}
	_, err := executil.RunWithTimeout(ctx, DefaultTimeout, executil.Dir("", "git", "clone", auth.InsertAuth(remoteURL), path))
	return err
}

// Fetch runs "git fetch <remote>" in the given repository.
func Fetch(ctx context.Context, dir, remote string) error {
	_, err := executil.RunWithTimeout(ctx, DefaultTimeout, executil.Dir(dir, "git", "fetch", remote))
	return err
}

// CreateCommit stages every change in the working tree and creates a commit with the given author
// and committer identities. The committer is always the daemon identity; the author is the mapped
// developer identity.
func CreateCommit(ctx context.Context, dir string, author, committer Identity, message string) (string, error) {
	if _, err := executil.RunWithTimeout(ctx, DefaultTimeout, executil.Dir(dir, "git", "add", "-A")); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	env := os.Environ()
	env = append(env,
		"GIT_AUTHOR_NAME="+author.Name, "GIT_AUTHOR_EMAIL="+author.Email,
		"GIT_COMMITTER_NAME="+committer.Name, "GIT_COMMITTER_EMAIL="+committer.Email,
	)
	commitCmd := executil.Dir(dir, "git", "commit", "--allow-empty", "-m", message)
	commitCmd.Env = env
	if _, err := executil.RunWithTimeout(ctx, DefaultTimeout, commitCmd); err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}

	sha, err := RevParse(dir, "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve new commit sha: %w", err)
	}
	return sha, nil
}

// ErrNonFastForward is returned by Push when the remote has diverged and a non-fast-forward push
// would be required. Push never forces; this is the caller's signal to treat the cycle as failed
// and retry, not to overwrite history.
var ErrNonFastForward = fmt.Errorf("push would not be a fast-forward")

// Push pushes the given refspec to remote. It never force-pushes: a rejected, non-fast-forward
// update surfaces as ErrNonFastForward.
func Push(ctx context.Context, dir, remote, refspec string, auth URLAuther) error {
	if auth == nil {
		auth = NoAuther{}
	}
	_, err := executil.RunWithTimeout(ctx, DefaultTimeout, executil.Dir(dir, "git", "push", auth.InsertAuth(remote), refspec))
	if err != nil {
		// The command's output is carried in err's message; the returned output is empty on failure.
		if msg := err.Error(); strings.Contains(msg, "non-fast-forward") || strings.Contains(msg, "fetch first") {
			return ErrNonFastForward
		}
		return err
	}
	return nil
}

// PullFfOnly updates branch from remote, refusing to create a merge commit.
func PullFfOnly(ctx context.Context, dir, remote, branch string) error {
	_, err := executil.RunWithTimeout(ctx, DefaultTimeout, executil.Dir(dir, "git", "pull", "--ff-only", remote, branch))
	return err
}

// BranchCreate creates a new branch named name at the given starting point (commit-ish).
func BranchCreate(ctx context.Context, dir, name, startPoint string) error {
	_, err := executil.RunWithTimeout(ctx, DefaultTimeout, executil.Dir(dir, "git", "branch", name, startPoint))
	return err
}

// BranchDelete force-deletes a local branch.
func BranchDelete(ctx context.Context, dir, name string) error {
	_, err := executil.RunWithTimeout(ctx, DefaultTimeout, executil.Dir(dir, "git", "branch", "-D", name))
	return err
}

// BranchList lists local branch names.
func BranchList(ctx context.Context, dir string) ([]string, error) {
	out, err := executil.RunWithTimeout(ctx, DefaultTimeout, executil.Dir(dir, "git", "branch", "--format=%(refname:short)"))
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// CheckoutTrackingBranch checks out branch in dir, creating it at remote/branch if it doesn't
// already exist locally, or resetting an existing local branch to remote/branch.
func CheckoutTrackingBranch(ctx context.Context, dir, remote, branch string) error {
	_, err := executil.RunWithTimeout(ctx, DefaultTimeout, executil.Dir(dir, "git", "checkout", "-B", branch, remote+"/"+branch))
	return err
}
