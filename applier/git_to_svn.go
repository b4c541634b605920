// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package applier

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/go-github/v65/github"

	"github.com/microsoft/gitsvnsync/filepolicy"
	"github.com/microsoft/gitsvnsync/formatter"
	"github.com/microsoft/gitsvnsync/gitcmd"
	"github.com/microsoft/gitsvnsync/githubclient"
	"github.com/microsoft/gitsvnsync/identity"
	"github.com/microsoft/gitsvnsync/internal/store"
	"github.com/microsoft/gitsvnsync/notify"
	"github.com/microsoft/gitsvnsync/svncmd"
)

// Strategy classifies how a merged PR's commits should be replayed.
type Strategy string

const (
	StrategyMerge   Strategy = "merge"
	StrategySquash  Strategy = "squash"
	StrategyRebase  Strategy = "rebase"
	StrategyUnknown Strategy = "unknown"
)

// DetectStrategy classifies a merged PR's merge commit.
func DetectStrategy(parentCount, prCommitCount int) Strategy {
	switch {
	case parentCount == 2:
		return StrategyMerge
	case parentCount == 1 && prCommitCount == 1:
		return StrategySquash
	case parentCount == 1 && prCommitCount > 1:
		return StrategyRebase
	default:
		return StrategyUnknown
	}
}

// GitToSvnApplier replays merged pull requests into the SVN working copy.
type GitToSvnApplier struct {
	GitHubClient  *github.Client
	Auther        githubclient.HTTPRequestAuther
	Owner         string
	Repo          string
	DefaultBranch string

	GitRepoDir string // local Git repo used to resolve commit trees via gitcmd.GetCommit

	SvnWC       string
	Credentials svncmd.Credentials
	SvnUsername string // fallback SVN author when identity.Mapper has no mapping

	Policy          filepolicy.Policy
	IdentityMapper  identity.Mapper
	MessageTemplate string

	Store *store.Store

	// Metrics is optional; if nil, metric observations are skipped.
	Metrics *notify.Metrics
}

// Run executes one Git→SVN applier cycle.
func (a *GitToSvnApplier) Run(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{}

	since, err := a.currentWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("read git_last_pr_time: %w", err)
	}

	prs, err := githubclient.ListMergedPRs(a.Auther, a.Owner, a.Repo, a.DefaultBranch, since)
	if err != nil {
		return nil, fmt.Errorf("list merged prs since %v: %w", since, err)
	}

	latest := since
	for _, pr := range prs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		synced, err := a.Store.IsPrMergeSynced(ctx, pr.MergeSHA)
		if err != nil {
			return result, fmt.Errorf("check pr dedup for %s: %w", pr.MergeSHA, err)
		}
		if synced {
			if pr.MergedAt.After(latest) {
				latest = pr.MergedAt
			}
			result.RevisionsSkipped++
			continue
		}

		if err := a.applyPR(ctx, pr); err != nil {
			return result, fmt.Errorf("apply pr #%d (%s): %w", pr.Number, pr.MergeSHA, err)
		}

		result.RevisionsApplied++
		if pr.MergedAt.After(latest) {
			latest = pr.MergedAt
		}
	}

	if latest.After(since) {
		if err := a.Store.Transaction(ctx, func(tx *store.Tx) error {
			return tx.PutWatermark(ctx, store.WatermarkGitLastPrTime, latest.Format(time.RFC3339Nano))
		}); err != nil {
			return result, fmt.Errorf("advance git_last_pr_time: %w", err)
		}
	}

	return result, nil
}

func (a *GitToSvnApplier) currentWatermark(ctx context.Context) (time.Time, error) {
	value, found, err := a.Store.GetWatermark(ctx, store.WatermarkGitLastPrTime)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return time.Unix(0, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

// applyPR replays one merged PR's commits into the SVN working copy, recording a pr_log row for
// the whole PR and a commit_map row for each surviving commit.
func (a *GitToSvnApplier) applyPR(ctx context.Context, pr githubclient.PrSummary) error {
	repo, err := gitcmd.OpenRepository(a.GitRepoDir)
	if err != nil {
		return err
	}
	mergeCommit, err := gitcmd.GetCommit(repo, pr.MergeSHA)
	if err != nil {
		return err
	}

	commits, err := githubclient.GetPRCommits(a.GitHubClient, a.Owner, a.Repo, pr.Number)
	if err != nil {
		return err
	}

	strategy := DetectStrategy(len(mergeCommit.Parents), len(commits))

	var replaySHAs []string
	switch strategy {
	case StrategySquash:
		replaySHAs = []string{pr.MergeSHA}
	default:
		for _, c := range commits {
			replaySHAs = append(replaySHAs, c.SHA)
		}
	}

	messages := map[string]string{}
	for _, c := range commits {
		messages[c.SHA] = c.Message
	}
	if strategy == StrategySquash {
		messages[pr.MergeSHA] = mergeCommit.Message
	}

	var filtered []string
	for _, sha := range replaySHAs {
		if formatter.IsSyncMarker(messages[sha]) {
			if a.Metrics != nil {
				a.Metrics.EchoSkipsTotal.WithLabelValues("git_to_svn").Inc()
			}
			continue
		}
		filtered = append(filtered, sha)
	}

	var prID int64
	err = a.Store.Transaction(ctx, func(tx *store.Tx) error {
		var err error
		prID, err = tx.BeginPr(ctx, pr.Number, pr.Title, pr.SourceBranch, pr.MergeSHA, string(strategy))
		return err
	})
	if err != nil {
		return fmt.Errorf("begin pr record: %w", err)
	}

	var firstRev, lastRev uint64
	for i, sha := range filtered {
		if err := ctx.Err(); err != nil {
			return a.failPr(ctx, prID, err)
		}

		rev, author, skipped, err := a.replayCommit(ctx, sha, pr)
		if err != nil {
			return a.failPr(ctx, prID, err)
		}
		if i == 0 {
			firstRev = rev
		}
		lastRev = rev

		if err := a.Store.Transaction(ctx, func(tx *store.Tx) error {
			if err := tx.RecordCommitMap(ctx, store.DirectionGitToSvn, rev, sha, author, author); err != nil {
				return err
			}
			for _, sf := range skipped {
				if err := tx.AppendAudit(ctx, store.AuditEntry{
					Action: "file_policy_skip", Direction: store.DirectionGitToSvn,
					SvnRev: rev, GitSHA: sha, Author: author,
					Detail: fmt.Sprintf("%s: %s", sf.Path, sf.Reason),
				}); err != nil {
					return err
				}
			}
			return tx.AppendAudit(ctx, store.AuditEntry{
				Action: "git_to_svn_commit", Direction: store.DirectionGitToSvn,
				SvnRev: rev, GitSHA: sha, Author: author,
			})
		}); err != nil {
			return a.failPr(ctx, prID, err)
		}
	}

	return a.Store.Transaction(ctx, func(tx *store.Tx) error {
		return tx.CompletePr(ctx, prID, firstRev, lastRev, len(filtered))
	})
}

func (a *GitToSvnApplier) failPr(ctx context.Context, prID int64, cause error) error {
	if err := a.Store.Transaction(ctx, func(tx *store.Tx) error {
		return tx.FailPr(ctx, prID, cause.Error())
	}); err != nil {
		return fmt.Errorf("%w (and failed to record failure: %v)", cause, err)
	}
	return cause
}

// replayCommit replays one surviving commit into the SVN working copy: update the working copy,
// copy the commit's tree into it, remove stale files, reconcile status, and commit. Files skipped
// by the file-policy filter are reported back for the caller to audit; files tracked through LFS
// have their pointer content resolved to the real content before it reaches the working copy.
func (a *GitToSvnApplier) replayCommit(ctx context.Context, sha string, pr githubclient.PrSummary) (rev uint64, svnAuthor string, skipped []SkippedFile, err error) {
	gitRepo, err := gitcmd.OpenRepository(a.GitRepoDir)
	if err != nil {
		return 0, "", nil, err
	}
	commit, err := gitcmd.GetCommit(gitRepo, sha)
	if err != nil {
		return 0, "", nil, err
	}

	if err := svncmd.Update(ctx, a.SvnWC, a.Credentials); err != nil {
		return 0, "", nil, err
	}

	wanted := map[string]bool{}
	err = commit.WalkTree(func(f gitcmd.TreeFile) error {
		content, err := commit.ReadFile(f.Path)
		if err != nil {
			return err
		}
		decision := a.Policy.Decide(f.Path, int64(len(content)))
		if decision.Outcome == filepolicy.Skip {
			skipped = append(skipped, SkippedFile{Path: f.Path, Reason: decision.SkipReason})
			return nil
		}
		if gitcmd.IsLfsPointer(content) {
			resolved, err := gitcmd.SmudgeLfsPointer(ctx, a.GitRepoDir, content)
			if err != nil {
				return fmt.Errorf("resolve lfs pointer for %q: %w", f.Path, err)
			}
			content = resolved
		}
		wanted[f.Path] = true
		return writeFile(filepath.Join(a.SvnWC, f.Path), content, f.Executable)
	})
	if err != nil {
		return 0, "", nil, fmt.Errorf("copy commit tree: %w", err)
	}

	if err := removeStale(a.SvnWC, wanted, true); err != nil {
		return 0, "", nil, fmt.Errorf("remove stale files: %w", err)
	}

	statuses, err := svncmd.Status(ctx, a.SvnWC, a.Credentials)
	if err != nil {
		return 0, "", nil, err
	}
	for _, st := range statuses {
		full := filepath.Join(a.SvnWC, st.Path)
		switch st.Kind {
		case "?":
			if err := svncmd.Add(ctx, a.SvnWC, full, a.Credentials); err != nil {
				return 0, "", nil, err
			}
		case "!":
			if err := svncmd.Remove(ctx, a.SvnWC, full, a.Credentials); err != nil {
				return 0, "", nil, err
			}
		}
	}

	svnAuthor, ok := a.IdentityMapper.GitToSvn(identity.Identity{Name: commit.Author.Name, Email: commit.Author.Email})
	if !ok {
		svnAuthor = a.SvnUsername
	}

	message := formatter.RenderGitToSvn(a.MessageTemplate, formatter.GitToSvnData{
		OriginalMessage: commit.Message,
		GitSHA:          sha,
		PRNumber:        pr.Number,
		PRBranch:        pr.SourceBranch,
	})

	rev, err = svncmd.Commit(ctx, a.SvnWC, message, svnAuthor, a.Credentials)
	if err != nil {
		return 0, "", nil, err
	}
	return rev, svnAuthor, skipped, nil
}
