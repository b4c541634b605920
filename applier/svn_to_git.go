// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package applier

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/microsoft/gitsvnsync/filepolicy"
	"github.com/microsoft/gitsvnsync/formatter"
	"github.com/microsoft/gitsvnsync/gitcmd"
	"github.com/microsoft/gitsvnsync/identity"
	"github.com/microsoft/gitsvnsync/internal/store"
	"github.com/microsoft/gitsvnsync/notify"
	"github.com/microsoft/gitsvnsync/svncmd"
)

// SvnToGitApplier replays unsynced SVN revisions into the Git working tree.
type SvnToGitApplier struct {
	SvnURL      string
	Credentials svncmd.Credentials
	// RepoPathPrefix is SvnURL's path relative to the SVN repository root (e.g. "/trunk"), used to
	// turn "svn log --verbose" changed paths, which are rooted at the repository, into paths
	// relative to the tracked subtree for conflict detection.
	RepoPathPrefix string

	GitRepoDir string
	RemoteName string
	RemoteURL  string
	Branch     string
	Auth       gitcmd.URLAuther

	Policy          filepolicy.Policy
	IdentityMapper  identity.Mapper
	FallbackDomain  string
	DaemonIdentity  gitcmd.Identity
	MessageTemplate string

	// NormalizeLineEndings and AutoMerge configure the conflict-detection engine run against every
	// changed path in each revision.
	NormalizeLineEndings bool
	AutoMerge            bool

	Store *store.Store

	// Metrics is optional; if nil, metric observations are skipped.
	Metrics *notify.Metrics
}

// CycleResult summarizes one Run invocation, for logging/telemetry.
type CycleResult struct {
	RevisionsApplied int
	RevisionsSkipped int
	LastRev          uint64
}

// Run executes one SVN→Git applier cycle.
func (a *SvnToGitApplier) Run(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{}

	watermark, err := a.currentWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("read svn_last_rev: %w", err)
	}
	result.LastRev = watermark

	head, err := svncmd.HeadRevision(ctx, a.SvnURL, a.Credentials)
	if err != nil {
		return nil, fmt.Errorf("query svn head revision: %w", err)
	}
	if head <= watermark {
		return result, nil
	}

	entries, err := svncmd.Log(ctx, a.SvnURL, watermark+1, head, a.Credentials)
	if err != nil {
		return nil, fmt.Errorf("fetch svn log %d:%d: %w", watermark+1, head, err)
	}

	baseSHA, _, err := a.Store.LastCommitMapGitSHA(ctx, store.DirectionSvnToGit)
	if err != nil {
		return nil, fmt.Errorf("read last commit map git sha: %w", err)
	}

	// heldPaths accumulates every path with a conflict not yet applied, across the whole cycle:
	// once excluded, a path must stay excluded from every later revision's tree sync too, not just
	// the revision that first detected it.
	heldPaths, err := a.Store.HeldPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("read held conflict paths: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if formatter.IsSyncMarker(entry.Message) {
			if err := a.advanceWatermarkWithAudit(ctx, entry.Revision, "echo_skip", entry.Author); err != nil {
				return result, err
			}
			result.RevisionsSkipped++
			result.LastRev = entry.Revision
			if a.Metrics != nil {
				a.Metrics.EchoSkipsTotal.WithLabelValues("svn_to_git").Inc()
			}
			continue
		}

		synced, err := a.Store.IsSvnRevSynced(ctx, entry.Revision)
		if err != nil {
			return result, fmt.Errorf("check idempotency for r%d: %w", entry.Revision, err)
		}
		if synced {
			if err := a.advanceWatermark(ctx, entry.Revision); err != nil {
				return result, err
			}
			result.RevisionsSkipped++
			result.LastRev = entry.Revision
			continue
		}

		sha, gitAuthor, skipped, conflicts, err := a.applyRevision(ctx, entry, baseSHA, heldPaths)
		if err != nil {
			// Do not advance the watermark on failure between export and push; the same
			// revision retries next cycle.
			return result, fmt.Errorf("apply svn r%d: %w", entry.Revision, err)
		}

		if err := a.Store.Transaction(ctx, func(tx *store.Tx) error {
			if err := tx.RecordCommitMap(ctx, store.DirectionSvnToGit, entry.Revision, sha, entry.Author, gitAuthor); err != nil {
				return err
			}
			if err := tx.PutWatermark(ctx, store.WatermarkSvnLastRev, strconv.FormatUint(entry.Revision, 10)); err != nil {
				return err
			}
			for _, sf := range skipped {
				if err := tx.AppendAudit(ctx, store.AuditEntry{
					Action: "file_policy_skip", Direction: store.DirectionSvnToGit,
					SvnRev: entry.Revision, GitSHA: sha, Author: entry.Author,
					Detail: fmt.Sprintf("%s: %s", sf.Path, sf.Reason),
				}); err != nil {
					return err
				}
			}
			for _, row := range conflicts {
				if _, err := tx.EnqueueConflict(ctx, row); err != nil {
					return err
				}
				heldPaths[row.Path] = true
			}
			return tx.AppendAudit(ctx, store.AuditEntry{
				Action: "svn_to_git_commit", Direction: store.DirectionSvnToGit,
				SvnRev: entry.Revision, GitSHA: sha, Author: entry.Author,
			})
		}); err != nil {
			return result, fmt.Errorf("record sync of r%d: %w", entry.Revision, err)
		}

		baseSHA = sha
		result.RevisionsApplied++
		result.LastRev = entry.Revision
	}

	if a.Metrics != nil {
		a.Metrics.WatermarkSvnRev.Set(float64(result.LastRev))
	}
	return result, nil
}

func (a *SvnToGitApplier) currentWatermark(ctx context.Context) (uint64, error) {
	value, found, err := a.Store.GetWatermark(ctx, store.WatermarkSvnLastRev)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return strconv.ParseUint(value, 10, 64)
}

func (a *SvnToGitApplier) advanceWatermark(ctx context.Context, rev uint64) error {
	return a.Store.Transaction(ctx, func(tx *store.Tx) error {
		return tx.PutWatermark(ctx, store.WatermarkSvnLastRev, strconv.FormatUint(rev, 10))
	})
}

func (a *SvnToGitApplier) advanceWatermarkWithAudit(ctx context.Context, rev uint64, action, author string) error {
	return a.Store.Transaction(ctx, func(tx *store.Tx) error {
		if err := tx.PutWatermark(ctx, store.WatermarkSvnLastRev, strconv.FormatUint(rev, 10)); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, store.AuditEntry{
			Action: action, Direction: store.DirectionSvnToGit, SvnRev: rev, Author: author,
		})
	})
}

// applyRevision replays one SVN revision into the Git working tree: export, conflict detection,
// tree copy, author mapping, commit, push. baseSHA is the Git commit both sides last agreed on
// (the previous commit-map row for this direction, or "" before the first sync). alreadyHeld is
// every path still carrying an unresolved conflict from an earlier revision; these stay excluded
// regardless of whether this revision touches them. It returns the new Git commit SHA, the
// file-policy skips the tree copy produced, and any new unresolved conflicts detected against this
// revision's changed paths (left unapplied, for the caller to enqueue).
func (a *SvnToGitApplier) applyRevision(ctx context.Context, entry svncmd.LogEntry, baseSHA string, alreadyHeld map[string]bool) (sha, gitAuthor string, skipped []SkippedFile, conflicts []store.ConflictRow, err error) {
	tmp, err := os.MkdirTemp("", "gitsvnsync-export-*")
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("create export temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := svncmd.Export(ctx, a.SvnURL, entry.Revision, tmp, a.Credentials); err != nil {
		return "", "", nil, nil, err
	}

	held, conflicts, err := a.detectConflicts(entry, tmp, baseSHA)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("detect conflicts for r%d: %w", entry.Revision, err)
	}
	for path := range alreadyHeld {
		held[path] = true
	}

	result, err := SyncTree(tmp, a.GitRepoDir, a.Policy, held)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("sync exported tree into git work tree: %w", err)
	}
	if err := UpdateGitAttributes(a.GitRepoDir, result.LfsPatterns); err != nil {
		return "", "", nil, nil, fmt.Errorf("update git attributes for r%d: %w", entry.Revision, err)
	}

	author := identity.Resolve(a.IdentityMapper, entry.Author, a.FallbackDomain)

	message := formatter.RenderSvnToGit(a.MessageTemplate, formatter.SvnToGitData{
		OriginalMessage: entry.Message,
		SvnRev:          entry.Revision,
		SvnAuthor:       entry.Author,
		SvnDate:         entry.Timestamp,
	})

	sha, err = gitcmd.CreateCommit(ctx, a.GitRepoDir,
		gitcmd.Identity{Name: author.Name, Email: author.Email, When: entry.Timestamp.Format(time.RFC3339)},
		a.DaemonIdentity, message)
	if err != nil {
		return "", "", nil, nil, err
	}

	refspec := fmt.Sprintf("HEAD:refs/heads/%s", a.Branch)
	if err := gitcmd.Push(ctx, a.GitRepoDir, a.RemoteName, refspec, a.Auth); err != nil {
		return "", "", nil, nil, err
	}

	return sha, author.Name, result.Skipped, conflicts, nil
}
