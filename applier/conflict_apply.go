// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package applier

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/microsoft/gitsvnsync/conflict"
	"github.com/microsoft/gitsvnsync/formatter"
	"github.com/microsoft/gitsvnsync/gitcmd"
	"github.com/microsoft/gitsvnsync/internal/store"
	"github.com/microsoft/gitsvnsync/svncmd"
)

// ConflictResolver replays an operator-resolved conflict's content into both the SVN working copy
// and the Git working tree, on the first cycle after resolution. Resolving a conflict (recording
// the chosen strategy) and applying it (writing the resulting bytes to both repos) are separate
// steps precisely so that resolution never blocks on either repository being reachable.
type ConflictResolver struct {
	GitRepoDir      string
	RemoteName      string
	Branch          string
	Auth            gitcmd.URLAuther
	DaemonIdentity  gitcmd.Identity
	MessageTemplate string

	SvnWC       string
	Credentials svncmd.Credentials

	Store *store.Store
}

// ApplyResolved writes every resolved-but-not-yet-applied conflict's content to both sides, then
// marks it applied, and returns the count applied. Each conflict produces exactly one Git commit
// and one SVN commit, both carrying the sync marker so the replay doesn't re-detect as a new
// conflict on either applier's next pass.
func (r *ConflictResolver) ApplyResolved(ctx context.Context) (int, error) {
	rows, err := r.Store.ListResolvedUnapplied(ctx)
	if err != nil {
		return 0, fmt.Errorf("list resolved unapplied conflicts: %w", err)
	}

	applied := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if err := r.applyOne(ctx, row); err != nil {
			return applied, fmt.Errorf("apply resolved conflict %d (%s): %w", row.ID, row.Path, err)
		}
		applied++
	}
	return applied, nil
}

func (r *ConflictResolver) applyOne(ctx context.Context, row store.ConflictRow) error {
	content, err := resolvedContent(row)
	if err != nil {
		return err
	}

	summary := fmt.Sprintf("Resolve conflict on %s (%s)", row.Path, row.Resolution)

	if err := writeFile(filepath.Join(r.GitRepoDir, row.Path), content, false); err != nil {
		return fmt.Errorf("write resolved content to git work tree: %w", err)
	}
	gitMessage := formatter.RenderSvnToGit(r.MessageTemplate, formatter.SvnToGitData{
		OriginalMessage: summary,
		SvnRev:          row.SvnRev,
		SvnAuthor:       row.Resolver,
		SvnDate:         time.Now().UTC(),
	})
	author := gitcmd.Identity{Name: row.Resolver, Email: row.Resolver}
	sha, err := gitcmd.CreateCommit(ctx, r.GitRepoDir, author, r.DaemonIdentity, gitMessage)
	if err != nil {
		return fmt.Errorf("commit resolved content to git: %w", err)
	}
	refspec := fmt.Sprintf("HEAD:refs/heads/%s", r.Branch)
	if err := gitcmd.Push(ctx, r.GitRepoDir, r.RemoteName, refspec, r.Auth); err != nil {
		return fmt.Errorf("push resolved commit: %w", err)
	}

	if err := svncmd.Update(ctx, r.SvnWC, r.Credentials); err != nil {
		return fmt.Errorf("update svn working copy: %w", err)
	}
	if err := writeFile(filepath.Join(r.SvnWC, row.Path), content, false); err != nil {
		return fmt.Errorf("write resolved content to svn working copy: %w", err)
	}
	svnMessage := formatter.RenderGitToSvn(r.MessageTemplate, formatter.GitToSvnData{
		OriginalMessage: summary,
		GitSHA:          sha,
	})
	if _, err := svncmd.Commit(ctx, r.SvnWC, svnMessage, row.Resolver, r.Credentials); err != nil {
		return fmt.Errorf("commit resolved content to svn: %w", err)
	}

	if err := r.Store.Transaction(ctx, func(tx *store.Tx) error {
		if err := tx.MarkConflictApplied(ctx, row.ID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, store.AuditEntry{
			Action: "conflict_resolution_applied", SvnRev: row.SvnRev, GitSHA: sha,
			Author: row.Resolver, Detail: row.Path,
		})
	}); err != nil {
		return fmt.Errorf("mark conflict applied: %w", err)
	}

	return nil
}

// resolvedContent reconstructs the bytes a conflict resolves to, reusing conflict.Record.Resolve
// so the resolution semantics (which content wins for each strategy) live in exactly one place.
// accept-merged is recomputed at apply time rather than stored: the three-way merge is a pure
// function of base/svn/git content, all of which the conflict row already retains.
func resolvedContent(row store.ConflictRow) ([]byte, error) {
	rec := conflict.Record{
		Conflict: conflict.Conflict{Path: row.Path, Ours: row.SvnContent, Theirs: row.GitContent},
		State:    conflict.StateQueued,
	}

	var merged []byte
	if conflict.Strategy(row.Resolution) == conflict.StrategyAcceptMerged {
		text, ok := conflict.ThreeWayMerge(string(row.BaseContent), string(row.SvnContent), string(row.GitContent))
		if !ok {
			return nil, fmt.Errorf("merge no longer applies cleanly; resolve manually instead")
		}
		merged = []byte(text)
	}

	if err := rec.Resolve(conflict.Strategy(row.Resolution), row.ManualContent, merged); err != nil {
		return nil, fmt.Errorf("replay resolution strategy %q: %w", row.Resolution, err)
	}
	return rec.Resolved, nil
}
