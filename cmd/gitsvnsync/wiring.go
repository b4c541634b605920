// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/microsoft/gitsvnsync/applier"
	"github.com/microsoft/gitsvnsync/config"
	"github.com/microsoft/gitsvnsync/filepolicy"
	"github.com/microsoft/gitsvnsync/gitcmd"
	"github.com/microsoft/gitsvnsync/githubclient"
	"github.com/microsoft/gitsvnsync/identity"
	"github.com/microsoft/gitsvnsync/internal/store"
	"github.com/microsoft/gitsvnsync/notify"
	"github.com/microsoft/gitsvnsync/orchestrator"
	"github.com/microsoft/gitsvnsync/svncmd"
)

// remoteName is the remote gitcmd.Clone always creates; nothing in this tree ever renames it.
const remoteName = "origin"

// daemon bundles every piece wiring builds, so subcommands can use only the parts they need
// without repeating construction logic.
type daemon struct {
	cfg   *config.Config
	store *store.Store

	orchestrator *orchestrator.Orchestrator
	metrics      *notify.Metrics
}

// buildDaemon opens the data directory, prepares the local Git work tree and SVN working copy,
// and wires the orchestrator together from cfg. Every subcommand that touches the repositories or
// the database goes through this.
func buildDaemon(ctx context.Context, cfg *config.Config) (*daemon, error) {
	layout := cfg.Layout()

	if err := os.MkdirAll(cfg.Personal.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.Personal.DataDir, err)
	}

	st, err := store.Open(layout.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	owner, repoName, err := parseRepo(cfg.GitHub.Repo)
	if err != nil {
		st.Close()
		return nil, err
	}

	pat := os.Getenv(cfg.GitHub.TokenEnv)
	auther := githubclient.PATAuther{PAT: pat}
	githubClient, err := githubclient.NewClient(ctx, pat)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build github client: %w", err)
	}

	remoteURL := "https://github.com/" + owner + "/" + repoName + ".git"
	if err := prepareGitWorkTree(ctx, layout.GitRepoDir, remoteURL, cfg.GitHub.DefaultBranch, auther); err != nil {
		st.Close()
		return nil, fmt.Errorf("prepare git work tree: %w", err)
	}

	creds := svncmd.Credentials{
		Username: cfg.SVN.Username,
		Password: os.Getenv(cfg.SVN.PasswordEnv),
	}
	if err := prepareSvnWorkingCopy(ctx, cfg.SVN.URL, layout.SVNWCDir, creds); err != nil {
		st.Close()
		return nil, fmt.Errorf("prepare svn working copy: %w", err)
	}

	repoRoot, err := svncmd.RepositoryRoot(ctx, cfg.SVN.URL, creds)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("query svn repository root: %w", err)
	}
	repoPathPrefix := strings.TrimPrefix(cfg.SVN.URL, repoRoot)

	domain := emailDomain(cfg.Developer.Email)
	identityMapper := identity.NewTable(nil)

	policy := filepolicy.Policy{
		MaxFileSize:    cfg.Options.MaxFileSize,
		IgnorePatterns: cfg.Options.IgnorePatterns,
		LfsThreshold:   cfg.Options.LfsThreshold,
		LfsPatterns:    cfg.Options.LfsPatterns,
	}

	daemonIdentity := gitcmd.Identity{Name: cfg.Developer.Name, Email: cfg.Developer.Email}

	metrics := notify.NewMetrics()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	svnToGit := &applier.SvnToGitApplier{
		SvnURL:               cfg.SVN.URL,
		Credentials:          creds,
		RepoPathPrefix:       repoPathPrefix,
		GitRepoDir:           layout.GitRepoDir,
		RemoteName:           remoteName,
		RemoteURL:            remoteURL,
		Branch:               cfg.GitHub.DefaultBranch,
		Auth:                 auther,
		Policy:               policy,
		IdentityMapper:       identityMapper,
		FallbackDomain:       domain,
		DaemonIdentity:       daemonIdentity,
		MessageTemplate:      cfg.CommitFormat.SvnToGit,
		NormalizeLineEndings: cfg.Options.NormalizeLineEndings,
		AutoMerge:            cfg.Options.AutoMerge,
		Store:                st,
		Metrics:              metrics,
	}

	gitToSvn := &applier.GitToSvnApplier{
		GitHubClient:    githubClient,
		Auther:          auther,
		Owner:           owner,
		Repo:            repoName,
		DefaultBranch:   cfg.GitHub.DefaultBranch,
		GitRepoDir:      layout.GitRepoDir,
		SvnWC:           layout.SVNWCDir,
		Credentials:     creds,
		SvnUsername:     cfg.Developer.SVNUsername,
		Policy:          policy,
		IdentityMapper:  identityMapper,
		MessageTemplate: cfg.CommitFormat.GitToSvn,
		Store:           st,
		Metrics:         metrics,
	}

	conflictResolver := &applier.ConflictResolver{
		GitRepoDir:      layout.GitRepoDir,
		RemoteName:      remoteName,
		Branch:          cfg.GitHub.DefaultBranch,
		Auth:            auther,
		DaemonIdentity:  daemonIdentity,
		MessageTemplate: cfg.CommitFormat.SvnToGit,
		SvnWC:           layout.SVNWCDir,
		Credentials:     creds,
		Store:           st,
	}

	orch := &orchestrator.Orchestrator{
		SvnToGit:         svnToGit,
		GitToSvn:         gitToSvn,
		ConflictResolver: conflictResolver,
		Store:            st,
		Metrics:          metrics,
		PollInterval:     time.Duration(cfg.Personal.PollIntervalSecs) * time.Second,
		Logger:           logger,
	}

	return &daemon{cfg: cfg, store: st, orchestrator: orch, metrics: metrics}, nil
}

func (d *daemon) Close() error {
	return d.store.Close()
}

// prepareGitWorkTree clones remoteURL into dir if it doesn't already exist, then fetches and
// checks out branch tracking the configured remote.
func prepareGitWorkTree(ctx context.Context, dir, remoteURL, branch string, auth gitcmd.URLAuther) error {
	if _, err := os.Stat(dir + "/.git"); err != nil {
		if err := gitcmd.Clone(ctx, remoteURL, dir, auth); err != nil {
			return fmt.Errorf("clone %s: %w", remoteURL, err)
		}
	}
	if err := gitcmd.Fetch(ctx, dir, remoteName); err != nil {
		return fmt.Errorf("fetch %s: %w", remoteName, err)
	}
	if err := gitcmd.CheckoutTrackingBranch(ctx, dir, remoteName, branch); err != nil {
		return fmt.Errorf("checkout %s/%s: %w", remoteName, branch, err)
	}
	return nil
}

// prepareSvnWorkingCopy checks out url into dir if it isn't already a working copy, or updates it
// in place otherwise.
func prepareSvnWorkingCopy(ctx context.Context, url, dir string, creds svncmd.Credentials) error {
	if _, err := os.Stat(dir + "/.svn"); err != nil {
		return svncmd.Checkout(ctx, url, dir, creds)
	}
	return svncmd.Update(ctx, dir, creds)
}

// emailDomain returns the portion of email after "@", used as the fallback identity domain for
// SVN authors the identity mapper has no entry for.
func emailDomain(email string) string {
	_, domain, found := strings.Cut(email, "@")
	if !found {
		return email
	}
	return domain
}
