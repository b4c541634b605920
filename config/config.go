// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package config holds the plain data types that mirror the on-disk TOML configuration file. No
// TOML decoding, environment resolution, or CLI flag parsing lives here: a caller populates a
// Config however it likes and passes it to the orchestrator.
package config

import (
	"errors"
	"fmt"
)

// Config is the full configuration of a GitSvnSync daemon instance.
type Config struct {
	Personal     Personal
	SVN          SVN
	GitHub       GitHub
	Developer    Developer
	CommitFormat CommitFormat
	Options      Options
}

// Personal holds process-wide, per-installation settings.
type Personal struct {
	// PollIntervalSecs is the minimum number of seconds between cycle starts.
	PollIntervalSecs int
	// DataDir is the directory for the database, Git work repo, SVN working copy, and log file.
	DataDir string
	// LogLevel is the default log verbosity.
	LogLevel string
}

// SVN holds the source SVN repository's connection details.
type SVN struct {
	// URL is the source SVN URL (repository root plus the tracked path).
	URL string
	// Username is the SVN authentication name.
	Username string
	// PasswordEnv is the name of the environment variable holding the SVN password.
	PasswordEnv string
}

// GitHub holds the target GitHub repository's connection details.
type GitHub struct {
	// APIURL is the forge API base, for GitHub Enterprise support.
	APIURL string
	// Repo is the "owner/name" identifier.
	Repo string
	// TokenEnv is the name of the environment variable holding the forge token.
	TokenEnv string
	// DefaultBranch is the branch watched for merged PRs.
	DefaultBranch string
}

// Developer is the identity used when the IdentityMapper has no mapping for a given author.
type Developer struct {
	Name        string
	Email       string
	SVNUsername string
}

// CommitFormat holds the two commit-message templates. Each must render the sync
// marker; Validate does not check this statically since it depends on what the template actually
// looks like after substitution, but formatter.RenderSvnToGit and formatter.RenderGitToSvn append
// the marker when the rendered text lacks it.
type CommitFormat struct {
	// SvnToGit is the template used when replaying an SVN revision as a Git commit.
	SvnToGit string
	// GitToSvn is the template used when replaying a Git commit as an SVN revision.
	GitToSvn string
}

// Options holds cross-cutting behavior switches.
type Options struct {
	// NormalizeLineEndings requests CRLF→LF normalization before diff/merge.
	NormalizeLineEndings bool
	// SyncExecutableBit requests that the executable permission bit be preserved across sides.
	SyncExecutableBit bool
	// MaxFileSize skips files larger than this many bytes (0 ⇒ disabled).
	MaxFileSize int64
	// IgnorePatterns is a glob list of paths to exclude from sync entirely.
	IgnorePatterns []string
	// AutoMerge requests that the conflict engine attempt a 3-way merge for non-overlapping
	// changes rather than always conflicting when both sides touch a file.
	AutoMerge bool
	// LfsThreshold activates large-file-extension tracking for files at or above this size in
	// bytes (0 ⇒ disabled).
	LfsThreshold int64
	// LfsPatterns is a glob list; a match alone activates LFS handling regardless of size.
	LfsPatterns []string
	// SyncDirectPushes is reserved and must be false: Validate
	// rejects true at startup. Its intended semantics are not implemented.
	SyncDirectPushes bool
}

// ErrSyncDirectPushesUnsupported is returned by Validate when Options.SyncDirectPushes is true.
var ErrSyncDirectPushesUnsupported = errors.New("options.sync_direct_pushes is reserved and not implemented; it must be false")

// Validate checks Options.SyncDirectPushes, which must always be false since its semantics are
// not implemented. This is a configuration error: reject at startup, do not guess. It also
// requires svn.url, github.repo and personal.data_dir to be set and the poll interval to be positive.
func (c *Config) Validate() error {
	if c.Options.SyncDirectPushes {
		return ErrSyncDirectPushesUnsupported
	}
	if c.SVN.URL == "" {
		return errors.New("svn.url must be set")
	}
	if c.GitHub.Repo == "" {
		return errors.New("github.repo must be set")
	}
	if c.Personal.DataDir == "" {
		return errors.New("personal.data_dir must be set")
	}
	if c.Personal.PollIntervalSecs <= 0 {
		return fmt.Errorf("personal.poll_interval_secs must be positive, got %d", c.Personal.PollIntervalSecs)
	}
	return nil
}

// Layout returns the persisted file/directory layout under DataDir.
type Layout struct {
	DBPath     string
	LogPath    string
	GitRepoDir string
	SVNWCDir   string
	DaemonPID  string
}

// Layout computes the persisted layout under Personal.DataDir.
func (c *Config) Layout() Layout {
	base := c.Personal.DataDir
	return Layout{
		DBPath:     base + "/personal.db",
		LogPath:    base + "/personal.log",
		GitRepoDir: base + "/git-repo",
		SVNWCDir:   base + "/svn-wc",
		DaemonPID:  base + "/daemon.pid",
	}
}
