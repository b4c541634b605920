// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package svncmd wraps the "svn" command-line client, mirroring the shape of the gitcmd package:
// thin argv-vector wrappers run through executil, with XML output parsed strictly.
package svncmd

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/microsoft/gitsvnsync/executil"
)

// DefaultTimeout bounds every SVN subprocess invocation issued through this package.
const DefaultTimeout = 2 * time.Minute

// Credentials are passed per-invocation via --username/--password/--no-auth-cache; they are never
// cached to disk by this package or by the svn client.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) args() []string {
	if c.Username == "" {
		return nil
	}
	return []string{
		"--username", c.Username,
		"--password", c.Password,
		"--non-interactive",
		"--no-auth-cache",
	}
}

func run(ctx context.Context, creds Credentials, args ...string) (string, error) {
	full := append(append([]string{}, args...), creds.args()...)
	return executil.RunWithTimeout(ctx, DefaultTimeout, executil.Dir("", "svn", full...))
}

// LogEntry is one entry returned by Log: revision, author, UTC timestamp, message, and the paths
// the revision touched (rooted at the repository root, with the leading slash svn reports).
type LogEntry struct {
	Revision     uint64
	Author       string
	Timestamp    time.Time
	Message      string
	ChangedPaths []ChangedPath
}

// ChangedPath is one path reported by "svn log --verbose" for a revision.
type ChangedPath struct {
	Path   string
	Action string // one of "A" (added), "D" (deleted), "M" (modified), "R" (replaced)
}

// xmlLog mirrors the schema of "svn log --verbose --xml". Unknown attributes are ignored by
// encoding/xml by default; unexpected nesting (a logentry missing <date> or with malformed
// content) surfaces as a parse error from Unmarshal or from the explicit validation in Log, never
// silently.
type xmlLog struct {
	XMLName xml.Name      `xml:"log"`
	Entries []xmlLogEntry `xml:"logentry"`
}

type xmlLogEntry struct {
	Revision uint64 `xml:"revision,attr"`
	Author   string `xml:"author"`
	Date     string `xml:"date"`
	Msg      string `xml:"msg"`
	Paths    struct {
		Entries []xmlChangedPath `xml:"path"`
	} `xml:"paths"`
}

type xmlChangedPath struct {
	Path   string `xml:",chardata"`
	Action string `xml:"action,attr"`
}

// HeadRevision returns the latest revision number at url.
func HeadRevision(ctx context.Context, url string, creds Credentials) (uint64, error) {
	out, err := run(ctx, creds, "info", "--xml", url)
	if err != nil {
		return 0, fmt.Errorf("failed to get HEAD revision of %v: %w", redactURL(url), err)
	}
	var info struct {
		Entry struct {
			Revision uint64 `xml:"revision,attr"`
		} `xml:"entry"`
	}
	if err := xml.Unmarshal([]byte(out), &info); err != nil {
		return 0, fmt.Errorf("failed to parse svn info xml: %w", err)
	}
	return info.Entry.Revision, nil
}

// Log fetches log entries for revisions in the inclusive range [from, to], ascending, including
// each revision's changed paths.
func Log(ctx context.Context, url string, from, to uint64, creds Credentials) ([]LogEntry, error) {
	if from > to {
		return nil, nil
	}
	out, err := run(ctx, creds, "log", "--xml", "--verbose", "-r", fmt.Sprintf("%d:%d", from, to), url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch svn log %d:%d for %v: %w", from, to, redactURL(url), err)
	}

	var parsed xmlLog
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse svn log xml: %w", err)
	}

	result := make([]LogEntry, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		ts, err := time.Parse(time.RFC3339Nano, e.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse svn log date %q for r%d: %w", e.Date, e.Revision, err)
		}
		changed := make([]ChangedPath, 0, len(e.Paths.Entries))
		for _, p := range e.Paths.Entries {
			changed = append(changed, ChangedPath{Path: strings.TrimSpace(p.Path), Action: p.Action})
		}
		result = append(result, LogEntry{
			Revision:     e.Revision,
			Author:       e.Author,
			Timestamp:    ts.UTC(),
			Message:      e.Msg,
			ChangedPaths: changed,
		})
	}
	return result, nil
}

// RepositoryRoot returns the repository root URL for url, as reported by "svn info". Callers that
// track a subtree need this to turn a changed path reported by Log (rooted at the repository)
// into one relative to the tracked subtree.
func RepositoryRoot(ctx context.Context, url string, creds Credentials) (string, error) {
	out, err := run(ctx, creds, "info", "--xml", url)
	if err != nil {
		return "", fmt.Errorf("failed to get repository root of %v: %w", redactURL(url), err)
	}
	var info struct {
		Entry struct {
			Repository struct {
				Root string `xml:"root"`
			} `xml:"repository"`
		} `xml:"entry"`
	}
	if err := xml.Unmarshal([]byte(out), &info); err != nil {
		return "", fmt.Errorf("failed to parse svn info xml: %w", err)
	}
	return info.Entry.Repository.Root, nil
}

// Export exports url at revision rev into destDir (no ".svn" metadata directory is produced).
func Export(ctx context.Context, url string, rev uint64, destDir string, creds Credentials) error {
	_, err := run(ctx, creds, "export", "--force", "-r", strconv.FormatUint(rev, 10), url, destDir)
	if err != nil {
		return fmt.Errorf("failed to export %v@%d to %v: %w", redactURL(url), rev, destDir, err)
	}
	return nil
}

// Checkout checks out url into destDir as a working copy.
func Checkout(ctx context.Context, url, destDir string, creds Credentials) error {
	_, err := run(ctx, creds, "checkout", url, destDir)
	if err != nil {
		return fmt.Errorf("failed to checkout %v into %v: %w", redactURL(url), destDir, err)
	}
	return nil
}

// Update brings the working copy wc up to HEAD.
func Update(ctx context.Context, wc string, creds Credentials) error {
	_, err := run(ctx, creds, "update", wc)
	if err != nil {
		return fmt.Errorf("failed to update working copy %v: %w", wc, err)
	}
	return nil
}

// StatusEntry is one path reported by Status.
type StatusEntry struct {
	Path string
	Kind string // one of "?", "!", "M", "A", "D"
}

type xmlStatus struct {
	Target struct {
		Entries []struct {
			Path      string `xml:"path,attr"`
			WCStatus  struct {
				Item string `xml:"item,attr"`
			} `xml:"wc-status"`
		} `xml:"entry"`
	} `xml:"target"`
}

var itemToKind = map[string]string{
	"unversioned": "?",
	"missing":     "!",
	"modified":    "M",
	"added":       "A",
	"deleted":     "D",
}

// Status runs "svn status --xml" on wc and returns the set of paths that aren't in a clean,
// committed state.
func Status(ctx context.Context, wc string, creds Credentials) ([]StatusEntry, error) {
	out, err := run(ctx, creds, "status", "--xml", wc)
	if err != nil {
		return nil, fmt.Errorf("failed to get status of %v: %w", wc, err)
	}
	var parsed xmlStatus
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse svn status xml: %w", err)
	}
	result := make([]StatusEntry, 0, len(parsed.Target.Entries))
	for _, e := range parsed.Target.Entries {
		kind, ok := itemToKind[e.WCStatus.Item]
		if !ok {
			return nil, fmt.Errorf("unrecognized svn status item %q for path %q", e.WCStatus.Item, e.Path)
		}
		result = append(result, StatusEntry{Path: e.Path, Kind: kind})
	}
	return result, nil
}

// Add runs "svn add" on path within wc.
func Add(ctx context.Context, wc, path string, creds Credentials) error {
	_, err := run(ctx, creds, "add", "--parents", path)
	_ = wc
	if err != nil {
		return fmt.Errorf("failed to add %v: %w", path, err)
	}
	return nil
}

// Remove runs "svn rm" on path within wc.
func Remove(ctx context.Context, wc, path string, creds Credentials) error {
	_, err := run(ctx, creds, "rm", "--force", path)
	_ = wc
	if err != nil {
		return fmt.Errorf("failed to remove %v: %w", path, err)
	}
	return nil
}

// Commit commits the staged changes in wc with the given message, returning the new revision
// number. authorOverride is not passed to svn and does not change the new revision's author: SVN
// attributes the revision to the authenticated user performing the commit.
func Commit(ctx context.Context, wc, message, authorOverride string, creds Credentials) (uint64, error) {
	args := []string{"commit", wc, "-m", message}
	out, err := run(ctx, creds, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to commit %v: %w", wc, err)
	}
	rev, err := parseCommittedRevision(out)
	if err != nil {
		return 0, err
	}
	_ = authorOverride // recorded by the applier in the commit-map row, not passed to svn commit.
	return rev, nil
}

func parseCommittedRevision(out string) (uint64, error) {
	const marker = "Committed revision "
	idx := strings.LastIndex(out, marker)
	if idx < 0 {
		return 0, fmt.Errorf("could not find committed revision in svn commit output: %q", out)
	}
	rest := strings.TrimPrefix(out[idx:], marker)
	rest = strings.TrimSuffix(strings.TrimSpace(rest), ".")
	rev, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse committed revision %q: %w", rest, err)
	}
	return rev, nil
}

// Cat returns the content of path at url, optionally at a specific revision (rev == 0 ⇒ HEAD).
func Cat(ctx context.Context, url, path string, rev uint64, creds Credentials) ([]byte, error) {
	full := url + "/" + strings.TrimPrefix(path, "/")
	args := []string{"cat"}
	if rev != 0 {
		args = append(args, "-r", strconv.FormatUint(rev, 10))
	}
	args = append(args, full)
	out, err := run(ctx, creds, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to cat %v: %w", redactURL(full), err)
	}
	return []byte(out), nil
}

// redactURL strips userinfo from a URL before it is placed into a log/error string, in addition
// to the executil.Redact pass applied to raw command args.
func redactURL(url string) string {
	if idx := strings.Index(url, "@"); idx >= 0 {
		if schemeIdx := strings.Index(url, "://"); schemeIdx >= 0 && schemeIdx < idx {
			return url[:schemeIdx+3] + "[REDACTED]" + url[idx:]
		}
	}
	return url
}
