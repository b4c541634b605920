// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package formatter renders the two commit-message templates and detects the sync marker.
// Templates use a fixed vocabulary of single-brace placeholders, so rendering is
// a literal strings.Replacer substitution rather than text/template; see DESIGN.md for why.
package formatter

import (
	"fmt"
	"strings"
	"time"
)

// SyncMarker is the literal token that must appear in every commit message this system writes.
// Its presence on the opposite side suppresses replay, preventing infinite sync loops.
const SyncMarker = "[gitsvnsync]"

// IsSyncMarker reports whether message contains the sync marker.
func IsSyncMarker(message string) bool {
	return strings.Contains(message, SyncMarker)
}

// SvnToGitData supplies the placeholder values for SVN→Git template vocabulary:
// {original_message}, {svn_rev}, {svn_author}, {svn_date}.
type SvnToGitData struct {
	OriginalMessage string
	SvnRev          uint64
	SvnAuthor       string
	SvnDate         time.Time
}

// RenderSvnToGit renders template against data, appending the commit-message trailers and the
// sync marker unless the template result already contains the sync marker.
func RenderSvnToGit(template string, data SvnToGitData) string {
	replacer := strings.NewReplacer(
		"{original_message}", data.OriginalMessage,
		"{svn_rev}", fmt.Sprintf("%d", data.SvnRev),
		"{svn_author}", data.SvnAuthor,
		"{svn_date}", data.SvnDate.UTC().Format(time.RFC3339),
	)
	body := replacer.Replace(template)
	return appendIfMissing(body, fmt.Sprintf(
		"SVN-Revision: r%d\nSVN-Author: %s\nSVN-Date: %s\n%s",
		data.SvnRev, data.SvnAuthor, data.SvnDate.UTC().Format(time.RFC3339), SyncMarker,
	))
}

// GitToSvnData supplies the placeholder values for Git→SVN template vocabulary:
// {original_message}, {git_sha}, {pr_number}, {pr_branch}.
type GitToSvnData struct {
	OriginalMessage string
	GitSHA          string
	PRNumber        int
	PRBranch        string
}

// RenderGitToSvn renders template against data, appending the commit-message trailers and the
// sync marker if missing.
func RenderGitToSvn(template string, data GitToSvnData) string {
	replacer := strings.NewReplacer(
		"{original_message}", data.OriginalMessage,
		"{git_sha}", data.GitSHA,
		"{pr_number}", fmt.Sprintf("%d", data.PRNumber),
		"{pr_branch}", data.PRBranch,
	)
	body := replacer.Replace(template)
	return appendIfMissing(body, fmt.Sprintf(
		"Git-Commit: %s\nPR: #%d (%s)\n%s",
		data.GitSHA, data.PRNumber, data.PRBranch, SyncMarker,
	))
}

// appendIfMissing appends trailer to body (separated by a blank line) unless body already
// contains the sync marker. This guards against a caller-supplied template that already embeds
// the marker and trailers, so the marker never appears twice in one commit message.
func appendIfMissing(body, trailer string) string {
	if IsSyncMarker(body) {
		return body
	}
	return strings.TrimRight(body, "\n") + "\n\n" + trailer
}
