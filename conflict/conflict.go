// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package conflict implements the three-way merge and conflict-detection engine:
// given a base tree and two modified trees, classify each changed path and, where possible,
// auto-merge non-overlapping text changes.
package conflict

import (
	"bytes"
	"errors"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Kind classifies a detected conflict.
type Kind string

const (
	KindContent    Kind = "content"
	KindBinary     Kind = "binary"
	KindEditDelete Kind = "edit_delete"
	KindRename     Kind = "rename"
	KindProperty   Kind = "property"
)

// Side identifies which side changed, for edit/delete classification.
type Side string

const (
	SideSvn Side = "svn"
	SideGit Side = "git"
)

// FileChange describes one side's view of a path between base and head.
type FileChange struct {
	Path       string
	Deleted    bool
	RenamedTo  string // non-empty if this side renamed the path
	Content    []byte
	IsBinary   bool
	Executable bool // svn:executable on the SVN side, the Git tree entry's executable bit on the Git side
}

// Conflict is a detected, unresolved difference for one path.
type Conflict struct {
	Path        string
	Kind        Kind
	DeletedSide Side // set iff Kind == KindEditDelete
	Base        []byte
	Ours        []byte // SVN-side content (nil if deleted)
	Theirs      []byte // Git-side content (nil if deleted)
}

// Result is the outcome of Detect for a single path: either a resolved auto-merge or an
// unresolved Conflict.
type Result struct {
	Path     string
	Merged   []byte // set iff Conflict == nil
	Conflict *Conflict
}

// normalizeLineEndings converts CRLF to LF when normalize is true, so that pure line-ending
// differences are never mistaken for content conflicts.
func normalizeLineEndings(content []byte, normalize bool) []byte {
	if !normalize {
		return content
	}
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}

// Detect classifies the change to one path given its base, ours (SVN-side), and theirs (Git-side)
// content, detection rules. ours/theirs nil with deleted=true represents a
// deletion on that side. normalizeLineEndings controls whether CRLF/LF differences are ignored
// before diffing.
func Detect(path string, base, ours, theirs FileChange, normalize, autoMerge bool) Result {
	if ours.RenamedTo != "" && theirs.RenamedTo != "" && ours.RenamedTo != theirs.RenamedTo {
		return Result{Path: path, Conflict: &Conflict{Path: path, Kind: KindRename, Base: base.Content, Ours: ours.Content, Theirs: theirs.Content}}
	}

	if ours.Deleted != theirs.Deleted {
		if ours.Deleted {
			if bytes.Equal(normalizeLineEndings(base.Content, normalize), normalizeLineEndings(theirs.Content, normalize)) {
				return Result{Path: path, Merged: nil}
			}
			return Result{Path: path, Conflict: &Conflict{Path: path, Kind: KindEditDelete, DeletedSide: SideSvn, Base: base.Content, Theirs: theirs.Content}}
		}
		if bytes.Equal(normalizeLineEndings(base.Content, normalize), normalizeLineEndings(ours.Content, normalize)) {
			return Result{Path: path, Merged: nil}
		}
		return Result{Path: path, Conflict: &Conflict{Path: path, Kind: KindEditDelete, DeletedSide: SideGit, Base: base.Content, Ours: ours.Content}}
	}

	if ours.Deleted && theirs.Deleted {
		return Result{Path: path, Merged: nil}
	}

	oursContent := normalizeLineEndings(ours.Content, normalize)
	theirsContent := normalizeLineEndings(theirs.Content, normalize)
	baseContent := normalizeLineEndings(base.Content, normalize)

	if bytes.Equal(oursContent, theirsContent) {
		if ours.Executable != theirs.Executable {
			return Result{Path: path, Conflict: &Conflict{Path: path, Kind: KindProperty, Base: baseContent, Ours: oursContent, Theirs: theirsContent}}
		}
		// Tie-break: identical content on both sides, apply once.
		return Result{Path: path, Merged: oursContent}
	}

	if ours.IsBinary || theirs.IsBinary {
		return Result{Path: path, Conflict: &Conflict{Path: path, Kind: KindBinary, Base: baseContent, Ours: oursContent, Theirs: theirsContent}}
	}

	if !autoMerge {
		return Result{Path: path, Conflict: &Conflict{Path: path, Kind: KindContent, Base: baseContent, Ours: oursContent, Theirs: theirsContent}}
	}

	merged, ok := ThreeWayMerge(string(baseContent), string(oursContent), string(theirsContent))
	if !ok {
		return Result{Path: path, Conflict: &Conflict{Path: path, Kind: KindContent, Base: baseContent, Ours: oursContent, Theirs: theirsContent}}
	}
	return Result{Path: path, Merged: []byte(merged)}
}

// ThreeWayMerge attempts to apply theirs' edits (relative to base) onto ours using patch
// application, then ours' edits onto the result of patching base with theirs — succeeding only if
// both directions apply cleanly, which holds exactly when the edits don't overlap. This mirrors
// the patch-based merge technique used elsewhere in the retrieved example pack (a file-version
// manager built on the same diffmatchpatch package).
func ThreeWayMerge(base, ours, theirs string) (merged string, ok bool) {
	dmp := diffmatchpatch.New()

	theirPatches := dmp.PatchMake(base, theirs)
	mergedOnceText, appliedOnOurs := dmp.PatchApply(theirPatches, ours)
	if !allApplied(appliedOnOurs) {
		return "", false
	}

	ourPatches := dmp.PatchMake(base, ours)
	mergedTwiceText, appliedOnTheirs := dmp.PatchApply(ourPatches, theirs)
	if !allApplied(appliedOnTheirs) {
		return "", false
	}

	if mergedOnceText != mergedTwiceText {
		return "", false
	}
	return mergedOnceText, true
}

func allApplied(results []bool) bool {
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// State is a conflict record's position in the resolution state machine.
type State string

const (
	StateDetected State = "detected"
	StateQueued   State = "queued"
	StateDeferred State = "deferred"
	StateResolved State = "resolved"
)

// Strategy selects how a queued conflict is resolved.
type Strategy string

const (
	StrategyAcceptSvn     Strategy = "accept-svn"
	StrategyAcceptGit     Strategy = "accept-git"
	StrategyAcceptMerged  Strategy = "accept-merged"
	StrategyManualContent Strategy = "manual-content"
)

// ErrAlreadyResolved is returned when attempting to resolve a conflict record already in
// StateResolved.
var ErrAlreadyResolved = errors.New("conflict: already resolved")

// ErrInvalidTransition is returned for any state transition not permitted by the resolution
// lifecycle (detected -> queued -> resolved, with an optional deferred detour).
var ErrInvalidTransition = errors.New("conflict: invalid state transition")

// Record tracks one conflict through its resolution lifecycle.
type Record struct {
	Conflict Conflict
	State    State
	Strategy Strategy
	Resolved []byte // operator-supplied or auto-merged content, set on transition to StateResolved
}

// Enqueue transitions a freshly Detected record to Queued.
func (r *Record) Enqueue() error {
	if r.State != StateDetected {
		return ErrInvalidTransition
	}
	r.State = StateQueued
	return nil
}

// Defer transitions a Queued record to Deferred.
func (r *Record) Defer() error {
	if r.State != StateQueued {
		return ErrInvalidTransition
	}
	r.State = StateDeferred
	return nil
}

// Resolve applies strategy to a Queued or Deferred record, transitioning it to Resolved.
// manualContent is only consulted when strategy is StrategyManualContent; mergedContent only
// when strategy is StrategyAcceptMerged.
func (r *Record) Resolve(strategy Strategy, manualContent, mergedContent []byte) error {
	if r.State == StateResolved {
		return ErrAlreadyResolved
	}
	if r.State != StateQueued && r.State != StateDeferred {
		return ErrInvalidTransition
	}

	switch strategy {
	case StrategyAcceptSvn:
		r.Resolved = r.Conflict.Ours
	case StrategyAcceptGit:
		r.Resolved = r.Conflict.Theirs
	case StrategyAcceptMerged:
		r.Resolved = mergedContent
	case StrategyManualContent:
		r.Resolved = manualContent
	default:
		return errors.New("conflict: unknown resolution strategy " + string(strategy))
	}

	r.Strategy = strategy
	r.State = StateResolved
	return nil
}

// IsTextLike is a cheap binary-content heuristic: a NUL byte anywhere in the first 8000 bytes
// marks content as binary, matching the convention Git itself uses for .gitattributes-less
// binary detection.
func IsTextLike(content []byte) bool {
	limit := len(content)
	if limit > 8000 {
		limit = 8000
	}
	return !bytes.Contains(content[:limit], []byte{0})
}

// SplitLines is a small helper for callers building FileChange values from raw file content when
// they need to reason about line counts (e.g. audit logging of merge size).
func SplitLines(content []byte) []string {
	return strings.Split(string(content), "\n")
}
