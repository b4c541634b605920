// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package filepolicy implements the file-policy filter: for each path+size pair,
// decide whether to include it, skip it, or track it via LFS-style large-file-extension handling.
package filepolicy

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Outcome is the decision filepolicy.Decide returns for one path.
type Outcome int

const (
	// Include means copy the file normally.
	Include Outcome = iota
	// Skip means exclude the file from the tree transfer.
	Skip
	// LfsTrack means include the file, but record its extension for large-file-extension
	// handling.
	LfsTrack
)

func (o Outcome) String() string {
	switch o {
	case Include:
		return "include"
	case Skip:
		return "skip"
	case LfsTrack:
		return "lfs_track"
	default:
		return "unknown"
	}
}

// SkipReason names why a Skip decision was made, for the file-policy-skip audit entry.
type SkipReason string

const (
	ReasonOversize SkipReason = "oversize"
	ReasonIgnore   SkipReason = "ignore"
)

// Decision is the result of evaluating a path+size pair against a Policy.
type Decision struct {
	Outcome    Outcome
	SkipReason SkipReason // set iff Outcome == Skip
	LfsPattern string     // set iff Outcome == LfsTrack
}

// Policy holds the configured decision inputs. A zero Policy
// includes everything.
type Policy struct {
	// MaxFileSize skips files larger than this many bytes. 0 disables the check.
	MaxFileSize int64
	// IgnorePatterns is a doublestar glob list; a match excludes the path entirely.
	IgnorePatterns []string
	// LfsThreshold activates LFS handling for files at or above this size. 0 disables the
	// threshold (LfsPatterns can still activate LFS on their own).
	LfsThreshold int64
	// LfsPatterns is a doublestar glob list; a match alone activates LFS handling regardless of
	// size.
	LfsPatterns []string
}

// Decide evaluates path (forward-slash separated, relative to the tree root) and size against p.
// Determinism: the same (path, size) always yields the same Decision, so evaluating identically
// on both sync directions falls out naturally from this being a pure function of its inputs.
func (p Policy) Decide(path string, size int64) Decision {
	path = filepath.ToSlash(path)

	if matchAny(p.IgnorePatterns, path) {
		return Decision{Outcome: Skip, SkipReason: ReasonIgnore}
	}

	if p.MaxFileSize > 0 && size > p.MaxFileSize {
		return Decision{Outcome: Skip, SkipReason: ReasonOversize}
	}

	if pattern, ok := matchedPattern(p.LfsPatterns, path); ok {
		return Decision{Outcome: LfsTrack, LfsPattern: pattern}
	}
	if p.LfsThreshold > 0 && size >= p.LfsThreshold {
		return Decision{Outcome: LfsTrack, LfsPattern: lfsExtensionPattern(path)}
	}

	return Decision{Outcome: Include}
}

func matchAny(patterns []string, path string) bool {
	_, ok := matchedPattern(patterns, path)
	return ok
}

func matchedPattern(patterns []string, path string) (string, bool) {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return pattern, true
		}
	}
	return "", false
}

// lfsExtensionPattern returns the Git-attributes-style pattern for the extension of path, e.g.
// "*.bin" for "assets/large.bin". Used when a file is routed to LFS by size threshold rather than
// an explicit pattern match, so the Git attributes file can still record an extension rule.
func lfsExtensionPattern(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return path
	}
	return "*" + ext
}

// IsDotEntry reports whether name is a dot-prefixed entry (e.g. ".git", ".svn"). Root-level
// dot-entries are preserved during a tree copy; this helper identifies them by
// name alone, independent of a Policy.
func IsDotEntry(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ".")
}
