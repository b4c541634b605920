// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package identity defines the bidirectional SVN↔Git identity mapper. The core
// treats a Mapper as opaque and pure: whatever I/O a concrete Mapper performs (file, LDAP, a
// static table) is its own concern, not the caller's.
package identity

import "fmt"

// Identity is a Git author/committer identity.
type Identity struct {
	Name  string
	Email string
}

// Mapper maps identities between SVN usernames and Git Name+Email pairs. Implementations must be
// pure and cheap to call from the sync hot path; any I/O a Mapper performs internally (reading a
// mapping file, querying LDAP) should be done once, e.g. at construction, not per call.
type Mapper interface {
	// SvnToGit maps an SVN username to a Git identity. ok is false if no mapping exists.
	SvnToGit(username string) (id Identity, ok bool)
	// GitToSvn maps a Git identity to an SVN username. ok is false if no mapping exists.
	GitToSvn(id Identity) (username string, ok bool)
}

// Table is a static, in-memory Mapper backed by an explicit lookup table. It is the default
// fallback implementation; callers needing LDAP or file-backed mapping provide their own Mapper.
type Table struct {
	svnToGit map[string]Identity
	gitToSvn map[string]string
}

// NewTable builds a Table from svnToGit. The reverse (Git→SVN) lookup is derived automatically,
// keyed by "Name <email>"; if two SVN usernames map to the same Git identity, the last one
// supplied (in map iteration order) wins for the reverse direction — callers who care about this
// should avoid ambiguous mappings.
func NewTable(svnToGit map[string]Identity) *Table {
	t := &Table{
		svnToGit: make(map[string]Identity, len(svnToGit)),
		gitToSvn: make(map[string]string, len(svnToGit)),
	}
	for username, id := range svnToGit {
		t.svnToGit[username] = id
		t.gitToSvn[gitKey(id)] = username
	}
	return t
}

func (t *Table) SvnToGit(username string) (Identity, bool) {
	id, ok := t.svnToGit[username]
	return id, ok
}

func (t *Table) GitToSvn(id Identity) (string, bool) {
	username, ok := t.gitToSvn[gitKey(id)]
	return username, ok
}

func gitKey(id Identity) string {
	return fmt.Sprintf("%s <%s>", id.Name, id.Email)
}

// FallbackDomain generates an Identity for an SVN username that has no table entry: name is the
// username verbatim, email is "username@domain".
func FallbackDomain(username, domain string) Identity {
	return Identity{Name: username, Email: fmt.Sprintf("%s@%s", username, domain)}
}

// Resolve looks up username in m, falling back to FallbackDomain(username, domain) if absent.
// Callers that instead want to surface an unmapped identity as an error should call m.SvnToGit
// directly and handle !ok themselves.
func Resolve(m Mapper, username, domain string) Identity {
	if id, ok := m.SvnToGit(username); ok {
		return id
	}
	return FallbackDomain(username, domain)
}
