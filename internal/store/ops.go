// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookup operations that find no matching row.
var ErrNotFound = errors.New("store: not found")

// --- watermarks ---

func putWatermark(ctx context.Context, q querier, source, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO watermarks (source, value) VALUES (?, ?)
		 ON CONFLICT(source) DO UPDATE SET value = excluded.value`,
		source, value)
	if err != nil {
		return fmt.Errorf("put watermark %s: %w", source, err)
	}
	return nil
}

func getWatermark(ctx context.Context, q querier, source string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM watermarks WHERE source = ?`, source).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get watermark %s: %w", source, err)
	}
	return value, true, nil
}

// PutWatermark sets the durable value for source. Call it on a Tx
// alongside RecordCommitMap so both land in the same atomic unit.
func (t *Tx) PutWatermark(ctx context.Context, source, value string) error {
	return putWatermark(ctx, t.q, source, value)
}

// PutWatermark is the unscoped convenience form, for callers outside a Transaction (e.g. the CLI's
// watermark-reset command).
func (s *Store) PutWatermark(ctx context.Context, source, value string) error {
	return putWatermark(ctx, s.conn, source, value)
}

// GetWatermark returns the durable value for source; found is false if no row exists yet.
func (t *Tx) GetWatermark(ctx context.Context, source string) (value string, found bool, err error) {
	return getWatermark(ctx, t.q, source)
}

func (s *Store) GetWatermark(ctx context.Context, source string) (value string, found bool, err error) {
	return getWatermark(ctx, s.conn, source)
}

// --- commit map ---

// CommitMapEntry is one row of the commit map.
type CommitMapEntry struct {
	ID        int64
	Direction Direction
	SvnRev    uint64
	GitSHA    string
	SvnAuthor string
	GitAuthor string
	SyncedAt  string
}

func recordCommitMap(ctx context.Context, q querier, direction Direction, svnRev uint64, gitSHA, svnAuthor, gitAuthor string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO commit_map (direction, svn_rev, git_sha, svn_author, git_author) VALUES (?, ?, ?, ?, ?)`,
		string(direction), svnRev, gitSHA, svnAuthor, gitAuthor)
	if err != nil {
		return fmt.Errorf("record commit map direction=%s svn_rev=%d: %w", direction, svnRev, err)
	}
	return nil
}

// RecordCommitMap inserts a commit-map row. This must be called
// in the same transaction as the corresponding PutWatermark call.
func (t *Tx) RecordCommitMap(ctx context.Context, direction Direction, svnRev uint64, gitSHA, svnAuthor, gitAuthor string) error {
	return recordCommitMap(ctx, t.q, direction, svnRev, gitSHA, svnAuthor, gitAuthor)
}

// LastCommitMapGitSHA returns the git_sha of the most recent commit-map row for direction, the
// last Git state both sides agreed on before whatever is being classified against it. found is
// false if direction has no commit-map row yet.
func (s *Store) LastCommitMapGitSHA(ctx context.Context, direction Direction) (gitSHA string, found bool, err error) {
	err = s.conn.QueryRowContext(ctx,
		`SELECT git_sha FROM commit_map WHERE direction = ? ORDER BY id DESC LIMIT 1`,
		string(direction)).Scan(&gitSHA)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("last commit map git sha direction=%s: %w", direction, err)
	}
	return gitSHA, true, nil
}

func isSvnRevSynced(ctx context.Context, q querier, rev uint64) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commit_map WHERE direction = ? AND svn_rev = ?`,
		string(DirectionSvnToGit), rev).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("is svn rev synced %d: %w", rev, err)
	}
	return count > 0, nil
}

// IsSvnRevSynced reports whether rev already has an svn→git commit-map row. This is the
// idempotency check the SVN→Git applier runs before replaying a revision.
func (t *Tx) IsSvnRevSynced(ctx context.Context, rev uint64) (bool, error) {
	return isSvnRevSynced(ctx, t.q, rev)
}

func (s *Store) IsSvnRevSynced(ctx context.Context, rev uint64) (bool, error) {
	return isSvnRevSynced(ctx, s.conn, rev)
}

func isPrMergeSynced(ctx context.Context, q querier, mergeSHA string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pr_log WHERE merge_sha = ? AND status = ?`,
		mergeSHA, string(PrStatusCompleted)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("is pr merge synced %s: %w", mergeSHA, err)
	}
	return count > 0, nil
}

// IsPrMergeSynced reports whether mergeSHA already has a completed PR-log row: at most one
// completed row may ever exist per merge SHA.
func (t *Tx) IsPrMergeSynced(ctx context.Context, mergeSHA string) (bool, error) {
	return isPrMergeSynced(ctx, t.q, mergeSHA)
}

func (s *Store) IsPrMergeSynced(ctx context.Context, mergeSHA string) (bool, error) {
	return isPrMergeSynced(ctx, s.conn, mergeSHA)
}

// --- PR log ---

// PrLogEntry is one row of the PR sync log.
type PrLogEntry struct {
	ID           int64
	PRNumber     int
	Title        string
	SourceBranch string
	MergeSHA     string
	Strategy     string
	FirstSvnRev  uint64
	LastSvnRev   uint64
	CommitCount  int
	Status       PrStatus
	ErrorMessage string
	DetectedAt   string
	CompletedAt  string
}

// BeginPr inserts a pending PR-log row and returns its id. The unique
// index on merge_sha means a second BeginPr for an already-observed merge commit fails instead of
// duplicating, which callers should treat as "already being processed".
func (t *Tx) BeginPr(ctx context.Context, prNumber int, title, sourceBranch, mergeSHA, strategy string) (int64, error) {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO pr_log (pr_number, title, source_branch, merge_sha, strategy, status) VALUES (?, ?, ?, ?, ?, ?)`,
		prNumber, title, sourceBranch, mergeSHA, strategy, string(PrStatusPending))
	if err != nil {
		return 0, fmt.Errorf("begin pr %s: %w", mergeSHA, err)
	}
	return res.LastInsertId()
}

// CompletePr marks a pending PR-log row completed, recording the SVN revision range it produced.
func (t *Tx) CompletePr(ctx context.Context, id int64, firstSvnRev, lastSvnRev uint64, commitCount int) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE pr_log SET status = ?, first_svn_rev = ?, last_svn_rev = ?, commit_count = ?, completed_at = datetime('now') WHERE id = ?`,
		string(PrStatusCompleted), firstSvnRev, lastSvnRev, commitCount, id)
	if err != nil {
		return fmt.Errorf("complete pr id=%d: %w", id, err)
	}
	return nil
}

// FailPr marks a pending PR-log row failed with errMsg.
func (t *Tx) FailPr(ctx context.Context, id int64, errMsg string) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE pr_log SET status = ?, error_message = ? WHERE id = ?`,
		string(PrStatusFailed), errMsg, id)
	if err != nil {
		return fmt.Errorf("fail pr id=%d: %w", id, err)
	}
	return nil
}

// --- conflicts ---

// ConflictRow is one row of the conflict queue.
type ConflictRow struct {
	ID            int64
	Path          string
	Kind          string
	SvnContent    []byte
	GitContent    []byte
	BaseContent   []byte
	ManualContent []byte
	SvnRev        uint64
	GitSHA        string
	Status        ConflictStatus
	Resolution    string
	Resolver      string
	CreatedAt     string
	ResolvedAt    string
	AppliedAt     string
}

// EnqueueConflict inserts a new conflict record in detected/queued status. Callers pass status
// explicitly since the conflict package's Record already tracks the detected→queued transition
// before persistence.
func (t *Tx) EnqueueConflict(ctx context.Context, row ConflictRow) (int64, error) {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO conflicts (path, kind, svn_content, git_content, base_content, svn_rev, git_sha, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Path, row.Kind, row.SvnContent, row.GitContent, row.BaseContent, row.SvnRev, row.GitSHA, string(row.Status))
	if err != nil {
		return 0, fmt.Errorf("enqueue conflict %s: %w", row.Path, err)
	}
	return res.LastInsertId()
}

const conflictColumns = `id, path, kind, svn_content, git_content, base_content, manual_content,
	svn_rev, git_sha, status, resolution, resolver, created_at, resolved_at, applied_at`

func scanConflictRow(rows *sql.Rows) (ConflictRow, error) {
	var row ConflictRow
	var status string
	var resolution, resolver, resolvedAt, appliedAt sql.NullString
	var svnRev sql.NullInt64
	var gitSHA sql.NullString
	if err := rows.Scan(&row.ID, &row.Path, &row.Kind, &row.SvnContent, &row.GitContent, &row.BaseContent, &row.ManualContent,
		&svnRev, &gitSHA, &status, &resolution, &resolver, &row.CreatedAt, &resolvedAt, &appliedAt); err != nil {
		return ConflictRow{}, fmt.Errorf("scan conflict row: %w", err)
	}
	row.Status = ConflictStatus(status)
	row.Resolution = resolution.String
	row.Resolver = resolver.String
	row.ResolvedAt = resolvedAt.String
	row.AppliedAt = appliedAt.String
	row.SvnRev = uint64(svnRev.Int64)
	row.GitSHA = gitSHA.String
	return row, nil
}

// ListConflicts returns conflict rows matching statusFilter; an
// empty statusFilter returns all conflicts regardless of status.
func (s *Store) ListConflicts(ctx context.Context, statusFilter ConflictStatus) ([]ConflictRow, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts`
	args := []any{}
	if statusFilter != "" {
		query += ` WHERE status = ?`
		args = append(args, string(statusFilter))
	}
	query += ` ORDER BY id`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []ConflictRow
	for rows.Next() {
		row, err := scanConflictRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListResolvedUnapplied returns resolved conflicts whose resolution has not yet been written back
// to the SVN working copy and Git working tree. A conflict lingers here between the call to
// ResolveConflict and the next cycle's replay pass.
func (s *Store) ListResolvedUnapplied(ctx context.Context) ([]ConflictRow, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE status = ? AND applied_at IS NULL ORDER BY id`,
		string(ConflictStatusResolved))
	if err != nil {
		return nil, fmt.Errorf("list resolved unapplied conflicts: %w", err)
	}
	defer rows.Close()

	var out []ConflictRow
	for rows.Next() {
		row, err := scanConflictRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// HeldPaths returns the set of paths with a conflict record not yet applied to both repositories
// (detected, queued, deferred, or resolved-but-unapplied). An applier must not re-apply any of
// these paths until the record is fully applied.
func (s *Store) HeldPaths(ctx context.Context) (map[string]bool, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT DISTINCT path FROM conflicts WHERE applied_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("list held paths: %w", err)
	}
	defer rows.Close()

	held := map[string]bool{}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan held path: %w", err)
		}
		held[path] = true
	}
	return held, rows.Err()
}

// ResolveConflict records the operator's chosen resolution and resolver, moving conflict id to
// resolved. manualContent is stored as given, whatever the resolution; only the manual-content
// resolution strategy makes use of it. Rejects an already-resolved row: a conflict may only be resolved once.
// Resolving does not itself touch either repository; ApplyResolved (called from the next sync
// cycle) writes the resolution back to both sides and marks the row applied.
func (t *Tx) ResolveConflict(ctx context.Context, id int64, resolution, resolver string, manualContent []byte) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE conflicts SET status = ?, resolution = ?, resolver = ?, manual_content = ?, resolved_at = datetime('now')
		 WHERE id = ? AND status != ?`,
		string(ConflictStatusResolved), resolution, resolver, manualContent, id, string(ConflictStatusResolved))
	if err != nil {
		return fmt.Errorf("resolve conflict id=%d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve conflict id=%d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("resolve conflict id=%d: %w (already resolved, or no such conflict)", id, ErrNotFound)
	}
	return nil
}

// MarkConflictApplied records that a resolved conflict's content has been written back to both
// the SVN working copy and the Git working tree, making the record fully terminal.
func (t *Tx) MarkConflictApplied(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE conflicts SET applied_at = datetime('now') WHERE id = ? AND status = ? AND applied_at IS NULL`,
		id, string(ConflictStatusResolved))
	if err != nil {
		return fmt.Errorf("mark conflict id=%d applied: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark conflict id=%d applied: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark conflict id=%d applied: %w (not resolved, or already applied)", id, ErrNotFound)
	}
	return nil
}

// --- audit log ---

// AuditEntry is one write-once audit-log row.
type AuditEntry struct {
	Action    string
	Direction Direction
	SvnRev    uint64
	GitSHA    string
	Author    string
	Detail    string
}

func appendAudit(ctx context.Context, q querier, e AuditEntry) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO audit_log (action, direction, svn_rev, git_sha, author, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Action, string(e.Direction), e.SvnRev, e.GitSHA, e.Author, e.Detail)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", e.Action, err)
	}
	return nil
}

// AppendAudit inserts an audit-log row. Write-once: there is no
// corresponding update operation.
func (t *Tx) AppendAudit(ctx context.Context, e AuditEntry) error {
	return appendAudit(ctx, t.q, e)
}

func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	return appendAudit(ctx, s.conn, e)
}

// --- sync state snapshot ---

// SnapshotState persists the orchestrator's current state name,
// overwriting the single singleton row.
func (s *Store) SnapshotState(ctx context.Context, state string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO sync_state (id, state) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = datetime('now')`,
		state)
	if err != nil {
		return fmt.Errorf("snapshot state: %w", err)
	}
	return nil
}

// LoadState returns the last-persisted orchestrator state name, or "" if none has been snapshot
// yet.
func (s *Store) LoadState(ctx context.Context) (string, error) {
	var state string
	err := s.conn.QueryRowContext(ctx, `SELECT state FROM sync_state WHERE id = 1`).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load state: %w", err)
	}
	return state, nil
}
