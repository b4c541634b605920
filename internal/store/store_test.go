// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"context"
	"errors"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var version int
	if err := s.conn.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}
}

func TestWatermarkRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, found, err := s.GetWatermark(ctx, WatermarkSvnLastRev); err != nil || found {
		t.Fatalf("GetWatermark() on empty store = %v, %v, want not found", found, err)
	}

	if err := s.PutWatermark(ctx, WatermarkSvnLastRev, "42"); err != nil {
		t.Fatalf("PutWatermark() = %v", err)
	}
	value, found, err := s.GetWatermark(ctx, WatermarkSvnLastRev)
	if err != nil || !found || value != "42" {
		t.Fatalf("GetWatermark() = %q, %v, %v, want 42, true, nil", value, found, err)
	}

	if err := s.PutWatermark(ctx, WatermarkSvnLastRev, "43"); err != nil {
		t.Fatalf("PutWatermark() overwrite = %v", err)
	}
	value, _, _ = s.GetWatermark(ctx, WatermarkSvnLastRev)
	if value != "43" {
		t.Errorf("GetWatermark() after overwrite = %q, want 43", value)
	}
}

func TestTransactionAtomicWatermarkAndCommitMap(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(tx *Tx) error {
		if err := tx.PutWatermark(ctx, WatermarkSvnLastRev, "10"); err != nil {
			return err
		}
		return tx.RecordCommitMap(ctx, DirectionSvnToGit, 10, "deadbeef", "alice", "Alice Smith")
	})
	if err != nil {
		t.Fatalf("Transaction() = %v", err)
	}

	value, found, _ := s.GetWatermark(ctx, WatermarkSvnLastRev)
	if !found || value != "10" {
		t.Fatalf("GetWatermark() = %q, %v, want 10, true", value, found)
	}
	synced, err := s.IsSvnRevSynced(ctx, 10)
	if err != nil || !synced {
		t.Fatalf("IsSvnRevSynced(10) = %v, %v, want true, nil", synced, err)
	}
}

func TestTransactionRollbackOnError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	sentinel := errors.New("boom")

	err := s.Transaction(ctx, func(tx *Tx) error {
		if err := tx.PutWatermark(ctx, WatermarkSvnLastRev, "99"); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Transaction() = %v, want sentinel", err)
	}

	if _, found, _ := s.GetWatermark(ctx, WatermarkSvnLastRev); found {
		t.Fatal("watermark persisted despite rolled-back transaction")
	}
}

func TestIsSvnRevSyncedUnknownRev(t *testing.T) {
	s := testStore(t)
	synced, err := s.IsSvnRevSynced(context.Background(), 999)
	if err != nil || synced {
		t.Fatalf("IsSvnRevSynced(999) = %v, %v, want false, nil", synced, err)
	}
}

func TestPrLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var id int64
	err := s.Transaction(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.BeginPr(ctx, 7, "Add feature", "feature/y", "abc123", "squash")
		return err
	})
	if err != nil {
		t.Fatalf("BeginPr() = %v", err)
	}

	synced, err := s.IsPrMergeSynced(ctx, "abc123")
	if err != nil || synced {
		t.Fatalf("IsPrMergeSynced() before complete = %v, %v, want false", synced, err)
	}

	err = s.Transaction(ctx, func(tx *Tx) error {
		return tx.CompletePr(ctx, id, 10, 12, 3)
	})
	if err != nil {
		t.Fatalf("CompletePr() = %v", err)
	}

	synced, err = s.IsPrMergeSynced(ctx, "abc123")
	if err != nil || !synced {
		t.Fatalf("IsPrMergeSynced() after complete = %v, %v, want true", synced, err)
	}
}

func TestPrDuplicateMergeShaRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.BeginPr(ctx, 1, "first", "b1", "dupe", "merge")
		return err
	})
	if err != nil {
		t.Fatalf("first BeginPr() = %v", err)
	}

	err = s.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.BeginPr(ctx, 2, "second", "b2", "dupe", "merge")
		return err
	})
	if err == nil {
		t.Fatal("second BeginPr() with duplicate merge_sha = nil error, want unique constraint failure")
	}
}

func TestConflictLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var id int64
	err := s.Transaction(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.EnqueueConflict(ctx, ConflictRow{
			Path: "src/main.go", Kind: "content", Status: ConflictStatusQueued,
		})
		return err
	})
	if err != nil {
		t.Fatalf("EnqueueConflict() = %v", err)
	}

	rows, err := s.ListConflicts(ctx, ConflictStatusQueued)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListConflicts(queued) = %v rows, %v, want 1 row", len(rows), err)
	}

	err = s.Transaction(ctx, func(tx *Tx) error {
		return tx.ResolveConflict(ctx, id, "accept-git", "operator1", nil)
	})
	if err != nil {
		t.Fatalf("ResolveConflict() = %v", err)
	}

	rows, err = s.ListConflicts(ctx, ConflictStatusResolved)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListConflicts(resolved) = %v rows, %v, want 1 row", len(rows), err)
	}

	err = s.Transaction(ctx, func(tx *Tx) error {
		return tx.ResolveConflict(ctx, id, "accept-svn", "operator2", nil)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second ResolveConflict() = %v, want ErrNotFound (double-resolution rejected)", err)
	}

	unapplied, err := s.ListResolvedUnapplied(ctx)
	if err != nil || len(unapplied) != 1 {
		t.Fatalf("ListResolvedUnapplied() = %v rows, %v, want 1 row", len(unapplied), err)
	}

	err = s.Transaction(ctx, func(tx *Tx) error {
		return tx.MarkConflictApplied(ctx, id)
	})
	if err != nil {
		t.Fatalf("MarkConflictApplied() = %v", err)
	}

	unapplied, err = s.ListResolvedUnapplied(ctx)
	if err != nil || len(unapplied) != 0 {
		t.Fatalf("ListResolvedUnapplied() after apply = %v rows, %v, want 0 rows", len(unapplied), err)
	}

	err = s.Transaction(ctx, func(tx *Tx) error {
		return tx.MarkConflictApplied(ctx, id)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second MarkConflictApplied() = %v, want ErrNotFound (already applied)", err)
	}
}

func TestResolveConflictStoresManualContent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var id int64
	err := s.Transaction(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.EnqueueConflict(ctx, ConflictRow{Path: "README.md", Kind: "content", Status: ConflictStatusQueued})
		return err
	})
	if err != nil {
		t.Fatalf("EnqueueConflict() = %v", err)
	}

	err = s.Transaction(ctx, func(tx *Tx) error {
		return tx.ResolveConflict(ctx, id, "manual-content", "operator1", []byte("resolved by hand"))
	})
	if err != nil {
		t.Fatalf("ResolveConflict() = %v", err)
	}

	rows, err := s.ListResolvedUnapplied(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListResolvedUnapplied() = %v rows, %v, want 1 row", len(rows), err)
	}
	if string(rows[0].ManualContent) != "resolved by hand" {
		t.Errorf("ManualContent = %q, want %q", rows[0].ManualContent, "resolved by hand")
	}
}

func TestAuditLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.AppendAudit(ctx, AuditEntry{Action: "echo_skip", Direction: DirectionSvnToGit, SvnRev: 5}); err != nil {
		t.Fatalf("AppendAudit() = %v", err)
	}
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&count); err != nil {
		t.Fatalf("count audit_log: %v", err)
	}
	if count != 1 {
		t.Errorf("audit_log count = %d, want 1", count)
	}
}

func TestLastCommitMapGitSHA(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, found, err := s.LastCommitMapGitSHA(ctx, DirectionSvnToGit); err != nil || found {
		t.Fatalf("LastCommitMapGitSHA() on empty store = %v, %v, want not found", found, err)
	}

	err := s.Transaction(ctx, func(tx *Tx) error {
		return tx.RecordCommitMap(ctx, DirectionSvnToGit, 10, "sha-10", "alice", "Alice Smith")
	})
	if err != nil {
		t.Fatalf("RecordCommitMap() = %v", err)
	}
	err = s.Transaction(ctx, func(tx *Tx) error {
		return tx.RecordCommitMap(ctx, DirectionSvnToGit, 11, "sha-11", "alice", "Alice Smith")
	})
	if err != nil {
		t.Fatalf("RecordCommitMap() = %v", err)
	}

	sha, found, err := s.LastCommitMapGitSHA(ctx, DirectionSvnToGit)
	if err != nil || !found || sha != "sha-11" {
		t.Fatalf("LastCommitMapGitSHA() = %q, %v, %v, want sha-11, true, nil", sha, found, err)
	}

	if _, found, err := s.LastCommitMapGitSHA(ctx, DirectionGitToSvn); err != nil || found {
		t.Fatalf("LastCommitMapGitSHA(git_to_svn) = %v, %v, want not found", found, err)
	}
}

func TestHeldPaths(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	held, err := s.HeldPaths(ctx)
	if err != nil || len(held) != 0 {
		t.Fatalf("HeldPaths() on empty store = %v, %v, want empty", held, err)
	}

	var id int64
	err = s.Transaction(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.EnqueueConflict(ctx, ConflictRow{Path: "a.txt", Kind: "content", Status: ConflictStatusDetected})
		return err
	})
	if err != nil {
		t.Fatalf("EnqueueConflict() = %v", err)
	}

	held, err = s.HeldPaths(ctx)
	if err != nil || !held["a.txt"] {
		t.Fatalf("HeldPaths() = %v, %v, want a.txt held", held, err)
	}

	if err := s.Transaction(ctx, func(tx *Tx) error {
		return tx.ResolveConflict(ctx, id, "accept-git", "operator1", nil)
	}); err != nil {
		t.Fatalf("ResolveConflict() = %v", err)
	}
	held, err = s.HeldPaths(ctx)
	if err != nil || !held["a.txt"] {
		t.Fatalf("HeldPaths() after resolve (unapplied) = %v, %v, want still held", held, err)
	}

	if err := s.Transaction(ctx, func(tx *Tx) error {
		return tx.MarkConflictApplied(ctx, id)
	}); err != nil {
		t.Fatalf("MarkConflictApplied() = %v", err)
	}
	held, err = s.HeldPaths(ctx)
	if err != nil || len(held) != 0 {
		t.Fatalf("HeldPaths() after apply = %v, %v, want empty", held, err)
	}
}

func TestSyncStateSnapshot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	state, err := s.LoadState(ctx)
	if err != nil || state != "" {
		t.Fatalf("LoadState() before any snapshot = %q, %v, want empty", state, err)
	}

	if err := s.SnapshotState(ctx, "PollingSvn"); err != nil {
		t.Fatalf("SnapshotState() = %v", err)
	}
	state, err = s.LoadState(ctx)
	if err != nil || state != "PollingSvn" {
		t.Fatalf("LoadState() = %q, %v, want PollingSvn", state, err)
	}

	if err := s.SnapshotState(ctx, "ApplyingSvnToGit"); err != nil {
		t.Fatalf("SnapshotState() overwrite = %v", err)
	}
	state, _ = s.LoadState(ctx)
	if state != "ApplyingSvnToGit" {
		t.Errorf("LoadState() after overwrite = %q, want ApplyingSvnToGit", state)
	}
}
