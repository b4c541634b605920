// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/microsoft/gitsvnsync/applier"
	"github.com/microsoft/gitsvnsync/internal/store"
	"github.com/microsoft/gitsvnsync/notify"
)

type fakeRunner struct {
	result *applier.CycleResult
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context) (*applier.CycleResult, error) {
	f.calls++
	return f.result, f.err
}

func testOrchestrator(t *testing.T, svnToGit, gitToSvn cycleRunner) (*Orchestrator, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &Orchestrator{
		SvnToGit: svnToGit,
		GitToSvn: gitToSvn,
		Store:    s,
	}, s
}

func TestRunCycleSuccessEndsAtIdle(t *testing.T) {
	o, s := testOrchestrator(t, &fakeRunner{result: &applier.CycleResult{}}, &fakeRunner{result: &applier.CycleResult{}})
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() = %v", err)
	}
	if o.CurrentState() != StateIdle {
		t.Errorf("CurrentState() = %v, want %v", o.CurrentState(), StateIdle)
	}
	state, err := s.LoadState(context.Background())
	if err != nil {
		t.Fatalf("LoadState() = %v", err)
	}
	if state != string(StateIdle) {
		t.Errorf("persisted state = %q, want %q", state, StateIdle)
	}
}

func TestRunCycleRunsSecondPhaseAfterFirstPhaseFailure(t *testing.T) {
	svnToGit := &fakeRunner{err: errors.New("svn unreachable")}
	gitToSvn := &fakeRunner{result: &applier.CycleResult{}}
	o, _ := testOrchestrator(t, svnToGit, gitToSvn)

	err := o.RunCycle(context.Background())
	if err == nil {
		t.Fatal("RunCycle() = nil error, want wrapped phase error")
	}
	if gitToSvn.calls != 1 {
		t.Errorf("git to svn phase calls = %d, want 1 (must run even though svn to git failed)", gitToSvn.calls)
	}
	if o.CurrentState() != StateError {
		t.Errorf("CurrentState() = %v, want %v", o.CurrentState(), StateError)
	}
}

func TestRunCycleBothPhasesFail(t *testing.T) {
	o, _ := testOrchestrator(t,
		&fakeRunner{err: errors.New("svn down")},
		&fakeRunner{err: errors.New("github down")},
	)
	err := o.RunCycle(context.Background())
	if err == nil {
		t.Fatal("RunCycle() = nil error, want joined error")
	}
	if !strings.Contains(err.Error(), "svn down") || !strings.Contains(err.Error(), "github down") {
		t.Errorf("RunCycle() error = %q, want both phase errors present", err.Error())
	}
}

func TestRunCycleHonorsCancellationAtBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, _ := testOrchestrator(t, &fakeRunner{result: &applier.CycleResult{}}, &fakeRunner{result: &applier.CycleResult{}})

	err := o.RunCycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunCycle() with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestRecoverResumesAtIdle(t *testing.T) {
	o, s := testOrchestrator(t, &fakeRunner{}, &fakeRunner{})
	if err := s.SnapshotState(context.Background(), string(StateApplyingGitToSvn)); err != nil {
		t.Fatalf("SnapshotState() = %v", err)
	}
	if err := o.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() = %v", err)
	}
	if o.CurrentState() != StateIdle {
		t.Errorf("CurrentState() after Recover() = %v, want %v", o.CurrentState(), StateIdle)
	}
}

func TestCheckConflictsTransitionsToConflictDetected(t *testing.T) {
	o, s := testOrchestrator(t, &fakeRunner{}, &fakeRunner{})
	ctx := context.Background()
	err := s.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.EnqueueConflict(ctx, store.ConflictRow{Path: "a.txt", Kind: "content", Status: store.ConflictStatusDetected})
		return err
	})
	if err != nil {
		t.Fatalf("EnqueueConflict() = %v", err)
	}

	if err := o.CheckConflicts(ctx); err != nil {
		t.Fatalf("CheckConflicts() = %v", err)
	}
	if o.CurrentState() != StateConflictDetected {
		t.Errorf("CurrentState() = %v, want %v", o.CurrentState(), StateConflictDetected)
	}
}

type conflictEventSink struct {
	sawConflict bool
}

func (c *conflictEventSink) Deliver(ctx context.Context, e notify.Event) error {
	if e.Action == "conflict_detected" {
		c.sawConflict = true
	}
	return nil
}

func TestRunCycleDetectsConflictsQueuedDuringSvnToGitPhase(t *testing.T) {
	svnToGit := &fakeRunner{result: &applier.CycleResult{}}
	gitToSvn := &fakeRunner{result: &applier.CycleResult{}}
	o, s := testOrchestrator(t, svnToGit, gitToSvn)
	ctx := context.Background()
	sink := &conflictEventSink{}
	o.Notifier = notify.Start(notify.Config{Sink: sink})

	err := s.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.EnqueueConflict(ctx, store.ConflictRow{Path: "a.txt", Kind: "content", Status: store.ConflictStatusDetected})
		return err
	})
	if err != nil {
		t.Fatalf("EnqueueConflict() = %v", err)
	}

	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() = %v", err)
	}
	// RunCycle ends at StateIdle once both phases finish successfully, and the persisted state only
	// keeps the latest transition, so the intervening conflict check is observed through the
	// conflict_detected event it delivers. Close drains the queue before the sink is read.
	if err := o.Notifier.Close(ctx); err != nil {
		t.Fatalf("Notifier.Close() = %v", err)
	}
	if !sink.sawConflict {
		t.Error("no conflict_detected event delivered during RunCycle")
	}
	// CheckConflicts never mutates conflict rows, only notifies: the row is still detected.
	rows, err := s.ListConflicts(ctx, store.ConflictStatusDetected)
	if err != nil {
		t.Fatalf("ListConflicts() = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("ListConflicts(detected) = %d rows, want 1", len(rows))
	}
	if o.CurrentState() != StateIdle {
		t.Errorf("CurrentState() = %v, want %v", o.CurrentState(), StateIdle)
	}
}

type fakeConflictApplier struct {
	applied int
	err     error
	calls   int
}

func (f *fakeConflictApplier) ApplyResolved(ctx context.Context) (int, error) {
	f.calls++
	return f.applied, f.err
}

func TestRunCycleAppliesResolvedConflictsBeforePolling(t *testing.T) {
	o, _ := testOrchestrator(t, &fakeRunner{result: &applier.CycleResult{}}, &fakeRunner{result: &applier.CycleResult{}})
	resolver := &fakeConflictApplier{applied: 2}
	o.ConflictResolver = resolver

	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() = %v", err)
	}
	if resolver.calls != 1 {
		t.Errorf("ApplyResolved() calls = %d, want 1", resolver.calls)
	}
}

func TestRunCycleSurfacesConflictApplyFailureButStillRunsPhases(t *testing.T) {
	svnToGit := &fakeRunner{result: &applier.CycleResult{}}
	gitToSvn := &fakeRunner{result: &applier.CycleResult{}}
	o, _ := testOrchestrator(t, svnToGit, gitToSvn)
	o.ConflictResolver = &fakeConflictApplier{err: errors.New("svn wc locked")}

	err := o.RunCycle(context.Background())
	if err == nil {
		t.Fatal("RunCycle() = nil error, want wrapped conflict-apply error")
	}
	if !strings.Contains(err.Error(), "svn wc locked") {
		t.Errorf("RunCycle() error = %q, want conflict-apply error present", err.Error())
	}
	if svnToGit.calls != 1 || gitToSvn.calls != 1 {
		t.Errorf("phase calls = (%d, %d), want (1, 1): a conflict-apply failure must not skip the regular phases", svnToGit.calls, gitToSvn.calls)
	}
}

func TestServeStopsOnContextCancelAndSnapshotsShutdown(t *testing.T) {
	o, s := testOrchestrator(t, &fakeRunner{result: &applier.CycleResult{}}, &fakeRunner{result: &applier.CycleResult{}})
	o.PollInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := o.Serve(ctx); err != nil {
		t.Fatalf("Serve() = %v", err)
	}
	state, err := s.LoadState(context.Background())
	if err != nil {
		t.Fatalf("LoadState() = %v", err)
	}
	if state != string(StateShutdown) {
		t.Errorf("persisted state after Serve() returns = %q, want %q", state, StateShutdown)
	}
}

