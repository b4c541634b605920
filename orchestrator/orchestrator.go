// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package orchestrator runs the sync cycle state machine that alternates between the SVN→Git and
// Git→SVN appliers, persisting its state at every transition so a crash can resume cleanly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/microsoft/gitsvnsync/applier"
	"github.com/microsoft/gitsvnsync/internal/store"
	"github.com/microsoft/gitsvnsync/notify"
)

// State is the orchestrator's current position in the sync-cycle state machine.
type State string

const (
	StateIdle               State = "Idle"
	StatePollingSvn         State = "PollingSvn"
	StateApplyingSvnToGit   State = "ApplyingSvnToGit"
	StatePollingGitPrs      State = "PollingGitPrs"
	StateApplyingGitToSvn   State = "ApplyingGitToSvn"
	StateError              State = "Error"
	StateConflictDetected   State = "ConflictDetected"
	StateShutdown           State = "Shutdown"
)

// cycleRunner is satisfied by *applier.SvnToGitApplier and *applier.GitToSvnApplier. Abstracting
// over it lets tests supply a fake without talking to a real SVN server, Git remote, or GitHub
// API.
type cycleRunner interface {
	Run(ctx context.Context) (*applier.CycleResult, error)
}

// conflictApplier is satisfied by *applier.ConflictResolver; abstracted for the same reason as
// cycleRunner.
type conflictApplier interface {
	ApplyResolved(ctx context.Context) (int, error)
}

// Orchestrator drives one Config's worth of sync cycles.
type Orchestrator struct {
	SvnToGit         cycleRunner
	GitToSvn         cycleRunner
	ConflictResolver conflictApplier // optional; if nil, resolved conflicts are never replayed
	Store            *store.Store

	// Metrics and Notifier are optional; either may be left nil.
	Metrics  *notify.Metrics
	Notifier *notify.Notifier

	PollInterval time.Duration
	Logger       *log.Logger

	state State
}

// Recover loads the last snapshotted state for diagnostic purposes and resets the in-memory state
// to Idle. The idempotency checks inside each applier (svn-rev and PR-merge dedup) guarantee that
// any half-committed work from a previous run either completes or safely retries, so recovery
// never needs to replay or roll back a partial cycle explicitly.
func (o *Orchestrator) Recover(ctx context.Context) error {
	last, err := o.Store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load last orchestrator state: %w", err)
	}
	if last != "" {
		o.logf("recovering from state %q; resuming at %q", last, StateIdle)
	}
	return o.transition(ctx, StateIdle)
}

// Serve runs cycles on PollInterval until ctx is cancelled. Cancellation is honored only at
// transition boundaries: an in-flight step always completes and its bookkeeping is written before
// the orchestrator stops.
func (o *Orchestrator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()

	for {
		if err := o.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logf("cycle error: %v", err)
		}
		select {
		case <-ctx.Done():
			return o.transition(context.Background(), StateShutdown)
		case <-ticker.C:
		}
	}
}

// RunCycle executes exactly one sync cycle: poll and apply SVN→Git, then poll and apply Git→SVN.
// A failure in the first phase does not prevent the second phase from running; each phase's error
// (if any) is recorded and returned wrapped, but both are always attempted.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	var errs []error

	if err := o.applyResolvedConflicts(ctx); err != nil {
		errs = append(errs, fmt.Errorf("apply resolved conflicts: %w", err))
	}

	if err := o.transition(ctx, StatePollingSvn); err != nil {
		return err
	}
	if err := o.runSvnToGit(ctx); err != nil {
		errs = append(errs, fmt.Errorf("svn to git phase: %w", err))
	}
	if err := o.CheckConflicts(ctx); err != nil {
		errs = append(errs, fmt.Errorf("check conflicts: %w", err))
	}

	if err := o.transition(ctx, StatePollingGitPrs); err != nil {
		return err
	}
	if err := o.runGitToSvn(ctx); err != nil {
		errs = append(errs, fmt.Errorf("git to svn phase: %w", err))
	}

	if len(errs) > 0 {
		if err := o.transition(ctx, StateError); err != nil {
			return err
		}
		o.trackEvent(notify.Event{Action: "cycle_error", Detail: errors.Join(errs...).Error()})
		return errors.Join(errs...)
	}

	return o.transition(ctx, StateIdle)
}

func (o *Orchestrator) runSvnToGit(ctx context.Context) error {
	start := time.Now()
	result, err := o.SvnToGit.Run(ctx)
	o.observeCycle("svn_to_git", start, err)
	if err != nil {
		return err
	}
	if err := o.transition(ctx, StateApplyingSvnToGit); err != nil {
		return err
	}
	if o.Metrics != nil && result != nil {
		o.Metrics.RevisionsApplied.WithLabelValues("svn_to_git").Add(float64(result.RevisionsApplied))
	}
	return nil
}

func (o *Orchestrator) runGitToSvn(ctx context.Context) error {
	start := time.Now()
	result, err := o.GitToSvn.Run(ctx)
	o.observeCycle("git_to_svn", start, err)
	if err != nil {
		return err
	}
	if err := o.transition(ctx, StateApplyingGitToSvn); err != nil {
		return err
	}
	if o.Metrics != nil && result != nil {
		o.Metrics.RevisionsApplied.WithLabelValues("git_to_svn").Add(float64(result.RevisionsApplied))
	}
	return nil
}

// CheckConflicts surfaces newly queued conflicts as a ConflictDetected transition. A detected
// conflict pauses only the affected file: it is recorded and notified, but the cycle continues
// normally — RunCycle does not stop or retry because of it.
func (o *Orchestrator) CheckConflicts(ctx context.Context) error {
	rows, err := o.Store.ListConflicts(ctx, store.ConflictStatusDetected)
	if err != nil {
		return fmt.Errorf("list detected conflicts: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := o.transition(ctx, StateConflictDetected); err != nil {
		return err
	}
	for _, row := range rows {
		o.trackEvent(notify.Event{Action: "conflict_detected", Detail: row.Path, SvnRev: row.SvnRev, GitSHA: row.GitSHA})
		if o.Metrics != nil {
			o.Metrics.ConflictsQueued.Inc()
		}
	}
	return nil
}

// applyResolvedConflicts replays every conflict an operator has resolved since the last cycle
// into both repositories. It runs before polling so a conflict resolved between cycles is written
// back on the very next RunCycle, matching the resolution lifecycle's "next cycle" guarantee.
func (o *Orchestrator) applyResolvedConflicts(ctx context.Context) error {
	if o.ConflictResolver == nil {
		return nil
	}
	applied, err := o.ConflictResolver.ApplyResolved(ctx)
	if err != nil {
		return err
	}
	if applied > 0 {
		o.logf("applied %d resolved conflict(s) to both repositories", applied)
	}
	return nil
}

func (o *Orchestrator) observeCycle(phase string, start time.Time, err error) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.CycleDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	o.Metrics.CycleTotal.WithLabelValues(result).Inc()
	if phase == "git_to_svn" {
		success := float64(0)
		if err == nil {
			success = 1
		}
		o.Metrics.LastCycleSuccess.Set(success)
	}
}

func (o *Orchestrator) transition(ctx context.Context, next State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.state = next
	if err := o.Store.SnapshotState(ctx, string(next)); err != nil {
		return fmt.Errorf("snapshot state %q: %w", next, err)
	}
	return nil
}

func (o *Orchestrator) trackEvent(e notify.Event) {
	if o.Notifier != nil {
		o.Notifier.TrackEvent(e)
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

// CurrentState returns the orchestrator's last-transitioned-to state.
func (o *Orchestrator) CurrentState() State {
	return o.state
}
