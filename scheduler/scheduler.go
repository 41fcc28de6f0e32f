// Package scheduler implements the Group Scheduler (Component E): one
// cooperative loop per target that pulls ready entries from a
// store.Store, hands them to a dispatch.Dispatcher, applies their
// outcomes back to the store, and calls a channel.Promoter once a
// group's entries all complete. It is grounded on the teacher's
// single-loop scheduling shape in
// _examples/distr1-distri/internal/batch/batch.go, generalized from a
// one-shot build to a persistent job-graph consumer.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/habitat-sh/builder-sub000/channel"
	"github.com/habitat-sh/builder-sub000/dispatch"
	"github.com/habitat-sh/builder-sub000/ident"
	"github.com/habitat-sh/builder-sub000/store"
)

// stableChannel is the well-known channel name a JobGroup.RequestedChannel
// must match for a successful group to also be promoted there, per
// spec.md §6's "if the original request targeted stable" rule.
const stableChannel = "stable"

// dedicatedChannel returns the channel every group owns for its own
// lifetime, named bldr-<group id>.
func dedicatedChannel(groupID uuid.UUID) string {
	return fmt.Sprintf("bldr-%s", groupID)
}

// Logger is the minimal structured-logging surface the scheduler needs,
// satisfied by *log.Logger (cmd/buildercore passes its own) or by any
// equivalent adapter.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Scheduler drives one target's job groups to completion.
type Scheduler struct {
	Store      store.Store
	Dispatcher dispatch.Dispatcher
	Promoter   channel.Promoter
	Target     ident.PackageTarget
	BatchSize  int
	PollEvery  time.Duration
	Log        Logger
}

// Run polls Store.TakeReady and dispatches new jobs, and drains
// Dispatcher.Events applying outcomes back to the store, until ctx is
// canceled. It returns ctx.Err() on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.BatchSize <= 0 {
		s.BatchSize = 16
	}
	if s.PollEvery <= 0 {
		s.PollEvery = time.Second
	}

	jobToEntry := make(map[string]uuid.UUID)
	ticker := time.NewTicker(s.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.handleCancellations(ctx); err != nil {
				s.logf("cancellation round failed: %v", err)
			}
			if err := s.dispatchReady(ctx, jobToEntry); err != nil {
				s.logf("dispatch round failed: %v", err)
			}
		case outcome, ok := <-s.Dispatcher.Events():
			if !ok {
				return xerrors.New("scheduler: dispatcher event stream closed")
			}
			if err := s.applyOutcome(ctx, jobToEntry, outcome); err != nil {
				s.logf("applying outcome for job %s: %v", outcome.JobID, err)
			}
		}
	}
}

func (s *Scheduler) dispatchReady(ctx context.Context, jobToEntry map[string]uuid.UUID) error {
	ready, err := s.Store.TakeReady(ctx, s.Target, s.BatchSize)
	if err != nil {
		return xerrors.Errorf("taking ready entries: %w", err)
	}
	for _, e := range ready {
		jobID := e.ID.String()
		jobToEntry[jobID] = e.ID
		job := dispatch.Job{
			JobID:     jobID,
			GroupID:   e.GroupID.String(),
			Ident:     e.Ident,
			Target:    s.Target,
			Iteration: e.Iteration,
		}
		if err := s.Dispatcher.Dispatch(ctx, job); err != nil {
			return xerrors.Errorf("dispatching %s: %w", e.Ident, err)
		}
	}
	return nil
}

// handleCancellations advances every GroupCancelPending group on this
// target one step closer to GroupCanceled: entries that never started
// running move straight to EntryCanceled, running entries move to
// EntryCancelPending and get a Dispatcher.Cancel request (dispatchReady
// uses the entry's own UUID string as its JobID, so no separate lookup
// table is needed here). settleGroupIfTerminal takes each group the rest
// of the way once every entry has acknowledged.
func (s *Scheduler) handleCancellations(ctx context.Context) error {
	groups, err := s.Store.ListGroupsByState(ctx, store.GroupCancelPending)
	if err != nil {
		return xerrors.Errorf("listing cancel-pending groups: %w", err)
	}
	for _, g := range groups {
		if g.Target != s.Target {
			continue
		}
		entries, err := s.Store.ListEntries(ctx, g.ID)
		if err != nil {
			return xerrors.Errorf("listing entries for group %s: %w", g.ID, err)
		}
		for _, entry := range entries {
			switch entry.State {
			case store.EntryRunning:
				if err := s.Store.SetEntryState(ctx, entry.ID, store.EntryCancelPending); err != nil {
					return xerrors.Errorf("marking %s cancel-pending: %w", entry.ID, err)
				}
				if err := s.Dispatcher.Cancel(ctx, entry.ID.String()); err != nil {
					s.logf("requesting cancel of job %s: %v", entry.ID, err)
				}
			case store.EntryPending, store.EntryWaitingOnDependency, store.EntryReady:
				if err := s.Store.SetEntryState(ctx, entry.ID, store.EntryCanceled); err != nil {
					return xerrors.Errorf("canceling %s: %w", entry.ID, err)
				}
				if err := s.settleGroupIfTerminal(ctx, entry.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Scheduler) applyOutcome(ctx context.Context, jobToEntry map[string]uuid.UUID, outcome dispatch.Outcome) error {
	entryID, ok := jobToEntry[outcome.JobID]
	if !ok {
		return xerrors.Errorf("no entry tracked for job %s", outcome.JobID)
	}
	delete(jobToEntry, outcome.JobID)

	entry, err := s.Store.GetEntry(ctx, entryID)
	if err != nil {
		return xerrors.Errorf("looking up entry %s: %w", entryID, err)
	}

	switch {
	case entry.State == store.EntryCancelPending:
		if err := s.Store.SetEntryState(ctx, entryID, store.EntryCanceled); err != nil {
			return xerrors.Errorf("acknowledging cancel of %s: %w", entryID, err)
		}
	case outcome.Success:
		if err := s.Store.MarkComplete(ctx, entryID); err != nil {
			return xerrors.Errorf("marking %s complete: %w", entryID, err)
		}
	default:
		if err := s.Store.CascadeFailure(ctx, entryID); err != nil {
			return xerrors.Errorf("cascading failure from %s: %w", entryID, err)
		}
	}

	return s.settleGroupIfTerminal(ctx, entryID)
}

// settleGroupIfTerminal inspects the group entryID belongs to and, if
// every entry has reached a terminal state, moves the group to
// GroupCanceled, GroupFailed, or GroupComplete (promoting its packages
// into its dedicated bldr-<group id> channel and, if the group's
// originating request targeted stableChannel, into stable too).
func (s *Scheduler) settleGroupIfTerminal(ctx context.Context, entryID uuid.UUID) error {
	entry, err := s.Store.GetEntry(ctx, entryID)
	if err != nil {
		return xerrors.Errorf("looking up entry %s: %w", entryID, err)
	}
	groupID := entry.GroupID
	entries, err := s.Store.ListEntries(ctx, groupID)
	if err != nil {
		return xerrors.Errorf("listing entries for group %s: %w", groupID, err)
	}

	anyFailed := false
	anyCanceled := false
	allTerminal := true
	var packages []ident.PackageIdent
	for _, entry := range entries {
		switch entry.State {
		case store.EntryComplete:
			packages = append(packages, entry.Ident)
		case store.EntryJobFailed, store.EntryDependencyFailed:
			anyFailed = true
		case store.EntryCanceled:
			anyCanceled = true
		default:
			allTerminal = false
		}
	}
	if !allTerminal {
		return nil
	}

	if anyCanceled {
		return s.Store.SetGroupState(ctx, groupID, store.GroupCanceled)
	}
	if anyFailed {
		return s.Store.SetGroupState(ctx, groupID, store.GroupFailed)
	}

	if s.Promoter != nil {
		group, err := s.Store.GetGroup(ctx, groupID)
		if err != nil {
			return xerrors.Errorf("looking up group %s: %w", groupID, err)
		}
		if err := s.Promoter.Promote(ctx, groupID.String(), dedicatedChannel(groupID), packages); err != nil {
			return xerrors.Errorf("promoting group %s to its dedicated channel: %w", groupID, err)
		}
		if group.RequestedChannel == stableChannel {
			if err := s.Promoter.Promote(ctx, groupID.String(), stableChannel, packages); err != nil {
				return xerrors.Errorf("promoting group %s to %s: %w", groupID, stableChannel, err)
			}
		}
	}
	return s.Store.SetGroupState(ctx, groupID, store.GroupComplete)
}

func (s *Scheduler) logf(format string, args ...interface{}) {
	if s.Log != nil {
		s.Log.Printf(format, args...)
	}
}
