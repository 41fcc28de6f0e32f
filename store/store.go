// Package store defines the Job-Graph Store port (Component D): the
// abstract contract the Group Scheduler uses to persist job groups and
// their entries, plus a go.etcd.io/bbolt-backed reference
// implementation. bbolt's single-writer transaction model gives the
// serializability spec.md §4.D demands for free, the same way the
// teacher leans on a single mutex-guarded in-memory graph rather than
// building its own locking protocol.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/habitat-sh/builder-sub000/ident"
)

// GroupState is the lifecycle state of a JobGroup.
type GroupState int

const (
	GroupPending GroupState = iota
	GroupDispatching
	GroupComplete
	GroupFailed
	GroupCancelPending
	GroupCanceled
)

func (s GroupState) String() string {
	switch s {
	case GroupPending:
		return "pending"
	case GroupDispatching:
		return "dispatching"
	case GroupComplete:
		return "complete"
	case GroupFailed:
		return "failed"
	case GroupCancelPending:
		return "cancel_pending"
	case GroupCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// EntryState is the lifecycle state of one JobGraphEntry, per spec.md
// §4.E's state machine.
type EntryState int

const (
	EntryPending EntryState = iota
	EntryWaitingOnDependency
	EntryReady
	EntryRunning
	EntryComplete
	EntryJobFailed
	EntryDependencyFailed
	EntryCancelPending
	EntryCanceled
)

func (s EntryState) String() string {
	switch s {
	case EntryPending:
		return "pending"
	case EntryWaitingOnDependency:
		return "waiting_on_dependency"
	case EntryReady:
		return "ready"
	case EntryRunning:
		return "running"
	case EntryComplete:
		return "complete"
	case EntryJobFailed:
		return "job_failed"
	case EntryDependencyFailed:
		return "dependency_failed"
	case EntryCancelPending:
		return "cancel_pending"
	case EntryCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// JobGroup is one compiled manifest's worth of build work. Every group
// owns a dedicated channel named "bldr-<ID>"; RequestedChannel additionally
// names the channel the originating request targeted (e.g. "stable"), or
// "" if the request named none. On success the group is promoted to its
// dedicated channel, and also to "stable" when RequestedChannel is
// "stable"; any other RequestedChannel value gets no promotion.
type JobGroup struct {
	ID               uuid.UUID
	Target           ident.PackageTarget
	State            GroupState
	CreatedAt        int64 // unix seconds
	RequestedChannel string
}

// JobGraphEntry is a single node of a JobGroup's build DAG, corresponding
// to one manifest.UnresolvedIdent of Kind InternalNode.
type JobGraphEntry struct {
	ID         uuid.UUID
	GroupID    uuid.UUID
	Ident      ident.PackageIdent // short ident
	Iteration  int
	State      EntryState
	WaitingOn  int         // unresolved same-group dependency count
	Dependents []uuid.UUID // entries blocked on this one
	JobID      string      // stored as given; the scheduler never sets it and dispatches under ID.String()
}

// NewEntry is the caller-supplied shape of an entry at group creation
// time, before IDs are assigned.
type NewEntry struct {
	Ident     ident.PackageIdent
	Iteration int
	DependsOn []int // indices into the same creation batch
}

// Store is the Job-Graph Store port.
type Store interface {
	CreateGroup(ctx context.Context, target ident.PackageTarget, entries []NewEntry, requestedChannel string) (*JobGroup, error)
	InsertEntries(ctx context.Context, groupID uuid.UUID, entries []NewEntry) ([]JobGraphEntry, error)
	TakeReady(ctx context.Context, target ident.PackageTarget, limit int) ([]JobGraphEntry, error)
	MarkComplete(ctx context.Context, entryID uuid.UUID) error
	DecrementWaiters(ctx context.Context, entryID uuid.UUID) error
	CascadeFailure(ctx context.Context, entryID uuid.UUID) error
	SetEntryState(ctx context.Context, entryID uuid.UUID, state EntryState) error
	GetGroup(ctx context.Context, groupID uuid.UUID) (*JobGroup, error)
	GetEntry(ctx context.Context, entryID uuid.UUID) (*JobGraphEntry, error)
	ListEntries(ctx context.Context, groupID uuid.UUID) ([]JobGraphEntry, error)
	ListGroupsByState(ctx context.Context, state GroupState) ([]JobGroup, error)
	SetGroupState(ctx context.Context, groupID uuid.UUID, state GroupState) error
}
