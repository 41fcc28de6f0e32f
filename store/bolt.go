package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"github.com/habitat-sh/builder-sub000/ident"
)

var (
	bucketGroups  = []byte("groups")
	bucketEntries = []byte("entries")
	// bucketByGroup indexes entry IDs by group, keyed "<groupID>/<entryID>"
	// with an empty value, since bbolt only range-scans bucket keys.
	bucketByGroup = []byte("entries_by_group")
	// bucketReady indexes entry IDs that are currently EntryReady, keyed
	// "<target>/<entryID>".
	bucketReady = []byte("ready_index")
)

var _ Store = (*BoltStore)(nil)

// BoltStore is the reference Store implementation backed by a bbolt
// database file. Every method runs inside a single bbolt transaction,
// giving the whole Store serializable semantics without any locking of
// its own (grounded on go.etcd.io/bbolt's single-writer model).
type BoltStore struct {
	db *bbolt.DB
}

// Open opens (creating if absent) a BoltStore at path.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, xerrors.Errorf("opening store at %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketGroups, bucketEntries, bucketByGroup, bucketReady} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("initializing buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

type storedGroup struct {
	ID               string
	Target           string
	State            int
	CreatedAt        int64
	RequestedChannel string
}

type storedEntry struct {
	ID         string
	GroupID    string
	Target     string
	Origin     string
	Name       string
	Iteration  int
	State      int
	WaitingOn  int
	Dependents []string
	JobID      string
}

func toStoredGroup(g JobGroup) storedGroup {
	return storedGroup{
		ID: g.ID.String(), Target: string(g.Target), State: int(g.State),
		CreatedAt: g.CreatedAt, RequestedChannel: g.RequestedChannel,
	}
}

func fromStoredGroup(sg storedGroup) JobGroup {
	return JobGroup{
		ID: uuid.MustParse(sg.ID), Target: ident.PackageTarget(sg.Target), State: GroupState(sg.State),
		CreatedAt: sg.CreatedAt, RequestedChannel: sg.RequestedChannel,
	}
}

func toStoredEntry(e JobGraphEntry, target ident.PackageTarget) storedEntry {
	deps := make([]string, len(e.Dependents))
	for i, d := range e.Dependents {
		deps[i] = d.String()
	}
	return storedEntry{
		ID: e.ID.String(), GroupID: e.GroupID.String(), Target: string(target),
		Origin: e.Ident.Origin, Name: e.Ident.Name, Iteration: e.Iteration,
		State: int(e.State), WaitingOn: e.WaitingOn, Dependents: deps, JobID: e.JobID,
	}
}

func fromStoredEntry(se storedEntry) JobGraphEntry {
	deps := make([]uuid.UUID, len(se.Dependents))
	for i, d := range se.Dependents {
		deps[i] = uuid.MustParse(d)
	}
	return JobGraphEntry{
		ID: uuid.MustParse(se.ID), GroupID: uuid.MustParse(se.GroupID),
		Ident:      ident.PackageIdent{Origin: se.Origin, Name: se.Name},
		Iteration:  se.Iteration,
		State:      EntryState(se.State),
		WaitingOn:  se.WaitingOn,
		Dependents: deps,
		JobID:      se.JobID,
	}
}

func putEntry(tx *bbolt.Tx, target ident.PackageTarget, e JobGraphEntry) error {
	buf, err := json.Marshal(toStoredEntry(e, target))
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketEntries).Put([]byte(e.ID.String()), buf); err != nil {
		return err
	}
	if err := tx.Bucket(bucketByGroup).Put([]byte(e.GroupID.String()+"/"+e.ID.String()), nil); err != nil {
		return err
	}
	readyKey := []byte(string(target) + "/" + e.ID.String())
	ready := tx.Bucket(bucketReady)
	if e.State == EntryReady {
		return ready.Put(readyKey, nil)
	}
	return ready.Delete(readyKey)
}

func getEntry(tx *bbolt.Tx, id uuid.UUID) (*JobGraphEntry, error) {
	buf := tx.Bucket(bucketEntries).Get([]byte(id.String()))
	if buf == nil {
		return nil, xerrors.Errorf("entry %s: %w", id, errNotFound)
	}
	var se storedEntry
	if err := json.Unmarshal(buf, &se); err != nil {
		return nil, err
	}
	e := fromStoredEntry(se)
	return &e, nil
}

var errNotFound = xerrors.New("not found")

// CreateGroup creates a new JobGroup and its initial entries in one
// transaction. DependsOn edges wire WaitingOn counts and Dependents
// lists; entries with no dependencies start EntryReady.
func (s *BoltStore) CreateGroup(ctx context.Context, target ident.PackageTarget, entries []NewEntry, requestedChannel string) (*JobGroup, error) {
	group := JobGroup{ID: uuid.New(), Target: target, State: GroupPending, CreatedAt: time.Now().Unix(), RequestedChannel: requestedChannel}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		buf, err := json.Marshal(toStoredGroup(group))
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketGroups).Put([]byte(group.ID.String()), buf); err != nil {
			return err
		}
		return insertEntriesLocked(tx, target, group.ID, entries)
	})
	if err != nil {
		return nil, xerrors.Errorf("creating group: %w", err)
	}
	return &group, nil
}

// InsertEntries adds entries to an existing group (spec.md's incremental
// manifest ingestion case).
func (s *BoltStore) InsertEntries(ctx context.Context, groupID uuid.UUID, entries []NewEntry) ([]JobGraphEntry, error) {
	var out []JobGraphEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketGroups).Get([]byte(groupID.String())) == nil {
			return xerrors.Errorf("group %s: %w", groupID, errNotFound)
		}
		var sg storedGroup
		// target is needed for the ready index key; look it up from the
		// stored group rather than threading it through the call signature.
		if err := json.Unmarshal(tx.Bucket(bucketGroups).Get([]byte(groupID.String())), &sg); err != nil {
			return err
		}
		ids, err := insertEntriesLocked(tx, ident.PackageTarget(sg.Target), groupID, entries)
		if err != nil {
			return err
		}
		for _, id := range ids {
			e, err := getEntry(tx, id)
			if err != nil {
				return err
			}
			out = append(out, *e)
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("inserting entries: %w", err)
	}
	return out, nil
}

func insertEntriesLocked(tx *bbolt.Tx, target ident.PackageTarget, groupID uuid.UUID, entries []NewEntry) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(entries))
	for i := range entries {
		ids[i] = uuid.New()
	}
	for i, ne := range entries {
		entry := JobGraphEntry{
			ID:        ids[i],
			GroupID:   groupID,
			Ident:     ne.Ident,
			Iteration: ne.Iteration,
			State:     EntryPending,
			WaitingOn: len(ne.DependsOn),
		}
		if entry.WaitingOn == 0 {
			entry.State = EntryReady
		} else {
			entry.State = EntryWaitingOnDependency
		}
		if err := putEntry(tx, target, entry); err != nil {
			return nil, err
		}
	}
	// A second pass wires Dependents, since a dependency's index may come
	// after its dependent in the batch.
	for i, ne := range entries {
		for _, depIdx := range ne.DependsOn {
			dep, err := getEntry(tx, ids[depIdx])
			if err != nil {
				return nil, err
			}
			dep.Dependents = append(dep.Dependents, ids[i])
			if err := putEntry(tx, target, *dep); err != nil {
				return nil, err
			}
		}
	}
	return ids, nil
}

// TakeReady returns up to limit entries in EntryReady state for target,
// transitioning them to EntryRunning atomically so two concurrent
// callers never take the same entry.
func (s *BoltStore) TakeReady(ctx context.Context, target ident.PackageTarget, limit int) ([]JobGraphEntry, error) {
	var out []JobGraphEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketReady).Cursor()
		prefix := []byte(string(target) + "/")
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix) && (limit <= 0 || len(keys) < limit); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			idStr := string(k[len(prefix):])
			id := uuid.MustParse(idStr)
			e, err := getEntry(tx, id)
			if err != nil {
				return err
			}
			e.State = EntryRunning
			if err := putEntry(tx, target, *e); err != nil {
				return err
			}
			out = append(out, *e)
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("taking ready entries: %w", err)
	}
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// MarkComplete transitions entryID to EntryComplete and decrements
// WaitingOn on every entry blocked on it, promoting any that reach zero
// to EntryReady.
func (s *BoltStore) MarkComplete(ctx context.Context, entryID uuid.UUID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		e, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		var sg storedGroup
		if err := json.Unmarshal(tx.Bucket(bucketGroups).Get([]byte(e.GroupID.String())), &sg); err != nil {
			return err
		}
		target := ident.PackageTarget(sg.Target)
		e.State = EntryComplete
		if err := putEntry(tx, target, *e); err != nil {
			return err
		}
		for _, depID := range e.Dependents {
			dep, err := getEntry(tx, depID)
			if err != nil {
				return err
			}
			if dep.State != EntryWaitingOnDependency && dep.State != EntryPending {
				continue
			}
			dep.WaitingOn--
			if dep.WaitingOn <= 0 {
				dep.WaitingOn = 0
				dep.State = EntryReady
			}
			if err := putEntry(tx, target, *dep); err != nil {
				return err
			}
		}
		return nil
	})
}

// DecrementWaiters decrements entryID's WaitingOn count without marking
// it complete, used when a dependency is satisfied by an already-latest
// external package rather than a sibling entry in the same group.
func (s *BoltStore) DecrementWaiters(ctx context.Context, entryID uuid.UUID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		e, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		var sg storedGroup
		if err := json.Unmarshal(tx.Bucket(bucketGroups).Get([]byte(e.GroupID.String())), &sg); err != nil {
			return err
		}
		e.WaitingOn--
		if e.WaitingOn <= 0 {
			e.WaitingOn = 0
			if e.State == EntryWaitingOnDependency || e.State == EntryPending {
				e.State = EntryReady
			}
		}
		return putEntry(tx, ident.PackageTarget(sg.Target), *e)
	})
}

// SetEntryState forces entryID directly into state, bypassing the usual
// completion/failure transitions. Used by the Group Scheduler to drive
// the cancellation state machine (EntryCancelPending, EntryCanceled).
func (s *BoltStore) SetEntryState(ctx context.Context, entryID uuid.UUID, state EntryState) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		e, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		var sg storedGroup
		if err := json.Unmarshal(tx.Bucket(bucketGroups).Get([]byte(e.GroupID.String())), &sg); err != nil {
			return err
		}
		e.State = state
		return putEntry(tx, ident.PackageTarget(sg.Target), *e)
	})
}

// CascadeFailure marks entryID EntryJobFailed and transitively marks
// every entry that (directly or indirectly) depends on it
// EntryDependencyFailed.
func (s *BoltStore) CascadeFailure(ctx context.Context, entryID uuid.UUID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		e, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		var sg storedGroup
		if err := json.Unmarshal(tx.Bucket(bucketGroups).Get([]byte(e.GroupID.String())), &sg); err != nil {
			return err
		}
		target := ident.PackageTarget(sg.Target)
		e.State = EntryJobFailed
		if err := putEntry(tx, target, *e); err != nil {
			return err
		}

		queue := append([]uuid.UUID(nil), e.Dependents...)
		seen := map[uuid.UUID]bool{entryID: true}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if seen[id] {
				continue
			}
			seen[id] = true
			dep, err := getEntry(tx, id)
			if err != nil {
				return err
			}
			if dep.State == EntryComplete || dep.State == EntryJobFailed || dep.State == EntryDependencyFailed {
				continue
			}
			dep.State = EntryDependencyFailed
			if err := putEntry(tx, target, *dep); err != nil {
				return err
			}
			queue = append(queue, dep.Dependents...)
		}
		return nil
	})
}

// GetEntry returns a single entry by ID.
func (s *BoltStore) GetEntry(ctx context.Context, entryID uuid.UUID) (*JobGraphEntry, error) {
	var out *JobGraphEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		e, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

// ListEntries returns every entry belonging to groupID.
func (s *BoltStore) ListEntries(ctx context.Context, groupID uuid.UUID) ([]JobGraphEntry, error) {
	var out []JobGraphEntry
	prefix := []byte(groupID.String() + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketByGroup).Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			id := uuid.MustParse(string(k[len(prefix):]))
			e, err := getEntry(tx, id)
			if err != nil {
				return err
			}
			out = append(out, *e)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) GetGroup(ctx context.Context, groupID uuid.UUID) (*JobGroup, error) {
	var g JobGroup
	err := s.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(bucketGroups).Get([]byte(groupID.String()))
		if buf == nil {
			return xerrors.Errorf("group %s: %w", groupID, errNotFound)
		}
		var sg storedGroup
		if err := json.Unmarshal(buf, &sg); err != nil {
			return err
		}
		g = fromStoredGroup(sg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *BoltStore) ListGroupsByState(ctx context.Context, state GroupState) ([]JobGroup, error) {
	var out []JobGroup
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketGroups).ForEach(func(_, v []byte) error {
			var sg storedGroup
			if err := json.Unmarshal(v, &sg); err != nil {
				return err
			}
			if GroupState(sg.State) == state {
				out = append(out, fromStoredGroup(sg))
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) SetGroupState(ctx context.Context, groupID uuid.UUID, state GroupState) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(bucketGroups).Get([]byte(groupID.String()))
		if buf == nil {
			return xerrors.Errorf("group %s: %w", groupID, errNotFound)
		}
		var sg storedGroup
		if err := json.Unmarshal(buf, &sg); err != nil {
			return err
		}
		sg.State = int(state)
		nb, err := json.Marshal(sg)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketGroups).Put([]byte(groupID.String()), nb)
	})
}
