package ident

import "sync"

// Handle is a small, process-wide, append-only integer handle assigned to
// a unique parsed PackageIdent. Two handles compare equal iff their
// parsed idents are equal, and a handle's meaning never changes over the
// process lifetime.
type Handle int32

// Interner assigns Handles to PackageIdents. It is safe for concurrent
// use: interning is guarded by a short mutex, reads of an already-known
// ident never block on a writer beyond that same short critical section.
type Interner struct {
	mu     sync.Mutex
	byKey  map[PackageIdent]Handle
	byHandle []PackageIdent
}

// NewInterner returns an empty Interner.
func NewInterner() *Interner {
	return &Interner{byKey: make(map[PackageIdent]Handle)}
}

// Intern returns the Handle for id, assigning a new one if id has not
// been seen before.
func (in *Interner) Intern(id PackageIdent) Handle {
	in.mu.Lock()
	defer in.mu.Unlock()
	if h, ok := in.byKey[id]; ok {
		return h
	}
	h := Handle(len(in.byHandle))
	in.byHandle = append(in.byHandle, id)
	in.byKey[id] = h
	return h
}

// Lookup returns the PackageIdent associated with h. ok is false if h was
// never issued by this Interner.
func (in *Interner) Lookup(h Handle) (id PackageIdent, ok bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if int(h) < 0 || int(h) >= len(in.byHandle) {
		return PackageIdent{}, false
	}
	return in.byHandle[h], true
}

// Len returns the number of distinct idents interned so far.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.byHandle)
}

// Less reports whether the ident behind a sorts before the ident behind
// b, per Compare. Both handles must have been issued by in.
func (in *Interner) Less(a, b Handle) bool {
	ai, _ := in.Lookup(a)
	bi, _ := in.Lookup(b)
	return Less(ai, bi)
}
