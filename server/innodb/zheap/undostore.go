package zheap

// UndoStore fetches undo records by pointer (spec.md §4.2). Fetch is
// idempotent: issuing it repeatedly for the same pointer must return
// equivalent records. Every successful Fetch must be paired with exactly
// one Release call, on every exit path including recursive descent
// (spec.md §5, §8 property 8) — this package never skips a Release, even
// when a predicate returns early.
type UndoStore interface {
	// Fetch returns the undo record at ptr for the tuple identified by
	// (block, offset), or (nil, nil) if the record has been discarded.
	// prevUndoXid is an advisory filter: when non-nil, implementations
	// may use it to terminate chain-switched reads at the right record;
	// passing nil disables the filter and the call must still succeed.
	Fetch(ptr UndoPointer, block uint32, offset uint16, prevUndoXid *Xid) (*UndoRecord, error)

	// Release must be called exactly once for every UndoRecord returned
	// by Fetch once the caller is done with it.
	Release(rec *UndoRecord)
}

// fetchAndRelease runs fn over the record at ptr, guaranteeing Release
// runs exactly once regardless of how fn returns. Centralizing this
// keeps the "release is unconditional" rule (spec.md §5) from needing to
// be re-proven at every call site in slotresolver.go/chainwalker.go.
func fetchAndRelease(store UndoStore, ptr UndoPointer, block uint32, offset uint16, prevUndoXid *Xid, fn func(*UndoRecord) error) error {
	rec, err := store.Fetch(ptr, block, offset, prevUndoXid)
	if err != nil {
		return err
	}
	if rec == nil {
		return fn(nil)
	}
	defer store.Release(rec)
	return fn(rec)
}
