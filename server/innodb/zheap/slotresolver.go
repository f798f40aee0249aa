package zheap

// EffectiveXact is the (xid, cid, undo pointer) triple a predicate
// actually reasons about, after resolving away INVALID_XACT_SLOT and
// FROZEN (spec.md §4.4, C5).
type EffectiveXact struct {
	Xid Xid
	Cid Cid
	// UrecPtr is the undo pointer to continue a chain walk from, valid
	// when neither Frozen nor PreHorizon.
	UrecPtr UndoPointer
	// Frozen is true when the tuple's slot is the FrozenSlot sentinel:
	// no live transaction association, treat as fully committed in the
	// deep past.
	Frozen bool
	// PreHorizon is true when Xid precedes the page's horizon: its undo
	// has been discarded and is to be treated as long-committed.
	PreHorizon bool
}

// liveOrPreHorizon reports whether this tuple's effective xact is old
// enough, or frozen enough, that no further undo lookup is needed — the
// base case shared by every predicate's decision table (spec.md §4.6,
// rule 1 of each table).
func (e EffectiveXact) liveOrPreHorizon() bool { return e.Frozen || e.PreHorizon }

// resolveEffective computes a tuple's EffectiveXact (spec.md §4.4):
//
//   - FROZEN slot: xid is invalid, tuple is fully visible.
//   - INVALID_XACT_SLOT: recover (xid, cid, urec_ptr) by walking undo
//     until a record whose type is not INVALID_XACT_SLOT.
//   - otherwise: use the raw slot xid/cid/undo pointer directly.
func resolveEffective(oracle TransactionOracle, store UndoStore, page PageMetadata, tuple *Tuple) (EffectiveXact, error) {
	if tuple.Header.Slot == FrozenSlot {
		return EffectiveXact{Xid: InvalidXid, Frozen: true}, nil
	}

	if tuple.Header.Flags.Has(FlagInvalidXactSlot) {
		start := page.RawUndoPtr(tuple)
		resolved, err := resolveInvalidSlot(store, tuple.Header.Self.Block, tuple.Header.Self.Offset, start, nil)
		if err != nil {
			return EffectiveXact{}, err
		}
		if resolved.xid == InvalidXid {
			return EffectiveXact{Xid: InvalidXid, PreHorizon: true}, nil
		}
		return EffectiveXact{
			Xid:        resolved.xid,
			Cid:        resolved.cid,
			UrecPtr:    resolved.urecPtr,
			PreHorizon: oracle.Precedes(resolved.xid, page.Horizon()),
		}, nil
	}

	entry := page.Slot(tuple.Header.Slot)
	return EffectiveXact{
		Xid:        entry.Xid,
		Cid:        page.Cid(tuple),
		UrecPtr:    page.RawUndoPtr(tuple),
		PreHorizon: oracle.Precedes(entry.Xid, page.Horizon()),
	}, nil
}

type resolvedSlot struct {
	xid     Xid
	cid     Cid
	urecPtr UndoPointer
}

// resolveInvalidSlot walks undo starting at start, following blkprev and
// recovering (prev_xid, cid) from each INVALID_XACT_SLOT record, stopping
// at the first record whose type is not INVALID_XACT_SLOT (spec.md §4.4).
//
// When targetXid is non-nil the walk is the constrained variant used by
// the chain walker (spec.md §4.5 step 5): the stopping condition also
// requires the recovered xid to equal *targetXid. A mismatch there means
// the page's slot bookkeeping disagrees with the undo chain it points
// into — storage corruption, reported as an invariant violation rather
// than silently accepted.
func resolveInvalidSlot(store UndoStore, block uint32, offset uint16, start UndoPointer, targetXid *Xid) (resolvedSlot, error) {
	ptr := start
	result := resolvedSlot{xid: InvalidXid, cid: InvalidCid}

	for {
		if ptr.IsNull() {
			// No further undo: treat as pre-horizon (spec.md §4.4 step 2).
			return resolvedSlot{xid: InvalidXid, cid: InvalidCid}, nil
		}

		var stop bool
		var mismatch bool
		err := fetchAndRelease(store, ptr, block, offset, nil, func(rec *UndoRecord) error {
			if rec == nil {
				result = resolvedSlot{xid: InvalidXid, cid: InvalidCid}
				stop = true
				return nil
			}
			result = resolvedSlot{xid: rec.PrevXid, cid: rec.Cid, urecPtr: rec.BlkPrev}
			if rec.Type != UndoInvalidXactSlot {
				stop = true
				if targetXid != nil && rec.PrevXid != *targetXid {
					mismatch = true
				}
			}
			return nil
		})
		if err != nil {
			return resolvedSlot{}, err
		}
		if mismatch {
			return resolvedSlot{}, errInvariantf(
				"invalid-slot resolution at block %d offset %d recovered xid %d, want %d",
				block, offset, result.xid, *targetXid)
		}
		if stop {
			return result, nil
		}
		ptr = result.urecPtr
	}
}
