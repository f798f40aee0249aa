package zheap

// UndoVersion is the part of an undo record that reconstructs a prior
// tuple version: the flags/slot that version carried, and its payload.
// Records that carry no version payload (INVALID_XACT_SLOT) leave this
// nil (spec.md §4.5 step 1: "such records carry no version payload").
type UndoVersion struct {
	Flags   TupleFlags
	Slot    SlotIndex
	Payload []byte
}

// WalkStats accumulates observability counters across a chain walk,
// threaded through recursive predicate descent the way
// manager/mvcc_types.go threads MVCCStats/MVCCGCStats through for
// instrumentation. Never affects a verdict; safe to pass nil.
type WalkStats struct {
	Steps         int
	ChainSwitches int
}

func (s *WalkStats) step() {
	if s != nil {
		s.Steps++
	}
}

func (s *WalkStats) chainSwitch() {
	if s != nil {
		s.ChainSwitches++
	}
}

// WalkResult is one step of undo-chain traversal: the reconstructed prior
// tuple plus the (xid, cid, undo pointer) that produced it, and enough
// classification for the caller to decide whether to recurse further.
type WalkResult struct {
	Prior        *Tuple
	PriorXid     Xid
	PriorCid     Cid
	PriorUrecPtr UndoPointer
	Oper         UndoOper

	// Successor/HasSuccessor expose the UPDATE record's successor tid
	// (spec.md §4.5 step 6); HasSuccessor is false for every other undo
	// record type.
	Successor    Tid
	HasSuccessor bool
}

// walk reconstructs the tuple version immediately prior to cur, per
// spec.md §4.5:
//
//  1. Fetch at urecPtr, skipping over (and refetching past) any
//     INVALID_XACT_SLOT records, which carry no version payload.
//  2. Reconstruct the prior version by overlaying the record's version
//     payload on cur (same physical tid/table, different flags/slot/data).
//  3. Chain-switch rule: if the prior version's slot differs from cur's
//     and is not FROZEN, continue from the prior version's own raw undo
//     pointer rather than the record's blkprev — the prior version now
//     belongs to a different transaction's chain.
//  4. Classify the recovered operation (inplace-update, lock-only, root).
//     A deleted/updated recovered undo tuple is an invariant violation.
//  5. If the prior version is itself INVALID_XACT_SLOT and not
//     pre-horizon, resolve it to recover the cid attached to the
//     (possibly reused) slot.
//  6. Expose the successor tid for UPDATE records.
func walk(
	oracle TransactionOracle,
	store UndoStore,
	page PageMetadata,
	urecPtr UndoPointer,
	cur *Tuple,
	prevUndoXid Xid,
	stats *WalkStats,
) (*WalkResult, error) {
	stats.step()

	block, offset := cur.Header.Self.Block, cur.Header.Self.Offset
	ptr := urecPtr

	var rec *UndoRecord
	for {
		got, err := store.Fetch(ptr, block, offset, &prevUndoXid)
		if err != nil {
			return nil, err
		}
		if got == nil {
			return nil, ErrChainExhausted
		}
		if got.Type == UndoInvalidXactSlot {
			next := got.BlkPrev
			store.Release(got)
			if next.IsNull() {
				return nil, ErrChainExhausted
			}
			ptr = next
			continue
		}
		rec = got
		break
	}
	defer store.Release(rec)

	assertf(rec.PriorVersion != nil, "undo record of type %v at %v carries no version payload", rec.Type, ptr)

	prior := &Tuple{
		Header: TupleHeader{
			Self:    cur.Header.Self,
			TableID: cur.Header.TableID,
			Flags:   rec.PriorVersion.Flags,
			Slot:    rec.PriorVersion.Slot,
		},
		Payload: rec.PriorVersion.Payload,
	}
	if err := prior.Header.Flags.Validate(); err != nil {
		return nil, err
	}
	assertf(!prior.Header.Flags.DeletedOrUpdated(),
		"recovered undo tuple at %v has deleted/updated flags %v", prior.Header.Self, prior.Header.Flags)

	priorUrecPtr := rec.BlkPrev
	if prior.Header.Slot != cur.Header.Slot && prior.Header.Slot != FrozenSlot {
		priorUrecPtr = page.RawUndoPtr(prior)
		stats.chainSwitch()
	}

	var oper UndoOper
	switch {
	case prior.Header.Flags.Has(FlagInplaceUpdated):
		oper = OperInplaceUpdated
	case prior.Header.Flags.Has(FlagXidLockOnly):
		oper = OperXidLockOnly
	default:
		oper = OperRoot
	}

	priorCid := rec.Cid
	if prior.Header.Flags.Has(FlagInvalidXactSlot) && !oracle.Precedes(rec.PrevXid, page.Horizon()) {
		target := rec.PrevXid
		resolved, err := resolveInvalidSlot(store, block, offset, priorUrecPtr, &target)
		if err != nil {
			return nil, err
		}
		priorCid = resolved.cid
		priorUrecPtr = resolved.urecPtr
	}

	return &WalkResult{
		Prior:        prior,
		PriorXid:     rec.PrevXid,
		PriorCid:     priorCid,
		PriorUrecPtr: priorUrecPtr,
		Oper:         oper,
		Successor:    rec.Successor,
		HasSuccessor: rec.Type == UndoUpdate,
	}, nil
}
