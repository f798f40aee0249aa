package zheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Literal end-to-end scenarios from spec.md §8: xid order T1=100, T2=101,
// me=102; horizon=90; curcid=5.

const (
	t1Xid  = Xid(100)
	t2Xid  = Xid(101)
	meXid  = Xid(102)
	horizon = Xid(90)
	curcid5 = Cid(5)
)

func noExclusionSnapshot(curcid Cid) *Snapshot {
	return &Snapshot{Curcid: curcid, InMVCCSnapshot: func(Xid) bool { return false }}
}

// S1: Insert by committed T1, no updates.
func TestScenarioS1(t *testing.T) {
	oracle := newFakeOracle(meXid)
	oracle.committed[t1Xid] = true
	store := newFakeUndoStore()
	page := newFakePageMetadata(horizon)

	tuple := liveTuple(1, 1, 0, 0)
	page.slots[0] = TransactionSlotEntry{Xid: t1Xid}
	ctx := PageContext{Oracle: oracle, Store: store, Page: page}

	result, _, err := SatisfiesMVCC(tuple, noExclusionSnapshot(curcid5), ctx)
	assert.NoError(t, err)
	assert.NotNil(t, result)

	verdict, _, err := SatisfiesOldestXmin(tuple, Xid(95), ctx)
	assert.NoError(t, err)
	assert.Equal(t, Live, verdict)
}

// S2: Insert T1 committed, deleted by in-progress T2.
func TestScenarioS2(t *testing.T) {
	oracle := newFakeOracle(meXid)
	oracle.committed[t1Xid] = true
	oracle.inProgress[t2Xid] = true
	store := newFakeUndoStore()
	page := newFakePageMetadata(horizon)

	tuple := liveTuple(1, 1, FlagDeleted, 1)
	page.slots[1] = TransactionSlotEntry{Xid: t2Xid, UrecPtr: UndoPointer{Block: 1, Offset: 5}}
	page.rawPtr[tuple.Header.Self] = UndoPointer{Block: 1, Offset: 5}
	page.slots[0] = TransactionSlotEntry{Xid: t1Xid}
	store.put(UndoPointer{Block: 1, Offset: 5}, UndoRecord{
		Type:         UndoDelete,
		PrevXid:      t1Xid,
		PriorVersion: &UndoVersion{Flags: 0, Slot: 0},
	})
	ctx := PageContext{Oracle: oracle, Store: store, Page: page}

	mvccResult, _, err := SatisfiesMVCC(tuple, noExclusionSnapshot(curcid5), ctx)
	assert.NoError(t, err)
	assert.NotNil(t, mvccResult, "walk undo past the in-progress delete should land on the committed insert")
	assert.Equal(t, 0, store.outstanding())

	snap := noExclusionSnapshot(curcid5)
	dirtyResult, _, err := SatisfiesDirty(tuple, snap, ctx)
	assert.NoError(t, err)
	assert.NotNil(t, dirtyResult)
	assert.Equal(t, t2Xid, snap.Xmax)

	verdict, _, _, _, _, err := SatisfiesUpdate(tuple, curcid5, ctx, noExclusionSnapshot(curcid5), false)
	assert.NoError(t, err)
	assert.Equal(t, BeingUpdated, verdict)
}

// S3: In-place update by me at cid=3, current cid=5 -> post-image.
func TestScenarioS3(t *testing.T) {
	oracle := newFakeOracle(meXid)
	store := newFakeUndoStore()
	page := newFakePageMetadata(horizon)

	tuple := liveTuple(1, 1, FlagInplaceUpdated, 2)
	page.slots[2] = TransactionSlotEntry{Xid: meXid}
	page.cid[tuple.Header.Self] = 3
	ctx := PageContext{Oracle: oracle, Store: store, Page: page}

	result, _, err := SatisfiesMVCC(tuple, noExclusionSnapshot(curcid5), ctx)
	assert.NoError(t, err)
	assert.Same(t, tuple, result, "post-image is the live tuple itself")
}

// S4: In-place update by me at cid=7, current cid=5 -> pre-image via undo.
func TestScenarioS4(t *testing.T) {
	oracle := newFakeOracle(meXid)
	store := newFakeUndoStore()
	page := newFakePageMetadata(horizon)

	tuple := liveTuple(1, 1, FlagInplaceUpdated, 2)
	page.slots[2] = TransactionSlotEntry{Xid: meXid, UrecPtr: UndoPointer{Block: 1, Offset: 8}}
	page.cid[tuple.Header.Self] = 7
	page.rawPtr[tuple.Header.Self] = UndoPointer{Block: 1, Offset: 8}
	store.put(UndoPointer{Block: 1, Offset: 8}, UndoRecord{
		Type:         UndoInplaceUpdate,
		PrevXid:      meXid,
		Cid:          2,
		PriorVersion: &UndoVersion{Flags: 0, Slot: 2, Payload: []byte("pre-image")},
	})

	ctx := PageContext{Oracle: oracle, Store: store, Page: page}
	result, _, err := SatisfiesMVCC(tuple, noExclusionSnapshot(curcid5), ctx)
	assert.NoError(t, err)
	if assert.NotNil(t, result) {
		assert.Equal(t, "pre-image", string(result.Payload))
	}
	assert.Equal(t, 0, store.outstanding())
}

// S5: Delete by aborted T2 over insert-committed T1.
func TestScenarioS5(t *testing.T) {
	oracle := newFakeOracle(meXid)
	oracle.committed[t1Xid] = true
	// t2Xid is neither current, in-progress, nor committed -> aborted.
	store := newFakeUndoStore()
	page := newFakePageMetadata(horizon)

	tuple := liveTuple(1, 1, FlagDeleted, 1)
	page.slots[1] = TransactionSlotEntry{Xid: t2Xid, UrecPtr: UndoPointer{Block: 1, Offset: 6}}
	page.rawPtr[tuple.Header.Self] = UndoPointer{Block: 1, Offset: 6}
	page.slots[0] = TransactionSlotEntry{Xid: t1Xid}
	store.put(UndoPointer{Block: 1, Offset: 6}, UndoRecord{
		Type:         UndoDelete,
		PrevXid:      t1Xid,
		PriorVersion: &UndoVersion{Flags: 0, Slot: 0},
	})
	ctx := PageContext{Oracle: oracle, Store: store, Page: page}

	result, _, err := SatisfiesMVCC(tuple, noExclusionSnapshot(curcid5), ctx)
	assert.NoError(t, err)
	assert.NotNil(t, result)

	verdict, _, err := SatisfiesOldestXmin(tuple, Xid(95), ctx)
	assert.NoError(t, err)
	assert.Equal(t, Live, verdict)
}

// S6: Slot frozen, flags = DELETED.
func TestScenarioS6(t *testing.T) {
	oracle := newFakeOracle(meXid)
	store := newFakeUndoStore()
	page := newFakePageMetadata(horizon)

	tuple := liveTuple(1, 1, FlagDeleted, FrozenSlot)
	ctx := PageContext{Oracle: oracle, Store: store, Page: page}

	result, _, err := SatisfiesMVCC(tuple, noExclusionSnapshot(curcid5), ctx)
	assert.NoError(t, err)
	assert.Nil(t, result)

	dead, err := IsSurelyDead(tuple, Xid(95), ctx)
	assert.NoError(t, err)
	assert.True(t, dead)

	verdict, _, err := SatisfiesOldestXmin(tuple, Xid(95), ctx)
	assert.NoError(t, err)
	assert.Equal(t, Dead, verdict)
}

// Property: frozen slot (spec.md §8 property 2).
func TestPropertyFrozenSlot(t *testing.T) {
	oracle := newFakeOracle(meXid)
	store := newFakeUndoStore()
	page := newFakePageMetadata(horizon)
	ctx := PageContext{Oracle: oracle, Store: store, Page: page}

	live := liveTuple(1, 1, 0, FrozenSlot)
	result, _, err := SatisfiesMVCC(live, noExclusionSnapshot(curcid5), ctx)
	assert.NoError(t, err)
	assert.NotNil(t, result)
	dead, err := IsSurelyDead(live, Xid(1), ctx)
	assert.NoError(t, err)
	assert.False(t, dead)

	deleted := liveTuple(2, 1, FlagDeleted, FrozenSlot)
	result, _, err = SatisfiesMVCC(deleted, noExclusionSnapshot(curcid5), ctx)
	assert.NoError(t, err)
	assert.Nil(t, result)
	dead, err = IsSurelyDead(deleted, Xid(1), ctx)
	assert.NoError(t, err)
	assert.True(t, dead)
}

// Property: pre-horizon tuples never recurse into undo (spec.md §8
// property 3). fakeUndoStore appends every Fetch to fetchLog, so an empty
// fetchLog after the predicate shows that no undo record was read.
func TestPropertyPreHorizonNeverWalks(t *testing.T) {
	oracle := newFakeOracle(meXid)
	store := newFakeUndoStore()
	page := newFakePageMetadata(horizon)
	ctx := PageContext{Oracle: oracle, Store: store, Page: page}

	tuple := liveTuple(1, 1, FlagDeleted, 3)
	page.slots[3] = TransactionSlotEntry{Xid: Xid(50)} // 50 < horizon(90)

	_, _, err := SatisfiesMVCC(tuple, noExclusionSnapshot(curcid5), ctx)
	assert.NoError(t, err)
	assert.Empty(t, store.fetchLog, "pre-horizon xid must not trigger any undo fetch")
}

// Property: self-visibility (spec.md §8 property 5) and the cid gate
// (property 6).
func TestPropertySelfVisibilityAndCidGate(t *testing.T) {
	oracle := newFakeOracle(meXid)
	store := newFakeUndoStore()
	page := newFakePageMetadata(horizon)
	ctx := PageContext{Oracle: oracle, Store: store, Page: page}

	tuple := liveTuple(1, 1, 0, 4)
	page.slots[4] = TransactionSlotEntry{Xid: meXid}
	page.cid[tuple.Header.Self] = 2

	result, _, err := SatisfiesMVCC(tuple, noExclusionSnapshot(curcid5), ctx) // cid(2) < curcid(5)
	assert.NoError(t, err)
	assert.NotNil(t, result)

	page.cid[tuple.Header.Self] = 9 // cid(9) >= curcid(5)
	result, _, err = SatisfiesMVCC(tuple, noExclusionSnapshot(curcid5), ctx)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

// Property: surely-dead implies invisible (spec.md §8 property 9).
func TestPropertySurelyDeadImpliesInvisible(t *testing.T) {
	oracle := newFakeOracle(meXid)
	store := newFakeUndoStore()
	page := newFakePageMetadata(horizon)
	ctx := PageContext{Oracle: oracle, Store: store, Page: page}

	tuple := liveTuple(1, 1, FlagDeleted, FrozenSlot)
	dead, err := IsSurelyDead(tuple, Xid(1), ctx)
	assert.NoError(t, err)
	assert.True(t, dead)

	result, _, err := SatisfiesMVCC(tuple, noExclusionSnapshot(curcid5), ctx)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestSatisfiesAnyIsIdentity(t *testing.T) {
	tuple := liveTuple(1, 1, FlagDeleted, FrozenSlot)
	assert.Same(t, tuple, SatisfiesAny(tuple))
}
