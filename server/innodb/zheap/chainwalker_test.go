package zheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWalkSameSlotUsesBlkPrev(t *testing.T) {
	oracle := newFakeOracle(100)
	store := newFakeUndoStore()
	page := newFakePageMetadata(5)

	cur := liveTuple(1, 1, FlagInplaceUpdated, 1)
	urecPtr := UndoPointer{Block: 1, Offset: 5}
	blkPrev := UndoPointer{Block: 1, Offset: 4}
	store.put(urecPtr, UndoRecord{
		Type:         UndoInplaceUpdate,
		PrevXid:      50,
		Cid:          2,
		BlkPrev:      blkPrev,
		PriorVersion: &UndoVersion{Flags: 0, Slot: 1, Payload: []byte("older")},
	})

	wr, err := walk(oracle, store, page, urecPtr, cur, 60, nil)
	assert.NoError(t, err)
	assert.Equal(t, blkPrev, wr.PriorUrecPtr)
	assert.Equal(t, Xid(50), wr.PriorXid)
	assert.Equal(t, Cid(2), wr.PriorCid)
	assert.Equal(t, OperRoot, wr.Oper)
	assert.Equal(t, 0, store.outstanding())
}

func TestWalkChainSwitchUsesRawUndoPtr(t *testing.T) {
	oracle := newFakeOracle(100)
	store := newFakeUndoStore()
	page := newFakePageMetadata(5)

	cur := liveTuple(1, 1, FlagInplaceUpdated, 1)
	urecPtr := UndoPointer{Block: 1, Offset: 5}
	blkPrev := UndoPointer{Block: 1, Offset: 4}
	altPtr := UndoPointer{Block: 9, Offset: 9}

	store.put(urecPtr, UndoRecord{
		Type:         UndoInplaceUpdate,
		PrevXid:      50,
		Cid:          2,
		BlkPrev:      blkPrev,
		PriorVersion: &UndoVersion{Flags: 0, Slot: 2, Payload: []byte("older")}, // different slot
	})
	// The prior version's own raw undo pointer, as recorded on the page
	// for this physical tid after slot recycling.
	page.rawPtr[cur.Header.Self] = altPtr

	wr, err := walk(oracle, store, page, urecPtr, cur, 60, nil)
	assert.NoError(t, err)
	assert.Equal(t, altPtr, wr.PriorUrecPtr, "chain switch must follow the prior version's raw undo pointer, not blkprev")
	assert.NotEqual(t, blkPrev, wr.PriorUrecPtr)
}

func TestWalkSkipsInvalidXactSlotMarkers(t *testing.T) {
	oracle := newFakeOracle(100)
	store := newFakeUndoStore()
	page := newFakePageMetadata(5)

	cur := liveTuple(1, 1, FlagInplaceUpdated, 1)
	urecPtr := UndoPointer{Block: 1, Offset: 5}
	store.put(urecPtr, UndoRecord{
		Type:    UndoInvalidXactSlot,
		BlkPrev: UndoPointer{Block: 1, Offset: 4},
	})
	store.put(UndoPointer{Block: 1, Offset: 4}, UndoRecord{
		Type:         UndoDelete,
		PrevXid:      42,
		Cid:          1,
		BlkPrev:      UndoPointer{Block: 1, Offset: 3},
		PriorVersion: &UndoVersion{Flags: 0, Slot: 1, Payload: []byte("was-live")},
	})

	wr, err := walk(oracle, store, page, urecPtr, cur, 60, nil)
	assert.NoError(t, err)
	assert.Equal(t, Xid(42), wr.PriorXid)
	assert.Equal(t, OperRoot, wr.Oper)
	assert.Equal(t, 0, store.outstanding())
}

func TestWalkRejectsDeletedUpdatedRecoveredTuple(t *testing.T) {
	oracle := newFakeOracle(100)
	store := newFakeUndoStore()
	page := newFakePageMetadata(5)

	cur := liveTuple(1, 1, FlagInplaceUpdated, 1)
	urecPtr := UndoPointer{Block: 1, Offset: 5}
	store.put(urecPtr, UndoRecord{
		Type:         UndoInplaceUpdate,
		PrevXid:      50,
		Cid:          2,
		PriorVersion: &UndoVersion{Flags: FlagDeleted | FlagUpdated, Slot: 1},
	})

	_, err := walk(oracle, store, page, urecPtr, cur, 60, nil)
	assert.Error(t, err)
}

func TestWalkExposesSuccessorForUpdateRecords(t *testing.T) {
	oracle := newFakeOracle(100)
	store := newFakeUndoStore()
	page := newFakePageMetadata(5)

	cur := liveTuple(1, 1, FlagUpdated, 1)
	urecPtr := UndoPointer{Block: 1, Offset: 5}
	successor := Tid{Block: 2, Offset: 1}
	store.put(urecPtr, UndoRecord{
		Type:         UndoUpdate,
		PrevXid:      50,
		Cid:          2,
		BlkPrev:      UndoPointer{Block: 1, Offset: 4},
		PriorVersion: &UndoVersion{Flags: 0, Slot: 1},
		Successor:    successor,
	})

	wr, err := walk(oracle, store, page, urecPtr, cur, 60, nil)
	assert.NoError(t, err)
	assert.True(t, wr.HasSuccessor)
	assert.Equal(t, successor, wr.Successor)
}
