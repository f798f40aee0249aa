package manager

import (
	"github.com/zhukovaskychina/xmysql-server/server/innodb/zheap"
)

// UndoStoreAdapter adapts an UndoLogManager's on-disk undo log to
// zheap.UndoStore (server/innodb/zheap/undostore.go, C2), so a chain walk
// (chainwalker.go's walk) reads real, checksum-verified, optionally
// decompressed undo records off disk instead of only the in-memory test
// and demo fixtures.
//
// zheap.UndoPointer addresses a record as (Block, Offset); this adapter has
// a single undo file per manager, so Block is always 0 and Offset is the
// file byte offset UndoLogManager.Append recorded the entry at.
type UndoStoreAdapter struct {
	mgr *UndoLogManager
}

// NewUndoStoreAdapter wraps mgr as a zheap.UndoStore.
func NewUndoStoreAdapter(mgr *UndoLogManager) *UndoStoreAdapter {
	return &UndoStoreAdapter{mgr: mgr}
}

// Fetch implements zheap.UndoStore. prevUndoXid is accepted for interface
// compliance but unused: this adapter's chain is already disambiguated by
// file offset, so there is nothing for the advisory xid filter to narrow.
func (a *UndoStoreAdapter) Fetch(ptr zheap.UndoPointer, block uint32, offset uint16, prevUndoXid *zheap.Xid) (*zheap.UndoRecord, error) {
	if ptr.IsNull() {
		return nil, nil
	}
	entry, loc, err := a.mgr.loadWithLoc(int64(ptr.Offset))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return &zheap.UndoRecord{
		Type:    undoRecordTypeFor(entry.Type),
		PrevXid: zheap.Xid(entry.TrxID),
		Cid:     zheap.InvalidCid,
		BlkPrev: blkPrevPointer(loc),
		// UndoLogEntry carries no prior-tuple-header bits, only the
		// payload, so the reconstructed version is always reported LIVE
		// (flags 0, slot 0). A chain walk classifies the operation from
		// those flags, so every version read through this adapter comes
		// back as OperRoot; the log operation kind is only in rec.Type
		// (from undoRecordTypeFor).
		PriorVersion: &zheap.UndoVersion{
			Payload: entry.Data,
		},
	}, nil
}

// Release implements zheap.UndoStore. The adapter holds no per-fetch
// resource (readEntryAt's buffers are plain GC'd slices), so there is
// nothing to release.
func (a *UndoStoreAdapter) Release(rec *zheap.UndoRecord) {}

// blkPrevPointer turns loc's previous-offset bookkeeping into the
// zheap.UndoPointer a chain walk follows next; the null pointer means "no
// further undo for this transaction" (zheap.UndoPointer.IsNull).
func blkPrevPointer(loc undoEntryLoc) zheap.UndoPointer {
	if loc.prevOffset < 0 {
		return zheap.UndoPointer{}
	}
	return zheap.UndoPointer{Block: 0, Offset: uint32(loc.prevOffset)}
}

// undoRecordTypeFor maps UndoLogEntry's flat log-operation byte onto
// zheap's UndoRecordType. LOG_TYPE_COMPENSATE has no real zheap analogue
// (it is the relational-undo notion of "undo of an undo"); it maps to
// UndoXidLockOnly, the closest "administrative, carries no real prior
// image" record type zheap defines.
func undoRecordTypeFor(logType uint8) zheap.UndoRecordType {
	switch logType {
	case LOG_TYPE_INSERT:
		return zheap.UndoInsert
	case LOG_TYPE_UPDATE:
		return zheap.UndoInplaceUpdate
	case LOG_TYPE_DELETE:
		return zheap.UndoDelete
	case LOG_TYPE_COMPENSATE:
		return zheap.UndoXidLockOnly
	default:
		return zheap.UndoInplaceUpdate
	}
}
