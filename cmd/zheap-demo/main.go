// zheap-demo walks the six canonical undo-visibility scenarios through the
// real zheap predicates against an in-memory page, so the engine's
// behavior can be read off a log instead of a unit test assertion.
package main

import (
	"flag"
	"os"

	"github.com/zhukovaskychina/xmysql-server/logger"
	"github.com/zhukovaskychina/xmysql-server/server/conf"
	"github.com/zhukovaskychina/xmysql-server/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-server/server/innodb/zheap"
)

// memOracle is a fixed-roster TransactionOracle: one current xid, a set of
// in-progress xids, a set of committed xids; everything else is aborted.
type memOracle struct {
	current    zheap.Xid
	inProgress map[zheap.Xid]bool
	committed  map[zheap.Xid]bool
}

func newMemOracle(current zheap.Xid) *memOracle {
	return &memOracle{current: current, inProgress: map[zheap.Xid]bool{}, committed: map[zheap.Xid]bool{}}
}

func (o *memOracle) IsCurrent(xid zheap.Xid) bool    { return xid == o.current }
func (o *memOracle) IsInProgress(xid zheap.Xid) bool { return o.inProgress[xid] }
func (o *memOracle) DidCommit(xid zheap.Xid) bool    { return o.committed[xid] }
func (o *memOracle) Precedes(xid, horizon zheap.Xid) bool {
	return xid < horizon
}
func (o *memOracle) InMVCCSnapshot(xid zheap.Xid, snapshot *zheap.Snapshot) bool {
	if snapshot == nil || snapshot.InMVCCSnapshot == nil {
		return false
	}
	return snapshot.InMVCCSnapshot(xid)
}

// memUndoStore is a flat map of undo records keyed by pointer, standing in
// for a real page's undo segment.
type memUndoStore struct {
	records map[zheap.UndoPointer]*zheap.UndoRecord
}

func newMemUndoStore() *memUndoStore {
	return &memUndoStore{records: map[zheap.UndoPointer]*zheap.UndoRecord{}}
}

func (s *memUndoStore) put(ptr zheap.UndoPointer, rec zheap.UndoRecord) {
	cp := rec
	s.records[ptr] = &cp
}

func (s *memUndoStore) Fetch(ptr zheap.UndoPointer, block uint32, offset uint16, prevUndoXid *zheap.Xid) (*zheap.UndoRecord, error) {
	return s.records[ptr], nil
}

func (s *memUndoStore) Release(rec *zheap.UndoRecord) {}

// memPage is a single page's transaction-slot table plus per-tid raw undo
// pointer/cid bookkeeping.
type memPage struct {
	slots   map[zheap.SlotIndex]zheap.TransactionSlotEntry
	rawPtr  map[zheap.Tid]zheap.UndoPointer
	cid     map[zheap.Tid]zheap.Cid
	horizon zheap.Xid
}

func newMemPage(horizon zheap.Xid) *memPage {
	return &memPage{
		slots:   map[zheap.SlotIndex]zheap.TransactionSlotEntry{},
		rawPtr:  map[zheap.Tid]zheap.UndoPointer{},
		cid:     map[zheap.Tid]zheap.Cid{},
		horizon: horizon,
	}
}

func (p *memPage) Slot(idx zheap.SlotIndex) zheap.TransactionSlotEntry { return p.slots[idx] }
func (p *memPage) RawUndoPtr(tuple *zheap.Tuple) zheap.UndoPointer     { return p.rawPtr[tuple.Header.Self] }
func (p *memPage) Cid(tuple *zheap.Tuple) zheap.Cid                    { return p.cid[tuple.Header.Self] }
func (p *memPage) Horizon() zheap.Xid                                  { return p.horizon }

func tuple(block uint32, flags zheap.TupleFlags, slot zheap.SlotIndex) *zheap.Tuple {
	return &zheap.Tuple{
		Header:  zheap.TupleHeader{Self: zheap.Tid{Block: block, Offset: 1}, TableID: 1, Flags: flags, Slot: slot},
		Payload: []byte("row"),
	}
}

func openSnapshot(curcid zheap.Cid) *zheap.Snapshot {
	return &zheap.Snapshot{Curcid: curcid, InMVCCSnapshot: func(zheap.Xid) bool { return false }}
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "configPath", "", "my.ini 配置文件路径，留空则使用内置默认值")
	flag.Parse()
	logger.InitLogger(logger.LogConfig{LogLevel: "info"})

	var visCfg conf.VisibilityConfig
	if configPath != "" {
		cfg := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: configPath})
		visCfg = cfg.Visibility
	} else {
		visCfg = conf.VisibilityConfig{RecentGlobalXminLag: 1000, UndoRecordChecksum: true, UndoRecordCompression: true, CompressionThreshold: 128}
	}
	logger.Infof("zheap-demo starting, recent_global_xmin_lag=%d checksum=%v compression=%v",
		visCfg.RecentGlobalXminLag, visCfg.UndoRecordChecksum, visCfg.UndoRecordCompression)

	const (
		t1      zheap.Xid = 100
		t2      zheap.Xid = 101
		me      zheap.Xid = 102
		horizon zheap.Xid = 90
		curcid  zheap.Cid = 5
	)

	runScenario(1, "insert by committed T1, no updates", func() {
		oracle := newMemOracle(me)
		oracle.committed[t1] = true
		store := newMemUndoStore()
		page := newMemPage(horizon)

		tup := tuple(1, 0, 0)
		page.slots[0] = zheap.TransactionSlotEntry{Xid: t1}
		ctx := zheap.PageContext{Oracle: oracle, Store: store, Page: page}

		reportMVCC(tup, ctx, curcid)
		reportOldestXmin(tup, ctx, 95)
	})

	runScenario(2, "insert T1 committed, deleted by in-progress T2", func() {
		oracle := newMemOracle(me)
		oracle.committed[t1] = true
		oracle.inProgress[t2] = true
		store := newMemUndoStore()
		page := newMemPage(horizon)

		tup := tuple(1, zheap.FlagDeleted, 1)
		ptr := zheap.UndoPointer{Block: 1, Offset: 5}
		page.slots[1] = zheap.TransactionSlotEntry{Xid: t2, UrecPtr: ptr}
		page.rawPtr[tup.Header.Self] = ptr
		page.slots[0] = zheap.TransactionSlotEntry{Xid: t1}
		store.put(ptr, zheap.UndoRecord{Type: zheap.UndoDelete, PrevXid: t1, PriorVersion: &zheap.UndoVersion{Flags: 0, Slot: 0}})
		ctx := zheap.PageContext{Oracle: oracle, Store: store, Page: page}

		reportMVCC(tup, ctx, curcid)
		reportDirty(tup, ctx, curcid)
		reportUpdate(tup, ctx, curcid)
	})

	runScenario(3, "in-place update by me at cid=3, current cid=5: post-image", func() {
		oracle := newMemOracle(me)
		store := newMemUndoStore()
		page := newMemPage(horizon)

		tup := tuple(1, zheap.FlagInplaceUpdated, 2)
		page.slots[2] = zheap.TransactionSlotEntry{Xid: me}
		page.cid[tup.Header.Self] = 3
		ctx := zheap.PageContext{Oracle: oracle, Store: store, Page: page}

		reportMVCC(tup, ctx, curcid)
	})

	runScenario(4, "in-place update by me at cid=7, current cid=5: pre-image via undo", func() {
		oracle := newMemOracle(me)
		store := newMemUndoStore()
		page := newMemPage(horizon)

		tup := tuple(1, zheap.FlagInplaceUpdated, 2)
		ptr := zheap.UndoPointer{Block: 1, Offset: 8}
		page.slots[2] = zheap.TransactionSlotEntry{Xid: me, UrecPtr: ptr}
		page.cid[tup.Header.Self] = 7
		page.rawPtr[tup.Header.Self] = ptr
		store.put(ptr, zheap.UndoRecord{Type: zheap.UndoInplaceUpdate, PrevXid: me, Cid: 2,
			PriorVersion: &zheap.UndoVersion{Flags: 0, Slot: 2, Payload: []byte("pre-image")}})
		ctx := zheap.PageContext{Oracle: oracle, Store: store, Page: page}

		reportMVCC(tup, ctx, curcid)
	})

	runScenario(5, "delete by aborted T2 over insert-committed T1", func() {
		oracle := newMemOracle(me)
		oracle.committed[t1] = true
		store := newMemUndoStore()
		page := newMemPage(horizon)

		tup := tuple(1, zheap.FlagDeleted, 1)
		ptr := zheap.UndoPointer{Block: 1, Offset: 6}
		page.slots[1] = zheap.TransactionSlotEntry{Xid: t2, UrecPtr: ptr}
		page.rawPtr[tup.Header.Self] = ptr
		page.slots[0] = zheap.TransactionSlotEntry{Xid: t1}
		store.put(ptr, zheap.UndoRecord{Type: zheap.UndoDelete, PrevXid: t1, PriorVersion: &zheap.UndoVersion{Flags: 0, Slot: 0}})
		ctx := zheap.PageContext{Oracle: oracle, Store: store, Page: page}

		reportMVCC(tup, ctx, curcid)
		reportOldestXmin(tup, ctx, 95)
	})

	runScenario(6, "slot frozen, flags=DELETED", func() {
		oracle := newMemOracle(me)
		store := newMemUndoStore()
		page := newMemPage(horizon)

		tup := tuple(1, zheap.FlagDeleted, zheap.FrozenSlot)
		ctx := zheap.PageContext{Oracle: oracle, Store: store, Page: page}

		reportMVCC(tup, ctx, curcid)
		dead, err := zheap.IsSurelyDead(tup, 95, ctx)
		if err != nil {
			logger.Warnf("  SurelyDead: error %v", err)
		} else {
			logger.Infof("  SurelyDead: %v", dead)
		}
		reportOldestXmin(tup, ctx, 95)
	})

	runScenario(7, "in-place update, pre-image fetched from a real on-disk undo log", func() {
		runDiskBackedScenario(visCfg, t1, me, horizon, curcid)
	})
}

// runDiskBackedScenario is scenario 7: unlike scenarios 1-6, whose UndoStore
// is an in-memory map, this one routes the walk through a real
// manager.UndoLogManager (constructed with the loaded VisibilityConfig's
// checksum/compression knobs) and manager.UndoStoreAdapter, so the pre-image
// is actually written to, and read back off, disk. It mirrors scenario 4
// (in-place self update, cid=7 > curcid=5: pre-image via undo) but with a
// disk-backed UndoStore instead of the in-memory fixture. The adapter reports
// an entry's TrxID as the record's PrevXid and carries no cid, so the
// pre-image is appended under committed T1, its producer.
func runDiskBackedScenario(visCfg conf.VisibilityConfig, t1, me, horizon zheap.Xid, curcid zheap.Cid) {
	dir, err := os.MkdirTemp("", "zheap-demo-undo-*")
	if err != nil {
		logger.Warnf("  mkdtemp: %v", err)
		return
	}
	defer os.RemoveAll(dir)

	mgr, err := manager.NewUndoLogManagerWithCodec(dir,
		visCfg.UndoRecordChecksum, visCfg.UndoRecordCompression, visCfg.CompressionThreshold)
	if err != nil {
		logger.Warnf("  undo log manager: %v", err)
		return
	}
	defer mgr.Close()

	preImage := make([]byte, visCfg.CompressionThreshold*2)
	for i := range preImage {
		preImage[i] = byte(i)
	}
	trxID := int64(t1)
	if err := mgr.Append(&manager.UndoLogEntry{
		LSN:     1,
		TrxID:   trxID,
		TableID: 1,
		Type:    manager.LOG_TYPE_UPDATE,
		Data:    preImage,
	}); err != nil {
		logger.Warnf("  undo log append: %v", err)
		return
	}
	offset, ok := mgr.LastOffset(trxID)
	if !ok {
		logger.Warnf("  no offset recorded for trx %d", trxID)
		return
	}

	store := manager.NewUndoStoreAdapter(mgr)
	oracle := newMemOracle(me)
	oracle.committed[t1] = true
	page := newMemPage(horizon)

	ptr := zheap.UndoPointer{Block: 0, Offset: uint32(offset)}
	tup := tuple(1, zheap.FlagInplaceUpdated, 2)
	page.slots[2] = zheap.TransactionSlotEntry{Xid: me, UrecPtr: ptr}
	page.rawPtr[tup.Header.Self] = ptr
	page.cid[tup.Header.Self] = 7 // > curcid, forces the walk into undo
	ctx := zheap.PageContext{Oracle: oracle, Store: store, Page: page}

	reportMVCC(tup, ctx, curcid)
}

func runScenario(n int, title string, fn func()) {
	logger.Infof("scenario %d: %s", n, title)
	fn()
}

func reportMVCC(tup *zheap.Tuple, ctx zheap.PageContext, curcid zheap.Cid) {
	result, ctid, err := zheap.SatisfiesMVCC(tup, openSnapshot(curcid), ctx)
	if err != nil {
		logger.Warnf("  MVCC: error %v", err)
		return
	}
	if result == nil {
		logger.Infof("  MVCC: invisible")
		return
	}
	logger.Infof("  MVCC: visible at %s, payload=%q", ctid, string(result.Payload))
}

func reportDirty(tup *zheap.Tuple, ctx zheap.PageContext, curcid zheap.Cid) {
	snap := openSnapshot(curcid)
	result, ctid, err := zheap.SatisfiesDirty(tup, snap, ctx)
	if err != nil {
		logger.Warnf("  Dirty: error %v", err)
		return
	}
	if result == nil {
		logger.Infof("  Dirty: invisible")
		return
	}
	logger.Infof("  Dirty: visible at %s, xmin=%d xmax=%d", ctid, snap.Xmin, snap.Xmax)
}

func reportUpdate(tup *zheap.Tuple, ctx zheap.PageContext, curcid zheap.Cid) {
	verdict, xid, cid, successor, inPlace, err := zheap.SatisfiesUpdate(tup, curcid, ctx, openSnapshot(curcid), false)
	if err != nil {
		logger.Warnf("  Update: error %v", err)
		return
	}
	logger.Infof("  Update: %s (xid=%d cid=%d successor=%s inPlaceOrLocked=%v)", verdict, xid, cid, successor, inPlace)
}

func reportOldestXmin(tup *zheap.Tuple, ctx zheap.PageContext, oldestXmin zheap.Xid) {
	verdict, xid, err := zheap.SatisfiesOldestXmin(tup, oldestXmin, ctx)
	if err != nil {
		logger.Warnf("  OldestXmin: error %v", err)
		return
	}
	logger.Infof("  OldestXmin: %s (xid=%d)", verdict, xid)
}
