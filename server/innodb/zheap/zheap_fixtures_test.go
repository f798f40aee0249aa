package zheap

// Test fixtures: an in-memory TransactionOracle/UndoStore/PageMetadata
// triple, grounded in the teacher's in-memory test doubles style (see
// server/innodb/storage/wrapper/mvcc/mvcc_test.go's bare structs built by
// hand rather than mocked).

type fakeOracle struct {
	current    Xid
	inProgress map[Xid]bool
	committed  map[Xid]bool
	horizon    Xid
}

func newFakeOracle(current Xid) *fakeOracle {
	return &fakeOracle{
		current:    current,
		inProgress: make(map[Xid]bool),
		committed:  make(map[Xid]bool),
	}
}

func (o *fakeOracle) IsCurrent(xid Xid) bool    { return xid == o.current }
func (o *fakeOracle) IsInProgress(xid Xid) bool { return o.inProgress[xid] }
func (o *fakeOracle) DidCommit(xid Xid) bool    { return o.committed[xid] }
func (o *fakeOracle) Precedes(xid, horizon Xid) bool {
	return xid < horizon
}
func (o *fakeOracle) InMVCCSnapshot(xid Xid, snapshot *Snapshot) bool {
	return snapshot.hides(xid)
}

// fakeUndoStore stores records by pointer and asserts every Fetch is
// balanced by exactly one Release (spec.md §5, §8 property 8).
type fakeUndoStore struct {
	records  map[UndoPointer]*UndoRecord
	fetched  map[*UndoRecord]bool
	fetchLog []UndoPointer
}

func newFakeUndoStore() *fakeUndoStore {
	return &fakeUndoStore{
		records: make(map[UndoPointer]*UndoRecord),
		fetched: make(map[*UndoRecord]bool),
	}
}

func (s *fakeUndoStore) put(ptr UndoPointer, rec UndoRecord) {
	cp := rec
	s.records[ptr] = &cp
}

func (s *fakeUndoStore) Fetch(ptr UndoPointer, block uint32, offset uint16, prevUndoXid *Xid) (*UndoRecord, error) {
	s.fetchLog = append(s.fetchLog, ptr)
	rec, ok := s.records[ptr]
	if !ok {
		return nil, nil
	}
	s.fetched[rec] = true
	return rec, nil
}

func (s *fakeUndoStore) Release(rec *UndoRecord) {
	delete(s.fetched, rec)
}

func (s *fakeUndoStore) outstanding() int { return len(s.fetched) }

// fakePageMetadata is a single page's slot table plus per-tid raw undo
// pointer/cid bookkeeping.
type fakePageMetadata struct {
	slots   map[SlotIndex]TransactionSlotEntry
	rawPtr  map[Tid]UndoPointer
	cid     map[Tid]Cid
	horizon Xid
}

func newFakePageMetadata(horizon Xid) *fakePageMetadata {
	return &fakePageMetadata{
		slots:   make(map[SlotIndex]TransactionSlotEntry),
		rawPtr:  make(map[Tid]UndoPointer),
		cid:     make(map[Tid]Cid),
		horizon: horizon,
	}
}

func (p *fakePageMetadata) Slot(idx SlotIndex) TransactionSlotEntry { return p.slots[idx] }
func (p *fakePageMetadata) RawUndoPtr(tuple *Tuple) UndoPointer     { return p.rawPtr[tuple.Header.Self] }
func (p *fakePageMetadata) Cid(tuple *Tuple) Cid                    { return p.cid[tuple.Header.Self] }
func (p *fakePageMetadata) Horizon() Xid                            { return p.horizon }

func liveTuple(block uint32, table uint64, flags TupleFlags, slot SlotIndex) *Tuple {
	return &Tuple{
		Header: TupleHeader{
			Self:    Tid{Block: block, Offset: 1},
			TableID: table,
			Flags:   flags,
			Slot:    slot,
		},
		Payload: []byte("live"),
	}
}
