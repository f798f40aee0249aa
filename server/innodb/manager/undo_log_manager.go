package manager

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// undoEntryFlags bit layout for the on-disk entry header.
const undoEntryCompressedFlag uint8 = 1 << 0

// undoEntryHeaderSize is the fixed-size part of an on-disk entry: LSN(8) +
// TrxID(8) + TableID(8) + Type(1) + flags(1) + dataLen(4).
const undoEntryHeaderSize = 8 + 8 + 8 + 1 + 1 + 4

// undoFileMagic opens every undo file. It exists only to keep offset 0
// unused by any real entry: zheap.UndoPointer{} (Block 0, Offset 0) is the
// chain-terminating null pointer (UndoPointer.IsNull), so the first entry
// ever appended must not land at offset 0 or UndoStoreAdapter.Fetch could
// never be called with a valid pointer to it.
var undoFileMagic = [8]byte{'z', 'u', 'n', 'd', 'o', '0', '0', '1'}

// undoEntryLoc is the in-memory index entry readEntryAt/Fetch need to find
// and chain an on-disk record: where it was written, and the file offset of
// the previous entry appended for the same transaction (the chain a
// zheap.UndoStore.Fetch caller walks via BlkPrev).
type undoEntryLoc struct {
	trxID      int64
	prevOffset int64 // -1 if this is the first entry written for trxID
}

// UndoLogManager 撤销日志管理器
type UndoLogManager struct {
	mu       sync.RWMutex
	logs     map[int64][]UndoLogEntry // 事务ID -> Undo日志列表
	undoDir  string                   // Undo日志目录
	undoFile *os.File                 // Undo日志文件

	// 事务状态跟踪
	activeTxns    map[int64]bool // 活跃事务集合
	oldestTxnTime time.Time      // 最老事务开始时间

	// read-path index: file offset -> location metadata, and the most
	// recent offset written per transaction, so Fetch can reconstruct a
	// chain the way a page's transaction-slot table does.
	locs            map[int64]undoEntryLoc
	lastOffsetByTrx map[int64]int64
	writeOffset     int64

	// wire-format knobs (server/conf.VisibilityConfig)
	checksumEnabled      bool
	compressionEnabled   bool
	compressionThreshold int
}

// NewUndoLogManager 创建新的撤销日志管理器
func NewUndoLogManager(undoDir string) (*UndoLogManager, error) {
	return NewUndoLogManagerWithCodec(undoDir, true, true, 128)
}

// NewUndoLogManagerWithCodec is NewUndoLogManager with the undo-record
// checksum/compression knobs exposed, per server/conf.VisibilityConfig.
func NewUndoLogManagerWithCodec(undoDir string, checksumEnabled, compressionEnabled bool, compressionThreshold int) (*UndoLogManager, error) {
	if err := os.MkdirAll(undoDir, 0755); err != nil {
		return nil, err
	}

	undoFile, err := os.OpenFile(
		filepath.Join(undoDir, "undo.log"),
		os.O_CREATE|os.O_RDWR|os.O_APPEND,
		0644,
	)
	if err != nil {
		return nil, err
	}
	info, err := undoFile.Stat()
	if err != nil {
		return nil, err
	}
	writeOffset := info.Size()
	if writeOffset == 0 {
		if _, err := undoFile.Write(undoFileMagic[:]); err != nil {
			return nil, err
		}
		if err := undoFile.Sync(); err != nil {
			return nil, err
		}
		writeOffset = int64(len(undoFileMagic))
	}

	return &UndoLogManager{
		logs:                 make(map[int64][]UndoLogEntry),
		activeTxns:           make(map[int64]bool),
		undoDir:              undoDir,
		undoFile:             undoFile,
		locs:                 make(map[int64]undoEntryLoc),
		lastOffsetByTrx:      make(map[int64]int64),
		writeOffset:          writeOffset,
		checksumEnabled:      checksumEnabled,
		compressionEnabled:   compressionEnabled,
		compressionThreshold: compressionThreshold,
	}, nil
}

// Append 追加一条撤销日志
func (u *UndoLogManager) Append(entry *UndoLogEntry) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	// 设置创建时间
	entry.Timestamp = time.Now()

	// 如果是新事务，更新活跃事务集合
	if !u.activeTxns[entry.TrxID] {
		u.activeTxns[entry.TrxID] = true
		if u.oldestTxnTime.IsZero() || entry.Timestamp.Before(u.oldestTxnTime) {
			u.oldestTxnTime = entry.Timestamp
		}
	}

	// 添加到内存中
	u.logs[entry.TrxID] = append(u.logs[entry.TrxID], *entry)

	// 写入文件，记录该条目在文件中的位置以便 Fetch/Load 读回
	offset, err := u.writeEntryToFile(entry)
	if err != nil {
		return err
	}
	prevOffset, hadPrev := u.lastOffsetByTrx[entry.TrxID]
	if !hadPrev {
		prevOffset = -1
	}
	u.locs[offset] = undoEntryLoc{trxID: entry.TrxID, prevOffset: prevOffset}
	u.lastOffsetByTrx[entry.TrxID] = offset
	return nil
}

// writeEntryToFile 将Undo日志写入文件, returning the byte offset the entry's
// header starts at so callers can index it for later reads.
//
// Wire format per entry: LSN, TrxID, TableID, Type, flags, data length,
// (possibly snappy-compressed) data, and — when checksumEnabled — an
// xxhash64 checksum of the uncompressed data, so readEntryAt can detect a
// torn write independently of decompression succeeding.
func (u *UndoLogManager) writeEntryToFile(entry *UndoLogEntry) (int64, error) {
	offset := u.writeOffset
	written := 0

	// 写入LSN
	if err := binary.Write(u.undoFile, binary.BigEndian, entry.LSN); err != nil {
		return 0, err
	}
	written += 8

	// 写入事务ID
	if err := binary.Write(u.undoFile, binary.BigEndian, entry.TrxID); err != nil {
		return 0, err
	}
	written += 8

	// 写入表ID
	if err := binary.Write(u.undoFile, binary.BigEndian, entry.TableID); err != nil {
		return 0, err
	}
	written += 8

	// 写入操作类型
	if err := binary.Write(u.undoFile, binary.BigEndian, entry.Type); err != nil {
		return 0, err
	}
	written += 1

	data := entry.Data
	var flags uint8
	if u.compressionEnabled && len(data) >= u.compressionThreshold {
		data = snappy.Encode(nil, entry.Data)
		flags |= undoEntryCompressedFlag
	}
	if err := binary.Write(u.undoFile, binary.BigEndian, flags); err != nil {
		return 0, err
	}
	written += 1

	dataLen := uint32(len(data))
	if err := binary.Write(u.undoFile, binary.BigEndian, dataLen); err != nil {
		return 0, err
	}
	written += 4
	if _, err := u.undoFile.Write(data); err != nil {
		return 0, err
	}
	written += len(data)

	if u.checksumEnabled {
		checksum := xxhash.Checksum64(entry.Data)
		if err := binary.Write(u.undoFile, binary.BigEndian, checksum); err != nil {
			return 0, err
		}
		written += 8
	}

	if err := u.undoFile.Sync(); err != nil {
		return 0, err
	}
	u.writeOffset += int64(written)
	return offset, nil
}

// decodeEntryData reverses writeEntryToFile's compression step.
func decodeEntryData(data []byte, flags uint8) ([]byte, error) {
	if flags&undoEntryCompressedFlag == 0 {
		return data, nil
	}
	return snappy.Decode(nil, data)
}

// readEntryAt reads back the entry written at offset by writeEntryToFile,
// decompressing and checksum-verifying it the way writeEntryToFile's own
// comment promises: a torn write surfaces as a distinct error from a
// checksum mismatch, and both are distinct from "no entry at this offset"
// (handled by the caller via u.locs lookup, meaning the record was
// discarded rather than corrupted).
func (u *UndoLogManager) readEntryAt(offset int64) (*UndoLogEntry, error) {
	header := make([]byte, undoEntryHeaderSize)
	if _, err := u.undoFile.ReadAt(header, offset); err != nil {
		return nil, errors.Wrapf(err, "undo log: read entry header at offset %d", offset)
	}

	entry := &UndoLogEntry{
		LSN:     binary.BigEndian.Uint64(header[0:8]),
		TrxID:   int64(binary.BigEndian.Uint64(header[8:16])),
		TableID: binary.BigEndian.Uint64(header[16:24]),
		Type:    header[24],
	}
	flags := header[25]
	dataLen := binary.BigEndian.Uint32(header[26:30])

	raw := make([]byte, dataLen)
	dataOffset := offset + undoEntryHeaderSize
	if dataLen > 0 {
		if _, err := u.undoFile.ReadAt(raw, dataOffset); err != nil {
			return nil, errors.Wrapf(err, "undo log: read entry data at offset %d", offset)
		}
	}

	data, err := decodeEntryData(raw, flags)
	if err != nil {
		return nil, errors.Wrapf(err, "undo log: decompress entry at offset %d", offset)
	}

	if u.checksumEnabled {
		csBuf := make([]byte, 8)
		if _, err := u.undoFile.ReadAt(csBuf, dataOffset+int64(dataLen)); err != nil {
			return nil, errors.Wrapf(err, "undo log: read entry checksum at offset %d", offset)
		}
		checksum := binary.BigEndian.Uint64(csBuf)
		if !verifyChecksum(data, checksum) {
			return nil, errors.Errorf("undo log: checksum mismatch for entry at offset %d", offset)
		}
	}

	entry.Data = data
	return entry, nil
}

// Load reads back the entry written at the given file offset (as recorded
// by Append), returning (nil, nil) if no entry is indexed at that offset —
// the "discarded" case UndoStoreAdapter.Fetch reports to zheap as a nil
// record rather than an error.
func (u *UndoLogManager) Load(offset int64) (*UndoLogEntry, error) {
	u.mu.RLock()
	_, ok := u.locs[offset]
	u.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return u.readEntryAt(offset)
}

// loadWithLoc is Load plus the location metadata (the previous entry's
// offset for the same transaction), which UndoStoreAdapter.Fetch needs to
// populate a zheap.UndoRecord's BlkPrev chain pointer.
func (u *UndoLogManager) loadWithLoc(offset int64) (*UndoLogEntry, undoEntryLoc, error) {
	u.mu.RLock()
	loc, ok := u.locs[offset]
	u.mu.RUnlock()
	if !ok {
		return nil, undoEntryLoc{}, nil
	}
	entry, err := u.readEntryAt(offset)
	if err != nil {
		return nil, undoEntryLoc{}, err
	}
	return entry, loc, nil
}

// verifyChecksum reports whether data matches the xxhash64 checksum
// written alongside it.
func verifyChecksum(data []byte, checksum uint64) bool {
	return xxhash.Checksum64(data) == checksum
}

// LastOffset returns the file offset of the most recently appended entry
// for trxID, for a caller (e.g. UndoStoreAdapter's consumer) that needs a
// zheap.UndoPointer into this manager's undo file right after Append.
func (u *UndoLogManager) LastOffset(trxID int64) (int64, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	offset, ok := u.lastOffsetByTrx[trxID]
	return offset, ok
}

// Rollback 回滚指定事务
func (u *UndoLogManager) Rollback(txID int64) error {
	u.mu.Lock()

	entries, exists := u.logs[txID]
	if !exists {
		u.mu.Unlock()
		return errors.New("transaction not found")
	}

	// 从后向前回滚
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		// TODO: 应用回滚操作
		// 这里需要调用缓冲池管理器来恢复旧值
		_ = entry // 临时使用以避免编译器警告
	}
	u.mu.Unlock()

	// 清理事务记录 (Cleanup takes u.mu itself)
	u.Cleanup(txID)

	return nil
}

// Cleanup 清理事务的Undo日志
func (u *UndoLogManager) Cleanup(txID int64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	delete(u.logs, txID)
	delete(u.activeTxns, txID)

	// 更新最老事务时间
	if len(u.activeTxns) == 0 {
		u.oldestTxnTime = time.Time{}
	} else {
		oldestTime := time.Now()
		for txID := range u.activeTxns {
			if entries := u.logs[txID]; len(entries) > 0 {
				if entries[0].Timestamp.Before(oldestTime) {
					oldestTime = entries[0].Timestamp
				}
			}
		}
		u.oldestTxnTime = oldestTime
	}
}

// GetActiveTxns 获取活跃事务列表
func (u *UndoLogManager) GetActiveTxns() []int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()

	txns := make([]int64, 0, len(u.activeTxns))
	for txID := range u.activeTxns {
		txns = append(txns, txID)
	}
	return txns
}

// GetOldestTxnTime 获取最老事务的开始时间
func (u *UndoLogManager) GetOldestTxnTime() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.oldestTxnTime
}

// Close 关闭Undo日志管理器
func (u *UndoLogManager) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.undoFile.Close()
}
