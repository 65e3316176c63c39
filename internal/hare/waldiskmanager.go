package hare

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// ───────────────────────────────────────────────────────────────────────────
// WAL-backed disk manager
// ───────────────────────────────────────────────────────────────────────────
//
// WALDiskManager stages every mutation (including writes to the header and
// free-stack pages, which are just PageID 0 and 1 like any other page) into
// an in-memory map and a companion append-only log, and only touches the
// main file at Commit time. This gives read-your-writes within one
// transaction while keeping the main file itself always self-consistent
// between transactions, since it is only ever mutated by applying a fully
// durable, committed WAL.
//
// Only one write transaction may be open at a time, per the file-wide
// writer-exclusive discipline, so there is no TxID bookkeeping beyond a
// single monotonically increasing counter.
type WALDiskManager struct {
	mu sync.Mutex

	df  *diskFile
	wal *WALFile

	nextTx   TxID
	activeTx TxID
	inTx     bool
	staged   map[PageID][]byte
}

func walPathFor(pagePath string) string {
	return pagePath + ".wal"
}

// CreateWAL creates a pristine page file plus its (empty) companion log.
func CreateWAL(path string, pageShift uint32, lockTimeout time.Duration) (*WALDiskManager, error) {
	return createWAL(path, pageShift, lockTimeout, false)
}

// CreateWALWithConfig is CreateWAL driven by a Config: cfg.PageShift sizes
// the file and cfg.UseDirectIO opts the main page file into O_DIRECT. The
// companion WAL log always stays on regular buffered I/O — it is a small,
// append-only, sequentially fsynced file, the case O_DIRECT's page-cache
// bypass benefits least, and its own record framing is not page-aligned.
func CreateWALWithConfig(path string, cfg Config) (*WALDiskManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return createWAL(path, cfg.PageShift, cfg.LockTimeout(), cfg.UseDirectIO)
}

func createWAL(path string, pageShift uint32, lockTimeout time.Duration, useDirectIO bool) (*WALDiskManager, error) {
	df, err := createDiskFile(path, FileTypePage, pageShift, lockTimeout, useDirectIO)
	if err != nil {
		return nil, err
	}
	wal, err := OpenWALFile(walPathFor(path), pageShift)
	if err != nil {
		df.f.Close()
		return nil, err
	}
	return &WALDiskManager{df: df, wal: wal, nextTx: 1}, nil
}

// OpenWAL opens an existing page file and replays its companion log,
// applying a committed-but-not-yet-truncated transaction or discarding an
// uncommitted one.
func OpenWAL(path string, lockTimeout time.Duration) (*WALDiskManager, error) {
	return openWAL(path, lockTimeout, false)
}

// OpenWALWithConfig is OpenWAL driven by a Config; cfg.UseDirectIO must
// match how the file was originally created.
func OpenWALWithConfig(path string, cfg Config) (*WALDiskManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return openWAL(path, cfg.LockTimeout(), cfg.UseDirectIO)
}

func openWAL(path string, lockTimeout time.Duration, useDirectIO bool) (*WALDiskManager, error) {
	df, err := openDiskFile(path, lockTimeout, useDirectIO)
	if err != nil {
		return nil, err
	}
	wal, err := OpenWALFile(walPathFor(path), df.pageShift)
	if err != nil {
		df.f.Close()
		return nil, err
	}

	m := &WALDiskManager{df: df, wal: wal, nextTx: 1}
	if err := m.recover(); err != nil {
		wal.Close()
		df.f.Close()
		return nil, err
	}
	return m, nil
}

// recover replays the companion log left from a prior session. A COMMITTED
// marker means every preceding record for that TxID is applied to the main
// file; anything else (ABORTED marker, or no marker at all — a crash mid
// logging) is discarded, and the log is truncated either way.
func (m *WALDiskManager) recover() error {
	recs, err := m.wal.ReadAllRecords()
	if err != nil {
		return fmt.Errorf("hare: replay %s: %w", filepath.Base(m.wal.path), err)
	}

	images := make(map[PageID][]byte)
	committed := false
	for _, rec := range recs {
		switch rec.Op {
		case walOpUpdate, walOpAllocate:
			images[rec.PageID] = rec.Payload
		case walOpFree:
			delete(images, rec.PageID)
		case walOpCommitted:
			committed = true
		case walOpAborted:
			committed = false
			images = make(map[PageID][]byte)
		}
	}

	if committed {
		for pid, buf := range images {
			if err := m.df.writePageRaw(pid, buf); err != nil {
				return err
			}
		}
		if err := m.df.f.Sync(); err != nil {
			return err
		}
		// Re-read the header/free-stack mirrors: either page may have been
		// part of the replayed image set.
		hdrBuf, err := m.df.readPageRaw(HeaderPageID)
		if err != nil {
			return err
		}
		hdr, err := UnmarshalFileHeader(hdrBuf)
		if err != nil {
			return err
		}
		m.df.header = hdr
		flBuf, err := m.df.readPageRaw(FreeListPageID)
		if err != nil {
			return err
		}
		free, err := UnmarshalFreeStack(flBuf, m.df.pageShift)
		if err != nil {
			return err
		}
		m.df.free = free
	}

	return m.wal.Truncate()
}

func (m *WALDiskManager) PageShift() uint32 { return m.df.pageShift }

func (m *WALDiskManager) ensureTx() TxID {
	if !m.inTx {
		m.activeTx = m.nextTx
		m.nextTx++
		m.inTx = true
		m.staged = make(map[PageID][]byte)
	}
	return m.activeTx
}

// Read returns the staged image of id if this transaction already wrote it
// (read-your-writes), otherwise the durably committed content.
func (m *WALDiskManager) Read(id PageID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.df.closed {
		return nil, ErrClosed
	}
	if buf, ok := m.staged[id]; ok {
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	}
	if err := m.df.boundsCheck(id); err != nil {
		return nil, err
	}
	return m.df.readPageRaw(id)
}

func (m *WALDiskManager) Update(id PageID, page []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.df.closed {
		return ErrClosed
	}
	if err := m.df.boundsCheck(id); err != nil {
		return err
	}
	tx := m.ensureTx()
	buf := append([]byte(nil), page...)
	if err := m.wal.AppendRecord(&WALRecord{TxID: tx, Op: walOpUpdate, PageID: id, Payload: buf}); err != nil {
		return err
	}
	m.staged[id] = buf
	return nil
}

func (m *WALDiskManager) Allocate() (PageID, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.df.closed {
		return InvalidPageID, nil, ErrClosed
	}
	tx := m.ensureTx()

	pid, ok := m.df.free.Pop()
	if !ok {
		pid = PageID(m.df.header.AllocatedPageCount)
		m.df.header.AllocatedPageCount++
	}
	buf := NewPageBuffer(m.df.pageShift)
	if err := m.wal.AppendRecord(&WALRecord{TxID: tx, Op: walOpAllocate, PageID: pid, Payload: buf}); err != nil {
		return InvalidPageID, nil, err
	}
	m.staged[pid] = buf
	m.stageHeaderAndFree(tx)
	return pid, buf, nil
}

func (m *WALDiskManager) Free(id PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.df.closed {
		return ErrClosed
	}
	if err := m.df.boundsCheck(id); err != nil {
		return err
	}
	tx := m.ensureTx()
	if err := m.wal.AppendRecord(&WALRecord{TxID: tx, Op: walOpFree, PageID: id}); err != nil {
		return err
	}
	delete(m.staged, id)
	m.df.free.Push(id)
	m.stageHeaderAndFree(tx)
	return nil
}

// stageHeaderAndFree re-stages the header and free-stack pages (0 and 1) as
// ordinary update records, since allocation/free mutate the in-memory
// mirrors that those pages serialize.
func (m *WALDiskManager) stageHeaderAndFree(tx TxID) {
	hdrBuf := MarshalFileHeader(m.df.header)
	m.staged[HeaderPageID] = hdrBuf
	_ = m.wal.AppendRecord(&WALRecord{TxID: tx, Op: walOpUpdate, PageID: HeaderPageID, Payload: hdrBuf})

	flBuf := m.df.free.MarshalFreeStack()
	m.staged[FreeListPageID] = flBuf
	_ = m.wal.AppendRecord(&WALRecord{TxID: tx, Op: walOpUpdate, PageID: FreeListPageID, Payload: flBuf})
}

// Commit durably applies every staged page image. Order matters: the
// COMMITTED marker must reach stable storage before any staged image is
// applied to the main file, and the log is only truncated after the main
// file itself is fsynced — otherwise a crash between applying images and
// truncating would lose the record of what still needs replaying.
func (m *WALDiskManager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.df.closed {
		return ErrClosed
	}
	if !m.inTx {
		return nil
	}

	if err := m.wal.AppendRecord(&WALRecord{TxID: m.activeTx, Op: walOpCommitted}); err != nil {
		return err
	}
	if err := m.wal.Sync(); err != nil {
		return err
	}

	for pid, buf := range m.staged {
		if err := m.df.writePageRaw(pid, buf); err != nil {
			return err
		}
	}
	if err := m.df.f.Sync(); err != nil {
		return err
	}
	if err := m.wal.Truncate(); err != nil {
		return err
	}

	if hdrBuf, ok := m.staged[HeaderPageID]; ok {
		hdr, err := UnmarshalFileHeader(hdrBuf)
		if err == nil {
			m.df.header = hdr
		}
	}
	if flBuf, ok := m.staged[FreeListPageID]; ok {
		free, err := UnmarshalFreeStack(flBuf, m.df.pageShift)
		if err == nil {
			m.df.free = free
		}
	}

	m.inTx = false
	m.staged = nil
	return nil
}

// Rollback discards every staged effect. The ABORTED marker is written for
// diagnostic durability only — recovery treats "no marker" identically.
func (m *WALDiskManager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.df.closed {
		return ErrClosed
	}
	if !m.inTx {
		return nil
	}
	_ = m.wal.AppendRecord(&WALRecord{TxID: m.activeTx, Op: walOpAborted})
	_ = m.wal.Sync()
	if err := m.wal.Truncate(); err != nil {
		return err
	}
	m.inTx = false
	m.staged = nil
	return nil
}

func (m *WALDiskManager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.df.closed {
		return ErrClosed
	}
	return m.df.f.Sync()
}

func (m *WALDiskManager) Checksum() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.df.closed {
		return 0, ErrClosed
	}
	return m.df.wholeFileChecksum()
}

func (m *WALDiskManager) Validate() (bool, error) {
	m.mu.Lock()
	expected := m.df.header.ContentChecksum
	closed := m.df.closed
	m.mu.Unlock()
	if closed {
		return false, ErrClosed
	}
	actual, err := m.Checksum()
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

// Close commits nothing outstanding is implied: an open transaction at
// Close time is rolled back, since uncommitted effects never survive a
// reopen.
func (m *WALDiskManager) Close() error {
	m.mu.Lock()
	if m.inTx {
		m.mu.Unlock()
		_ = m.Rollback()
		m.mu.Lock()
	}
	m.mu.Unlock()

	if err := m.wal.Close(); err != nil {
		return err
	}
	return m.df.lockedClose(true)
}
