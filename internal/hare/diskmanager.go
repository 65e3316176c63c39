package hare

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DiskManager owns a page file: translates PageId<->byte offset, maintains
// the file header and free-page stack, and guarantees exclusive access.
// Grounded on internal/storage/pager/pager.go's Pager, split into two
// concrete implementations (DirectDiskManager, WALDiskManager) because the
// direct/WAL duality is a first-class contract here rather than a single
// always-WAL pager.
type DiskManager interface {
	// PageShift returns the file's fixed page-size exponent.
	PageShift() uint32
	// Read copies the current content of pageId into a fresh buffer.
	Read(id PageID) ([]byte, error)
	// Update persists page content. Semantics differ by variant: the direct
	// manager writes through immediately, the WAL manager stages the write.
	Update(id PageID, page []byte) error
	// Allocate returns a new PageID — popped from the free stack if
	// non-empty, else the file is extended by one page — with a zeroed
	// buffer already staged/written for it.
	Allocate() (PageID, []byte, error)
	// Free pushes pageId onto the free stack; its bytes may be zeroed
	// lazily and the id must not be reused until allocated again.
	Free(id PageID) error
	// Commit applies staged effects (WAL variant) or is a no-op (direct).
	Commit() error
	// Rollback discards staged effects (WAL variant) or is a no-op (direct).
	Rollback() error
	// Sync forces durability of currently persisted content.
	Sync() error
	// Checksum recomputes the CRC32C over every allocated page.
	Checksum() (uint32, error)
	// Validate compares Checksum() against the header's recorded checksum.
	Validate() (bool, error)
	// Close flushes, releases the file lock, and closes the file channel.
	Close() error
}

// ───────────────────────────────────────────────────────────────────────────
// Shared file plumbing
// ───────────────────────────────────────────────────────────────────────────

type diskFile struct {
	mu          sync.RWMutex
	f           *os.File
	path        string
	pageShift   uint32
	header      *FileHeader
	free        *FreeStack
	sessionID   uuid.UUID
	closed      bool
	useDirectIO bool
}

func createDiskFile(path string, fileType uint32, pageShift uint32, lockTimeout time.Duration, useDirectIO bool) (*diskFile, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("hare: file %s already exists", path)
	}
	if pageShift < MinPageShift || pageShift > MaxPageShift {
		return nil, fmt.Errorf("%w: pageShift %d out of range [%d..%d]",
			ErrDataCorruption, pageShift, MinPageShift, MaxPageShift)
	}

	var f *os.File
	var err error
	if useDirectIO {
		f, err = openDirectIOFile(path, true)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("hare: create %s: %w", path, err)
	}
	if err := acquireFileLock(f, lockTimeout); err != nil {
		f.Close()
		return nil, err
	}

	header := NewFileHeader(fileType, pageShift)
	free := NewFreeStack(pageShift)
	df := &diskFile{f: f, path: path, pageShift: pageShift, header: header, free: free, sessionID: uuid.New(), useDirectIO: useDirectIO}

	if err := df.writePageRaw(HeaderPageID, MarshalFileHeader(header)); err != nil {
		f.Close()
		return nil, err
	}
	if err := df.writePageRaw(FreeListPageID, free.MarshalFreeStack()); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	return df, nil
}

func openDiskFile(path string, lockTimeout time.Duration, useDirectIO bool) (*diskFile, error) {
	var f *os.File
	var err error
	if useDirectIO {
		f, err = openDirectIOFile(path, false)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("hare: open %s: %w", path, err)
	}
	if err := acquireFileLock(f, lockTimeout); err != nil {
		f.Close()
		return nil, err
	}

	df := &diskFile{f: f, path: path, sessionID: uuid.New(), useDirectIO: useDirectIO}

	// Probe the page shift from a default-sized read of the header, then
	// re-read at the true size once known.
	probe := make([]byte, PageSize(DefaultPageShift))
	if _, err := f.ReadAt(probe, 0); err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("hare: read header of %s: %w", path, err)
	}
	shift := getUint32(probe, fhPageShiftOff)
	pageBuf := make([]byte, PageSize(shift))
	if _, err := f.ReadAt(pageBuf, 0); err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("hare: read header of %s: %w", path, err)
	}
	header, err := UnmarshalFileHeader(pageBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	df.pageShift = header.PageShift
	df.header = header

	flBuf, err := df.readPageRaw(FreeListPageID)
	if err != nil {
		f.Close()
		return nil, err
	}
	free, err := UnmarshalFreeStack(flBuf, df.pageShift)
	if err != nil {
		f.Close()
		return nil, err
	}
	df.free = free

	return df, nil
}

func (df *diskFile) readPageRaw(id PageID) ([]byte, error) {
	buf := df.newPageBuffer()
	off := int64(id) * int64(len(buf))
	if _, err := df.f.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, fmt.Errorf("hare: read page %d: %w", id, err)
	}
	return buf, nil
}

func (df *diskFile) writePageRaw(id PageID, buf []byte) error {
	off := int64(id) * int64(len(buf))
	if df.useDirectIO {
		// O_DIRECT requires the write to land on a block-aligned buffer
		// address, not just a block-aligned length — a plain []byte from
		// append/make is sized right but not guaranteed aligned, so every
		// write is staged through one of our own aligned buffers.
		aligned := df.newPageBuffer()
		copy(aligned, buf)
		buf = aligned
	}
	if _, err := df.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("hare: write page %d: %w", id, err)
	}
	return nil
}

// newPageBuffer returns a page-sized buffer for this file's I/O, aligned
// for O_DIRECT when the file was opened that way.
func (df *diskFile) newPageBuffer() []byte {
	if df.useDirectIO {
		return newAlignedPageBuffer(df.pageShift)
	}
	return make([]byte, PageSize(df.pageShift))
}

func (df *diskFile) boundsCheck(id PageID) error {
	if uint64(id) >= df.header.AllocatedPageCount {
		return fmt.Errorf("%w: page %d >= allocated count %d", ErrOutOfBounds, id, df.header.AllocatedPageCount)
	}
	return nil
}

func (df *diskFile) flushHeaderAndFree() error {
	if err := df.writePageRaw(HeaderPageID, MarshalFileHeader(df.header)); err != nil {
		return err
	}
	return df.writePageRaw(FreeListPageID, df.free.MarshalFreeStack())
}

// wholeFileChecksum computes CRC32C across every allocated page, zeroing
// the header's flags field (open and close flip its consistency bit) and
// its two checksum fields so the value is reproducible regardless of when
// it was last stamped.
func (df *diskFile) wholeFileChecksum() (uint32, error) {
	h := crc32.New(crcTable)
	for pid := uint64(0); pid < df.header.AllocatedPageCount; pid++ {
		buf, err := df.readPageRaw(PageID(pid))
		if err != nil {
			return 0, err
		}
		if pid == uint64(HeaderPageID) {
			clearUint64(buf, fhFlagsOff)
			clearUint64(buf, fhChecksumOff)
			clearUint64(buf, fhContentSumOff)
		}
		h.Write(buf)
	}
	return h.Sum32(), nil
}

func clearUint64(buf []byte, off int) { putUint64(buf, off, 0) }

func (df *diskFile) lockedClose(setConsistencyOK bool) error {
	df.mu.Lock()
	defer df.mu.Unlock()
	if df.closed {
		return nil
	}
	df.closed = true

	df.header.ConsistencyOK = setConsistencyOK
	if err := df.flushHeaderAndFree(); err != nil {
		_ = releaseFileLock(df.f)
		_ = df.f.Close()
		return err
	}
	sum, err := df.wholeFileChecksum()
	if err == nil {
		df.header.ContentChecksum = sum
		_ = df.writePageRaw(HeaderPageID, MarshalFileHeader(df.header))
	}
	if err := df.f.Sync(); err != nil {
		_ = releaseFileLock(df.f)
		_ = df.f.Close()
		return err
	}
	if err := releaseFileLock(df.f); err != nil {
		_ = df.f.Close()
		return err
	}
	return df.f.Close()
}

// ───────────────────────────────────────────────────────────────────────────
// Direct disk manager
// ───────────────────────────────────────────────────────────────────────────

// DirectDiskManager writes page content through to the file immediately.
// On open, the consistency flag is cleared to NEEDS-CHECK; on orderly
// close, it is restored to OK.
type DirectDiskManager struct {
	df *diskFile
}

// CreateDirect creates a pristine file for direct (non-WAL) access.
func CreateDirect(path string, pageShift uint32, lockTimeout time.Duration) (*DirectDiskManager, error) {
	df, err := createDiskFile(path, FileTypePage, pageShift, lockTimeout, false)
	if err != nil {
		return nil, err
	}
	return &DirectDiskManager{df: df}, nil
}

// CreateDirectWithConfig is CreateDirect driven by a Config: cfg.PageShift
// sizes the file and cfg.UseDirectIO opts into O_DIRECT for the underlying
// file descriptor.
func CreateDirectWithConfig(path string, cfg Config) (*DirectDiskManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	df, err := createDiskFile(path, FileTypePage, cfg.PageShift, cfg.LockTimeout(), cfg.UseDirectIO)
	if err != nil {
		return nil, err
	}
	return &DirectDiskManager{df: df}, nil
}

// OpenDirect opens an existing file for direct access.
func OpenDirect(path string, lockTimeout time.Duration) (*DirectDiskManager, error) {
	df, err := openDiskFile(path, lockTimeout, false)
	if err != nil {
		return nil, err
	}
	df.mu.Lock()
	df.header.ConsistencyOK = false
	_ = df.writePageRaw(HeaderPageID, MarshalFileHeader(df.header))
	df.mu.Unlock()
	return &DirectDiskManager{df: df}, nil
}

// OpenDirectWithConfig is OpenDirect driven by a Config: cfg.UseDirectIO
// must match how the file was originally created, since O_DIRECT alignment
// is a property of the open file descriptor, not something discoverable
// from the file's own header.
func OpenDirectWithConfig(path string, cfg Config) (*DirectDiskManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	df, err := openDiskFile(path, cfg.LockTimeout(), cfg.UseDirectIO)
	if err != nil {
		return nil, err
	}
	df.mu.Lock()
	df.header.ConsistencyOK = false
	_ = df.writePageRaw(HeaderPageID, MarshalFileHeader(df.header))
	df.mu.Unlock()
	return &DirectDiskManager{df: df}, nil
}

func (d *DirectDiskManager) PageShift() uint32 { return d.df.pageShift }

func (d *DirectDiskManager) Read(id PageID) ([]byte, error) {
	d.df.mu.RLock()
	defer d.df.mu.RUnlock()
	if d.df.closed {
		return nil, ErrClosed
	}
	if err := d.df.boundsCheck(id); err != nil {
		return nil, err
	}
	return d.df.readPageRaw(id)
}

func (d *DirectDiskManager) Update(id PageID, page []byte) error {
	d.df.mu.Lock()
	defer d.df.mu.Unlock()
	if d.df.closed {
		return ErrClosed
	}
	if err := d.df.boundsCheck(id); err != nil {
		return err
	}
	return d.df.writePageRaw(id, page)
}

func (d *DirectDiskManager) Allocate() (PageID, []byte, error) {
	d.df.mu.Lock()
	defer d.df.mu.Unlock()
	if d.df.closed {
		return InvalidPageID, nil, ErrClosed
	}
	pid, ok := d.df.free.Pop()
	if !ok {
		pid = PageID(d.df.header.AllocatedPageCount)
		d.df.header.AllocatedPageCount++
	}
	buf := d.df.newPageBuffer()
	if err := d.df.writePageRaw(pid, buf); err != nil {
		return InvalidPageID, nil, err
	}
	if err := d.df.flushHeaderAndFree(); err != nil {
		return InvalidPageID, nil, err
	}
	return pid, buf, nil
}

func (d *DirectDiskManager) Free(id PageID) error {
	d.df.mu.Lock()
	defer d.df.mu.Unlock()
	if d.df.closed {
		return ErrClosed
	}
	if err := d.df.boundsCheck(id); err != nil {
		return err
	}
	d.df.free.Push(id)
	return d.df.flushHeaderAndFree()
}

func (d *DirectDiskManager) Commit() error   { return nil }
func (d *DirectDiskManager) Rollback() error { return nil }

func (d *DirectDiskManager) Sync() error {
	d.df.mu.RLock()
	defer d.df.mu.RUnlock()
	if d.df.closed {
		return ErrClosed
	}
	return d.df.f.Sync()
}

func (d *DirectDiskManager) Checksum() (uint32, error) {
	d.df.mu.RLock()
	defer d.df.mu.RUnlock()
	if d.df.closed {
		return 0, ErrClosed
	}
	return d.df.wholeFileChecksum()
}

func (d *DirectDiskManager) Validate() (bool, error) {
	d.df.mu.RLock()
	expected := d.df.header.ContentChecksum
	d.df.mu.RUnlock()
	actual, err := d.Checksum()
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

func (d *DirectDiskManager) Close() error { return d.df.lockedClose(true) }
