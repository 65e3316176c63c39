package hare

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Directory page view
// ───────────────────────────────────────────────────────────────────────────
//
// Bit-exact layout:
//
//	bytes 0..3   type identifier (TypeDirectory)
//	bytes 4..11  prev PageId (InvalidPageID if none)
//	bytes 12..19 next PageId (InvalidPageID if none)
//	bytes 20..27 first TupleId covered by this page
//	bytes 28..35 last TupleId covered by this page
//	bytes 36..   entries: 4-byte flags, 8-byte Address, one per TupleId in
//	             [firstTupleId, lastTupleId], in tuple-id order
//
// A directory page covers a contiguous, non-overlapping TupleId range; a
// chain of directory pages (doubly linked via prev/next) covers the whole
// variable column file. Grounded on internal/storage/pager/btree_page.go's
// custom-offset page views and its NextLeaf/PrevLeaf sibling-chain
// traversal, generalized from a searchable key range to a dense,
// monotonically allocated TupleId range.

const (
	dirHeaderSize  = 36
	dirEntryLen    = 12
	dirFlagsLen    = 4
	dirAddressLen  = 8

	// DirEntryDeleted marks a tombstoned directory entry; never reused.
	DirEntryDeleted uint32 = 1 << 0
)

// DirectoryPage is a typed overlay over one raw page buffer.
type DirectoryPage struct {
	buf []byte
}

// InitializeDirectoryPage stamps a fresh, empty directory page, covering no
// tuple ids yet (firstTupleId = firstID, lastTupleId = firstID - 1).
func InitializeDirectoryPage(buf []byte, firstID TupleID) (*DirectoryPage, error) {
	if getUint32(buf, 0) != TypeUninitialized {
		return nil, fmt.Errorf("%w: page already initialized (type %d)", ErrDataCorruption, getUint32(buf, 0))
	}
	putUint32(buf, 0, TypeDirectory)
	putUint64(buf, 4, uint64(InvalidPageID))
	putUint64(buf, 12, uint64(InvalidPageID))
	putUint64(buf, 20, uint64(firstID))
	putUint64(buf, 28, uint64(firstID)-1)
	return &DirectoryPage{buf: buf}, nil
}

// WrapDirectoryPage overlays an existing directory page.
func WrapDirectoryPage(buf []byte) (*DirectoryPage, error) {
	if t := getUint32(buf, 0); t != TypeDirectory {
		return nil, fmt.Errorf("%w: expected directory page (type %d), found %d", ErrDataCorruption, TypeDirectory, t)
	}
	return &DirectoryPage{buf: buf}, nil
}

func (d *DirectoryPage) Prev() PageID          { return PageID(getUint64(d.buf, 4)) }
func (d *DirectoryPage) Next() PageID          { return PageID(getUint64(d.buf, 12)) }
func (d *DirectoryPage) SetPrev(id PageID)     { putUint64(d.buf, 4, uint64(id)) }
func (d *DirectoryPage) SetNext(id PageID)     { putUint64(d.buf, 12, uint64(id)) }
func (d *DirectoryPage) FirstTupleID() TupleID { return TupleID(getUint64(d.buf, 20)) }
func (d *DirectoryPage) LastTupleID() TupleID  { return TupleID(getUint64(d.buf, 28)) }

// Has reports whether tupleId falls within this page's covered range. The
// upper bound is compared as a signed int64: a page with nothing allocated
// yet stores lastTupleId = firstTupleId-1, which for firstTupleId = 0 wraps
// to the all-ones uint64 pattern — interpreted as signed that is -1, so an
// empty page correctly reports Has(id) == false for every id.
func (d *DirectoryPage) Has(id TupleID) bool {
	return id >= d.FirstTupleID() && int64(id) <= int64(d.LastTupleID())
}

func (d *DirectoryPage) entryOff(id TupleID) int {
	return dirHeaderSize + int(id-d.FirstTupleID())*dirEntryLen
}

// GetFlags returns the flags word stored for tupleId.
func (d *DirectoryPage) GetFlags(id TupleID) (uint32, error) {
	if !d.Has(id) {
		return 0, fmt.Errorf("%w: tuple %d not covered by this directory page", ErrOutOfBounds, id)
	}
	return getUint32(d.buf, d.entryOff(id)), nil
}

// GetAddress returns the address stored for tupleId.
func (d *DirectoryPage) GetAddress(id TupleID) (Address, error) {
	if !d.Has(id) {
		return 0, fmt.Errorf("%w: tuple %d not covered by this directory page", ErrOutOfBounds, id)
	}
	return Address(getUint64(d.buf, d.entryOff(id)+dirFlagsLen)), nil
}

// SetFlags overwrites the flags word stored for tupleId.
func (d *DirectoryPage) SetFlags(id TupleID, flags uint32) error {
	if !d.Has(id) {
		return fmt.Errorf("%w: tuple %d not covered by this directory page", ErrOutOfBounds, id)
	}
	putUint32(d.buf, d.entryOff(id), flags)
	return nil
}

// SetAddress overwrites the address stored for tupleId.
func (d *DirectoryPage) SetAddress(id TupleID, addr Address) error {
	if !d.Has(id) {
		return fmt.Errorf("%w: tuple %d not covered by this directory page", ErrOutOfBounds, id)
	}
	putUint64(d.buf, d.entryOff(id)+dirFlagsLen, uint64(addr))
	return nil
}

// capacity returns how many entries fit in this page.
func (d *DirectoryPage) capacity() int {
	return (len(d.buf) - dirHeaderSize) / dirEntryLen
}

// Full reports whether this page can accept no further Allocate calls.
func (d *DirectoryPage) Full() bool {
	rangeSize := int(d.LastTupleID()-d.FirstTupleID()) + 1
	return rangeSize >= d.capacity()
}

// Allocate appends a new entry at lastTupleId+1, returning its TupleId.
// Callers must check Full beforehand and create/link a successor page when
// it is; Allocate on a full page returns ErrOutOfBounds.
func (d *DirectoryPage) Allocate(flags uint32, addr Address) (TupleID, error) {
	if d.Full() {
		return 0, fmt.Errorf("%w: directory page is full", ErrOutOfBounds)
	}
	id := d.LastTupleID() + 1
	putUint64(d.buf, 28, uint64(id))
	off := d.entryOff(id)
	putUint32(d.buf, off, flags)
	putUint64(d.buf, off+dirFlagsLen, uint64(addr))
	return id, nil
}
