package hare

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Slotted page view
// ───────────────────────────────────────────────────────────────────────────
//
// Bit-exact layout:
//
//	bytes 0..3   type identifier (TypeSlotted)
//	bytes 4..7   slot count
//	bytes 8..11  free-space pointer (byte offset from page start; records
//	             occupy [freeSpacePointer, pageSize))
//	bytes 12..   slot-offset array, 4-byte int32 entries; -1 marks a
//	             released slot
//
// Records grow from the page's tail toward its head and are allocated in
// strict slot-id order, so a live slot's length is never stored
// explicitly: it is the gap between its own offset and the offset of the
// previously allocated slot (or pageSize, for slot 0) — exactly the
// distance the free-space pointer moved when that slot was allocated.
// Grounded on internal/storage/pager/slotted_page.go's SlottedPage, whose
// slot directory instead stores an explicit (offset,length) pair per slot;
// this on-disk table only has room for the offset, so size() is recovered
// from the allocation order instead.

const (
	spHeaderSize   = 12
	spSlotEntryLen = 4
	spReleasedSlot = int32(-1)
)

// SlottedPage is a typed overlay over one raw page buffer.
type SlottedPage struct {
	buf []byte
}

// InitializeSlottedPage stamps a fresh, empty slotted page over buf.
// The identifier must currently be TypeUninitialized.
func InitializeSlottedPage(buf []byte) (*SlottedPage, error) {
	if getUint32(buf, 0) != TypeUninitialized {
		return nil, fmt.Errorf("%w: page already initialized (type %d)", ErrDataCorruption, getUint32(buf, 0))
	}
	putUint32(buf, 0, TypeSlotted)
	putUint32(buf, 4, 0)
	putUint32(buf, 8, uint32(len(buf)))
	return &SlottedPage{buf: buf}, nil
}

// WrapSlottedPage overlays an existing slotted page, rejecting any other
// identifier.
func WrapSlottedPage(buf []byte) (*SlottedPage, error) {
	if t := getUint32(buf, 0); t != TypeSlotted {
		return nil, fmt.Errorf("%w: expected slotted page (type %d), found %d", ErrDataCorruption, TypeSlotted, t)
	}
	return &SlottedPage{buf: buf}, nil
}

func (p *SlottedPage) slotCount() int      { return int(getUint32(p.buf, 4)) }
func (p *SlottedPage) freeSpacePtr() int   { return int(getUint32(p.buf, 8)) }
func (p *SlottedPage) setSlotCount(n int)  { putUint32(p.buf, 4, uint32(n)) }
func (p *SlottedPage) setFreeSpacePtr(v int) { putUint32(p.buf, 8, uint32(v)) }

func (p *SlottedPage) slotOff(id SlotID) int { return spHeaderSize + int(id)*spSlotEntryLen }

// SlotCount returns the number of slot entries, including released ones.
func (p *SlottedPage) SlotCount() int { return p.slotCount() }

// FreeSpace returns the number of bytes still available for allocation.
func (p *SlottedPage) FreeSpace() int {
	used := spHeaderSize + p.slotCount()*spSlotEntryLen
	return p.freeSpacePtr() - used
}

func (p *SlottedPage) rawOffset(id SlotID) int32 {
	return getInt32(p.buf, p.slotOff(id))
}

// Offset returns the byte offset of slotId's record, or ErrEntryDeleted if
// the slot was released.
func (p *SlottedPage) Offset(id SlotID) (int, error) {
	if int(id) < 0 || int(id) >= p.slotCount() {
		return 0, fmt.Errorf("%w: slot %d out of range", ErrOutOfBounds, id)
	}
	off := p.rawOffset(id)
	if off == spReleasedSlot {
		return 0, ErrEntryDeleted
	}
	return int(off), nil
}

// Size returns the length in bytes of slotId's record.
func (p *SlottedPage) Size(id SlotID) (int, error) {
	off, err := p.Offset(id)
	if err != nil {
		return 0, err
	}
	prev := len(p.buf)
	for s := int(id) - 1; s >= 0; s-- {
		if po := p.rawOffset(SlotID(s)); po != spReleasedSlot {
			prev = int(po)
			break
		}
	}
	return prev - off, nil
}

// Bytes returns a slice view over slotId's record bytes (not a copy).
func (p *SlottedPage) Bytes(id SlotID) ([]byte, error) {
	off, err := p.Offset(id)
	if err != nil {
		return nil, err
	}
	size, err := p.Size(id)
	if err != nil {
		return nil, err
	}
	return p.buf[off : off+size], nil
}

// Allocate reserves size bytes for a new record, returning its slot id, or
// ok=false if there is not enough free space.
func (p *SlottedPage) Allocate(size int) (id SlotID, ok bool) {
	needed := spSlotEntryLen + size
	if p.FreeSpace() < needed {
		return 0, false
	}
	newID := SlotID(p.slotCount())
	newOff := p.freeSpacePtr() - size
	putInt32(p.buf, p.slotOff(newID), int32(newOff))
	p.setFreeSpacePtr(newOff)
	p.setSlotCount(int(newID) + 1)
	return newID, true
}

// Put writes value into the bytes previously reserved by Allocate(len(value)).
func (p *SlottedPage) Put(id SlotID, value []byte) error {
	dst, err := p.Bytes(id)
	if err != nil {
		return err
	}
	if len(dst) != len(value) {
		return fmt.Errorf("hare: slot %d sized %d, got %d bytes", id, len(dst), len(value))
	}
	copy(dst, value)
	return nil
}

// Release marks slotId dead. Releasing the highest-numbered live slot
// reclaims its space and shrinks the slot count immediately; releasing any
// other slot only tombstones the offset entry; compaction is out of scope.
func (p *SlottedPage) Release(id SlotID) error {
	if _, err := p.Offset(id); err != nil {
		return err
	}
	if int(id) == p.slotCount()-1 {
		size, err := p.Size(id)
		if err != nil {
			return err
		}
		p.setFreeSpacePtr(p.freeSpacePtr() + size)
		p.setSlotCount(int(id))
		return nil
	}
	putInt32(p.buf, p.slotOff(id), spReleasedSlot)
	return nil
}
