package hare

import (
	"fmt"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Variable column file
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on internal/storage/pager/btree.go's leaf-chain traversal
// (directory pages play the role of leaves, linked in key — here tuple-id
// — order) and internal/storage/pager/overflow.go's allocate-on-demand
// chained-page pattern for the slotted data pages a directory entry's
// Address ultimately points into.
//
// Update/compareAndUpdate/delete resolve the open policy choice of how to
// handle a resize as: overwrite in place when the new serialized size
// equals the current slot's size, else release the old slot when it is the
// page's highest-numbered slot (reclaiming its space) and redirect the
// directory entry to a freshly allocated slot. An interior old slot is left
// allocated and unreferenced: releasing it would erase the offset that the
// next slot's size is computed from. TupleId never changes; DELETED is
// permanent.
//
// Preferring a pre-existing empty data page is served by
// DiskManager.Allocate already popping the free-page stack (LIFO) before
// extending the file, rather than a bespoke empty-page scan — the
// free-page stack is exactly the set of pages eligible for that reuse.

const (
	rootDirectoryPageID  PageID = 3
	rootAllocationPageID PageID = 4
	nullValueFootprint          = 2 // minimal footprint for a null entry
)

// VariableColumn is an open variable-length column file.
type VariableColumn struct {
	mu       sync.RWMutex
	pool     *BufferPool
	ct       *ColumnType
	header   *VariableColumnHeader
	headerID PageID
}

// CreateVariableColumn initializes a new variable column file: header at
// page 2, root directory page at page 3, root slotted allocation page at
// page 4.
func CreateVariableColumn(pool *BufferPool, ct *ColumnType, logicalSize int32, nullable bool) (*VariableColumn, error) {
	hdrRef, err := pool.AcquireNew(PriorityHigh)
	if err != nil {
		return nil, err
	}
	defer hdrRef.Release()
	if hdrRef.PageID() != 2 {
		return nil, fmt.Errorf("hare: expected column header at page 2, got %d", hdrRef.PageID())
	}
	h, err := InitializeVariableColumnHeader(hdrRef.Bytes(), ct.Ordinal, logicalSize, nullable)
	if err != nil {
		return nil, err
	}

	dirRef, err := pool.AcquireNew(PriorityHigh)
	if err != nil {
		return nil, err
	}
	defer dirRef.ReleaseDirty()
	if dirRef.PageID() != rootDirectoryPageID {
		return nil, fmt.Errorf("hare: expected root directory at page %d, got %d", rootDirectoryPageID, dirRef.PageID())
	}
	if _, err := InitializeDirectoryPage(dirRef.Bytes(), 0); err != nil {
		return nil, err
	}

	allocRef, err := pool.AcquireNew(PriorityDefault)
	if err != nil {
		return nil, err
	}
	defer allocRef.ReleaseDirty()
	if allocRef.PageID() != rootAllocationPageID {
		return nil, fmt.Errorf("hare: expected root allocation page at page %d, got %d", rootAllocationPageID, allocRef.PageID())
	}
	if _, err := InitializeSlottedPage(allocRef.Bytes()); err != nil {
		return nil, err
	}

	h.SetAllocationPageID(rootAllocationPageID)
	h.SetLastDirectoryPageID(rootDirectoryPageID)
	hdrRef.MarkDirty()

	return &VariableColumn{pool: pool, ct: ct, header: h, headerID: hdrRef.PageID()}, nil
}

// OpenVariableColumn wraps an existing variable column file's header page.
func OpenVariableColumn(pool *BufferPool, registry *Registry, headerID PageID) (*VariableColumn, error) {
	ref, err := pool.Acquire(headerID, PriorityHigh)
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	h, err := WrapVariableColumnHeader(ref.Bytes())
	if err != nil {
		return nil, err
	}
	ct, err := registry.Lookup(h.Ordinal())
	if err != nil {
		return nil, err
	}
	return &VariableColumn{pool: pool, ct: ct, header: h, headerID: headerID}, nil
}

func (c *VariableColumn) flushHeader() error {
	hdrRef, err := c.pool.Acquire(c.headerID, PriorityHigh)
	if err != nil {
		return err
	}
	defer hdrRef.ReleaseDirty()
	copy(hdrRef.Bytes(), c.header.buf)
	return nil
}

// serializedSize returns how many bytes value occupies on a slotted page.
// For a variable-width column type this varies per value, which is the
// whole point of a directory-indirected layout: two live values in the
// same column can occupy differently sized slots.
func (c *VariableColumn) serializedSize(value any) int {
	if value == nil {
		return nullValueFootprint
	}
	return c.ct.SizeOf(value)
}

// allocateSlot faults in the current allocation page, tries to allocate
// size bytes, and falls back to a fresh slotted page (extending the file)
// on insufficient space.
func (c *VariableColumn) allocateSlot(size int) (Address, *PageRef, SlotID, error) {
	pageID := c.header.AllocationPageID()
	ref, err := c.pool.Acquire(pageID, PriorityDefault)
	if err != nil {
		return 0, nil, 0, err
	}
	sp, err := WrapSlottedPage(ref.Bytes())
	if err != nil {
		ref.Release()
		return 0, nil, 0, err
	}
	if slotID, ok := sp.Allocate(size); ok {
		return NewAddress(pageID, slotID), ref, slotID, nil
	}
	ref.Release()

	newRef, err := c.pool.AcquireNew(PriorityDefault)
	if err != nil {
		return 0, nil, 0, err
	}
	newSP, err := InitializeSlottedPage(newRef.Bytes())
	if err != nil {
		newRef.Release()
		return 0, nil, 0, err
	}
	slotID, ok := newSP.Allocate(size)
	if !ok {
		newRef.Release()
		return 0, nil, 0, fmt.Errorf("%w: value of %d bytes exceeds one page", ErrValueTooLarge, size)
	}
	c.header.SetAllocationPageID(newRef.PageID())
	if err := c.flushHeader(); err != nil {
		newRef.Release()
		return 0, nil, 0, err
	}
	return NewAddress(newRef.PageID(), slotID), newRef, slotID, nil
}

// appendDirectoryEntry appends to the tail directory page, allocating and
// linking a successor when it is full.
func (c *VariableColumn) appendDirectoryEntry(flags uint32, addr Address) (TupleID, error) {
	tailID := c.header.LastDirectoryPageID()
	ref, err := c.pool.Acquire(tailID, PriorityHigh)
	if err != nil {
		return 0, err
	}
	dp, err := WrapDirectoryPage(ref.Bytes())
	if err != nil {
		ref.Release()
		return 0, err
	}
	if !dp.Full() {
		id, err := dp.Allocate(flags, addr)
		ref.ReleaseDirty()
		return id, err
	}

	nextID := dp.LastTupleID() + 1
	ref.Release()

	newRef, err := c.pool.AcquireNew(PriorityHigh)
	if err != nil {
		return 0, err
	}
	newDP, err := InitializeDirectoryPage(newRef.Bytes(), nextID)
	if err != nil {
		newRef.Release()
		return 0, err
	}

	tailRef, err := c.pool.Acquire(tailID, PriorityHigh)
	if err != nil {
		newRef.Release()
		return 0, err
	}
	tailDP, err := WrapDirectoryPage(tailRef.Bytes())
	if err != nil {
		tailRef.Release()
		newRef.Release()
		return 0, err
	}
	tailDP.SetNext(newRef.PageID())
	newDP.SetPrev(tailID)
	tailRef.ReleaseDirty()

	id, err := newDP.Allocate(flags, addr)
	newRef.ReleaseDirty()
	if err != nil {
		return 0, err
	}

	c.header.SetLastDirectoryPageID(newRef.PageID())
	if err := c.flushHeader(); err != nil {
		return 0, err
	}
	return id, nil
}

// Append serializes value (nil for SQL-NULL) and returns its new TupleId.
func (c *VariableColumn) Append(value any) (TupleID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value == nil && !c.header.Nullable() {
		return 0, ErrNullNotAllowed
	}

	size := c.serializedSize(value)
	addr, ref, slotID, err := c.allocateSlot(size)
	if err != nil {
		return 0, err
	}

	var flags uint32
	if value == nil {
		flags = entryFlagVarNull
	}
	if value != nil {
		sp, err := WrapSlottedPage(ref.Bytes())
		if err != nil {
			ref.Release()
			return 0, err
		}
		dst, err := sp.Bytes(slotID)
		if err != nil {
			ref.Release()
			return 0, err
		}
		if err := c.ct.Encode(dst, value); err != nil {
			ref.Release()
			return 0, err
		}
	}
	ref.ReleaseDirty()

	id, err := c.appendDirectoryEntry(flags, addr)
	if err != nil {
		return 0, err
	}

	c.header.SetLiveCount(c.header.LiveCount() + 1)
	c.header.SetMaxTupleID(id)
	if err := c.flushHeader(); err != nil {
		return 0, err
	}
	return id, nil
}

// entryFlagVarNull marks a variable-column directory entry whose value is
// SQL-NULL rather than data ever written to a slotted page.
const entryFlagVarNull uint32 = 1 << 1

// findDirectoryPage walks the chain from the root to the page covering id.
// TupleIds are assigned in increasing order, so the chain is walked
// forward; findDirectoryPageFrom accepts any page of the chain as its
// starting point, though every caller starts from the root.
func (c *VariableColumn) findDirectoryPage(id TupleID) (*PageRef, *DirectoryPage, error) {
	return c.findDirectoryPageFrom(rootDirectoryPageID, id)
}

func (c *VariableColumn) findDirectoryPageFrom(start PageID, id TupleID) (*PageRef, *DirectoryPage, error) {
	pageID := start
	for pageID != InvalidPageID {
		ref, err := c.pool.Acquire(pageID, PriorityHigh)
		if err != nil {
			return nil, nil, err
		}
		dp, err := WrapDirectoryPage(ref.Bytes())
		if err != nil {
			ref.Release()
			return nil, nil, err
		}
		if dp.Has(id) {
			return ref, dp, nil
		}
		var next PageID
		if id < dp.FirstTupleID() {
			next = dp.Prev()
		} else {
			next = dp.Next()
		}
		ref.Release()
		pageID = next
	}
	return nil, nil, fmt.Errorf("%w: tuple %d not found in directory chain", ErrOutOfBounds, id)
}

// Read returns the value at tupleId, or (nil, nil) for a NULL entry.
func (c *VariableColumn) Read(id TupleID) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dirRef, dp, err := c.findDirectoryPage(id)
	if err != nil {
		return nil, err
	}
	flags, ferr := dp.GetFlags(id)
	addr, aerr := dp.GetAddress(id)
	dirRef.Release()
	if ferr != nil {
		return nil, ferr
	}
	if aerr != nil {
		return nil, aerr
	}
	if flags&DirEntryDeleted != 0 {
		return nil, ErrEntryDeleted
	}
	if flags&entryFlagVarNull != 0 {
		return nil, nil
	}

	dataRef, err := c.pool.Acquire(addr.PageID(), PriorityDefault)
	if err != nil {
		return nil, err
	}
	defer dataRef.Release()
	sp, err := WrapSlottedPage(dataRef.Bytes())
	if err != nil {
		return nil, err
	}
	raw, err := sp.Bytes(addr.SlotID())
	if err != nil {
		return nil, err
	}
	return c.ct.Decode(raw)
}

// Update overwrites tupleId's value, redirecting its directory entry to a
// freshly allocated slot when the new value's size does not match the
// slot currently allocated for it.
func (c *VariableColumn) Update(id TupleID, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.update(id, value)
}

// CompareAndUpdate applies newValue only if the current value equals
// expected (nil matching nil), reporting whether it applied.
func (c *VariableColumn) CompareAndUpdate(id TupleID, expected, newValue any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.readLocked(id)
	if err != nil {
		return false, err
	}
	if !valuesEqual(current, expected) {
		return false, nil
	}
	if err := c.update(id, newValue); err != nil {
		return false, err
	}
	return true, nil
}

func (c *VariableColumn) readLocked(id TupleID) (any, error) {
	dirRef, dp, err := c.findDirectoryPage(id)
	if err != nil {
		return nil, err
	}
	flags, ferr := dp.GetFlags(id)
	addr, aerr := dp.GetAddress(id)
	dirRef.Release()
	if ferr != nil {
		return nil, ferr
	}
	if aerr != nil {
		return nil, aerr
	}
	if flags&DirEntryDeleted != 0 {
		return nil, ErrEntryDeleted
	}
	if flags&entryFlagVarNull != 0 {
		return nil, nil
	}
	dataRef, err := c.pool.Acquire(addr.PageID(), PriorityDefault)
	if err != nil {
		return nil, err
	}
	defer dataRef.Release()
	sp, err := WrapSlottedPage(dataRef.Bytes())
	if err != nil {
		return nil, err
	}
	raw, err := sp.Bytes(addr.SlotID())
	if err != nil {
		return nil, err
	}
	return c.ct.Decode(raw)
}

func (c *VariableColumn) update(id TupleID, value any) error {
	if value == nil && !c.header.Nullable() {
		return ErrNullNotAllowed
	}

	dirRef, dp, err := c.findDirectoryPage(id)
	if err != nil {
		return err
	}
	flags, err := dp.GetFlags(id)
	if err != nil {
		dirRef.Release()
		return err
	}
	if flags&DirEntryDeleted != 0 {
		dirRef.Release()
		return ErrEntryDeleted
	}
	addr, err := dp.GetAddress(id)
	if err != nil {
		dirRef.Release()
		return err
	}

	newSize := c.serializedSize(value)

	if flags&entryFlagVarNull == 0 {
		dataRef, err := c.pool.Acquire(addr.PageID(), PriorityDefault)
		if err != nil {
			dirRef.Release()
			return err
		}
		sp, err := WrapSlottedPage(dataRef.Bytes())
		if err != nil {
			dataRef.Release()
			dirRef.Release()
			return err
		}
		oldSize, err := sp.Size(addr.SlotID())
		if err == nil && oldSize == newSize && value != nil {
			dst, _ := sp.Bytes(addr.SlotID())
			encErr := c.ct.Encode(dst, value)
			dataRef.ReleaseDirty()
			dirRef.Release()
			return encErr
		}
		if int(addr.SlotID()) == sp.SlotCount()-1 {
			_ = sp.Release(addr.SlotID())
		}
		dataRef.ReleaseDirty()
	}

	dirRef.Release()

	newAddr, newRef, slotID, err := c.allocateSlot(newSize)
	if err != nil {
		return err
	}
	var newFlags uint32
	if value == nil {
		newFlags = entryFlagVarNull
	} else {
		sp, err := WrapSlottedPage(newRef.Bytes())
		if err != nil {
			newRef.Release()
			return err
		}
		dst, err := sp.Bytes(slotID)
		if err != nil {
			newRef.Release()
			return err
		}
		if err := c.ct.Encode(dst, value); err != nil {
			newRef.Release()
			return err
		}
	}
	newRef.ReleaseDirty()

	dirRef2, dp2, err := c.findDirectoryPage(id)
	if err != nil {
		return err
	}
	_ = dp2.SetFlags(id, newFlags)
	_ = dp2.SetAddress(id, newAddr)
	dirRef2.ReleaseDirty()
	return nil
}

// Delete tombstones tupleId, returning its prior value. DELETED is
// permanent: the TupleId is never reused and the directory flag is never
// cleared.
func (c *VariableColumn) Delete(id TupleID) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prior, err := c.readLocked(id)
	if err != nil {
		return nil, err
	}

	dirRef, dp, err := c.findDirectoryPage(id)
	if err != nil {
		return nil, err
	}
	flags, _ := dp.GetFlags(id)
	_ = dp.SetFlags(id, flags|DirEntryDeleted)
	dirRef.ReleaseDirty()

	c.header.SetLiveCount(c.header.LiveCount() - 1)
	if err := c.flushHeader(); err != nil {
		return nil, err
	}
	return prior, nil
}

// Prefetch warms the pool with every directory page and live data page
// covering [start, end]. Unlike FixedColumn's O(1) addressing, the
// directory chain must actually be walked to discover which data pages a
// range touches.
func (c *VariableColumn) Prefetch(start, end TupleID) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if end < start {
		return nil
	}

	var ids []PageID
	seen := make(map[PageID]bool)
	add := func(id PageID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	pageID := rootDirectoryPageID
	for pageID != InvalidPageID {
		ref, err := c.pool.Acquire(pageID, PriorityHigh)
		if err != nil {
			return err
		}
		dp, err := WrapDirectoryPage(ref.Bytes())
		if err != nil {
			ref.Release()
			return err
		}
		if dp.LastTupleID() < start {
			next := dp.Next()
			ref.Release()
			pageID = next
			continue
		}
		add(pageID)
		for id := dp.FirstTupleID(); id <= dp.LastTupleID() && id <= end; id++ {
			if !dp.Has(id) {
				continue
			}
			flags, err := dp.GetFlags(id)
			if err != nil || flags&DirEntryDeleted != 0 || flags&entryFlagVarNull != 0 {
				continue
			}
			addr, err := dp.GetAddress(id)
			if err != nil {
				continue
			}
			add(addr.PageID())
		}
		next := dp.Next()
		last := dp.LastTupleID()
		ref.Release()
		if last >= end {
			break
		}
		pageID = next
	}

	return c.pool.Prefetch(ids)
}

// Count returns the number of live (non-deleted) tuples.
func (c *VariableColumn) Count() uint64 { return c.header.LiveCount() }

// MaxTupleID returns the largest tuple id ever appended.
func (c *VariableColumn) MaxTupleID() TupleID { return c.header.MaxTupleID() }

func (c *VariableColumn) Close() error { return nil }
