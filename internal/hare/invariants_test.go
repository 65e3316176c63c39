package hare

import (
	"path/filepath"
	"testing"
)

// Invariant 1: a successfully appended value is stable under intervening
// accesses until deleted.
func TestInvariant_AppendedValueStableUnderIntervening(t *testing.T) {
	r := NewRegistry()
	ct, _ := r.Lookup(OrdinalFloat64)
	fc, _ := newFixedColumnForTest(t, ct, false)

	id, _ := fc.Append(3.14)
	for i := 0; i < 50; i++ {
		fc.Append(float64(i)) // intervening accesses
		v, err := fc.Read(id)
		if err != nil || v.(float64) != 3.14 {
			t.Fatalf("value drifted after %d intervening appends: v=%v err=%v", i, v, err)
		}
	}
}

// Invariant 2: isDeleted never becomes false again after becoming true.
func TestInvariant_IsDeletedNeverRevertsFalse(t *testing.T) {
	handle := newHandleForTest(t)
	w := NewWriter(handle, 1)
	id, _ := w.Append(int64(1))
	w.Delete(id)

	for i := 0; i < 5; i++ {
		deleted, err := w.IsDeleted(id)
		if err != nil {
			t.Fatalf("isDeleted: %v", err)
		}
		if !deleted {
			t.Fatalf("isDeleted reverted to false on check %d", i)
		}
	}
}

// Invariant 3: count() and maxTupleId() track appends and deletes exactly.
func TestInvariant_CountAndMaxTupleIDTrackExactly(t *testing.T) {
	r := NewRegistry()
	ct, _ := r.Lookup(OrdinalInt64)
	fc, _ := newFixedColumnForTest(t, ct, false)

	for i := int64(0); i < 10; i++ {
		fc.Append(i)
	}
	fc.Delete(3)
	fc.Delete(7)

	if fc.Count() != 8 {
		t.Fatalf("count: got %d want 8", fc.Count())
	}
	if fc.MaxTupleID() != 9 {
		t.Fatalf("maxTupleId: got %d want 9", fc.MaxTupleID())
	}
}

// Invariant 4: update, then commit, then read on a WAL-backed file returns
// the updated bytes.
func TestInvariant_UpdateCommitReadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update_commit.hare")
	r := NewRegistry()
	ct, _ := r.Lookup(OrdinalInt64)

	dm, err := CreateWAL(path, MinPageShift, testLockTimeout)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer dm.Close()
	pool := NewBufferPool(dm, 64, EvictionLRU)
	fc, err := CreateFixedColumn(dm, pool, ct, -1, false)
	if err != nil {
		t.Fatalf("create fixed column: %v", err)
	}
	id, _ := fc.Append(int64(1))
	pool.Commit()

	if err := fc.Update(id, int64(2)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := pool.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	v, err := fc.Read(id)
	if err != nil || v.(int64) != 2 {
		t.Fatalf("read after update+commit: v=%v err=%v", v, err)
	}
}

// Invariant 7: a slotted page never reports negative free space, and no
// two live slots' byte ranges overlap.
func TestInvariant_SlottedPageNoOverlapNonNegativeFreeSpace(t *testing.T) {
	buf := make([]byte, PageSize(MinPageShift))
	sp, err := InitializeSlottedPage(buf)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	type span struct{ start, end int }
	var spans []span
	for i := 0; i < 20; i++ {
		slotID, ok := sp.Allocate(17 + i)
		if !ok {
			break
		}
		off, err := sp.Offset(slotID)
		if err != nil {
			t.Fatalf("offset: %v", err)
		}
		size, err := sp.Size(slotID)
		if err != nil {
			t.Fatalf("size: %v", err)
		}
		if sp.FreeSpace() < 0 {
			t.Fatalf("negative free space after allocating slot %d", slotID)
		}
		spans = append(spans, span{off, off + size})
	}
	for i := range spans {
		for j := range spans {
			if i == j {
				continue
			}
			if spans[i].start < spans[j].end && spans[j].start < spans[i].end {
				t.Fatalf("slot ranges overlap: %v and %v", spans[i], spans[j])
			}
		}
	}
}

// Invariant 8: a variable column's directory chain covers a contiguous,
// disjoint range of TupleIds from 0 to maxTupleId.
func TestInvariant_DirectoryChainCoversContiguousRange(t *testing.T) {
	const n = 500
	r := NewRegistry()
	ct, _ := r.Lookup(OrdinalInt64)
	vc, _ := newVariableColumnForTest(t, ct, false)

	for i := 0; i < n; i++ {
		vc.Append(int64(i))
	}

	pageID := rootDirectoryPageID
	var coveredUpTo int64 = -1
	for pageID != InvalidPageID {
		ref, err := vc.pool.Acquire(pageID, PriorityHigh)
		if err != nil {
			t.Fatalf("acquire directory page %d: %v", pageID, err)
		}
		dp, err := WrapDirectoryPage(ref.Bytes())
		if err != nil {
			t.Fatalf("wrap directory page %d: %v", pageID, err)
		}
		first, last := dp.FirstTupleID(), dp.LastTupleID()
		if int64(first) != coveredUpTo+1 {
			ref.Release()
			t.Fatalf("directory chain gap or overlap: previous covered up to %d, page %d starts at %d", coveredUpTo, pageID, first)
		}
		coveredUpTo = int64(last)
		next := dp.Next()
		ref.Release()
		pageID = next
	}
	if TupleID(coveredUpTo) != vc.MaxTupleID() {
		t.Fatalf("directory chain covers up to %d, want maxTupleId %d", coveredUpTo, vc.MaxTupleID())
	}
}

// compareAndUpdate(t, v, v) applies trivially and leaves state unchanged.
func TestRoundTrip_CompareAndUpdateSameValueIsNoOp(t *testing.T) {
	r := NewRegistry()
	ct, _ := r.Lookup(OrdinalInt64)
	fc, _ := newFixedColumnForTest(t, ct, false)

	id, _ := fc.Append(int64(42))
	ok, err := fc.CompareAndUpdate(id, int64(42), int64(42))
	if err != nil || !ok {
		t.Fatalf("compareAndUpdate(v,v): ok=%v err=%v", ok, err)
	}
	v, _ := fc.Read(id)
	if v.(int64) != 42 {
		t.Fatalf("value changed: got %v", v)
	}
}

// update(t, v); update(t, v) is observationally equivalent to a single
// update(t, v).
func TestRoundTrip_RepeatedUpdateSameValueIdempotent(t *testing.T) {
	r := NewRegistry()
	ct, _ := r.Lookup(OrdinalInt64)
	fc, _ := newFixedColumnForTest(t, ct, false)

	id, _ := fc.Append(int64(1))
	if err := fc.Update(id, int64(9)); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := fc.Update(id, int64(9)); err != nil {
		t.Fatalf("second update: %v", err)
	}
	v, _ := fc.Read(id)
	if v.(int64) != 9 {
		t.Fatalf("value mismatch: got %v", v)
	}
}

// flush(); flush() is a no-op on the second call absent an intervening
// mutation.
func TestRoundTrip_DoubleFlushIsNoOp(t *testing.T) {
	dm := newTestDiskManager(t)
	bp := NewBufferPool(dm, 4, EvictionLRU)

	ref, err := bp.AcquireNew(PriorityDefault)
	if err != nil {
		t.Fatalf("acquireNew: %v", err)
	}
	copy(ref.Bytes(), []byte("stable"))
	ref.MarkDirty()
	ref.Release()

	if err := bp.FlushAll(); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if err := bp.FlushAll(); err != nil {
		t.Fatalf("second flush: %v", err)
	}
}

// Boundary: minimum and maximum pageShift both accept a read/write cycle.
func TestBoundary_MinAndMaxPageShiftAcceptReadWrite(t *testing.T) {
	for _, shift := range []uint32{MinPageShift, MaxPageShift} {
		path := filepath.Join(t.TempDir(), "shift.hare")
		r := NewRegistry()
		ct, _ := r.Lookup(OrdinalInt64)
		dm, err := CreateDirect(path, shift, testLockTimeout)
		if err != nil {
			t.Fatalf("create at shift %d: %v", shift, err)
		}
		pool := NewBufferPool(dm, 8, EvictionLRU)
		fc, err := CreateFixedColumn(dm, pool, ct, -1, false)
		if err != nil {
			t.Fatalf("create fixed column at shift %d: %v", shift, err)
		}
		id, err := fc.Append(int64(123))
		if err != nil {
			t.Fatalf("append at shift %d: %v", shift, err)
		}
		v, err := fc.Read(id)
		if err != nil || v.(int64) != 123 {
			t.Fatalf("read at shift %d: v=%v err=%v", shift, v, err)
		}
		dm.Close()
	}
}

// Boundary: a fixed column whose entrySize equals pageSize-entryHeaderSize
// stores exactly one tuple per data page.
func TestBoundary_FixedColumnOneEntryPerPage(t *testing.T) {
	pageSize := PageSize(MinPageShift)
	width := pageSize - 2*entryHeaderSize // entrySize = entryHeaderSize+width = pageSize-entryHeaderSize
	r := NewRegistry()
	byteType, _ := r.Lookup(OrdinalByte)
	wide := VectorColumnType(900, "wide", byteType, width)

	path := filepath.Join(t.TempDir(), "onepertuple.hare")
	dm, err := CreateDirect(path, MinPageShift, testLockTimeout)
	if err != nil {
		t.Fatalf("create disk manager: %v", err)
	}
	defer dm.Close()
	pool := NewBufferPool(dm, 8, EvictionLRU)
	fc, err := CreateFixedColumn(dm, pool, wide, int32(width), false)
	if err != nil {
		t.Fatalf("create fixed column: %v", err)
	}
	if fc.slots != 1 {
		t.Fatalf("expected exactly one tuple per page, got slots=%d", fc.slots)
	}

	value := make([]any, width)
	for i := range value {
		value[i] = byte(i % 256)
	}
	id0, err := fc.Append(value)
	if err != nil {
		t.Fatalf("append 0: %v", err)
	}
	id1, err := fc.Append(value)
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	page0, _ := fc.locate(id0)
	page1, _ := fc.locate(id1)
	if page0 == page1 {
		t.Fatalf("expected consecutive tuples on separate pages, both landed on %d", page0)
	}
}

// Boundary: a variable column value that fits exactly in the remaining
// free space of the current allocation page does not force a new page.
func TestBoundary_VariableColumnExactFitReusesAllocationPage(t *testing.T) {
	r := NewRegistry()
	ct, _ := r.Lookup(OrdinalInt64) // width 8, cheap to pack many per page
	vc, _ := newVariableColumnForTest(t, ct, false)

	startPage := vc.header.AllocationPageID()
	perEntryCost := ct.Width + spSlotEntryLen
	initialFree := PageSize(MinPageShift) - spHeaderSize
	fitting := initialFree / perEntryCost
	remainder := initialFree - fitting*perEntryCost

	// Pack the page to within exactly one more entry's worth of free space.
	for i := 0; i < fitting-1; i++ {
		if _, err := vc.Append(int64(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	ref, err := vc.pool.Acquire(startPage, PriorityDefault)
	if err != nil {
		t.Fatalf("acquire allocation page: %v", err)
	}
	sp, err := WrapSlottedPage(ref.Bytes())
	if err != nil {
		ref.Release()
		t.Fatalf("wrap slotted page: %v", err)
	}
	freeLeft := sp.FreeSpace()
	ref.Release()
	if freeLeft != perEntryCost+remainder {
		t.Fatalf("unexpected free space before the exact-fit append: got %d want %d", freeLeft, perEntryCost+remainder)
	}

	// The next value exactly consumes perEntryCost bytes (remainder is
	// leftover padding smaller than one more slot), so it must land on
	// the same allocation page rather than forcing a new one.
	if _, err := vc.Append(int64(fitting - 1)); err != nil {
		t.Fatalf("exact-fit append: %v", err)
	}
	if vc.header.AllocationPageID() != startPage {
		t.Fatalf("exact-fit value forced a new allocation page: got %d want %d", vc.header.AllocationPageID(), startPage)
	}
}

// Boundary: opening a file whose consistency flag is NEEDS-CHECK succeeds,
// and validate() reports true when the content still matches the checksum.
func TestBoundary_NeedsCheckOpenSucceedsAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "needscheck.hare")
	dm, err := CreateDirect(path, MinPageShift, testLockTimeout)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := dm.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	dm2, err := OpenDirect(path, testLockTimeout)
	if err != nil {
		t.Fatalf("reopen onto NEEDS-CHECK file: %v", err)
	}
	defer dm2.Close()
	ok, err := dm2.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ok {
		t.Fatal("expected validate() to report true for unmodified content")
	}
}
