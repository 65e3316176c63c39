package hare

import "testing"

func TestSlottedPage_AllocatePutBytes(t *testing.T) {
	buf := NewPageBuffer(MinPageShift)
	sp, err := InitializeSlottedPage(buf)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	id, ok := sp.Allocate(5)
	if !ok {
		t.Fatal("allocate failed unexpectedly")
	}
	if err := sp.Put(id, []byte("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := sp.Bytes(id)
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestSlottedPage_SizeDerivedFromAllocationOrder(t *testing.T) {
	buf := NewPageBuffer(MinPageShift)
	sp, _ := InitializeSlottedPage(buf)

	id0, _ := sp.Allocate(10)
	id1, _ := sp.Allocate(20)
	id2, _ := sp.Allocate(3)

	for id, want := range map[SlotID]int{id0: 10, id1: 20, id2: 3} {
		got, err := sp.Size(id)
		if err != nil {
			t.Fatalf("size(%d): %v", id, err)
		}
		if got != want {
			t.Errorf("size(%d) = %d, want %d", id, got, want)
		}
	}
}

func TestSlottedPage_ReleaseTailReclaimsSpace(t *testing.T) {
	buf := NewPageBuffer(MinPageShift)
	sp, _ := InitializeSlottedPage(buf)
	id0, _ := sp.Allocate(8)
	before := sp.FreeSpace()

	if err := sp.Release(id0); err != nil {
		t.Fatalf("release: %v", err)
	}
	if sp.SlotCount() != 0 {
		t.Fatalf("expected tail release to shrink slot count to 0, got %d", sp.SlotCount())
	}
	if after := sp.FreeSpace(); after <= before {
		t.Fatalf("expected free space to grow after releasing tail slot: before=%d after=%d", before, after)
	}
}

func TestSlottedPage_ReleaseNonTailTombstonesOnly(t *testing.T) {
	buf := NewPageBuffer(MinPageShift)
	sp, _ := InitializeSlottedPage(buf)
	id0, _ := sp.Allocate(8)
	id1, _ := sp.Allocate(8)

	if err := sp.Release(id0); err != nil {
		t.Fatalf("release: %v", err)
	}
	if sp.SlotCount() != 2 {
		t.Fatalf("expected slot count unchanged at 2 after tombstoning non-tail slot, got %d", sp.SlotCount())
	}
	if _, err := sp.Offset(id0); err != ErrEntryDeleted {
		t.Fatalf("expected ErrEntryDeleted for tombstoned slot, got %v", err)
	}
	// id1 must remain readable.
	if _, err := sp.Size(id1); err != nil {
		t.Fatalf("size(id1) after releasing id0: %v", err)
	}
}

func TestSlottedPage_AllocateFailsWhenFull(t *testing.T) {
	buf := make([]byte, 64)
	sp, _ := InitializeSlottedPage(buf)
	if _, ok := sp.Allocate(1000); ok {
		t.Fatal("expected allocation larger than page to fail")
	}
}

func TestSlottedPage_WrapRejectsWrongType(t *testing.T) {
	buf := NewPageBuffer(MinPageShift)
	InitializeDirectoryPage(buf, 0)
	if _, err := WrapSlottedPage(buf); err == nil {
		t.Fatal("expected type mismatch error wrapping a directory page as slotted")
	}
}
