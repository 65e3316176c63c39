package hare

import "testing"

func TestAddress_PackUnpack(t *testing.T) {
	addr := NewAddress(PageID(123456), SlotID(77))
	if got := addr.PageID(); got != PageID(123456) {
		t.Fatalf("PageID: got %d, want 123456", got)
	}
	if got := addr.SlotID(); got != SlotID(77) {
		t.Fatalf("SlotID: got %d, want 77", got)
	}
}

func TestChecksumPage_DetectsCorruption(t *testing.T) {
	buf := NewPageBuffer(DefaultPageShift)
	for i := range buf {
		buf[i] = byte(i)
	}
	crc := ChecksumPage(buf, 100, 4)
	putUint32(buf, 100, crc)
	if got := ChecksumPage(buf, 100, 4); got != crc {
		t.Fatalf("checksum not reproducible: got %08x want %08x", got, crc)
	}
	buf[50] ^= 0xFF
	if got := ChecksumPage(buf, 100, 4); got == crc {
		t.Fatal("expected checksum to change after corruption")
	}
}

func TestPageSize(t *testing.T) {
	if got := PageSize(12); got != 4096 {
		t.Fatalf("PageSize(12) = %d, want 4096", got)
	}
	if got := PageSize(14); got != 16384 {
		t.Fatalf("PageSize(14) = %d, want 16384", got)
	}
}
