// Package hare implements a paged, column-oriented storage engine: a page
// file with a crash-recoverable write-ahead log, a concurrent buffer pool
// with priority-aware eviction, and fixed/variable column-file layouts
// exposing reader/writer/cursor contracts over a dense tuple-id space.
package hare

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	// MinPageShift and MaxPageShift bound the page size as 2^pageShift.
	MinPageShift = 12
	MaxPageShift = 22

	// DefaultPageShift is used when a caller does not request a size.
	DefaultPageShift = 14 // 16 KiB

	// InvalidPageID marks the absence of a page reference.
	InvalidPageID PageID = 0

	// HeaderPageID and FreeListPageID are fixed, well-known pages.
	HeaderPageID   PageID = 0
	FreeListPageID PageID = 1
)

// Page-view type identifiers: stored in a page view's first four bytes,
// part of the on-disk format.
const (
	TypeUninitialized          uint32 = 0
	TypeSlotted                uint32 = 128
	TypeDirectory              uint32 = 129
	TypeFixedColumnHeader      uint32 = 512
	TypeVariableColumnHeader   uint32 = 513
)

// PageID is a non-negative page identifier; 0 denotes the file header page.
type PageID uint64

// LSN is a write-ahead-log sequence number.
type LSN uint64

// TxID identifies a writer transaction against a WAL-backed disk manager.
type TxID uint64

// TupleID is a dense, caller-visible identifier for a record within a
// column file, assigned by the column file on append.
type TupleID uint64

// SlotID identifies a slot within a slotted page.
type SlotID uint32

// Address packs a (PageID, SlotID) pair into a single 64-bit word: the high
// 32 bits hold the page id, the low 32 bits the slot id.
type Address uint64

// NewAddress packs a page id and slot id into an Address.
func NewAddress(pid PageID, sid SlotID) Address {
	return Address(uint64(pid)<<32 | uint64(uint32(sid)))
}

// PageID returns the page-id component of the address.
func (a Address) PageID() PageID { return PageID(uint64(a) >> 32) }

// SlotID returns the slot-id component of the address.
func (a Address) SlotID() SlotID { return SlotID(uint32(a)) }

// crcTable is the CRC32-C (Castagnoli) table used for every on-disk checksum
// in the engine: file header, whole-file content checksum, and WAL records.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ChecksumPage computes the CRC32-C of a page buffer, zeroing the page's own
// checksum field (at crcOff, crcLen bytes) during the computation so the
// stored value never participates in the hash it protects.
func ChecksumPage(buf []byte, crcOff, crcLen int) uint32 {
	h := crc32.New(crcTable)
	h.Write(buf[:crcOff])
	h.Write(make([]byte, crcLen))
	h.Write(buf[crcOff+crcLen:])
	return h.Sum32()
}

// PageSize returns 2^pageShift.
func PageSize(pageShift uint32) int {
	return 1 << pageShift
}

// NewPageBuffer allocates a zeroed page-sized buffer.
func NewPageBuffer(pageShift uint32) []byte {
	return make([]byte, PageSize(pageShift))
}

// putUint32 / getUint32 and friends centralize the little-endian layout used
// throughout the on-disk format.
func putUint32(buf []byte, off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }
func getUint32(buf []byte, off int) uint32    { return binary.LittleEndian.Uint32(buf[off:]) }
func putUint64(buf []byte, off int, v uint64) { binary.LittleEndian.PutUint64(buf[off:], v) }
func getUint64(buf []byte, off int) uint64    { return binary.LittleEndian.Uint64(buf[off:]) }
func putInt32(buf []byte, off int, v int32)   { putUint32(buf, off, uint32(v)) }
func getInt32(buf []byte, off int) int32      { return int32(getUint32(buf, off)) }
