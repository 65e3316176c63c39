package hare

import (
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// File header — page 0
// ───────────────────────────────────────────────────────────────────────────
//
// Bit-exact layout, first 44 bytes of page 0, rest reserved:
//
//	bytes 0..7   magic, UTF-16 "HARE"
//	bytes 8..11  file type ordinal (0 = page, 1 = WAL)
//	bytes 12..15 format version
//	bytes 16..19 pageShift (12..22)
//	bytes 20..27 flags (bit 0 = consistency OK)
//	bytes 28..35 allocated page count
//	bytes 36..43 CRC32C checksum (protects bytes 0..51, i.e. the fields
//	             above plus the content checksum below, this field zeroed)
//
// The reserved trailer (first 44 bytes named above; rest reserved)
// additionally carries one engine-private field used by checksum()/
// validate() for the NEEDS-CHECK boundary behavior: a whole-file content
// checksum, refreshed whenever the disk manager is closed in an orderly
// way.
//
//	bytes 44..51 whole-file content checksum (CRC32C over every allocated
//	             page's bytes, header's flags field and its own two
//	             checksum fields zeroed)

const (
	FileTypePage uint32 = 0
	FileTypeWAL  uint32 = 1

	CurrentFormatVersion uint32 = 1

	fhMagicOff       = 0
	fhFileTypeOff    = 8
	fhVersionOff     = 12
	fhPageShiftOff   = 16
	fhFlagsOff       = 20
	fhPageCountOff   = 28
	fhChecksumOff    = 36
	fhContentSumOff  = 44
	fhHeaderSize     = 52

	flagConsistencyOK uint64 = 1 << 0
)

// fileHeaderMagic is "HARE" encoded as big-endian UTF-16 code units, one
// code unit per ASCII byte: the literal characters H, A, R, E.
var fileHeaderMagic = [8]byte{0, 'H', 0, 'A', 0, 'R', 0, 'E'}

// FileHeader is the parsed contents of page 0.
type FileHeader struct {
	FileType           uint32
	FormatVersion      uint32
	PageShift          uint32
	ConsistencyOK      bool
	AllocatedPageCount uint64
	ContentChecksum    uint32
}

// NewFileHeader builds the pristine header written by create().
func NewFileHeader(fileType uint32, pageShift uint32) *FileHeader {
	return &FileHeader{
		FileType:           fileType,
		FormatVersion:      CurrentFormatVersion,
		PageShift:          pageShift,
		ConsistencyOK:      true,
		AllocatedPageCount: 2, // header page (0) and free-page stack (1)
	}
}

// MarshalFileHeader serializes h into a full page buffer of size
// PageSize(h.PageShift) and stamps the checksum.
func MarshalFileHeader(h *FileHeader) []byte {
	buf := NewPageBuffer(h.PageShift)
	copy(buf[fhMagicOff:fhMagicOff+8], fileHeaderMagic[:])
	putUint32(buf, fhFileTypeOff, h.FileType)
	putUint32(buf, fhVersionOff, h.FormatVersion)
	putUint32(buf, fhPageShiftOff, h.PageShift)
	var flags uint64
	if h.ConsistencyOK {
		flags |= flagConsistencyOK
	}
	putUint64(buf, fhFlagsOff, flags)
	putUint64(buf, fhPageCountOff, h.AllocatedPageCount)
	putUint64(buf, fhContentSumOff, uint64(h.ContentChecksum))
	crc := ChecksumPage(buf[:fhHeaderSize], fhChecksumOff, 8)
	putUint64(buf, fhChecksumOff, uint64(crc))
	return buf
}

// UnmarshalFileHeader validates and decodes page 0. Any magic, version, or
// checksum mismatch is reported as ErrDataCorruption, as is a corrupt
// page-shift or a negative counter.
func UnmarshalFileHeader(buf []byte) (*FileHeader, error) {
	if len(buf) < fhHeaderSize {
		return nil, fmt.Errorf("%w: header page too small (%d bytes)", ErrDataCorruption, len(buf))
	}
	if !bytesEqual(buf[fhMagicOff:fhMagicOff+8], fileHeaderMagic[:]) {
		return nil, fmt.Errorf("%w: bad file magic", ErrDataCorruption)
	}
	storedCRC := uint32(getUint64(buf, fhChecksumOff))
	computed := ChecksumPage(buf[:fhHeaderSize], fhChecksumOff, 8)
	if storedCRC != computed {
		return nil, fmt.Errorf("%w: header checksum mismatch (stored=%08x computed=%08x)",
			ErrDataCorruption, storedCRC, computed)
	}

	h := &FileHeader{
		FileType:           getUint32(buf, fhFileTypeOff),
		FormatVersion:      getUint32(buf, fhVersionOff),
		PageShift:          getUint32(buf, fhPageShiftOff),
		AllocatedPageCount: getUint64(buf, fhPageCountOff),
		ContentChecksum:    uint32(getUint64(buf, fhContentSumOff)),
	}
	flags := getUint64(buf, fhFlagsOff)
	h.ConsistencyOK = flags&flagConsistencyOK != 0

	if h.FormatVersion != CurrentFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrDataCorruption, h.FormatVersion)
	}
	if h.PageShift < MinPageShift || h.PageShift > MaxPageShift {
		return nil, fmt.Errorf("%w: pageShift %d out of range [%d..%d]",
			ErrDataCorruption, h.PageShift, MinPageShift, MaxPageShift)
	}
	if h.AllocatedPageCount == 0 {
		return nil, fmt.Errorf("%w: allocated page count is zero", ErrDataCorruption)
	}
	return h, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ───────────────────────────────────────────────────────────────────────────
// Page-size choice for fixed column files
// ───────────────────────────────────────────────────────────────────────────

// ChoosePageShift scans [MinPageShift, MaxPageShift] for the shift that
// minimizes fill-waste for fixed-stride records of entrySize bytes,
// breaking ties toward the smaller page. The file permanently encodes the
// chosen shift.
func ChoosePageShift(entrySize int) uint32 {
	best := uint32(MinPageShift)
	bestWaste := -1
	for shift := uint32(MinPageShift); shift <= MaxPageShift; shift++ {
		ps := PageSize(shift)
		slots := ps / entrySize
		waste := ps - slots*entrySize
		if bestWaste < 0 || waste < bestWaste {
			bestWaste = waste
			best = shift
		}
	}
	return best
}
