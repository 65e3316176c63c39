//go:build linux

package hare

import (
	"os"

	"github.com/ncw/directio"
)

// openDirectIOFile opens path with O_DIRECT, bypassing the page cache, for
// DirectDiskManager instances created with Config.UseDirectIO. Reads and
// writes against the returned file must use directio.AlignedBlock-backed
// buffers sized in multiples of directio.BlockSize; page.go's PageSize is
// validated against directio.BlockSize at config-load time for this reason.
func openDirectIOFile(path string, create bool) (*os.File, error) {
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE | os.O_EXCL
	}
	return directio.OpenFile(path, flag, 0o644)
}

// newAlignedPageBuffer returns a page-sized buffer suitable for O_DIRECT
// reads and writes.
func newAlignedPageBuffer(pageShift uint32) []byte {
	block := directio.AlignedBlock(PageSize(pageShift))
	return block
}

// directIOBlockSize reports the alignment O_DIRECT offsets, lengths, and
// buffer addresses must all satisfy on this platform.
func directIOBlockSize() int { return directio.BlockSize }
