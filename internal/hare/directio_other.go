//go:build !linux

package hare

import (
	"fmt"
	"os"
)

// openDirectIOFile is unsupported outside Linux: it always returns an
// error, so creating or opening a file with Config.UseDirectIO fails on
// these platforms; there is no fallback to buffered I/O.
func openDirectIOFile(path string, create bool) (*os.File, error) {
	return nil, fmt.Errorf("hare: O_DIRECT is not supported on this platform")
}

func newAlignedPageBuffer(pageShift uint32) []byte {
	return NewPageBuffer(pageShift)
}

// directIOBlockSize reports no required alignment on this platform: 0
// signals Config.Validate to skip the page-size-multiple check, since
// openDirectIOFile itself unconditionally fails here regardless of size.
func directIOBlockSize() int { return 0 }
