package hare

import (
	"fmt"
	"log"
	"runtime"
	"sync/atomic"
)

// ───────────────────────────────────────────────────────────────────────────
// Scoped page reference
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the ReadPage/UnpinPage pairing discipline of
// internal/storage/pager/pager.go, generalized into a handle callers must
// release exactly once, with leak/double-free detection available in
// debug builds. DebugPageRefs, when true, records the
// acquiring goroutine's stack so a double Release panics with an actionable
// message instead of a bare "already released" error, and a PageRef that is
// garbage-collected without ever being released is logged with that stack.

// DebugPageRefs enables stack-trace capture on every PageRef acquisition.
// Off by default: the capture cost is only worth paying while chasing a
// pin leak.
var DebugPageRefs = false

// PageRef is a pinned page frame a caller must Release exactly once.
type PageRef struct {
	bp   *BufferPool
	f    *frame
	done int32 // atomic: 0 = live, 1 = released

	acquiredAt string // populated only when DebugPageRefs is true
}

func newPageRef(bp *BufferPool, f *frame) *PageRef {
	r := &PageRef{bp: bp, f: f}
	if DebugPageRefs {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		r.acquiredAt = string(buf[:n])
		runtime.SetFinalizer(r, func(r *PageRef) {
			if atomic.LoadInt32(&r.done) == 0 {
				log.Printf("hare: page %d reference leaked without Release, acquired at:\n%s", r.f.id, r.acquiredAt)
			}
		})
	}
	return r
}

// PageID returns the identity of the pinned page.
func (r *PageRef) PageID() PageID { return r.f.id }

// Bytes returns the page's backing buffer. The slice is only valid until
// Release; callers that need the data afterward must copy it.
func (r *PageRef) Bytes() []byte { return r.f.buf }

// MarkDirty flags the frame for write-back on eviction/flush/close.
func (r *PageRef) MarkDirty() { r.f.dirty = true }

// Release returns the pin. Calling it twice on the same PageRef panics in
// DebugPageRefs mode (pointing at the original acquisition site) and
// returns ErrClosed otherwise, since a silent double-release would let a
// frame be evicted while still believed pinned by other code.
func (r *PageRef) Release() error {
	if !atomic.CompareAndSwapInt32(&r.done, 0, 1) {
		if DebugPageRefs {
			panic(fmt.Sprintf("hare: double release of page %d, acquired at:\n%s", r.f.id, r.acquiredAt))
		}
		return ErrClosed
	}
	r.bp.release(r.f, false)
	return nil
}

// ReleaseDirty is Release but also marks the frame dirty atomically with
// the unpin, for callers that would otherwise race a concurrent evictor
// between MarkDirty and Release.
func (r *PageRef) ReleaseDirty() error {
	if !atomic.CompareAndSwapInt32(&r.done, 0, 1) {
		if DebugPageRefs {
			panic(fmt.Sprintf("hare: double release of page %d, acquired at:\n%s", r.f.id, r.acquiredAt))
		}
		return ErrClosed
	}
	r.bp.release(r.f, true)
	return nil
}
