package hare

// cursorReadAheadWindow bounds how many tuples' worth of pages a scan warms
// in the buffer pool at a time, so a long scan doesn't try to prefetch its
// entire remaining range in one call.
const cursorReadAheadWindow = 64

// Cursor is an ordered traversal primitive over a column file: next/
// previous/seek move the current position; forEach/map are
// read-ahead convenience folds. Cursors over a fixed file advance by
// simple arithmetic; cursors over a variable file rely on the directory
// chain maintained inside VariableColumn.Read — both are served by the
// same ColumnFile.Read contract here, so Cursor itself stays addressing-
// agnostic. Grounded on internal/storage/pager/btree.go's ScanRange.
type Cursor struct {
	handle  *ColumnFileHandle
	pos     TupleID
	started bool
	valid   bool
	closed  bool

	// prefetched marks the range already handed to ColumnFile.Prefetch, so
	// Next/Previous don't reissue the same hint every tuple.
	prefetched     bool
	prefetchedFrom TupleID
	prefetchedTo   TupleID
}

// prefetchForward warms the pool ahead of from when the cursor has scanned
// past its last read-ahead window.
func (c *Cursor) prefetchForward(from TupleID) {
	if c.prefetched && from <= c.prefetchedTo {
		return
	}
	end := from + cursorReadAheadWindow
	if max := c.handle.file.MaxTupleID(); end > max {
		end = max
	}
	if end < from {
		return
	}
	_ = c.handle.file.Prefetch(from, end)
	c.prefetched, c.prefetchedFrom, c.prefetchedTo = true, from, end
}

// prefetchBackward warms the pool behind to when the cursor has scanned
// past its last read-ahead window.
func (c *Cursor) prefetchBackward(to TupleID) {
	if c.prefetched && to >= c.prefetchedFrom {
		return
	}
	var start TupleID
	if to > cursorReadAheadWindow {
		start = to - cursorReadAheadWindow
	}
	_ = c.handle.file.Prefetch(start, to)
	c.prefetched, c.prefetchedFrom, c.prefetchedTo = true, start, to
}

// NewCursor opens a Cursor against handle, taking its close-lock shared
// for the Cursor's lifetime, positioned before the first tuple.
func NewCursor(handle *ColumnFileHandle) *Cursor {
	handle.closeLock.RLock()
	handle.txLock.RLock()
	return &Cursor{handle: handle}
}

// Next advances to the next non-deleted tuple in ascending order, skipping
// tombstones, and reports whether one was found.
func (c *Cursor) Next() bool {
	if c.closed {
		return false
	}
	max := c.handle.file.MaxTupleID()
	start := TupleID(0)
	if c.started {
		start = c.pos + 1
	}
	c.prefetchForward(start)
	for id := start; id <= max; id++ {
		c.prefetchForward(id)
		_, err := c.handle.file.Read(id)
		if err == ErrEntryDeleted {
			continue
		}
		if err != nil {
			continue
		}
		c.pos, c.started, c.valid = id, true, true
		return true
	}
	c.valid = false
	return false
}

// Previous retreats to the previous non-deleted tuple in descending order.
func (c *Cursor) Previous() bool {
	if c.closed || !c.started || c.pos == 0 {
		c.valid = false
		return false
	}
	c.prefetchBackward(c.pos - 1)
	for id := c.pos; id > 0; id-- {
		candidate := id - 1
		c.prefetchBackward(candidate)
		_, err := c.handle.file.Read(candidate)
		if err == ErrEntryDeleted {
			continue
		}
		if err != nil {
			continue
		}
		c.pos, c.valid = candidate, true
		return true
	}
	c.valid = false
	return false
}

// Seek positions the cursor exactly at tupleId, reporting whether it holds
// a live (non-deleted) entry. On failure the cursor becomes invalid.
func (c *Cursor) Seek(id TupleID) bool {
	if c.closed {
		return false
	}
	_, err := c.handle.file.Read(id)
	if err != nil {
		c.valid = false
		return false
	}
	c.pos, c.started, c.valid = id, true, true
	return true
}

// Get returns the value at the current position.
func (c *Cursor) Get() (any, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if !c.valid {
		return nil, ErrOutOfBounds
	}
	return c.handle.file.Read(c.pos)
}

// TupleID returns the current position.
func (c *Cursor) TupleID() TupleID { return c.pos }

// ForEach invokes action for every non-deleted tuple in [start, end],
// stopping at the first error action returns.
func (c *Cursor) ForEach(start, end TupleID, action func(TupleID, any) error) error {
	_ = c.handle.file.Prefetch(start, end)
	for id := start; id <= end; id++ {
		v, err := c.handle.file.Read(id)
		if err == ErrEntryDeleted {
			continue
		}
		if err != nil {
			return err
		}
		if err := action(id, v); err != nil {
			return err
		}
	}
	return nil
}

// Map is ForEach but collects action's return value for every non-deleted
// tuple in [start, end].
func (c *Cursor) Map(start, end TupleID, action func(TupleID, any) (any, error)) ([]any, error) {
	_ = c.handle.file.Prefetch(start, end)
	var out []any
	for id := start; id <= end; id++ {
		v, err := c.handle.file.Read(id)
		if err == ErrEntryDeleted {
			continue
		}
		if err != nil {
			return nil, err
		}
		mapped, err := action(id, v)
		if err != nil {
			return nil, err
		}
		out = append(out, mapped)
	}
	return out, nil
}

// Close releases this Cursor's share of the file's locks.
func (c *Cursor) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	c.handle.txLock.RUnlock()
	c.handle.closeLock.RUnlock()
	return nil
}
