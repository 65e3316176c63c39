package hare

// Reader is a shared-access view over a column file.
// Grounded on internal/storage/pager/backend.go's LoadTable read path.
type Reader struct {
	handle *ColumnFileHandle
	closed bool
}

// NewReader opens a Reader against handle, taking its close-lock shared
// for the Reader's lifetime.
func NewReader(handle *ColumnFileHandle) *Reader {
	handle.closeLock.RLock()
	handle.txLock.RLock()
	return &Reader{handle: handle}
}

// Get returns the value at tupleId, or (nil, nil) for a NULL entry.
func (r *Reader) Get(id TupleID) (any, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return r.handle.file.Read(id)
}

// IsNull reports whether tupleId holds SQL-NULL.
func (r *Reader) IsNull(id TupleID) (bool, error) {
	v, err := r.Get(id)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

// IsDeleted reports whether tupleId has been tombstoned.
func (r *Reader) IsDeleted(id TupleID) (bool, error) {
	_, err := r.Get(id)
	if err == ErrEntryDeleted {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// Count returns the number of live tuples.
func (r *Reader) Count() uint64 { return r.handle.file.Count() }

// MaxTupleID returns the largest tuple id ever appended.
func (r *Reader) MaxTupleID() TupleID { return r.handle.file.MaxTupleID() }

// Close releases this Reader's share of the file's close-lock.
func (r *Reader) Close() error {
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	r.handle.txLock.RUnlock()
	r.handle.closeLock.RUnlock()
	return nil
}
