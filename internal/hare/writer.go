package hare

// Writer is the exclusive-access view over a column file:
// every Reader operation plus the mutating ones, bound to one write
// transaction at a time. In a WAL-backed configuration, Commit is the sole
// point at which changes become durable and visible to new readers.
// Grounded on internal/storage/pager/backend.go's SaveTable write path and
// pager.go's BeginTx/CommitTx/AbortTx.
type Writer struct {
	handle *ColumnFileHandle
	tx     TxID
	closed bool
}

// NewWriter opens a Writer against handle, taking the close-lock shared
// and the transaction lock exclusive — only one Writer may be open on a
// file at a time.
func NewWriter(handle *ColumnFileHandle, tx TxID) *Writer {
	handle.closeLock.RLock()
	handle.txLock.Lock()
	return &Writer{handle: handle, tx: tx}
}

// Get, IsNull, IsDeleted, Count, MaxTupleID mirror Reader: a Writer may
// always observe its own in-flight writes (read-your-writes).

func (w *Writer) Get(id TupleID) (any, error) {
	if w.closed {
		return nil, ErrClosed
	}
	return w.handle.file.Read(id)
}

func (w *Writer) IsNull(id TupleID) (bool, error) {
	v, err := w.Get(id)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

func (w *Writer) IsDeleted(id TupleID) (bool, error) {
	_, err := w.Get(id)
	if err == ErrEntryDeleted {
		return true, nil
	}
	return false, err
}

func (w *Writer) Count() uint64        { return w.handle.file.Count() }
func (w *Writer) MaxTupleID() TupleID  { return w.handle.file.MaxTupleID() }

// Append, Update, CompareAndUpdate, Delete mutate the file under this
// Writer's transaction.

func (w *Writer) Append(value any) (TupleID, error) {
	if w.closed {
		return 0, ErrClosed
	}
	return w.handle.file.Append(value)
}

func (w *Writer) Update(id TupleID, value any) error {
	if w.closed {
		return ErrClosed
	}
	return w.handle.file.Update(id, value)
}

func (w *Writer) CompareAndUpdate(id TupleID, expected, newValue any) (bool, error) {
	if w.closed {
		return false, ErrClosed
	}
	return w.handle.file.CompareAndUpdate(id, expected, newValue)
}

func (w *Writer) Delete(id TupleID) (any, error) {
	if w.closed {
		return nil, ErrClosed
	}
	return w.handle.file.Delete(id)
}

// Commit makes this transaction's writes durable and visible to new
// readers (the sole durability point for a WAL-backed disk manager; a
// no-op write-through for a direct one).
func (w *Writer) Commit() error {
	if w.closed {
		return ErrClosed
	}
	return w.handle.pool.Commit()
}

// Rollback discards this transaction's writes.
func (w *Writer) Rollback() error {
	if w.closed {
		return ErrClosed
	}
	return w.handle.pool.Rollback()
}

// Close releases the transaction lock and this Writer's share of the
// close-lock. It does not implicitly commit: an open Writer closed without
// Commit is expected to have already called Rollback, since uncommitted
// effects never survive a reopen.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	w.handle.txLock.Unlock()
	w.handle.closeLock.RUnlock()
	return nil
}
