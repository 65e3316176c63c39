package hare

import "errors"

// Sentinel errors for the eight kinds the engine distinguishes (§7). Callers
// compare with errors.Is; wrapped context is added with fmt.Errorf("...: %w").
var (
	// ErrDataCorruption marks a header/magic/version mismatch, a negative
	// counter, or an unknown page type. Unrecoverable for the affected file.
	ErrDataCorruption = errors.New("hare: data corruption")

	// ErrFileLocked means another process holds the exclusive file lock.
	ErrFileLocked = errors.New("hare: file locked")

	// ErrOutOfBounds means a PageID, TupleID, or slot index fell outside
	// the legal range for the file.
	ErrOutOfBounds = errors.New("hare: out of bounds")

	// ErrEntryDeleted means the operation targeted a tombstoned tuple.
	ErrEntryDeleted = errors.New("hare: entry deleted")

	// ErrNullNotAllowed means a null value was written to a non-nullable
	// column.
	ErrNullNotAllowed = errors.New("hare: null not allowed")

	// ErrValueTooLarge means a serialized value exceeds one page (variable
	// column only).
	ErrValueTooLarge = errors.New("hare: value too large")

	// ErrPoolClosed means the operation targeted a buffer pool whose close
	// has begun.
	ErrPoolClosed = errors.New("hare: pool closed")

	// ErrClosed means the operation targeted an already-closed
	// file/reader/writer/cursor.
	ErrClosed = errors.New("hare: closed")
)

func isOutOfBounds(err error) bool { return errors.Is(err, ErrOutOfBounds) }
