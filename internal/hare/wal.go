package hare

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Write-ahead log
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on internal/storage/pager/wal.go's WALFile (append-only file,
// length/CRC-framed records, a monotonic position used instead of Seek) and
// internal/storage/pager/recovery.go's replay loop. Diverges from that
// design in scope: here there is a single companion log per page file
// holding the effects staged for one in-flight writer transaction at a
// time (the file-wide writer-exclusive discipline rules out concurrent
// transactions), not a multi-transaction WAL, so there is no BEGIN record
// — the first staged record for a TxID opens it implicitly, and commit()/
// rollback() close out the whole file.
//
// Record framing, a length-prefixed record per entry for replay:
//
//	[0:4]   length of the remainder of the record
//	[4:12]  TxID
//	[12]    op: update(1) | allocate(2) | free(3) | committed(4) | aborted(5)
//	[13:21] PageID (0 for the two marker ops)
//	[21:25] payload length
//	[25:25+n] payload (full page image for update/allocate)
//	[-4:]   CRC32C of everything from the TxID field onward
//
// The log's file header (see FileHeader) is FileType = FileTypeWAL.
//
// Sealed log states: LOGGING (records present, no terminal marker yet),
// ABORTED, COMMITTED. Recovery treats a crash during LOGGING as an implicit
// abort: an uncommitted writer's effects must vanish on reopen, so the
// only two outcomes reopen can observe are "nothing to replay" and
// "replay the COMMITTED records, then truncate" — the latter relies on a
// marker-before-truncate ordering so that replay of a crash between
// writing COMMITTED and truncating is idempotent.

type walOp uint8

const (
	walOpUpdate    walOp = 1
	walOpAllocate  walOp = 2
	walOpFree      walOp = 3
	walOpCommitted walOp = 4
	walOpAborted   walOp = 5
)

const walRecHeaderLen = 4 + 8 + 1 + 8 + 4 // length prefix .. payload length
const walRecTrailerLen = 4                // CRC32C

// WALRecord is one staged effect or terminal marker.
type WALRecord struct {
	TxID    TxID
	Op      walOp
	PageID  PageID
	Payload []byte
}

// WALFile manages the companion append-only log for one page file.
type WALFile struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	pageSize int
	writePos int64
}

// OpenWALFile opens or creates the companion log, writing a fresh
// FileHeader (FileType = FileTypeWAL) if the file did not already exist.
func OpenWALFile(path string, pageShift uint32) (*WALFile, error) {
	_, statErr := os.Stat(path)
	exists := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	wf := &WALFile{f: f, path: path, pageSize: PageSize(pageShift)}

	if !exists {
		hdr := MarshalFileHeader(NewFileHeader(FileTypeWAL, pageShift))
		if _, err := f.WriteAt(hdr, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("write WAL header: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		hdrBuf := make([]byte, PageSize(pageShift))
		if _, err := f.ReadAt(hdrBuf, 0); err != nil && err != io.EOF {
			f.Close()
			return nil, fmt.Errorf("read WAL header: %w", err)
		}
		if _, err := UnmarshalFileHeader(hdrBuf); err != nil {
			f.Close()
			return nil, err
		}
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seek WAL end: %w", err)
	}
	wf.writePos = end
	return wf, nil
}

func (wf *WALFile) headerEnd() int64 { return int64(wf.pageSize) }

// AppendRecord appends rec, returning once it is written (not yet fsynced).
func (wf *WALFile) AppendRecord(rec *WALRecord) error {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	buf := marshalWALRecord(rec)
	n, err := wf.f.WriteAt(buf, wf.writePos)
	if err != nil {
		return fmt.Errorf("WAL append: %w", err)
	}
	wf.writePos += int64(n)
	return nil
}

// Sync fsyncs the log file.
func (wf *WALFile) Sync() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Sync()
}

// Truncate resets the log to just its header, after a commit or rollback
// has been durably recorded.
func (wf *WALFile) Truncate() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if err := wf.f.Truncate(wf.headerEnd()); err != nil {
		return err
	}
	wf.writePos = wf.headerEnd()
	return wf.f.Sync()
}

// Close closes the log file.
func (wf *WALFile) Close() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Close()
}

// ReadAllRecords reads every record after the header. A partial/corrupt
// tail record (consistent with a crash mid-append) is silently dropped.
func (wf *WALFile) ReadAllRecords() ([]*WALRecord, error) {
	f, err := os.Open(wf.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(wf.headerEnd(), io.SeekStart); err != nil {
		return nil, err
	}

	var out []*WALRecord
	for {
		rec, err := unmarshalWALRecord(f)
		if err != nil {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func marshalWALRecord(rec *WALRecord) []byte {
	n := len(rec.Payload)
	total := walRecHeaderLen + n + walRecTrailerLen
	buf := make([]byte, total)

	putUint32(buf, 0, uint32(total-4))
	putUint64(buf, 4, uint64(rec.TxID))
	buf[12] = byte(rec.Op)
	putUint64(buf, 13, uint64(rec.PageID))
	putUint32(buf, 21, uint32(n))
	if n > 0 {
		copy(buf[25:25+n], rec.Payload)
	}

	h := crc32.New(crcTable)
	h.Write(buf[4 : 25+n])
	binary.LittleEndian.PutUint32(buf[25+n:], h.Sum32())
	return buf
}

func unmarshalWALRecord(r io.Reader) (*WALRecord, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	remaining := binary.LittleEndian.Uint32(lenBuf[:])
	if remaining < walRecHeaderLen-4+walRecTrailerLen {
		return nil, fmt.Errorf("short WAL record")
	}
	body := make([]byte, remaining)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	txID := TxID(getUint64(body, 0))
	op := walOp(body[8])
	pageID := PageID(getUint64(body, 9))
	payloadLen := int(getUint32(body, 17))
	payloadEnd := 21 + payloadLen
	if payloadEnd+4 != len(body) {
		return nil, fmt.Errorf("malformed WAL record framing")
	}
	payload := append([]byte(nil), body[21:payloadEnd]...)
	storedCRC := binary.LittleEndian.Uint32(body[payloadEnd:])

	h := crc32.New(crcTable)
	h.Write(body[:payloadEnd])
	if h.Sum32() != storedCRC {
		return nil, fmt.Errorf("WAL record CRC mismatch")
	}

	return &WALRecord{TxID: txID, Op: op, PageID: pageID, Payload: payload}, nil
}
