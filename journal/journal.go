// Package journal builds page-aligned, checksummed transactions of stream
// records on top of a writer.Store.
//
// A journal file starts with a header page. Transactions follow, each starting
// on a page boundary and ending with a zero type marker: the zero-filled tail
// of its last page, or a zero page when its last record fills the page. One
// more zero page follows, which the next transaction overwrites. When a
// record would not fit the file, the journal wraps around: it writes a new
// header carrying the current global record number and starts over after it.
//
// A Journal is not safe for concurrent use. The daemon touches it from a
// single goroutine.
package journal

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/journald/digest"
	"github.com/alpacahq/journald/format"
	"github.com/alpacahq/journald/metrics"
	"github.com/alpacahq/journald/utils/log"
	"github.com/alpacahq/journald/writer"
)

// IdentSize bounds a stream identifier.
const IdentSize = 1024

var (
	// ErrTransactionLost is returned for a stream whose records were part of a
	// transaction that could not be made durable.
	ErrTransactionLost = errors.New("transaction lost")
	// ErrClosed is returned once the journal is closed.
	ErrClosed = errors.New("journal closed")
)

// Options select the commit mode and the record digest.
type Options struct {
	// TwoPass writes the first record of each transaction with a zero type and
	// restores the type only after the transaction is durable.
	TwoPass bool
	// Digest names the record digest; it fixes the format version.
	Digest string
	// StartRecord is the global record number of the first record.
	StartRecord uint32
}

// txn is shared by the streams that wrote into one transaction, so that a
// failed commit can be charged to all of them.
type txn struct {
	lost bool
}

// Stream is the writer side state of one producer stream.
type Stream struct {
	id    uint32
	ident []byte
	total uint32
	recs  uint32
	gen   uint64
	tx    *txn
}

func (s *Stream) ID() uint32 { return s.id }

func (s *Stream) Ident() []byte { return s.ident }

// Total is the number of payload bytes written so far.
func (s *Stream) Total() uint32 { return s.total }

// Records is the stream record number of the next record.
func (s *Stream) Records() uint32 { return s.recs }

// Lost reports whether records of this stream were dropped by a failed commit.
func (s *Stream) Lost() bool {
	return s.tx != nil && s.tx.lost
}

// Journal writes streams into one journal file.
type Journal struct {
	st      writer.Store
	pw      *writer.PageWriter
	geo     writer.Geometry
	hash    digest.Hash
	version uint32
	twoPass bool

	record     uint32
	generation uint64
	nextStream uint32
	info       []byte

	// current transaction
	tx       *txn
	txStart  int64
	txRecord uint32
	txOpen   bool
	txType   format.RecordType

	fatal  error
	closed bool

	rotations uint64
	syncs     uint64
}

// Open initializes st on path and starts a fresh journal in it: the header page
// is written and synced before Open returns. Anything the file held before is
// superseded.
func Open(st writer.Store, path string, opts Options) (*Journal, error) {
	h, err := digest.ForName(opts.Digest)
	if err != nil {
		return nil, err
	}
	version, err := digest.Version(opts.Digest)
	if err != nil {
		return nil, err
	}
	geo, err := st.Init(path)
	if err != nil {
		return nil, err
	}
	if format.FileHeaderSize(h) > geo.PageSize {
		_ = st.Close()
		return nil, errors.Errorf("page size %d cannot hold the file header", geo.PageSize)
	}
	j := &Journal{
		st:         st,
		pw:         writer.NewPageWriter(st),
		geo:        geo,
		hash:       h,
		version:    version,
		twoPass:    opts.TwoPass,
		record:     opts.StartRecord,
		generation: 1,
		tx:         &txn{},
		info:       make([]byte, 0, format.InfoOffsetSize+IdentSize),
	}
	if err := j.writeHeader(); err != nil {
		_ = st.Close()
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	log.Info("opened journal %s: %s backend, %d pages of %d bytes, digest %s, two-pass %v",
		path, st.Backend(), geo.Pages(), geo.PageSize, h.Name(), opts.TwoPass)
	return j, nil
}

// Geometry of the underlying file.
func (j *Journal) Geometry() writer.Geometry { return j.geo }

// Err returns the error that made the journal unusable, if any. Failing to
// rotate leaves the journal in an unknown state and is not recoverable.
func (j *Journal) Err() error { return j.fatal }

// Rotations is the number of times the journal wrapped around.
func (j *Journal) Rotations() uint64 { return j.rotations }

// Syncs is the number of commits issued to the store.
func (j *Journal) Syncs() uint64 { return j.syncs }

// NextRecord is the global record number the next record gets.
func (j *Journal) NextRecord() uint32 { return j.record }

// NewStream registers a producer stream. Stream ids are unique among the
// streams of one journal.
func (j *Journal) NewStream(ident []byte) (*Stream, error) {
	if len(ident) > IdentSize {
		return nil, fmt.Errorf("identifier of %d bytes exceeds %d", len(ident), IdentSize)
	}
	s := &Stream{id: j.nextStream, ident: append([]byte(nil), ident...)}
	j.nextStream++
	return s, nil
}

// Write appends payload to the stream as one record, marking the end of the
// stream when final is set. An empty, non-final write is a no-op.
func (j *Journal) Write(s *Stream, payload []byte, final bool) error {
	var typ format.RecordType
	if len(payload) > 0 {
		typ |= format.Data
	}
	if final {
		typ |= format.EOS
	}
	if typ == format.EOT {
		return nil
	}
	return j.write(s, typ, payload)
}

// Abort records that the stream was abandoned. A stream that never wrote a
// byte, or whose records were already lost, leaves no trace.
func (j *Journal) Abort(s *Stream) error {
	if s.total == 0 || s.Lost() {
		return nil
	}
	return j.write(s, format.Abort, nil)
}

func (j *Journal) usable() error {
	if j.closed {
		return ErrClosed
	}
	return j.fatal
}

func (j *Journal) write(s *Stream, typ format.RecordType, payload []byte) error {
	if err := j.usable(); err != nil {
		return err
	}
	if s.Lost() {
		return ErrTransactionLost
	}
	if err := j.makeRoom(s, len(payload)); err != nil {
		return err
	}
	if s.gen != j.generation {
		j.info = format.AppendInfo(j.info[:0], s.total, s.ident)
		if err := j.writeRecord(format.Info, s, j.info); err != nil {
			return j.lose(err)
		}
		s.gen = j.generation
	}
	if err := j.writeRecord(typ, s, payload); err != nil {
		return j.lose(err)
	}
	s.total += uint32(len(payload))
	s.recs++
	metrics.BytesWritten.Add(float64(len(payload)))

	// leave room for the next transaction to start
	if j.needsRotate(1) {
		return j.rotate()
	}
	return nil
}

// needsRotate reports whether n more bytes, a terminating byte and a spare
// page for the commit no longer fit.
func (j *Journal) needsRotate(n int) bool {
	return j.pw.Pos()+int64(n)+1+int64(j.geo.PageSize) >= j.geo.Capacity
}

func (j *Journal) recordSize(s *Stream, n int) int {
	size := format.EncodedSize(j.hash, n)
	if s.gen != j.generation {
		size += format.EncodedSize(j.hash, format.InfoOffsetSize+len(s.ident))
	}
	return size
}

func (j *Journal) makeRoom(s *Stream, n int) error {
	if !j.needsRotate(j.recordSize(s, n)) {
		return nil
	}
	// a fresh lap starts after the header page and needs an INFO record too
	need := format.EncodedSize(j.hash, n) + format.EncodedSize(j.hash, format.InfoOffsetSize+len(s.ident))
	page := int64(j.geo.PageSize)
	if page+int64(need)+1+page >= j.geo.Capacity {
		return errors.Wrapf(&writer.CapacityExceededError{
			Pos: j.pw.Pos(), Need: int64(need), Capacity: j.geo.Capacity,
		}, "record of %d bytes for stream %d", n, s.id)
	}
	return j.rotate()
}

func (j *Journal) writeRecord(typ format.RecordType, s *Stream, payload []byte) error {
	hdr := format.Header{
		Type:         typ,
		GlobalRecord: j.record,
		Stream:       s.id,
		StreamRecord: s.recs,
	}
	var err error
	if !j.txOpen {
		j.txOpen = true
		j.txStart = j.pw.Pos()
		j.txRecord = j.record
		j.txType = typ
		if j.twoPass {
			j.pw.Hold()
			err = format.EncodePlaceholder(j.pw, j.hash, hdr, payload)
		} else {
			err = format.EncodeRecord(j.pw, j.hash, hdr, payload)
		}
	} else {
		err = format.EncodeRecord(j.pw, j.hash, hdr, payload)
	}
	if err != nil {
		return err
	}
	j.record++
	s.tx = j.tx
	metrics.RecordsWritten.WithLabelValues(typ.String()).Inc()
	return nil
}

// lose drops the open transaction after a write error: every stream that wrote
// into it is marked lost and the position returns to where it started.
func (j *Journal) lose(err error) error {
	j.tx.lost = true
	j.tx = &txn{}
	if j.txOpen {
		j.record = j.txRecord
		j.pw.Reset()
		if serr := j.st.SeekPage(j.txStart); serr != nil {
			j.fatal = errors.Wrap(serr, "rewind lost transaction")
		}
		j.txOpen = false
	}
	log.Error("journal transaction lost: %v", err)
	return err
}

// Sync commits the open transaction: its last page is padded, a zero page
// terminates it and the store is synced. In two-pass mode the first record's
// type is then restored and synced again. On failure every stream that wrote
// into the transaction is lost and the next transaction overwrites it.
func (j *Journal) Sync() error {
	if err := j.usable(); err != nil {
		return err
	}
	if !j.txOpen && j.pw.Offset() == 0 {
		return nil
	}
	start := time.Now()
	j.syncs++
	metrics.SyncsTotal.Inc()
	if err := j.commit(); err != nil {
		metrics.SyncFailuresTotal.Inc()
		return j.lose(errors.Wrap(err, "commit journal transaction"))
	}
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (j *Journal) commit() error {
	if err := j.syncRecords(); err != nil {
		return err
	}
	if j.txOpen && j.twoPass {
		typ := j.txType
		if err := j.pw.Rewrite(func(page []byte) { format.PutType(page, typ) }); err != nil {
			return err
		}
		if err := j.st.Sync(); err != nil {
			return err
		}
	}
	j.txOpen = false
	j.tx = &txn{}
	return nil
}

// syncRecords pads and writes the pending page, writes the terminating zero
// page, syncs, and returns to the zero page so the next transaction starts
// there. A transaction whose last record filled its page keeps a zero page of
// its own as end marker, so it never runs into the next transaction.
func (j *Journal) syncRecords() error {
	if j.txOpen && j.pw.Offset() == 0 {
		if err := j.pw.WriteZeroPage(); err != nil {
			return err
		}
	}
	if err := j.pw.Flush(); err != nil {
		return err
	}
	prev := j.st.Pos()
	if err := j.pw.WriteZeroPage(); err != nil {
		return err
	}
	if err := j.st.Sync(); err != nil {
		return err
	}
	return j.st.SeekPage(prev)
}

func (j *Journal) writeHeader() error {
	var scratch [format.FileHeaderFixedSize + 64]byte
	fh := format.FileHeader{
		Version:     j.version,
		PageSize:    uint32(j.geo.PageSize),
		StartRecord: j.record,
	}
	n := fh.Put(j.hash, scratch[:])
	j.pw.Reset()
	if err := j.st.SeekPage(0); err != nil {
		return err
	}
	if _, err := j.pw.Write(scratch[:n]); err != nil {
		return err
	}
	return j.syncRecords()
}

// Rotate commits the open transaction and wraps the journal around to a new
// header. Every stream writes its INFO record again before its next record.
func (j *Journal) Rotate() error {
	if err := j.usable(); err != nil {
		return err
	}
	return j.rotate()
}

func (j *Journal) rotate() error {
	if j.txOpen || j.pw.Offset() != 0 {
		if err := j.commit(); err != nil {
			j.fatal = errors.Wrap(err, "rotate journal")
			return j.fatal
		}
	}
	if err := j.writeHeader(); err != nil {
		j.fatal = errors.Wrap(err, "rotate journal")
		return j.fatal
	}
	j.generation++
	j.rotations++
	metrics.RotationsTotal.Inc()
	log.Info("journal rotated at global record %d", j.record)
	return nil
}

// Close commits the open transaction when syncOnExit is set and closes the
// store.
func (j *Journal) Close(syncOnExit bool) error {
	if j.closed {
		return nil
	}
	var err error
	if syncOnExit && j.fatal == nil {
		err = j.Sync()
	}
	j.closed = true
	if cerr := j.st.Close(); err == nil {
		err = cerr
	}
	return err
}
