// Package reader replays journal files, reconstructing the streams they hold
// and handing them to a Sink.
//
// Replay trusts nothing past the first record that fails validation: a digest
// mismatch, an unexpected global record number or a short read ends the file.
// Streams that are still open at that point never completed and are aborted.
package reader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/alpacahq/journald/digest"
	"github.com/alpacahq/journald/format"
	"github.com/alpacahq/journald/utils/log"
)

// Stream is a stream being reconstructed.
type Stream struct {
	ID    uint32
	Ident []byte
	// StartOffset is the stream offset of the first byte replayed.
	StartOffset uint32
	// Offset is the stream offset after the bytes appended so far.
	Offset uint32
	// Record is the stream record number expected next.
	Record uint32
	// Handle belongs to the Sink, which may set it in Init.
	Handle interface{}
}

// Sink consumes reconstructed streams. Returning an error stops the replay.
type Sink interface {
	Init(s *Stream) error
	// Append receives the payload of one DATA record. p is only valid during
	// the call.
	Append(s *Stream, p []byte) error
	End(s *Stream) error
	Abort(s *Stream) error
}

// Result summarizes the replay of one file.
type Result struct {
	Path         string
	Records      int
	Transactions int
	Ended        int
	Aborted      int
	// Dropped counts the records of a transaction without an end marker.
	Dropped int
	// Stop is the validation failure that ended the file early, nil when the
	// file ended with a clean terminator.
	Stop error
}

// Replay reads the journal at path and drives sink with its streams. The
// returned error reports a file that could not be opened or has no valid
// header, or a Sink failure; damage after the header only ends the replay
// early and is reported in Result.Stop.
func Replay(path string, sink Sink) (Result, error) {
	res := Result{Path: path}
	f, err := os.Open(path)
	if err != nil {
		return res, errors.Wrapf(err, "open journal %s", path)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return res, errors.Wrapf(err, "stat journal %s", path)
	}

	var first [format.FileHeaderFixedSize + 64]byte
	n, err := io.ReadFull(f, first[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return res, errors.Wrapf(err, "read header of %s", path)
	}
	fh, h, err := format.ParseFileHeader(first[:n])
	if err != nil {
		return res, errors.Wrapf(err, "journal %s", path)
	}
	if _, err := f.Seek(int64(fh.PageSize), io.SeekStart); err != nil {
		return res, errors.Wrapf(err, "skip header page of %s", path)
	}

	r := &replay{
		res:     &res,
		sink:    sink,
		hash:    h,
		in:      &cursor{r: bufio.NewReaderSize(f, 64*1024), pos: int64(fh.PageSize)},
		size:    fi.Size(),
		page:    int64(fh.PageSize),
		record:  fh.StartRecord,
		streams: map[uint32]*Stream{},
	}
	log.Debug("start file %s at global record %d", path, fh.StartRecord)
	if err := r.run(); err != nil {
		return res, err
	}
	log.Debug("end file %s: %d records in %d transactions", path, res.Records, res.Transactions)
	return res, nil
}

type replay struct {
	res     *Result
	sink    Sink
	hash    digest.Hash
	in      *cursor
	size    int64
	page    int64
	record  uint32
	streams map[uint32]*Stream
	buf     []byte
	// pending holds the records of the transaction being read
	pending []format.Record
}

func (r *replay) run() error {
	stop, err := r.transactions()
	if err != nil {
		return err
	}
	r.res.Stop = stop
	if stop != nil {
		log.Warn("%s: %v, stopping", r.res.Path, stop)
	}
	return r.abortOpen()
}

// transactions replays until the end of valid data. It returns the
// validation failure that ended it, or an error from the sink. The records of
// a transaction reach the sink only once its end marker is read; a transaction
// cut short was never synced and is dropped whole.
func (r *replay) transactions() (stop error, err error) {
	for {
		// each transaction starts on a page boundary
		if r.in.pos+format.HeaderSize > r.size {
			return nil, nil
		}
		raw, err := r.in.header()
		if err != nil {
			return r.truncated("short header read"), nil
		}
		if format.ParseHeader(raw).Type == format.EOT {
			return nil, nil
		}
		r.pending = r.pending[:0]
		for {
			if stop := r.readRecord(raw); stop != nil {
				return r.drop(stop), nil
			}
			end, err := r.endOfTransaction()
			if err != nil {
				return r.drop(r.truncated("no end marker after record")), nil
			}
			if end {
				break
			}
			if raw, err = r.in.header(); err != nil {
				return r.drop(r.truncated("short header read")), nil
			}
		}
		r.res.Transactions++
		for i := range r.pending {
			r.res.Records++
			if err := r.dispatch(r.pending[i]); err != nil {
				return nil, err
			}
		}
	}
}

// drop discards the records of the transaction being read.
func (r *replay) drop(stop error) error {
	if n := len(r.pending); n > 0 {
		log.Info("%s: dropping %d records of an unterminated transaction", r.res.Path, n)
		r.res.Dropped += n
		r.pending = r.pending[:0]
	}
	return stop
}

// endOfTransaction looks at the type field of the next header. A zero type
// ends the transaction: within a page the rest of the page is padding, on a
// page boundary the last record filled its page and a whole zero page follows
// it. Both are skipped.
func (r *replay) endOfTransaction() (bool, error) {
	rest := r.page - r.in.pos%r.page
	n := int64(4)
	if rest < n {
		// the type field straddles the page; only its low bytes belong to us
		n = rest
	}
	if r.in.pos+n > r.size {
		return false, io.ErrUnexpectedEOF
	}
	b, err := r.in.r.Peek(int(n))
	if err != nil {
		return false, err
	}
	for _, c := range b {
		if c != 0 {
			return false, nil
		}
	}
	if err := r.in.skip(rest); err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return true, nil
}

func (r *replay) truncated(reason string) error {
	return &format.CorruptRecordError{GlobalRecord: r.record, Reason: reason, Err: format.ErrTruncated}
}

// readRecord validates one record whose header is raw and queues it for
// dispatch.
func (r *replay) readRecord(raw []byte) error {
	hdr := format.ParseHeader(raw)
	if hdr.GlobalRecord != r.record {
		return &format.CorruptRecordError{
			GlobalRecord: hdr.GlobalRecord,
			Reason:       fmt.Sprintf("global record number mismatch, expected %d", r.record),
			Err:          format.ErrTruncated,
		}
	}
	limit := r.size - r.in.pos
	if limit > int64(^uint32(0)) {
		limit = int64(^uint32(0))
	}
	rec, buf, err := format.DecodeRecord(r.in, r.hash, raw, uint32(limit), r.buf)
	r.buf = buf
	if err != nil {
		return err
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	r.pending = append(r.pending, rec)
	r.record++
	return nil
}

func (r *replay) dispatch(rec format.Record) error {
	s := r.streams[rec.Stream]
	if s != nil && rec.StreamRecord != s.Record {
		log.Warn("bad record number %d for stream %d, expected %d: dropping stream",
			rec.StreamRecord, s.ID, s.Record)
		return r.abort(s)
	}
	switch {
	case rec.Type.Has(format.Abort):
		if s != nil {
			return r.abort(s)
		}
	case rec.Type.Has(format.Info):
		if s != nil {
			log.Debug("info record for existing stream %d, ignoring", s.ID)
			return nil
		}
		offset, ident, err := format.ParseInfo(rec.Payload)
		if err != nil {
			log.Warn("stream %d: %v", rec.Stream, err)
			return nil
		}
		s = &Stream{
			ID:          rec.Stream,
			Ident:       append([]byte(nil), ident...),
			StartOffset: offset,
			Offset:      offset,
			Record:      rec.StreamRecord,
		}
		r.streams[s.ID] = s
		return r.sink.Init(s)
	default:
		if rec.Type.Has(format.Data) {
			if s == nil {
				log.Debug("data record for nonexistent stream %d", rec.Stream)
			} else {
				if err := r.sink.Append(s, rec.Payload); err != nil {
					return err
				}
				s.Offset += rec.Length
				s.Record++
			}
		}
		if rec.Type.Has(format.EOS) {
			if s == nil {
				log.Debug("end record for nonexistent stream %d", rec.Stream)
				return nil
			}
			delete(r.streams, s.ID)
			r.res.Ended++
			return r.sink.End(s)
		}
	}
	return nil
}

func (r *replay) abort(s *Stream) error {
	delete(r.streams, s.ID)
	r.res.Aborted++
	return r.sink.Abort(s)
}

// abortOpen aborts the streams left without an end marker, in id order.
func (r *replay) abortOpen() error {
	ids := make([]uint32, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s := r.streams[id]
		log.Info("%s: stream %d ident '%s' had no end marker", r.res.Path, s.ID, s.Ident)
		if err := r.abort(s); err != nil {
			return err
		}
	}
	return nil
}

// cursor is a buffered reader that knows its file offset.
type cursor struct {
	r   *bufio.Reader
	pos int64
	hdr [format.HeaderSize]byte
}

func (c *cursor) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.pos += int64(n)
	return n, err
}

func (c *cursor) header() ([]byte, error) {
	if _, err := io.ReadFull(c, c.hdr[:]); err != nil {
		return nil, err
	}
	return c.hdr[:], nil
}

func (c *cursor) skip(n int64) error {
	d, err := c.r.Discard(int(n))
	c.pos += int64(d)
	return err
}
