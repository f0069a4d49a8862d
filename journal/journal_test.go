package journal_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/journald/journal"
	"github.com/alpacahq/journald/reader"
	"github.com/alpacahq/journald/utils/test"
	"github.com/alpacahq/journald/writer"
)

func replay(t *testing.T, path string) (*test.Recorder, reader.Result) {
	t.Helper()
	rec := test.NewRecorder()
	res, err := reader.Replay(path, rec)
	require.Nil(t, err)
	return rec, res
}

func TestSingleStreamRoundTrip(t *testing.T) {
	for _, backend := range writer.Backends {
		for _, twoPass := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/two-pass=%v", backend, twoPass), func(t *testing.T) {
				path := test.MakeJournalFile(t, 16, 4096)
				j := test.OpenJournal(t, backend, 4096, path, journal.Options{TwoPass: twoPass})

				s, err := j.NewStream([]byte("svc1"))
				require.Nil(t, err)
				require.Nil(t, j.Write(s, []byte("hello"), false))
				require.Nil(t, j.Write(s, []byte("world"), false))
				require.Nil(t, j.Write(s, nil, true))
				require.Nil(t, j.Sync())
				assert.Equal(t, uint32(10), s.Total())
				assert.Equal(t, uint32(3), s.Records())
				require.Nil(t, j.Close(true))

				rec, res := replay(t, path)
				assert.Nil(t, res.Stop)
				assert.Equal(t, 4, res.Records)
				assert.Equal(t, 1, res.Transactions)
				assert.Equal(t, "helloworld", string(rec.Ended["svc1"]))
			})
		}
	}
}

func TestEmptyWriteIsNoop(t *testing.T) {
	path := test.MakeJournalFile(t, 8, 4096)
	j := test.OpenJournal(t, writer.FDataSync, 4096, path, journal.Options{})
	s, err := j.NewStream([]byte("x"))
	require.Nil(t, err)
	before := j.NextRecord()
	require.Nil(t, j.Write(s, nil, false))
	assert.Equal(t, before, j.NextRecord())
	// nothing written, nothing to abort
	require.Nil(t, j.Abort(s))
	assert.Equal(t, before, j.NextRecord())
}

func TestAbortRecord(t *testing.T) {
	path := test.MakeJournalFile(t, 8, 4096)
	j := test.OpenJournal(t, writer.FDataSync, 4096, path, journal.Options{})
	s, err := j.NewStream([]byte("gone"))
	require.Nil(t, err)
	require.Nil(t, j.Write(s, []byte("partial"), false))
	require.Nil(t, j.Abort(s))
	require.Nil(t, j.Sync())

	rec, res := replay(t, path)
	assert.Nil(t, res.Stop)
	want := []string{`init 0 gone@0`, `append 0 "partial"`, `abort 0`}
	if diff := cmp.Diff(want, rec.Events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestIdentifierBound(t *testing.T) {
	path := test.MakeJournalFile(t, 8, 4096)
	j := test.OpenJournal(t, writer.FDataSync, 4096, path, journal.Options{})
	_, err := j.NewStream([]byte(strings.Repeat("i", journal.IdentSize+1)))
	assert.NotNil(t, err)
	_, err = j.NewStream([]byte(strings.Repeat("i", journal.IdentSize)))
	assert.Nil(t, err)
}

func TestRotationReemitsInfo(t *testing.T) {
	const pageSize = 512
	path := test.MakeJournalFile(t, 8, pageSize)
	j := test.OpenJournal(t, writer.FDataSync, pageSize, path, journal.Options{})

	a, err := j.NewStream([]byte("a"))
	require.Nil(t, err)
	b, err := j.NewStream([]byte("b"))
	require.Nil(t, err)

	written := map[string][]byte{}
	write := func(s *journal.Stream, p []byte, final bool) {
		require.Nil(t, j.Write(s, p, final))
		written[string(s.Ident())] = append(written[string(s.Ident())], p...)
	}
	for i := 0; j.Rotations() == 0; i++ {
		require.Less(t, i, 1000)
		chunk := bytes.Repeat([]byte{byte('a' + i%26)}, 100)
		write(a, chunk, false)
		if j.Rotations() == 0 {
			write(b, chunk, false)
		}
	}
	assert.Equal(t, uint64(1), j.Rotations())

	write(a, []byte("tail-a"), true)
	write(b, []byte("tail-b"), true)
	require.Nil(t, j.Sync())
	assert.Equal(t, uint64(1), j.Rotations())

	rec, res := replay(t, path)
	assert.Nil(t, res.Stop)
	// only the lap after the rotation is left; both streams resume in it at
	// the offset their INFO record announces
	for _, ident := range []string{"a", "b"} {
		start, ok := rec.Starts[ident]
		require.True(t, ok, ident)
		assert.Greater(t, start, uint32(0), ident)
		assert.Equal(t, written[ident][start:], rec.Ended[ident], ident)
	}
}

func TestRotationWithoutRecordsBetween(t *testing.T) {
	path := test.MakeJournalFile(t, 8, 512)
	j := test.OpenJournal(t, writer.FDataSync, 512, path, journal.Options{})
	s, err := j.NewStream([]byte("s"))
	require.Nil(t, err)
	require.Nil(t, j.Write(s, []byte("one"), false))
	require.Nil(t, j.Rotate())
	require.Nil(t, j.Write(s, []byte("two"), true))
	require.Nil(t, j.Sync())

	rec, res := replay(t, path)
	assert.Nil(t, res.Stop)
	want := []string{`init 0 s@3`, `append 0 "two"`, `end 0`}
	if diff := cmp.Diff(want, rec.Events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordLargerThanJournal(t *testing.T) {
	path := test.MakeJournalFile(t, 4, 512)
	j := test.OpenJournal(t, writer.FDataSync, 512, path, journal.Options{})
	s, err := j.NewStream([]byte("big"))
	require.Nil(t, err)
	err = j.Write(s, make([]byte, 4*512), true)
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, writer.ErrCapacityExceeded))
	assert.Nil(t, j.Err())
}

func TestOversizedRecordKeepsLap(t *testing.T) {
	path := test.MakeJournalFile(t, 8, 512)
	j := test.OpenJournal(t, writer.FDataSync, 512, path, journal.Options{})
	kept, err := j.NewStream([]byte("kept"))
	require.Nil(t, err)
	require.Nil(t, j.Write(kept, []byte("committed"), true))
	require.Nil(t, j.Sync())

	big, err := j.NewStream([]byte("big"))
	require.Nil(t, err)
	err = j.Write(big, make([]byte, 8*512), true)
	assert.True(t, errors.Is(err, writer.ErrCapacityExceeded))
	assert.Equal(t, uint64(0), j.Rotations())

	rec, res := replay(t, path)
	assert.Nil(t, res.Stop)
	assert.Equal(t, map[string][]byte{"kept": []byte("committed")}, rec.Ended)
}

// faultyStore fails every page write once armed.
type faultyStore struct {
	writer.Store
	armed bool
}

var errInjected = errors.New("injected write failure")

func (f *faultyStore) WritePage() error {
	if f.armed {
		return errInjected
	}
	return f.Store.WritePage()
}

func (f *faultyStore) Sync() error {
	if f.armed {
		return errInjected
	}
	return f.Store.Sync()
}

func TestFailedSyncLosesTransaction(t *testing.T) {
	path := test.MakeJournalFile(t, 16, 4096)
	st, err := writer.New(writer.FDataSync, writer.Options{PageSize: 4096})
	require.Nil(t, err)
	fs := &faultyStore{Store: st}
	j := test.OpenJournalOn(t, fs, path, journal.Options{})

	kept, err := j.NewStream([]byte("kept"))
	require.Nil(t, err)
	require.Nil(t, j.Write(kept, []byte("durable"), true))
	require.Nil(t, j.Sync())

	a, err := j.NewStream([]byte("a"))
	require.Nil(t, err)
	b, err := j.NewStream([]byte("b"))
	require.Nil(t, err)
	require.Nil(t, j.Write(a, []byte("first"), true))
	require.Nil(t, j.Write(b, []byte("second"), false))

	fs.armed = true
	require.NotNil(t, j.Sync())
	assert.True(t, a.Lost())
	assert.True(t, b.Lost())
	assert.False(t, kept.Lost())
	assert.True(t, errors.Is(j.Write(b, []byte("more"), true), journal.ErrTransactionLost))
	assert.Nil(t, j.Abort(b))

	fs.armed = false
	c, err := j.NewStream([]byte("c"))
	require.Nil(t, err)
	require.Nil(t, j.Write(c, []byte("after"), true))
	require.Nil(t, j.Sync())

	rec, res := replay(t, path)
	assert.Nil(t, res.Stop)
	want := map[string][]byte{"kept": []byte("durable"), "c": []byte("after")}
	if diff := cmp.Diff(want, rec.Ended); diff != "" {
		t.Errorf("ended streams mismatch (-want +got):\n%s", diff)
	}
}

// revealFailStore fails the page write that restores the first record type in
// two-pass mode, after the transaction itself was synced.
type revealFailStore struct {
	writer.Store
	syncs     int
	failAfter int
}

func (r *revealFailStore) Sync() error {
	r.syncs++
	return r.Store.Sync()
}

func (r *revealFailStore) WritePage() error {
	if r.failAfter > 0 && r.syncs >= r.failAfter {
		return errInjected
	}
	return r.Store.WritePage()
}

func TestTwoPassHidesUnrevealedTransaction(t *testing.T) {
	path := test.MakeJournalFile(t, 16, 4096)
	st, err := writer.New(writer.FDataSync, writer.Options{PageSize: 4096})
	require.Nil(t, err)
	rs := &revealFailStore{Store: st}
	j := test.OpenJournalOn(t, rs, path, journal.Options{TwoPass: true})

	s, err := j.NewStream([]byte("pending"))
	require.Nil(t, err)
	require.Nil(t, j.Write(s, []byte("payload"), true))
	// the open synced once; the commit's first sync lands, the reveal fails
	rs.failAfter = rs.syncs + 1
	require.NotNil(t, j.Sync())
	assert.True(t, s.Lost())

	rec, res := replay(t, path)
	assert.Nil(t, res.Stop)
	assert.Equal(t, 0, res.Records)
	assert.Empty(t, rec.Events)
}

func TestClosedJournal(t *testing.T) {
	path := test.MakeJournalFile(t, 8, 4096)
	j := test.OpenJournal(t, writer.Mmap, 4096, path, journal.Options{})
	s, err := j.NewStream([]byte("s"))
	require.Nil(t, err)
	require.Nil(t, j.Close(true))
	assert.True(t, errors.Is(j.Write(s, []byte("x"), true), journal.ErrClosed))
	assert.Nil(t, j.Close(true))
}

func TestOpenRejectsUnknownDigest(t *testing.T) {
	path := test.MakeJournalFile(t, 8, 4096)
	st, err := writer.New(writer.FDataSync, writer.Options{PageSize: 4096})
	require.Nil(t, err)
	_, err = journal.Open(st, path, journal.Options{Digest: "crc32"})
	assert.NotNil(t, err)
}
