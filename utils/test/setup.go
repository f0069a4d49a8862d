// Package test holds fixtures shared by the package tests: journal files,
// opened journals and a Sink that records what a replay dispatched.
package test

import (
	"errors"
	"fmt"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/alpacahq/journald/journal"
	"github.com/alpacahq/journald/reader"
	"github.com/alpacahq/journald/writer"
)

// MakeJournalFile preallocates a journal of pages pages of pageSize bytes in a
// fresh temporary directory.
func MakeJournalFile(t testing.TB, pages, pageSize int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal")
	if err := writer.Preallocate(path, int64(pages*pageSize), 0o600); err != nil {
		t.Fatalf("preallocate %s: %v", path, err)
	}
	return path
}

// OpenJournal opens a journal on path with the backend. Backends the test file
// system does not support (O_DIRECT on tmpfs) skip the test.
func OpenJournal(t testing.TB, backend writer.Backend, pageSize int, path string, opts journal.Options) *journal.Journal {
	t.Helper()
	st, err := writer.New(backend, writer.Options{PageSize: pageSize})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return OpenJournalOn(t, st, path, opts)
}

// OpenJournalOn opens a journal on an existing store.
func OpenJournalOn(t testing.TB, st writer.Store, path string, opts journal.Options) *journal.Journal {
	t.Helper()
	j, err := journal.Open(st, path, opts)
	if err != nil {
		if st.Backend() == writer.OpenDirect && errors.Is(err, syscall.EINVAL) {
			t.Skipf("O_DIRECT unavailable here: %v", err)
		}
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close(false) })
	return j
}

// Recorder is a reader.Sink that keeps one line per dispatched event and the
// bytes of every ended stream.
type Recorder struct {
	Events []string
	Ended  map[string][]byte
	Starts map[string]uint32
	open   map[uint32][]byte
}

func NewRecorder() *Recorder {
	return &Recorder{Ended: map[string][]byte{}, Starts: map[string]uint32{}, open: map[uint32][]byte{}}
}

func (r *Recorder) Init(s *reader.Stream) error {
	r.Events = append(r.Events, fmt.Sprintf("init %d %s@%d", s.ID, s.Ident, s.StartOffset))
	r.Starts[string(s.Ident)] = s.StartOffset
	r.open[s.ID] = nil
	return nil
}

func (r *Recorder) Append(s *reader.Stream, p []byte) error {
	r.Events = append(r.Events, fmt.Sprintf("append %d %q", s.ID, p))
	r.open[s.ID] = append(r.open[s.ID], p...)
	return nil
}

func (r *Recorder) End(s *reader.Stream) error {
	r.Events = append(r.Events, fmt.Sprintf("end %d", s.ID))
	r.Ended[string(s.Ident)] = r.open[s.ID]
	delete(r.open, s.ID)
	return nil
}

func (r *Recorder) Abort(s *reader.Stream) error {
	r.Events = append(r.Events, fmt.Sprintf("abort %d", s.ID))
	delete(r.open, s.ID)
	return nil
}
