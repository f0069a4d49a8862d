package reader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"

	"github.com/alpacahq/journald/utils/log"
)

// DumpSink prints one line per stream event, describing the low-level
// contents of a journal.
type DumpSink struct {
	w *bufio.Writer
}

func NewDumpSink(w io.Writer) *DumpSink {
	return &DumpSink{w: bufio.NewWriter(w)}
}

func (d *DumpSink) line(s *Stream, format string, args ...interface{}) error {
	fmt.Fprintf(d.w, "stream %10d record %10d offset %10d ", s.ID, s.Record, s.Offset)
	_, err := fmt.Fprintf(d.w, format+"\n", args...)
	return err
}

func (d *DumpSink) Init(s *Stream) error {
	return d.line(s, "init ident(%d)='%s'", len(s.Ident), s.Ident)
}

func (d *DumpSink) Append(s *Stream, p []byte) error {
	return d.line(s, "append bytes %d", len(p))
}

func (d *DumpSink) End(s *Stream) error {
	return d.line(s, "end")
}

func (d *DumpSink) Abort(s *Stream) error {
	return d.line(s, "abort")
}

// Flush writes buffered lines to the underlying writer.
func (d *DumpSink) Flush() error {
	return d.w.Flush()
}

// ExecSink spools each stream into an unlinked temporary file and, when the
// stream ends, runs a program with the file as its standard input and the
// stream identifier and starting offset appended to its arguments. Aborted
// streams are discarded.
type ExecSink struct {
	ctx  context.Context
	argv []string
	// TempDir holds the spool files; empty uses the system default.
	TempDir string
	// Stdout and Stderr of the program; nil discards.
	Stdout, Stderr io.Writer
}

func NewExecSink(ctx context.Context, program string, args ...string) *ExecSink {
	return &ExecSink{ctx: ctx, argv: append([]string{program}, args...)}
}

type spool struct {
	f *os.File
	w *bufio.Writer
}

func (e *ExecSink) Init(s *Stream) error {
	f, err := os.CreateTemp(e.TempDir, "journald-read.tmp.")
	if err != nil {
		return errors.Wrap(err, "create spool file")
	}
	if err := os.Remove(f.Name()); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "unlink spool file")
	}
	s.Handle = &spool{f: f, w: bufio.NewWriter(f)}
	return nil
}

func (e *ExecSink) Append(s *Stream, p []byte) error {
	sp := s.Handle.(*spool)
	if _, err := sp.w.Write(p); err != nil {
		return errors.Wrapf(err, "spool stream %d", s.ID)
	}
	return nil
}

func (e *ExecSink) End(s *Stream) error {
	sp := s.Handle.(*spool)
	defer sp.f.Close()
	if err := sp.w.Flush(); err != nil {
		return errors.Wrapf(err, "spool stream %d", s.ID)
	}
	if _, err := sp.f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrapf(err, "rewind spool of stream %d", s.ID)
	}

	args := append(append([]string(nil), e.argv[1:]...), string(s.Ident), strconv.FormatUint(uint64(s.StartOffset), 10))
	cmd := exec.CommandContext(e.ctx, e.argv[0], args...)
	cmd.Stdin = sp.f
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// the stream was handed over; a failing consumer does not stop the replay
			log.Warn("%s for stream %d ident '%s' exited: %v", e.argv[0], s.ID, s.Ident, err)
			return nil
		}
		return errors.Wrapf(err, "run %s", e.argv[0])
	}
	return nil
}

func (e *ExecSink) Abort(s *Stream) error {
	sp := s.Handle.(*spool)
	return sp.f.Close()
}
