// Package server runs the journald daemon: it accepts producer connections on
// a listener, decodes their streams into a journal and answers each completed
// stream with a status byte once its records are durable.
//
// One goroutine, the loop, owns the journal, the connection table and the
// sync scheduler. Every connection has a reader goroutine that performs one
// bounded read at a time and hands the chunk to the loop, reading again only
// after the loop has consumed it. The loop's select waits for connection
// input, the sync debounce timer and shutdown at once.
package server

import (
	"context"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/alpacahq/journald/journal"
	"github.com/alpacahq/journald/metrics"
	"github.com/alpacahq/journald/protocol"
	"github.com/alpacahq/journald/utils/log"
)

const (
	// DefaultMaxConnections bounds concurrently served connections. Further
	// clients wait in the listen backlog.
	DefaultMaxConnections = 10

	statusTimeout   = time.Second
	acceptRetryWait = 10 * time.Millisecond
)

type Options struct {
	MaxConnections int
	Framing        protocol.Framing
	SyncDebounce   time.Duration
	// SyncOnExit commits what was written before the server stops.
	SyncOnExit bool
}

// Server is the daemon context. It is built once and serves one listener.
type Server struct {
	j     *journal.Journal
	opts  Options
	sched *Scheduler

	events chan event
	slots  chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	conns   map[uint64]*conn
	pending []*conn
	nextID  uint64
}

// event is either an accepted connection, a chunk read from a connection, or
// a failed listener.
type event struct {
	nc   net.Conn
	c    *conn
	data []byte
	err  error
}

func New(j *journal.Journal, opts Options) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.Framing == "" {
		opts.Framing = protocol.Text
	}
	s := &Server{
		j:      j,
		opts:   opts,
		sched:  NewScheduler(opts.SyncDebounce),
		events: make(chan event),
		slots:  make(chan struct{}, opts.MaxConnections),
		done:   make(chan struct{}),
		conns:  map[uint64]*conn{},
	}
	for i := 0; i < opts.MaxConnections; i++ {
		s.slots <- struct{}{}
	}
	return s
}

// Serve runs the loop until ctx is canceled, the listener fails or the
// journal becomes unusable. Open streams are aborted on the way out and the
// journal is closed. The returned error is nil only for a requested shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.wg.Add(1)
	go s.accept(ln)

	var cause error
	for cause == nil {
		select {
		case ev := <-s.events:
			if err := s.handle(ev); err != nil && ctx.Err() == nil {
				cause = err
			}
		case <-s.sched.C():
			s.syncBatch()
		case <-ctx.Done():
			return s.shutdown(ln, nil)
		}
		if err := s.j.Err(); err != nil {
			cause = err
		}
		if ctx.Err() != nil {
			break
		}
		if cause == nil && s.sched.Due(len(s.pending), len(s.conns)) {
			s.syncBatch()
		}
	}
	return s.shutdown(ln, cause)
}

// accept takes a connection slot before every Accept, so that once all slots
// are in use further clients queue in the listen backlog.
func (s *Server) accept(ln net.Listener) {
	defer s.wg.Done()
	for {
		select {
		case <-s.slots:
		case <-s.done:
			return
		}
		nc, err := ln.Accept()
		if err != nil {
			s.slots <- struct{}{}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warn("accept: %v", err)
				time.Sleep(acceptRetryWait)
				continue
			}
			select {
			case s.events <- event{err: errors.Wrap(err, "accept")}:
			case <-s.done:
			}
			return
		}
		select {
		case s.events <- event{nc: nc}:
		case <-s.done:
			_ = nc.Close()
			return
		}
	}
}

func (s *Server) handle(ev event) error {
	switch {
	case ev.nc != nil:
		s.open(ev.nc)
	case ev.c != nil:
		s.input(ev.c, ev.data, ev.err)
	default:
		return ev.err
	}
	return nil
}

func (s *Server) open(nc net.Conn) {
	id := s.nextID
	s.nextID++
	c := &conn{
		id:  id,
		nc:  nc,
		j:   s.j,
		ack: make(chan struct{}, 1),
		log: log.With(zap.Uint64("conn", id)),
	}
	c.proto = protocol.NewConn(s.opts.Framing, c)
	s.conns[id] = c
	metrics.ActiveConnections.Inc()
	c.log.Debug("connection start", zap.Int("connections", len(s.conns)))

	s.wg.Add(1)
	go c.read(s.events, s.done, &s.wg)
}

// input feeds one chunk to the connection's state machine and settles the
// connection once its stream ended.
func (s *Server) input(c *conn, data []byte, rerr error) {
	if len(data) > 0 {
		if err := c.proto.Feed(data); err != nil {
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) {
				metrics.ProtocolErrorsTotal.Inc()
				c.log.Warn("protocol error", zap.Error(err))
			} else {
				c.log.Warn("stream write failed", zap.Error(err))
			}
		}
	}
	if rerr != nil && c.proto.State() != protocol.Terminal {
		if !errors.Is(rerr, io.EOF) {
			c.log.Warn("read failed", zap.Error(rerr))
		}
		if err := c.proto.Close(); err != nil {
			c.log.Warn("abort failed", zap.Error(err))
		}
	}

	switch c.proto.Outcome() {
	case protocol.Pending:
		c.ack <- struct{}{}
	case protocol.Committed:
		close(c.ack)
		s.pending = append(s.pending, c)
	case protocol.Aborted:
		close(c.ack)
		s.finish(c, false)
	}
}

// syncBatch commits the journal and answers every connection that waited for
// it. A failed sync fails the whole batch.
func (s *Server) syncBatch() {
	batch := s.pending
	s.pending = nil
	s.sched.Stop()

	err := s.j.Sync()
	if err != nil {
		log.Error("journal sync for %d connections failed: %v", len(batch), err)
	}
	if len(batch) > 0 {
		metrics.SyncBatchSize.Observe(float64(len(batch)))
	}
	for _, c := range batch {
		s.finish(c, err == nil && !c.stream.Lost())
	}
}

// finish writes the status byte and releases the connection's slot.
func (s *Server) finish(c *conn, ok bool) {
	status := []byte{0}
	if ok {
		status[0] = 1
	}
	_ = c.nc.SetWriteDeadline(time.Now().Add(statusTimeout))
	if _, err := c.nc.Write(status); err != nil {
		c.log.Debug("status not delivered", zap.Error(err))
	}
	_ = c.nc.Close()
	delete(s.conns, c.id)
	s.slots <- struct{}{}
	metrics.ActiveConnections.Dec()

	outcome := "Failed"
	if ok {
		outcome = protocol.Committed.String()
	} else if c.proto.Outcome() == protocol.Aborted {
		outcome = protocol.Aborted.String()
	}
	fields := []zap.Field{zap.String("outcome", outcome)}
	if c.stream != nil {
		fields = append(fields,
			zap.ByteString("ident", c.stream.Ident()),
			zap.Uint32("bytes", c.stream.Total()),
			zap.Uint32("records", c.stream.Records()),
		)
	}
	c.log.Info("connection end", fields...)
}

// shutdown stops accepting, aborts every stream still in flight, answers the
// pending batch and closes the journal.
func (s *Server) shutdown(ln net.Listener, cause error) error {
	close(s.done)
	_ = ln.Close()
	if cause != nil {
		log.Error("journald stopping: %v", cause)
	} else {
		log.Info("journald stopping")
	}

	ids := make([]uint64, 0, len(s.conns))
	for id, c := range s.conns {
		if c.proto.State() != protocol.Terminal {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	for _, id := range ids {
		c := s.conns[id]
		if err := c.proto.Close(); err != nil {
			c.log.Warn("abort failed", zap.Error(err))
		}
		s.finish(c, false)
	}

	if s.opts.SyncOnExit && s.j.Err() == nil {
		s.syncBatch()
	} else {
		for _, c := range s.pending {
			s.finish(c, false)
		}
		s.pending = nil
	}
	if err := s.j.Close(s.opts.SyncOnExit); err != nil && cause == nil {
		cause = errors.Wrap(err, "close journal")
	}
	s.wg.Wait()
	return cause
}
