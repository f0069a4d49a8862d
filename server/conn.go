package server

import (
	"net"
	"sync"

	"github.com/alpacahq/journald/journal"
	"github.com/alpacahq/journald/protocol"
	"github.com/alpacahq/journald/utils/log"
)

// conn is the loop's side of one producer connection. It is the
// protocol.Emitter of its state machine and writes straight into the journal.
type conn struct {
	id     uint64
	nc     net.Conn
	j      *journal.Journal
	proto  *protocol.Conn
	stream *journal.Stream
	ack    chan struct{}
	log    *log.Logger
}

func (c *conn) Begin(ident []byte) error {
	s, err := c.j.NewStream(ident)
	if err != nil {
		return err
	}
	c.stream = s
	return nil
}

func (c *conn) Write(p []byte, final bool) error {
	return c.j.Write(c.stream, p, final)
}

func (c *conn) Abort() error {
	if c.stream == nil {
		return nil
	}
	return c.j.Abort(c.stream)
}

// read runs on its own goroutine. Each chunk is handed to the loop, and the
// buffer is reused only after the loop acknowledged it. A closed ack channel
// means the loop is done with the connection.
func (c *conn) read(events chan<- event, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, protocol.ReadSize)
	for {
		n, err := c.nc.Read(buf)
		select {
		case events <- event{c: c, data: buf[:n], err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
		select {
		case _, ok := <-c.ack:
			if !ok {
				return
			}
		case <-done:
			return
		}
	}
}
