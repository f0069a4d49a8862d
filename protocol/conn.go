// Package protocol decodes the byte stream of one producer connection into
// stream records.
//
// Two framings exist. The text framing sends a NUL terminated identifier and
// a NUL terminated decimal length. A non-zero length announces a single
// record; zero selects framed mode, where each frame is a NUL terminated
// decimal length followed by that many bytes. The binary framing sends a 4
// byte big-endian identifier length, the identifier, then frames with 4 byte
// big-endian lengths. In framed mode a zero length ends the stream.
//
// A Conn is fed arbitrary chunks of input. The records it emits do not depend
// on how the input was split.
package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// IdentSize bounds the identifier.
	IdentSize = 1024
	// BufSize bounds the payload held per connection. A full buffer is
	// emitted as an intermediate record before the frame ends.
	BufSize = 8192
	// ReadSize is the largest chunk read from a connection at a time.
	ReadSize = 4096

	// maxDigits bounds a decimal length; ten digits cover every uint32.
	maxDigits = 10
)

// Framing selects the wire format.
type Framing string

const (
	Text   Framing = "text"
	Binary Framing = "binary"
)

// ParseFraming checks a configured framing name.
func ParseFraming(s string) (Framing, error) {
	switch Framing(s) {
	case Text, "":
		return Text, nil
	case Binary:
		return Binary, nil
	default:
		return "", fmt.Errorf("unknown framing %q", s)
	}
}

type State int

const (
	ReadIdentLen State = iota
	ReadIdent
	ReadInitLen
	ReadOnlyRecord
	ReadRecordLen
	ReadRecord
	Terminal
)

func (s State) String() string {
	switch s {
	case ReadIdentLen:
		return "ReadIdentLen"
	case ReadIdent:
		return "ReadIdent"
	case ReadInitLen:
		return "ReadInitLen"
	case ReadOnlyRecord:
		return "ReadOnlyRecord"
	case ReadRecordLen:
		return "ReadRecordLen"
	case ReadRecord:
		return "ReadRecord"
	case Terminal:
		return "Terminal"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is how a connection's stream ended.
type Outcome int

const (
	// Pending streams have not ended yet.
	Pending Outcome = iota
	// Committed streams wrote their end of stream record; they are durable
	// once the journal syncs.
	Committed
	// Aborted streams were abandoned.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "OK"
	case Aborted:
		return "Aborted"
	default:
		return "Pending"
	}
}

// Emitter receives what a connection produces.
type Emitter interface {
	// Begin is called once with the complete identifier.
	Begin(ident []byte) error
	// Write emits one record. final marks the end of the stream.
	Write(p []byte, final bool) error
	// Abort abandons the stream.
	Abort() error
}

// Conn is the decoding state of one connection.
type Conn struct {
	framing Framing
	emit    Emitter
	state   State
	outcome Outcome

	ident  []byte
	digits int
	lenBuf [4]byte
	lenN   int
	length uint32
	count  uint32
	buf    []byte
}

func NewConn(framing Framing, emit Emitter) *Conn {
	c := &Conn{
		framing: framing,
		emit:    emit,
		ident:   make([]byte, 0, IdentSize),
		buf:     make([]byte, 0, BufSize),
	}
	if framing == Binary {
		c.state = ReadIdentLen
	} else {
		c.state = ReadIdent
	}
	return c
}

func (c *Conn) State() State { return c.state }

func (c *Conn) Outcome() Outcome { return c.outcome }

// Ident is the identifier once it is complete.
func (c *Conn) Ident() []byte { return c.ident }

// Feed decodes a chunk of input. It returns a *ProtocolError for malformed
// framing and the emitter's error when a record could not be written; in both
// cases the stream is aborted and the connection is terminal. Input after the
// end of the stream is ignored.
func (c *Conn) Feed(data []byte) error {
	for len(data) > 0 && c.state != Terminal {
		n, err := c.step(data)
		if err != nil {
			c.fail()
			return err
		}
		data = data[n:]
	}
	return nil
}

// Close handles the end of input. A stream that has not ended is aborted.
func (c *Conn) Close() error {
	if c.state == Terminal {
		return nil
	}
	c.state = Terminal
	c.outcome = Aborted
	return c.emit.Abort()
}

func (c *Conn) fail() {
	c.state = Terminal
	c.outcome = Aborted
	_ = c.emit.Abort()
}

// step consumes input for the current state and moves to the next one.
func (c *Conn) step(data []byte) (int, error) {
	switch c.state {
	case ReadIdentLen:
		n, done := c.readBinaryLength(data)
		if !done {
			return n, nil
		}
		if c.length > IdentSize {
			return n, c.errorf("identifier length %d exceeds %d", c.length, IdentSize)
		}
		if c.length == 0 {
			return n, c.begin()
		}
		c.state = ReadIdent
		return n, nil

	case ReadIdent:
		if c.framing == Binary {
			want := int(c.length) - len(c.ident)
			n := min(want, len(data))
			c.ident = append(c.ident, data[:n]...)
			if len(c.ident) < int(c.length) {
				return n, nil
			}
			return n, c.begin()
		}
		for i, b := range data {
			if b == 0 {
				return i + 1, c.begin()
			}
			if len(c.ident) == IdentSize {
				return i, c.errorf("identifier exceeds %d bytes", IdentSize)
			}
			c.ident = append(c.ident, b)
		}
		return len(data), nil

	case ReadInitLen:
		n, done, err := c.readDecimal(data)
		if err != nil || !done {
			return n, err
		}
		if c.length == 0 {
			c.state = ReadRecordLen
		} else {
			c.state = ReadOnlyRecord
		}
		return n, nil

	case ReadRecordLen:
		var n int
		var done bool
		var err error
		if c.framing == Binary {
			n, done = c.readBinaryLength(data)
		} else {
			n, done, err = c.readDecimal(data)
		}
		if err != nil || !done {
			return n, err
		}
		if c.length == 0 {
			return n, c.finish()
		}
		c.state = ReadRecord
		return n, nil

	case ReadOnlyRecord, ReadRecord:
		n, err := c.readPayload(data)
		if err != nil || c.count < c.length {
			return n, err
		}
		if c.state == ReadOnlyRecord {
			return n, c.finish()
		}
		err = c.flush(false)
		c.state = ReadRecordLen
		return n, err
	}
	return 0, c.errorf("no input expected")
}

func (c *Conn) begin() error {
	if c.framing == Binary {
		c.state = ReadRecordLen
	} else {
		c.state = ReadInitLen
	}
	return c.emit.Begin(c.ident)
}

// finish writes the end of stream record with whatever payload is buffered.
func (c *Conn) finish() error {
	if err := c.flush(true); err != nil {
		return err
	}
	c.state = Terminal
	c.outcome = Committed
	return nil
}

func (c *Conn) flush(final bool) error {
	err := c.emit.Write(c.buf, final)
	c.buf = c.buf[:0]
	return err
}

// readPayload buffers frame bytes, emitting the buffer whenever it fills up.
func (c *Conn) readPayload(data []byte) (int, error) {
	n := int(c.length - c.count)
	n = min(n, len(data), BufSize-len(c.buf))
	c.buf = append(c.buf, data[:n]...)
	c.count += uint32(n)
	if len(c.buf) == BufSize && c.count < c.length {
		return n, c.flush(false)
	}
	return n, nil
}

// readDecimal accumulates a NUL terminated decimal length. An empty number is
// zero.
func (c *Conn) readDecimal(data []byte) (int, bool, error) {
	for i, b := range data {
		if b == 0 {
			if c.digits == 0 {
				c.length = 0
			}
			c.digits = 0
			c.count = 0
			return i + 1, true, nil
		}
		if b < '0' || b > '9' {
			return i, false, c.errorf("invalid length byte %q", b)
		}
		if c.digits == 0 {
			c.length = 0
		}
		c.digits++
		v := uint64(c.length)*10 + uint64(b-'0')
		if c.digits > maxDigits || v > uint64(^uint32(0)) {
			return i, false, c.errorf("length exceeds %d", ^uint32(0))
		}
		c.length = uint32(v)
	}
	return len(data), false, nil
}

func (c *Conn) readBinaryLength(data []byte) (int, bool) {
	n := copy(c.lenBuf[c.lenN:], data)
	c.lenN += n
	if c.lenN < len(c.lenBuf) {
		return n, false
	}
	c.lenN = 0
	c.length = binary.BigEndian.Uint32(c.lenBuf[:])
	c.count = 0
	return n, true
}

func (c *Conn) errorf(format string, args ...interface{}) error {
	return &ProtocolError{State: c.state, Msg: fmt.Sprintf(format, args...)}
}

// ProtocolError reports malformed framing on one connection.
type ProtocolError struct {
	State State
	Msg   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s: %s", e.State, e.Msg)
}
