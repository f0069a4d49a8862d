// Package client submits streams to a journald daemon over its unix socket.
package client

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"strconv"

	"github.com/pkg/errors"

	"github.com/alpacahq/journald/protocol"
)

// Client is one open stream. It is not safe for concurrent use.
type Client struct {
	nc      net.Conn
	w       *bufio.Writer
	framing protocol.Framing
	num     [16]byte
}

func dial(path string, ident []byte, framing protocol.Framing) (*Client, error) {
	if len(ident) > protocol.IdentSize {
		return nil, errors.Errorf("identifier of %d bytes exceeds %d", len(ident), protocol.IdentSize)
	}
	if framing == protocol.Text && bytes.IndexByte(ident, 0) >= 0 {
		return nil, errors.New("text framing cannot carry a NUL in the identifier")
	}
	nc, err := net.Dial("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", path)
	}
	c := &Client{nc: nc, w: bufio.NewWriterSize(nc, protocol.BufSize), framing: framing}
	if framing == protocol.Binary {
		c.putLength(len(ident))
		c.w.Write(ident)
	} else {
		c.w.Write(ident)
		c.w.WriteByte(0)
	}
	return c, nil
}

// Dial opens a framed stream named ident.
func Dial(path, ident string, framing protocol.Framing) (*Client, error) {
	c, err := dial(path, []byte(ident), framing)
	if err != nil {
		return nil, err
	}
	if framing != protocol.Binary {
		// a zero initial length selects framed mode
		c.putLength(0)
	}
	return c, nil
}

func (c *Client) putLength(n int) {
	if c.framing == protocol.Binary {
		binary.BigEndian.PutUint32(c.num[:4], uint32(n))
		c.w.Write(c.num[:4])
		return
	}
	c.w.Write(strconv.AppendUint(c.num[:0], uint64(n), 10))
	c.w.WriteByte(0)
}

// Write sends p as one frame. An empty p sends nothing, since a zero length
// frame ends the stream.
func (c *Client) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.putLength(len(p))
	n, err := c.w.Write(p)
	return n, errors.Wrap(err, "write frame")
}

// ReadFrom sends everything r yields, one frame per read.
func (c *Client) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, protocol.ReadSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := c.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Flush sends buffered frames without ending the stream.
func (c *Client) Flush() error {
	return errors.Wrap(c.w.Flush(), "send frames")
}

// Close ends the stream and waits for the daemon's verdict: true once the
// stream is durable in the journal.
func (c *Client) Close() (bool, error) {
	c.putLength(0)
	return c.status()
}

// Abort drops the connection without ending the stream. The daemon records
// the stream as aborted.
func (c *Client) Abort() error {
	return c.nc.Close()
}

func (c *Client) status() (bool, error) {
	defer c.nc.Close()
	if err := c.w.Flush(); err != nil {
		return false, errors.Wrap(err, "send stream")
	}
	var b [1]byte
	if _, err := io.ReadFull(c.nc, b[:]); err != nil {
		return false, errors.Wrap(err, "read status")
	}
	return b[0] == 1, nil
}

// OneShot submits data as a single record with the text framing.
func OneShot(path, ident string, data []byte) (bool, error) {
	c, err := dial(path, []byte(ident), protocol.Text)
	if err != nil {
		return false, err
	}
	// a zero initial length would select framed mode and end it at once
	c.putLength(len(data))
	if len(data) == 0 {
		c.putLength(0)
	}
	if _, err := c.w.Write(data); err != nil {
		_ = c.nc.Close()
		return false, errors.Wrap(err, "write record")
	}
	return c.status()
}
