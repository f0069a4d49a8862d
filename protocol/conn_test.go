package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/journald/protocol"
)

type event struct {
	Kind    string
	Payload string
	Final   bool
}

type recorder struct {
	events []event
	fail   error
}

func (r *recorder) Begin(ident []byte) error {
	r.events = append(r.events, event{Kind: "begin", Payload: string(ident)})
	return nil
}

func (r *recorder) Write(p []byte, final bool) error {
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, event{Kind: "write", Payload: string(p), Final: final})
	return nil
}

func (r *recorder) Abort() error {
	r.events = append(r.events, event{Kind: "abort"})
	return nil
}

func textStream(ident string, frames ...string) []byte {
	var b bytes.Buffer
	b.WriteString(ident)
	b.WriteByte(0)
	b.WriteByte(0)
	for _, f := range frames {
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(0)
		b.WriteString(f)
	}
	b.WriteByte(0)
	return b.Bytes()
}

func binaryStream(ident string, frames ...string) []byte {
	var b bytes.Buffer
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(ident)))
	b.Write(n[:])
	b.WriteString(ident)
	for _, f := range frames {
		binary.BigEndian.PutUint32(n[:], uint32(len(f)))
		b.Write(n[:])
		b.WriteString(f)
	}
	b.Write([]byte{0, 0, 0, 0})
	return b.Bytes()
}

func feed(t *testing.T, framing protocol.Framing, input []byte, chunk func() int) (*recorder, *protocol.Conn) {
	t.Helper()
	rec := &recorder{}
	c := protocol.NewConn(framing, rec)
	for len(input) > 0 {
		n := chunk()
		if n > len(input) {
			n = len(input)
		}
		require.Nil(t, c.Feed(input[:n]))
		input = input[n:]
	}
	require.Nil(t, c.Close())
	return rec, c
}

func TestSvc1(t *testing.T) {
	want := []event{
		{Kind: "begin", Payload: "svc1"},
		{Kind: "write", Payload: "hello"},
		{Kind: "write", Payload: "world"},
		{Kind: "write", Final: true},
	}
	for framing, input := range map[protocol.Framing][]byte{
		protocol.Text:   textStream("svc1", "hello", "world"),
		protocol.Binary: binaryStream("svc1", "hello", "world"),
	} {
		rec, c := feed(t, framing, input, func() int { return protocol.ReadSize })
		if diff := cmp.Diff(want, rec.events); diff != "" {
			t.Errorf("%s events mismatch (-want +got):\n%s", framing, diff)
		}
		assert.Equal(t, protocol.Committed, c.Outcome())
		assert.Equal(t, protocol.Terminal, c.State())
	}
}

func TestChunkingInvariance(t *testing.T) {
	big := string(bytes.Repeat([]byte("0123456789abcdef"), protocol.BufSize/16*2+5))
	frames := []string{"a", big, "tail"}

	rng := rand.New(rand.NewSource(1))
	chunkings := map[string]func() int{
		"one byte": func() int { return 1 },
		"random":   func() int { return 1 + rng.Intn(protocol.ReadSize) },
		"whole":    func() int { return 1 << 30 },
	}
	for _, framing := range []protocol.Framing{protocol.Text, protocol.Binary} {
		var input []byte
		if framing == protocol.Text {
			input = textStream("chunky", frames...)
		} else {
			input = binaryStream("chunky", frames...)
		}
		var reference []event
		for _, name := range []string{"whole", "one byte", "random"} {
			rec, c := feed(t, framing, input, chunkings[name])
			assert.Equal(t, protocol.Committed, c.Outcome())
			if reference == nil {
				reference = rec.events
				continue
			}
			if diff := cmp.Diff(reference, rec.events); diff != "" {
				t.Errorf("%s/%s events differ from whole input (-whole +got):\n%s", framing, name, diff)
			}
		}
		// a frame larger than the buffer is split into full buffers
		var sizes []int
		for _, e := range reference {
			if e.Kind == "write" {
				sizes = append(sizes, len(e.Payload))
			}
		}
		assert.Equal(t, []int{1, protocol.BufSize, protocol.BufSize, len(big) - 2*protocol.BufSize, 4, 0}, sizes, framing)
	}
}

func TestOneShot(t *testing.T) {
	payload := string(bytes.Repeat([]byte("z"), protocol.BufSize+10))
	input := append([]byte("once\x00"+strconv.Itoa(len(payload))+"\x00"), payload...)
	rec, c := feed(t, protocol.Text, input, func() int { return 7 })
	want := []event{
		{Kind: "begin", Payload: "once"},
		{Kind: "write", Payload: payload[:protocol.BufSize]},
		{Kind: "write", Payload: payload[protocol.BufSize:], Final: true},
	}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, protocol.Committed, c.Outcome())
}

func TestEOFAborts(t *testing.T) {
	input := textStream("cut", "complete", "partial")
	input = input[:len(input)-4]
	rec, c := feed(t, protocol.Text, input, func() int { return 3 })
	want := []event{
		{Kind: "begin", Payload: "cut"},
		{Kind: "write", Payload: "complete"},
		{Kind: "abort"},
	}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, protocol.Aborted, c.Outcome())
}

func TestMalformedLength(t *testing.T) {
	for name, input := range map[string][]byte{
		"non-digit":    []byte("svc\x00\x005\x00hello1x\x00"),
		"init length":  []byte("svc\x00-3\x00"),
		"overflow":     []byte("svc\x00\x0099999999999\x00"),
		"ident length": append([]byte{0, 0, 0x10, 0}, "x"...),
	} {
		t.Run(name, func(t *testing.T) {
			framing := protocol.Text
			if name == "ident length" {
				framing = protocol.Binary
			}
			rec := &recorder{}
			c := protocol.NewConn(framing, rec)
			err := c.Feed(input)
			var perr *protocol.ProtocolError
			require.True(t, errors.As(err, &perr), fmt.Sprint(err))
			assert.Equal(t, protocol.Terminal, c.State())
			assert.Equal(t, protocol.Aborted, c.Outcome())
			assert.Equal(t, "abort", rec.events[len(rec.events)-1].Kind)
			// the connection is finished; more input and EOF change nothing
			require.Nil(t, c.Feed([]byte("more")))
			require.Nil(t, c.Close())
			assert.Equal(t, 1, countKind(rec.events, "abort"))
		})
	}
}

func TestIdentifierBound(t *testing.T) {
	long := bytes.Repeat([]byte("i"), protocol.IdentSize+1)
	c := protocol.NewConn(protocol.Text, &recorder{})
	err := c.Feed(append(long, 0))
	var perr *protocol.ProtocolError
	assert.True(t, errors.As(err, &perr))

	rec := &recorder{}
	c = protocol.NewConn(protocol.Text, rec)
	require.Nil(t, c.Feed(append(long[:protocol.IdentSize], 0)))
	assert.Equal(t, protocol.ReadInitLen, c.State())
	assert.Equal(t, protocol.IdentSize, len(rec.events[0].Payload))
}

func TestEmitterFailureAborts(t *testing.T) {
	rec := &recorder{fail: errors.New("disk full")}
	c := protocol.NewConn(protocol.Binary, rec)
	err := c.Feed(binaryStream("svc", "data"))
	require.NotNil(t, err)
	assert.Equal(t, "disk full", err.Error())
	assert.Equal(t, protocol.Aborted, c.Outcome())
}

func TestInputAfterEndIsIgnored(t *testing.T) {
	input := append(textStream("svc", "x"), "trailing junk"...)
	rec, c := feed(t, protocol.Text, input, func() int { return 2 })
	assert.Equal(t, protocol.Committed, c.Outcome())
	assert.Equal(t, 0, countKind(rec.events, "abort"))
}

func TestParseFraming(t *testing.T) {
	f, err := protocol.ParseFraming("")
	require.Nil(t, err)
	assert.Equal(t, protocol.Text, f)
	f, err = protocol.ParseFraming("binary")
	require.Nil(t, err)
	assert.Equal(t, protocol.Binary, f)
	_, err = protocol.ParseFraming("json")
	assert.NotNil(t, err)
}

func countKind(events []event, kind string) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
