package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/alpacahq/journald/digest"
)

// RecordType is a set of flags. The zero value never appears on a valid record:
// a zero type field terminates a transaction.
type RecordType uint32

const (
	EOT   RecordType = 0
	Info  RecordType = 0x01
	Data  RecordType = 0x02
	EOS   RecordType = 0x04
	Abort RecordType = 0x08

	TypeMask RecordType = 0x0f
)

func (t RecordType) Has(flag RecordType) bool {
	return t&flag != 0
}

func (t RecordType) String() string {
	if t == EOT {
		return "EOT"
	}
	var b bytes.Buffer
	for _, f := range []struct {
		flag RecordType
		name string
	}{{Info, "INFO"}, {Data, "DATA"}, {EOS, "EOS"}, {Abort, "ABORT"}} {
		if t.Has(f.flag) {
			if b.Len() > 0 {
				b.WriteByte('|')
			}
			b.WriteString(f.name)
		}
	}
	if rest := t &^ TypeMask; rest != 0 {
		fmt.Fprintf(&b, "|0x%x", uint32(rest))
	}
	return b.String()
}

// HeaderSize is the encoded size of a record header: five 32 bit fields.
const HeaderSize = 4 + 4 + 4 + 4 + 4

var byteOrder = binary.LittleEndian

// Header is the fixed part of a record.
type Header struct {
	Type         RecordType
	GlobalRecord uint32
	Stream       uint32
	StreamRecord uint32
	Length       uint32
}

// Put encodes h into the first HeaderSize bytes of b.
func (h Header) Put(b []byte) {
	_ = b[HeaderSize-1]
	byteOrder.PutUint32(b[0:], uint32(h.Type))
	byteOrder.PutUint32(b[4:], h.GlobalRecord)
	byteOrder.PutUint32(b[8:], h.Stream)
	byteOrder.PutUint32(b[12:], h.StreamRecord)
	byteOrder.PutUint32(b[16:], h.Length)
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	return Header{
		Type:         RecordType(byteOrder.Uint32(b[0:])),
		GlobalRecord: byteOrder.Uint32(b[4:]),
		Stream:       byteOrder.Uint32(b[8:]),
		StreamRecord: byteOrder.Uint32(b[12:]),
		Length:       byteOrder.Uint32(b[16:]),
	}
}

// Record is one decoded journal record.
type Record struct {
	Header
	Payload []byte
}

// EncodedSize is the number of bytes a record with a payload of n bytes
// occupies when digested with h.
func EncodedSize(h digest.Hash, n int) int {
	return HeaderSize + n + h.Size()
}

// EncodeRecord writes header, payload and the digest over both to w. The
// header's Length is taken from the payload. The payload is written straight
// through, never copied into an intermediate record buffer.
func EncodeRecord(w io.Writer, h digest.Hash, hdr Header, payload []byte) error {
	return encode(w, h, hdr, payload, false)
}

// EncodePlaceholder is EncodeRecord with the type field written as zero. The
// digest still covers the real type, so the record only validates once
// PutType has restored it in place.
func EncodePlaceholder(w io.Writer, h digest.Hash, hdr Header, payload []byte) error {
	return encode(w, h, hdr, payload, true)
}

func encode(w io.Writer, h digest.Hash, hdr Header, payload []byte, placeholder bool) error {
	var scratch [HeaderSize + 64]byte
	hdr.Length = uint32(len(payload))
	hdr.Put(scratch[:HeaderSize])

	h.Init()
	h.Update(scratch[:HeaderSize])
	if placeholder {
		PutType(scratch[:HeaderSize], EOT)
	}
	if _, err := w.Write(scratch[:HeaderSize]); err != nil {
		return err
	}
	h.Update(payload)
	if _, err := w.Write(payload); err != nil {
		return err
	}
	sum := h.Finish(scratch[HeaderSize:HeaderSize])
	_, err := w.Write(sum)
	return err
}

// PutType overwrites the type field of an encoded header at the start of b.
func PutType(b []byte, t RecordType) {
	byteOrder.PutUint32(b, uint32(t))
}

// DecodeRecord reads the payload and digest that follow an already read
// header, and verifies the digest. buf is reused for the payload when large
// enough. maxLen bounds the payload length; a larger value means the header is
// garbage and is reported as corruption before anything is allocated.
func DecodeRecord(r io.Reader, h digest.Hash, raw []byte, maxLen uint32, buf []byte) (Record, []byte, error) {
	hdr := ParseHeader(raw)
	if hdr.Length > maxLen {
		return Record{}, buf, &CorruptRecordError{
			GlobalRecord: hdr.GlobalRecord,
			Reason:       fmt.Sprintf("payload length %d exceeds limit %d", hdr.Length, maxLen),
			Err:          ErrTruncated,
		}
	}
	need := int(hdr.Length) + h.Size()
	if cap(buf) < need {
		buf = make([]byte, need)
	}
	buf = buf[:need]
	if _, err := io.ReadFull(r, buf); err != nil {
		return Record{}, buf, &CorruptRecordError{GlobalRecord: hdr.GlobalRecord, Reason: "short read", Err: ErrTruncated}
	}
	payload, stored := buf[:hdr.Length], buf[hdr.Length:]

	var scratch [64]byte
	h.Init()
	h.Update(raw[:HeaderSize])
	h.Update(payload)
	if !bytes.Equal(h.Finish(scratch[:0]), stored) {
		return Record{}, buf, &CorruptRecordError{GlobalRecord: hdr.GlobalRecord, Reason: hdr.Type.String(), Err: ErrChecksumMismatch}
	}
	return Record{Header: hdr, Payload: payload}, buf, nil
}

// ReadRecord reads one complete record from r. A zero type field is returned as
// a record of type EOT with no payload and without reading further.
func ReadRecord(r io.Reader, h digest.Hash, maxLen uint32) (Record, error) {
	var raw [HeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Record{}, err
	}
	if ParseHeader(raw[:]).Type == EOT {
		return Record{Header: ParseHeader(raw[:])}, nil
	}
	rec, _, err := DecodeRecord(r, h, raw[:], maxLen, nil)
	return rec, err
}

// InfoOffsetSize is the size of the cumulative stream offset leading an INFO payload.
const InfoOffsetSize = 4

// AppendInfo appends an INFO payload to dst: the stream offset followed by the identifier.
func AppendInfo(dst []byte, offset uint32, ident []byte) []byte {
	var b [InfoOffsetSize]byte
	byteOrder.PutUint32(b[:], offset)
	dst = append(dst, b[:]...)
	return append(dst, ident...)
}

// ParseInfo splits an INFO payload.
func ParseInfo(p []byte) (offset uint32, ident []byte, err error) {
	if len(p) < InfoOffsetSize {
		return 0, nil, fmt.Errorf("info payload of %d bytes is shorter than its offset field", len(p))
	}
	return byteOrder.Uint32(p), p[InfoOffsetSize:], nil
}
