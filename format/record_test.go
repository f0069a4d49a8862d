package format_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/journald/digest"
	"github.com/alpacahq/journald/format"
)

const maxChunk = 8192

func hashes() []digest.Hash {
	return []digest.Hash{digest.MD4(), digest.XXH64()}
}

func TestRecordRoundTrip(t *testing.T) {
	for _, h := range hashes() {
		for _, n := range []int{0, 1, maxChunk} {
			payload := bytes.Repeat([]byte{0x5a}, n)
			hdr := format.Header{
				Type:         format.Data | format.EOS,
				GlobalRecord: 41,
				Stream:       7,
				StreamRecord: 3,
			}

			var buf bytes.Buffer
			require.Nil(t, format.EncodeRecord(&buf, h, hdr, payload))
			assert.Equal(t, format.EncodedSize(h, n), buf.Len())

			got, err := format.ReadRecord(&buf, h, maxChunk)
			require.Nil(t, err, "%s len=%d", h.Name(), n)

			hdr.Length = uint32(n)
			want := format.Record{Header: hdr, Payload: payload}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("%s len=%d mismatch (-want +got):\n%s", h.Name(), n, diff)
			}
			assert.Equal(t, 0, buf.Len())
		}
	}
}

func TestEveryBitFlipIsDetected(t *testing.T) {
	for _, h := range hashes() {
		var buf bytes.Buffer
		require.Nil(t, format.EncodeRecord(&buf, h, format.Header{
			Type: format.Data, GlobalRecord: 1, Stream: 2, StreamRecord: 0,
		}, []byte("hello")))
		clean := buf.Bytes()
		covered := format.HeaderSize + len("hello")

		for bit := 0; bit < covered*8; bit++ {
			damaged := append([]byte(nil), clean...)
			damaged[bit/8] ^= 1 << (bit % 8)

			hdr := format.ParseHeader(damaged)
			if hdr.Type == format.EOT {
				// the reader stops on a zero type before decoding anything
				continue
			}
			_, err := format.ReadRecord(bytes.NewReader(damaged), h, 1<<20)
			require.NotNil(t, err, "%s bit %d", h.Name(), bit)
			var cre *format.CorruptRecordError
			assert.True(t, errors.As(err, &cre), "%s bit %d: %v", h.Name(), bit, err)
			if hdr.Length == uint32(len("hello")) {
				assert.True(t, errors.Is(err, format.ErrChecksumMismatch), "%s bit %d: %v", h.Name(), bit, err)
			}
		}
	}
}

func TestDecodeRejectsOversizedLength(t *testing.T) {
	h := digest.MD4()
	var raw [format.HeaderSize]byte
	format.Header{Type: format.Data, Length: 1 << 30}.Put(raw[:])
	_, _, err := format.DecodeRecord(bytes.NewReader(nil), h, raw[:], maxChunk, nil)
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, format.ErrTruncated))
}

func TestDecodeShortRead(t *testing.T) {
	h := digest.MD4()
	var buf bytes.Buffer
	require.Nil(t, format.EncodeRecord(&buf, h, format.Header{Type: format.Data}, []byte("abcdef")))
	short := buf.Bytes()[:buf.Len()-3]
	_, err := format.ReadRecord(bytes.NewReader(short), h, maxChunk)
	assert.True(t, errors.Is(err, format.ErrTruncated))
}

func TestReadRecordStopsAtEOT(t *testing.T) {
	zero := make([]byte, 64)
	rec, err := format.ReadRecord(bytes.NewReader(zero), digest.MD4(), maxChunk)
	require.Nil(t, err)
	assert.Equal(t, format.EOT, rec.Type)
}

func TestInfoPayload(t *testing.T) {
	p := format.AppendInfo(nil, 10, []byte("svc1"))
	off, ident, err := format.ParseInfo(p)
	require.Nil(t, err)
	assert.Equal(t, uint32(10), off)
	assert.Equal(t, "svc1", string(ident))

	_, _, err = format.ParseInfo([]byte{1, 2})
	assert.NotNil(t, err)
}

func TestRecordTypeString(t *testing.T) {
	assert.Equal(t, "EOT", format.EOT.String())
	assert.Equal(t, "DATA|EOS", (format.Data | format.EOS).String())
	assert.Equal(t, "INFO", format.Info.String())
	assert.Equal(t, "ABORT|0x10", (format.Abort | 0x10).String())
}

func TestPlaceholderValidatesOnlyAfterReveal(t *testing.T) {
	h := digest.MD4()
	hdr := format.Header{Type: format.Info, GlobalRecord: 9, Stream: 1}
	var buf bytes.Buffer
	require.Nil(t, format.EncodePlaceholder(&buf, h, hdr, []byte("ident")))

	raw := buf.Bytes()
	rec, err := format.ReadRecord(bytes.NewReader(raw), h, maxChunk)
	require.Nil(t, err)
	assert.Equal(t, format.EOT, rec.Type)

	format.PutType(raw, format.Info)
	rec, err = format.ReadRecord(bytes.NewReader(raw), h, maxChunk)
	require.Nil(t, err)
	assert.Equal(t, format.Info, rec.Type)
	assert.Equal(t, "ident", string(rec.Payload))
}
