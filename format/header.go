package format

import (
	"bytes"
	"fmt"

	"github.com/alpacahq/journald/digest"
)

// Magic opens every journal file.
const Magic = "journald"

// FileHeaderFixedSize is the part of the file header covered by its digest:
// magic, version, page size, starting global record number, options length.
const FileHeaderFixedSize = len(Magic) + 4 + 4 + 4 + 4

// MinPages is the smallest journal capacity in pages: the header page, one
// transaction page, its terminating zero page and one page of headroom.
const MinPages = 4

// FileHeader is the content of the first page of a journal file.
type FileHeader struct {
	Version       uint32
	PageSize      uint32
	StartRecord   uint32
	OptionsLength uint32
}

// FileHeaderSize is the encoded size of a file header digested with h.
func FileHeaderSize(h digest.Hash) int {
	return FileHeaderFixedSize + h.Size()
}

// Put encodes fh and its digest at the start of page, which must be at least
// FileHeaderSize(h) long, and returns the number of bytes used.
func (fh FileHeader) Put(h digest.Hash, page []byte) int {
	p := page[:FileHeaderFixedSize]
	copy(p, Magic)
	byteOrder.PutUint32(p[8:], fh.Version)
	byteOrder.PutUint32(p[12:], fh.PageSize)
	byteOrder.PutUint32(p[16:], fh.StartRecord)
	byteOrder.PutUint32(p[20:], fh.OptionsLength)
	h.Init()
	h.Update(p)
	sum := h.Finish(page[FileHeaderFixedSize:FileHeaderFixedSize])
	return FileHeaderFixedSize + len(sum)
}

// ParseFileHeader validates the header at the start of b and returns it with
// the digest pinned to its version. b must hold at least FileHeaderFixedSize
// bytes plus the digest; callers normally pass the whole first page.
func ParseFileHeader(b []byte) (FileHeader, digest.Hash, error) {
	if len(b) < FileHeaderFixedSize {
		return FileHeader{}, nil, HeaderError(fmt.Sprintf("file header is %d bytes, need %d", len(b), FileHeaderFixedSize))
	}
	if !bytes.Equal(b[:len(Magic)], []byte(Magic)) {
		return FileHeader{}, nil, HeaderError("not a journald file")
	}
	fh := FileHeader{
		Version:       byteOrder.Uint32(b[8:]),
		PageSize:      byteOrder.Uint32(b[12:]),
		StartRecord:   byteOrder.Uint32(b[16:]),
		OptionsLength: byteOrder.Uint32(b[20:]),
	}
	h, err := digest.ForVersion(fh.Version)
	if err != nil {
		return fh, nil, HeaderError(fmt.Sprintf("unsupported format version %d", fh.Version))
	}
	if fh.PageSize == 0 {
		return fh, nil, HeaderError("zero page size")
	}
	if fh.OptionsLength != 0 {
		return fh, nil, HeaderError(fmt.Sprintf("non-zero options length %d", fh.OptionsLength))
	}
	if len(b) < FileHeaderSize(h) {
		return fh, nil, HeaderError("file header digest is truncated")
	}
	var scratch [64]byte
	h.Init()
	h.Update(b[:FileHeaderFixedSize])
	if !bytes.Equal(h.Finish(scratch[:0]), b[FileHeaderFixedSize:FileHeaderSize(h)]) {
		return fh, nil, HeaderError("invalid check code")
	}
	return fh, h, nil
}
