// Package writer implements the durable page store under a journal file.
//
// A Store writes whole pages at a current position and promises that every page
// written before a successful Sync survives a crash. Four strategies provide
// that promise differently; the journal above never needs to know which one is
// in use.
package writer

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Backend names a durability strategy.
type Backend string

const (
	// FDataSync issues ordinary writes and fdatasync(2) on Sync.
	FDataSync Backend = "fdatasync"
	// Mmap writes through a shared mapping and msync(2)s it on Sync.
	Mmap Backend = "mmap"
	// OpenDirect opens the file with O_DIRECT|O_DSYNC; every page write is durable.
	OpenDirect Backend = "open+direct"
	// OpenSync opens the file with O_DSYNC; every page write is durable.
	OpenSync Backend = "open+sync"
)

// Backends lists every supported strategy.
var Backends = []Backend{FDataSync, Mmap, OpenDirect, OpenSync}

// Geometry describes a journal file once a Store is initialized.
type Geometry struct {
	// Capacity is the usable size in bytes, a whole number of pages. It never grows.
	Capacity int64
	PageSize int
}

// Pages is the capacity in pages.
func (g Geometry) Pages() int64 {
	return g.Capacity / int64(g.PageSize)
}

// Store is the page-level I/O contract shared by all backends.
type Store interface {
	// Init opens path and reports its geometry. It fails when the file holds
	// fewer than MinPages pages.
	Init(path string) (Geometry, error)
	// Page is the buffer the next WritePage writes. Its contents are
	// unspecified after Init, SeekPage and WritePage; callers fill it completely.
	Page() []byte
	// Pos is the byte offset WritePage writes to.
	Pos() int64
	// SeekPage repositions the store at a page aligned offset.
	SeekPage(offset int64) error
	// WritePage writes exactly one page at Pos and advances by one page. It
	// fails, without writing, when the page would end past the capacity.
	WritePage() error
	// Sync makes every page written before the call durable.
	Sync() error
	Close() error
	Backend() Backend
}

// MinPages is the smallest capacity Init accepts: the header page plus room to
// write and terminate one transaction and to rotate.
const MinPages = 4

// Options tune a Store. The zero value picks the page size from the system.
type Options struct {
	// PageSize overrides the page size. It must be a positive multiple of 512.
	PageSize int
}

// New returns an uninitialized Store for the named backend.
func New(backend Backend, opts Options) (Store, error) {
	if opts.PageSize < 0 || opts.PageSize%512 != 0 {
		return nil, fmt.Errorf("page size %d is not a positive multiple of 512", opts.PageSize)
	}
	switch backend {
	case FDataSync, "":
		return newFileStore(FDataSync, 0, fdatasync, opts), nil
	case OpenDirect:
		return newFileStore(OpenDirect, directFlags, noSync, opts), nil
	case OpenSync:
		return newFileStore(OpenSync, dsyncFlags, noSync, opts), nil
	case Mmap:
		return newMmapStore(opts), nil
	default:
		return nil, fmt.Errorf("unknown durability backend %q", backend)
	}
}

// ErrCapacityExceeded is matched by every CapacityExceededError.
var ErrCapacityExceeded = errors.New("capacity exceeded")

var errNoHeldPage = errors.New("no page held for rewrite")

// CapacityExceededError reports a write or a file that does not fit.
type CapacityExceededError struct {
	Pos      int64
	Need     int64
	Capacity int64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: need %d bytes at offset %d, capacity %d", e.Need, e.Pos, e.Capacity)
}

func (e *CapacityExceededError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// pageSizeFor picks the larger of the system page size and the file system block size.
func pageSizeFor(fi os.FileInfo, opts Options) int {
	if opts.PageSize > 0 {
		return opts.PageSize
	}
	ps := os.Getpagesize()
	if bs := blockSize(fi); bs > ps {
		ps = bs
	}
	return ps
}

func checkGeometry(path string, size int64, pageSize int) (Geometry, error) {
	g := Geometry{Capacity: size / int64(pageSize) * int64(pageSize), PageSize: pageSize}
	if g.Pages() < MinPages {
		return g, errors.Wrapf(&CapacityExceededError{Need: int64(MinPages * pageSize), Capacity: g.Capacity},
			"journal %s is too small", path)
	}
	return g, nil
}
