package writer

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mmapStore maps the whole journal shared and hands out pages of the mapping
// directly, so WritePage only advances the position and records the dirty range
// that the next Sync msyncs.
type mmapStore struct {
	opts Options

	fp    *os.File
	geo   Geometry
	m     []byte
	spare []byte
	pos   int64
	start int64
	end   int64
}

func newMmapStore(opts Options) *mmapStore {
	return &mmapStore{opts: opts}
}

func (s *mmapStore) Backend() Backend { return Mmap }

func (s *mmapStore) Init(path string) (Geometry, error) {
	fp, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return Geometry{}, errors.Wrapf(err, "open journal %s for mmap", path)
	}
	fi, err := fp.Stat()
	if err != nil {
		_ = fp.Close()
		return Geometry{}, errors.Wrapf(err, "stat journal %s", path)
	}
	geo, err := checkGeometry(path, fi.Size(), pageSizeFor(fi, s.opts))
	if err != nil {
		_ = fp.Close()
		return geo, err
	}
	m, err := unix.Mmap(int(fp.Fd()), 0, int(geo.Capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = fp.Close()
		return geo, errors.Wrapf(err, "mmap journal %s", path)
	}
	s.fp, s.geo, s.m = fp, geo, m
	s.spare = make([]byte, geo.PageSize)
	s.pos, s.start, s.end = 0, 0, 0
	return geo, nil
}

// Page returns the mapped page at the current position. Past the end of the
// mapping it returns a scratch page so callers can still fill it; the
// following WritePage then fails.
func (s *mmapStore) Page() []byte {
	if s.pos+int64(s.geo.PageSize) > s.geo.Capacity {
		return s.spare
	}
	return s.m[s.pos : s.pos+int64(s.geo.PageSize)]
}

func (s *mmapStore) Pos() int64 { return s.pos }

func (s *mmapStore) SeekPage(offset int64) error {
	if offset < 0 || offset > s.geo.Capacity || offset%int64(s.geo.PageSize) != 0 {
		return errors.Errorf("seek to %d: not a page boundary inside %d bytes", offset, s.geo.Capacity)
	}
	s.pos = offset
	return nil
}

func (s *mmapStore) WritePage() error {
	next := s.pos + int64(s.geo.PageSize)
	if next > s.geo.Capacity {
		return &CapacityExceededError{Pos: s.pos, Need: int64(s.geo.PageSize), Capacity: s.geo.Capacity}
	}
	if s.start == s.end {
		s.start, s.end = s.pos, next
	} else {
		if s.pos < s.start {
			s.start = s.pos
		}
		if next > s.end {
			s.end = next
		}
	}
	s.pos = next
	return nil
}

func (s *mmapStore) Sync() error {
	if s.start == s.end {
		return nil
	}
	// msync wants an address aligned to the system page, which may be larger
	// than the journal page.
	sys := int64(os.Getpagesize())
	start := s.start / sys * sys
	if err := unix.Msync(s.m[start:s.end], unix.MS_SYNC|unix.MS_INVALIDATE); err != nil {
		return errors.Wrapf(err, "msync %s", s.fp.Name())
	}
	s.start, s.end = 0, 0
	return nil
}

func (s *mmapStore) Close() error {
	if s.fp == nil {
		return nil
	}
	err := unix.Munmap(s.m)
	if err2 := s.fp.Close(); err == nil {
		err = err2
	}
	s.fp, s.m = nil, nil
	return err
}
