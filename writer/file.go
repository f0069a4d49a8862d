package writer

import (
	"os"

	"github.com/pkg/errors"
)

// fileStore writes pages with pwrite(2) from a private page buffer. The three
// write based backends differ only in open flags and in how Sync reaches disk.
type fileStore struct {
	backend Backend
	flags   int
	sync    func(*os.File) error
	opts    Options

	fp   *os.File
	geo  Geometry
	pos  int64
	page []byte
}

func newFileStore(backend Backend, flags int, sync func(*os.File) error, opts Options) *fileStore {
	return &fileStore{backend: backend, flags: flags, sync: sync, opts: opts}
}

func (s *fileStore) Backend() Backend { return s.backend }

func (s *fileStore) Init(path string) (Geometry, error) {
	fp, err := os.OpenFile(path, os.O_RDWR|s.flags, 0)
	if err != nil {
		return Geometry{}, errors.Wrapf(err, "open journal %s for %s", path, s.backend)
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
	page, err := alignedPage(geo.PageSize)
	if err != nil {
		_ = fp.Close()
		return geo, errors.Wrap(err, "allocate page buffer")
	}
	s.fp, s.geo, s.page, s.pos = fp, geo, page, 0
	return geo, nil
}

func (s *fileStore) Page() []byte { return s.page }

func (s *fileStore) Pos() int64 { return s.pos }

func (s *fileStore) SeekPage(offset int64) error {
	if offset < 0 || offset > s.geo.Capacity || offset%int64(s.geo.PageSize) != 0 {
		return errors.Errorf("seek to %d: not a page boundary inside %d bytes", offset, s.geo.Capacity)
	}
	s.pos = offset
	return nil
}

func (s *fileStore) WritePage() error {
	if s.pos+int64(s.geo.PageSize) > s.geo.Capacity {
		return &CapacityExceededError{Pos: s.pos, Need: int64(s.geo.PageSize), Capacity: s.geo.Capacity}
	}
	n, err := s.fp.WriteAt(s.page, s.pos)
	if err != nil {
		return errors.Wrapf(err, "write page at %d", s.pos)
	}
	if n != len(s.page) {
		return errors.Errorf("short page write at %d: %d of %d bytes", s.pos, n, len(s.page))
	}
	s.pos += int64(s.geo.PageSize)
	return nil
}

func (s *fileStore) Sync() error {
	if err := s.sync(s.fp); err != nil {
		return errors.Wrapf(err, "%s %s", s.backend, s.fp.Name())
	}
	return nil
}

func (s *fileStore) Close() error {
	if s.fp == nil {
		return nil
	}
	err := s.fp.Close()
	if err2 := freeAligned(s.page); err == nil {
		err = err2
	}
	s.fp, s.page = nil, nil
	return err
}
