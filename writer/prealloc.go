package writer

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/alpacahq/journald/utils/log"
)

// Preallocate creates the journal at path if needed and grows it to at least
// size bytes, reserving the blocks so a shared mapping never faults on a full
// disk. An existing larger file is left alone: its capacity never shrinks.
func Preallocate(path string, size int64, perm os.FileMode) error {
	fp, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, perm)
	if err != nil {
		return errors.Wrapf(err, "create journal %s", path)
	}
	defer fp.Close()

	fi, err := fp.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat journal %s", path)
	}
	if fi.Size() >= size {
		return nil
	}
	if err := unix.Fallocate(int(fp.Fd()), 0, 0, size); err != nil {
		// tmpfs and some network file systems refuse fallocate
		log.Debug("fallocate %s failed (%v), extending with truncate", path, err)
		if err := fp.Truncate(size); err != nil {
			return errors.Wrapf(err, "extend journal %s to %d bytes", path, size)
		}
	}
	log.Info("preallocated journal %s: %d bytes", path, size)
	return fp.Sync()
}
