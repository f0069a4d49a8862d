package writer

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	directFlags = unix.O_DIRECT | unix.O_DSYNC
	dsyncFlags  = unix.O_DSYNC
)

func blockSize(fi os.FileInfo) int {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return int(st.Blksize)
	}
	return 0
}

func fdatasync(fp *os.File) error {
	return unix.Fdatasync(int(fp.Fd()))
}

func noSync(*os.File) error {
	return nil
}

// alignedPage returns a page sized buffer aligned to the system page size,
// which satisfies O_DIRECT buffer alignment.
func alignedPage(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func freeAligned(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
