package di

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// GetListener binds the unix socket with the configured umask, mode and
// backlog. net.Listen fixes the backlog to the system maximum, so the socket
// is set up by hand and then handed to the net package.
func (c *Container) GetListener() (net.Listener, error) {
	if c.listener != nil {
		return c.listener, nil
	}
	config := c.config
	if err := os.Remove(config.Socket); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	f := os.NewFile(uintptr(fd), config.Socket)
	defer f.Close()

	old := unix.Umask(int(config.Umask))
	err = unix.Bind(fd, &unix.SockaddrUnix{Name: config.Socket})
	unix.Umask(old)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", config.Socket, err)
	}
	if err := os.Chmod(config.Socket, config.SocketMode); err != nil {
		return nil, fmt.Errorf("chmod %s: %w", config.Socket, err)
	}
	if err := unix.Listen(fd, config.Backlog); err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	// FileListener duplicates the descriptor; the deferred Close drops ours.
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", config.Socket, err)
	}
	c.listener = ln
	return c.listener, nil
}
