package metrics

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/alpacahq/journald/utils/log"
)

// Setter is an interface for prometheus metrics to improve unit-testability.
type Setter interface {
	Set(m float64)
}

// StartDiskUsageMonitor reports the allocated size of the journal file at each
// interval until ctx is done. A journal that was only truncated, not
// preallocated, shows up here as far smaller than its capacity.
func StartDiskUsageMonitor(ctx context.Context, s Setter, path string, interval time.Duration) {
	s.Set(float64(diskUsage(path)))

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Set(float64(diskUsage(path)))
		}
	}
}

func diskUsage(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		log.Error("get the disk usage of journal %s for monitoring: %v", path, err)
		return 0
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		log.Error("failed to get Stat_t for journal %s", path)
		return 0
	}
	// st_blocks counts 512 byte units
	return stat.Blocks * 512
}
