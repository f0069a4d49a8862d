// Package di builds the daemon's components from its configuration. Each
// getter constructs its component on first use and returns the same instance
// afterwards.
package di

import (
	"net"
	"path/filepath"

	"github.com/alpacahq/journald/journal"
	"github.com/alpacahq/journald/server"
	"github.com/alpacahq/journald/utils"
	"github.com/alpacahq/journald/utils/log"
	"github.com/alpacahq/journald/writer"
)

type Container struct {
	config      *utils.JournaldConfig
	journalPath string
	store       writer.Store
	journal     *journal.Journal
	listener    net.Listener
	server      *server.Server
}

func NewContainer(cfg *utils.JournaldConfig) *Container {
	return &Container{config: cfg}
}

// GetJournalPath is the absolute path of the journal file.
func (c *Container) GetJournalPath() string {
	if c.journalPath != "" {
		return c.journalPath
	}
	path, err := filepath.Abs(filepath.Clean(c.config.Journal))
	if err != nil {
		log.Error("Cannot take absolute path of journal %s: %v", c.config.Journal, err)
		path = filepath.Clean(c.config.Journal)
	}
	c.journalPath = path
	return c.journalPath
}

// Close releases what was built. The journal is closed without syncing; the
// server commits on its own way out.
func (c *Container) Close() {
	if c.listener != nil {
		_ = c.listener.Close()
	}
	if c.journal != nil {
		_ = c.journal.Close(false)
	} else if c.store != nil {
		_ = c.store.Close()
	}
}
