package di

import (
	"fmt"

	"github.com/alpacahq/journald/journal"
	"github.com/alpacahq/journald/writer"
)

const journalPerm = 0o600

func (c *Container) GetStore() (writer.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	st, err := writer.New(c.config.Backend, writer.Options{PageSize: c.config.PageSize})
	if err != nil {
		return nil, err
	}
	c.store = st
	return c.store, nil
}

// GetJournal preallocates the journal file to the configured size and opens
// a fresh journal in it.
func (c *Container) GetJournal() (*journal.Journal, error) {
	if c.journal != nil {
		return c.journal, nil
	}
	path := c.GetJournalPath()
	if c.config.MaxSize > 0 {
		if err := writer.Preallocate(path, int64(c.config.MaxSize), journalPerm); err != nil {
			return nil, fmt.Errorf("failed to preallocate journal: %w", err)
		}
	}
	st, err := c.GetStore()
	if err != nil {
		return nil, err
	}
	j, err := journal.Open(st, path, journal.Options{TwoPass: c.config.TwoPass, Digest: c.config.Digest})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	c.journal = j
	return c.journal, nil
}
