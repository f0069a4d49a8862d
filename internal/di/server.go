package di

import (
	"github.com/alpacahq/journald/server"
)

func (c *Container) GetServer() (*server.Server, error) {
	if c.server != nil {
		return c.server, nil
	}
	j, err := c.GetJournal()
	if err != nil {
		return nil, err
	}
	c.server = server.New(j, server.Options{
		MaxConnections: c.config.MaxConnections,
		Framing:        c.config.Framing,
		SyncDebounce:   c.config.SyncDebounce,
		SyncOnExit:     c.config.SyncOnExit,
	})
	return c.server, nil
}
