package utils_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/journald/protocol"
	"github.com/alpacahq/journald/utils"
	"github.com/alpacahq/journald/utils/log"
	"github.com/alpacahq/journald/writer"
)

const sampleConfig = `
socket: /run/journald.sock
journal: /var/lib/journald/current
max_connections: 64
backend: mmap
two_pass: true
max_size: 64MB
page_size: 8192
digest: xxh64
framing: binary
sync_debounce: 25ms
uid: 1000
gid: 0
umask: "077"
socket_mode: "0660"
delete_socket: false
sync_on_exit: false
log_level: debug
metrics_listen: 127.0.0.1:9100
`

func TestParseConfig(t *testing.T) {
	c, err := utils.ParseConfig([]byte(sampleConfig))
	require.Nil(t, err)
	assert.Equal(t, "/run/journald.sock", c.Socket)
	assert.Equal(t, "/var/lib/journald/current", c.Journal)
	assert.Equal(t, 64, c.MaxConnections)
	assert.Equal(t, writer.Mmap, c.Backend)
	assert.True(t, c.TwoPass)
	assert.Equal(t, uint64(64<<20), c.MaxSize)
	assert.Equal(t, 8192, c.PageSize)
	assert.Equal(t, "xxh64", c.Digest)
	assert.Equal(t, protocol.Binary, c.Framing)
	assert.Equal(t, 25*time.Millisecond, c.SyncDebounce)
	assert.Equal(t, 1000, c.UID)
	assert.Equal(t, 0, c.GID)
	assert.Equal(t, os.FileMode(0o077), c.Umask)
	assert.Equal(t, os.FileMode(0o660), c.SocketMode)
	assert.False(t, c.DeleteSocket)
	assert.False(t, c.SyncOnExit)
	assert.Equal(t, log.DEBUG, c.LogLevel)
	assert.Equal(t, "127.0.0.1:9100", c.MetricsListen)
	assert.Nil(t, c.Validate())
}

func TestDefaults(t *testing.T) {
	c, err := utils.ParseConfig([]byte("socket: s\n"))
	require.Nil(t, err)
	assert.Equal(t, 10, c.MaxConnections)
	assert.Equal(t, writer.FDataSync, c.Backend)
	assert.Equal(t, uint64(1<<20), c.MaxSize)
	assert.Equal(t, "md4", c.Digest)
	assert.Equal(t, protocol.Text, c.Framing)
	assert.Equal(t, 10*time.Millisecond, c.SyncDebounce)
	assert.Equal(t, utils.NoID, c.UID)
	assert.Equal(t, utils.NoID, c.GID)
	assert.True(t, c.DeleteSocket)
	assert.True(t, c.SyncOnExit)
	assert.NotNil(t, c.Validate())
}

func TestRejectsBadValues(t *testing.T) {
	for _, doc := range []string{
		"backend: tape",
		"max_size: lots",
		"page_size: 1000",
		"digest: crc32",
		"framing: json",
		"sync_debounce: soon",
		"umask: 999",
		"two_pass: maybe",
		"log_level: loud",
		"max_connections: -1",
		"socket: [",
	} {
		_, err := utils.ParseConfig([]byte(doc))
		assert.NotNil(t, err, doc)
	}
}
