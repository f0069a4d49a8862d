package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/alpacahq/journald/digest"
	"github.com/alpacahq/journald/protocol"
	"github.com/alpacahq/journald/utils/log"
	"github.com/alpacahq/journald/writer"
)

const (
	defaultMaxConnections = 10
	defaultBacklog        = 128
	defaultMaxSize        = "1MB"
	defaultSyncDebounce   = 10 * time.Millisecond
	defaultUmask          = 0o022
	defaultSocketMode     = 0o777
)

// NoID leaves the user or group id unchanged.
const NoID = -1

type JournaldConfig struct {
	Socket         string
	Journal        string
	MaxConnections int
	Backlog        int
	Backend        writer.Backend
	TwoPass        bool
	MaxSize        uint64
	PageSize       int
	Digest         string
	Framing        protocol.Framing
	SyncDebounce   time.Duration
	UID            int
	GID            int
	Umask          os.FileMode
	SocketMode     os.FileMode
	DeleteSocket   bool
	SyncOnExit     bool
	LogLevel       log.Level
	MetricsListen  string
	StartTime      time.Time
}

// DefaultConfig is the configuration used when no file is given.
func DefaultConfig() *JournaldConfig {
	size, _ := bytefmt.ToBytes(defaultMaxSize)
	return &JournaldConfig{
		MaxConnections: defaultMaxConnections,
		Backlog:        defaultBacklog,
		Backend:        writer.FDataSync,
		MaxSize:        size,
		Digest:         digest.MD4Name,
		Framing:        protocol.Text,
		SyncDebounce:   defaultSyncDebounce,
		UID:            NoID,
		GID:            NoID,
		Umask:          defaultUmask,
		SocketMode:     defaultSocketMode,
		DeleteSocket:   true,
		SyncOnExit:     true,
		LogLevel:       log.INFO,
	}
}

func (m *JournaldConfig) Parse(data []byte) error {
	var (
		err error
		aux struct {
			Socket         string `yaml:"socket"`
			Journal        string `yaml:"journal"`
			MaxConnections int    `yaml:"max_connections"`
			Backlog        int    `yaml:"backlog"`
			Backend        string `yaml:"backend"`
			TwoPass        string `yaml:"two_pass"`
			MaxSize        string `yaml:"max_size"`
			PageSize       int    `yaml:"page_size"`
			Digest         string `yaml:"digest"`
			Framing        string `yaml:"framing"`
			SyncDebounce   string `yaml:"sync_debounce"`
			UID            *int   `yaml:"uid"`
			GID            *int   `yaml:"gid"`
			Umask          string `yaml:"umask"`
			SocketMode     string `yaml:"socket_mode"`
			DeleteSocket   string `yaml:"delete_socket"`
			SyncOnExit     string `yaml:"sync_on_exit"`
			LogLevel       string `yaml:"log_level"`
			MetricsListen  string `yaml:"metrics_listen"`
		}
	)

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.Socket = aux.Socket
	m.Journal = aux.Journal
	m.MetricsListen = aux.MetricsListen

	if aux.MaxConnections < 0 {
		return fmt.Errorf("invalid max_connections: %d", aux.MaxConnections)
	} else if aux.MaxConnections > 0 {
		m.MaxConnections = aux.MaxConnections
	}

	if aux.Backlog > 0 {
		m.Backlog = aux.Backlog
	}

	if aux.Backend != "" {
		if m.Backend, err = ParseBackend(aux.Backend); err != nil {
			return err
		}
	}

	if aux.MaxSize != "" {
		if m.MaxSize, err = bytefmt.ToBytes(aux.MaxSize); err != nil {
			return fmt.Errorf("invalid max_size %q: %w", aux.MaxSize, err)
		}
	}

	if aux.PageSize < 0 || aux.PageSize%512 != 0 {
		return fmt.Errorf("invalid page_size %d: must be a multiple of 512", aux.PageSize)
	}
	m.PageSize = aux.PageSize

	if aux.Digest != "" {
		if _, err := digest.ForName(aux.Digest); err != nil {
			return err
		}
		m.Digest = aux.Digest
	}

	if aux.Framing != "" {
		if m.Framing, err = protocol.ParseFraming(aux.Framing); err != nil {
			return err
		}
	}

	if aux.SyncDebounce != "" {
		if m.SyncDebounce, err = time.ParseDuration(aux.SyncDebounce); err != nil {
			return fmt.Errorf("invalid sync_debounce %q: %w", aux.SyncDebounce, err)
		}
	}

	if aux.UID != nil {
		m.UID = *aux.UID
	}
	if aux.GID != nil {
		m.GID = *aux.GID
	}

	if aux.Umask != "" {
		if m.Umask, err = ParseMode(aux.Umask); err != nil {
			return fmt.Errorf("invalid umask: %w", err)
		}
	}
	if aux.SocketMode != "" {
		if m.SocketMode, err = ParseMode(aux.SocketMode); err != nil {
			return fmt.Errorf("invalid socket_mode: %w", err)
		}
	}

	if m.TwoPass, err = parseBool("two_pass", aux.TwoPass, m.TwoPass); err != nil {
		return err
	}
	if m.DeleteSocket, err = parseBool("delete_socket", aux.DeleteSocket, m.DeleteSocket); err != nil {
		return err
	}
	if m.SyncOnExit, err = parseBool("sync_on_exit", aux.SyncOnExit, m.SyncOnExit); err != nil {
		return err
	}

	if aux.LogLevel != "" {
		if m.LogLevel, err = log.ParseLevel(aux.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the settings the daemon cannot start without.
func (m *JournaldConfig) Validate() error {
	if m.Socket == "" {
		return errors.New("no socket path configured")
	}
	if m.Journal == "" {
		return errors.New("no journal path configured")
	}
	return nil
}

func parseBool(key, s string, def bool) (bool, error) {
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def, fmt.Errorf("invalid value %q for %s", s, key)
	}
	return b, nil
}

// ParseBackend checks a durability backend name.
func ParseBackend(s string) (writer.Backend, error) {
	for _, b := range writer.Backends {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// ParseMode reads an octal permission mask such as "022" or "0660".
func ParseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("bad octal mode %q", s)
	}
	return os.FileMode(v), nil
}

// ParseConfig layers a YAML document over the defaults.
func ParseConfig(data []byte) (*JournaldConfig, error) {
	config := DefaultConfig()
	if err := config.Parse(data); err != nil {
		return nil, err
	}
	return config, nil
}
