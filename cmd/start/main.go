package start

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/alpacahq/journald/internal/di"
	"github.com/alpacahq/journald/metrics"
	"github.com/alpacahq/journald/protocol"
	"github.com/alpacahq/journald/utils"
	"github.com/alpacahq/journald/utils/log"
)

const (
	usage      = "start [SOCKET JOURNAL]"
	short      = "Start the journald daemon"
	long       = "This command starts the journal daemon. Producers connect to SOCKET and their streams are written to the JOURNAL file."
	example    = "journald start /run/journald.sock /var/lib/journald/current --backend mmap --two-pass"
	configDesc = "set the path for the journald YAML configuration file"

	diskUsageMonitorInterval = time.Minute
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"boot", "up", "serve"},
		Example:    example,
		Args:       cobra.RangeArgs(0, 2),
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
	flags          = utils.DefaultConfig()
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	f := Cmd.Flags()
	f.StringVarP(&configFilePath, "config", "c", "", configDesc)
	f.IntVarP(&flags.MaxConnections, "max-connections", "n", flags.MaxConnections, "maximum number of concurrent connections")
	f.IntVarP(&flags.Backlog, "backlog", "b", flags.Backlog, "listen backlog of the socket")
	f.StringVar((*string)(&flags.Backend), "backend", string(flags.Backend), "durability backend: fdatasync, mmap, open+direct or open+sync")
	f.BoolVar(&flags.TwoPass, "two-pass", flags.TwoPass, "reveal each transaction only after it is durable")
	f.String("max-size", "1MB", "size the journal file is preallocated to")
	f.IntVar(&flags.PageSize, "page-size", flags.PageSize, "page size in bytes, 0 for the file system's")
	f.StringVar(&flags.Digest, "digest", flags.Digest, "record digest: md4 or xxh64")
	f.StringVar((*string)(&flags.Framing), "framing", string(flags.Framing), "wire framing: text or binary")
	f.DurationVar(&flags.SyncDebounce, "sync-debounce", flags.SyncDebounce, "how long completed streams wait to share a sync")
	f.IntVarP(&flags.UID, "uid", "u", flags.UID, "user id to switch to after binding the socket")
	f.IntVarP(&flags.GID, "gid", "g", flags.GID, "group id to switch to after binding the socket")
	f.String("umask", "022", "umask applied while creating the socket")
	f.String("socket-mode", "777", "permissions of the socket")
	f.BoolVar(&flags.DeleteSocket, "delete-socket", flags.DeleteSocket, "remove the socket on exit")
	f.BoolVar(&flags.SyncOnExit, "sync-on-exit", flags.SyncOnExit, "commit written records on exit")
	f.StringVar(&flags.MetricsListen, "metrics-listen", "", "address to serve prometheus metrics on")
}

// loadConfig layers the config file, the changed flags and the arguments.
func loadConfig(cmd *cobra.Command, args []string) (*utils.JournaldConfig, error) {
	config := utils.DefaultConfig()
	if configFilePath != "" {
		data, err := os.ReadFile(configFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file error: %w", err)
		}
		if config, err = utils.ParseConfig(data); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file error: %w", err)
		}
		log.Info("using %v for configuration", configFilePath)
	}

	f := cmd.Flags()
	var err error
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("max-connections", func() { config.MaxConnections = flags.MaxConnections })
	set("backlog", func() { config.Backlog = flags.Backlog })
	set("two-pass", func() { config.TwoPass = flags.TwoPass })
	set("page-size", func() { config.PageSize = flags.PageSize })
	set("digest", func() { config.Digest = flags.Digest })
	set("sync-debounce", func() { config.SyncDebounce = flags.SyncDebounce })
	set("uid", func() { config.UID = flags.UID })
	set("gid", func() { config.GID = flags.GID })
	set("delete-socket", func() { config.DeleteSocket = flags.DeleteSocket })
	set("sync-on-exit", func() { config.SyncOnExit = flags.SyncOnExit })
	set("metrics-listen", func() { config.MetricsListen = flags.MetricsListen })
	set("backend", func() { config.Backend, err = utils.ParseBackend(string(flags.Backend)) })
	if err != nil {
		return nil, err
	}
	set("framing", func() { config.Framing, err = protocol.ParseFraming(string(flags.Framing)) })
	if err != nil {
		return nil, err
	}
	set("max-size", func() {
		s, _ := f.GetString("max-size")
		config.MaxSize, err = bytefmt.ToBytes(s)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid --max-size: %w", err)
	}
	set("umask", func() {
		s, _ := f.GetString("umask")
		config.Umask, err = utils.ParseMode(s)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid --umask: %w", err)
	}
	set("socket-mode", func() {
		s, _ := f.GetString("socket-mode")
		config.SocketMode, err = utils.ParseMode(s)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid --socket-mode: %w", err)
	}

	if len(args) == 2 {
		config.Socket, config.Journal = args[0], args[1]
	} else if len(args) != 0 {
		return nil, fmt.Errorf("expected SOCKET and JOURNAL, got %d arguments", len(args))
	}
	return config, config.Validate()
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	// Don't output command usage if args are correct
	cmd.SilenceUsage = true
	if !cmd.Flags().Changed("log-level") {
		log.SetLevel(config.LogLevel)
	}
	config.StartTime = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("initializing journald %s...", utils.Tag)
	c := di.NewContainer(config)
	defer c.Close()
	srv, err := c.GetServer()
	if err != nil {
		return err
	}
	ln, err := c.GetListener()
	if err != nil {
		return err
	}
	if err := dropPrivileges(config); err != nil {
		return err
	}

	go metrics.StartDiskUsageMonitor(ctx, metrics.JournalDiskUsage, c.GetJournalPath(), diskUsageMonitorInterval)
	if config.MetricsListen != "" {
		log.Info("launching prometheus metrics server on %s...", config.MetricsListen)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(config.MetricsListen, mux); err != nil {
				log.Error("metrics server error: %v", err)
			}
		}()
	}

	startupTime := time.Since(config.StartTime)
	metrics.StartupTime.Set(startupTime.Seconds())
	log.Info("startup time: %s", startupTime)

	// Spawn a goroutine and listen for a signal.
	const defaultSignalChanLen = 10
	signalChan := make(chan os.Signal, defaultSignalChanLen)
	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 request")
				if err := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err != nil {
					log.Error("failed to write goroutine pprof: %v", err)
				}
			default:
				log.Info("initiating shutdown due to '%v' request", s)
				cancel()
			}
		}
	}()
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	signal.Ignore(syscall.SIGHUP, syscall.SIGPIPE)
	defer signal.Stop(signalChan)

	log.Info("listening on %s", config.Socket)
	err = srv.Serve(ctx, ln)
	if config.DeleteSocket {
		if rerr := os.Remove(config.Socket); rerr != nil && !os.IsNotExist(rerr) {
			log.Warn("failed to remove socket %s: %v", config.Socket, rerr)
		}
	}
	log.Info("exiting...")
	return err
}

// dropPrivileges switches group, then user, once the socket is bound and the
// journal is open.
func dropPrivileges(config *utils.JournaldConfig) error {
	if config.GID != utils.NoID {
		if err := unix.Setgid(config.GID); err != nil {
			return fmt.Errorf("setgid %d: %w", config.GID, err)
		}
	}
	if config.UID != utils.NoID {
		if err := unix.Setuid(config.UID); err != nil {
			return fmt.Errorf("setuid %d: %w", config.UID, err)
		}
	}
	return nil
}
