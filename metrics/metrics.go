package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "alpaca"
var subsystem = "journald"

var (
	// StartupTime stores how long the startup took (in seconds)
	StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "startup_seconds",
			Help:      "Seconds taken by the startup",
		},
	)

	// RecordsWritten counts records appended to the journal, INFO records included
	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "records_written_total",
		Help:      "Number of records appended to the journal partitioned by record type",
	}, []string{"type"})

	// BytesWritten counts stream payload bytes appended to the journal
	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "bytes_written_total",
		Help:      "Number of stream payload bytes appended to the journal",
	})

	SyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "syncs_total",
		Help:      "Number of transaction commits issued to the durable store",
	})

	SyncFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sync_failures_total",
		Help:      "Number of transaction commits that failed",
	})

	// SyncDuration stores the time spent in each commit, including the two-pass rewrite
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sync_duration_seconds",
		Help:      "Time spent committing a transaction",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	})

	// SyncBatchSize stores how many connections each commit completed
	SyncBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sync_batch_size",
		Help:      "Number of connections completed by one commit",
		Buckets:   prometheus.LinearBuckets(1, 1, 16),
	})

	RotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rotations_total",
		Help:      "Number of journal rotations",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_connections",
		Help:      "Number of producer connections currently open",
	})

	ProtocolErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "protocol_errors_total",
		Help:      "Number of connections aborted for malformed framing",
	})

	// JournalDiskUsage stores the bytes the journal file occupies on disk
	JournalDiskUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_disk_usage_bytes",
		Help:      "Bytes allocated on disk to the journal file",
	})
)
