// Package metrics exposes the runtime's operational counters to
// Prometheus. The engine mirrors its internal counters here at flush
// completion, so scrape cost never touches the hot path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "fastlog"
var subsystem = "engine"

var (
	// EventsProcessed counts log records handed to the encoder.
	EventsProcessed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_processed_total",
			Help:      "Number of log records encoded by the consumer",
		},
	)

	// BytesRead counts raw bytes drained from staging buffers.
	BytesRead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "staging_bytes_read_total",
			Help:      "Raw bytes consumed from staging buffers",
		},
	)

	// BytesWritten counts encoded bytes submitted to the output file,
	// padding included.
	BytesWritten = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "output_bytes_written_total",
			Help:      "Encoded bytes submitted to the output file including padding",
		},
	)

	// WritesCompleted counts completed asynchronous writes.
	WritesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "writes_completed_total",
		Help:      "Number of asynchronous output writes completed",
	})

	// WriteErrors counts asynchronous writes that completed with an
	// error.
	WriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "write_errors_total",
		Help:      "Number of asynchronous output writes that failed",
	})

	// ProducerBlocks counts slow-path entries across all producers at
	// the time of the last flush.
	ProducerBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "producer_blocks_total",
		Help:      "Times producers entered the blocking reserve slow path",
	})
)
