// Package pipeline batches Kafka messages through the processor and the
// store writer, committing offsets once a batch is stored.
package pipeline

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/stream-ingester/internal/processor"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/reading"
)

// Source delivers messages and accepts commits.
type Source interface {
	Messages() <-chan kafka.Message
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Writer persists decoded readings.
type Writer interface {
	WriteBatch(ctx context.Context, readings []reading.Reading) (int, error)
}

// Options tunes batching.
type Options struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

// Pipeline is the ingest loop.
type Pipeline struct {
	source    Source
	processor *processor.EventProcessor
	writer    Writer
	opts      Options
	logger    *logrus.Entry

	messages *prometheus.CounterVec
	batches  prometheus.Histogram
	failures prometheus.Counter
}

// New creates a pipeline and registers its metrics on reg.
func New(src Source, proc *processor.EventProcessor, w Writer, opts Options, reg prometheus.Registerer, logger *logrus.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	p := &Pipeline{
		source:    src,
		processor: proc,
		writer:    w,
		opts:      opts,
		logger:    logger.WithField("component", "pipeline"),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Kafka messages consumed by outcome.",
		}, []string{"result"}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_batch_duration_seconds",
			Help:    "Time to process and store one batch.",
			Buckets: prometheus.DefBuckets,
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_write_failures_total",
			Help: "Batches that failed to store.",
		}),
	}
	reg.MustRegister(p.messages, p.batches, p.failures)
	return p
}

// Run consumes until ctx is done or the source closes, flushing the
// pending batch on the way out.
func (p *Pipeline) Run(ctx context.Context) {
	batch := make([]kafka.Message, 0, p.opts.BatchSize)
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if p.flush(ctx, batch) {
			batch = batch[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(shutdownCtx)
			cancel()
			return

		case msg, ok := <-p.source.Messages():
			if !ok {
				flush(ctx)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= p.opts.BatchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}

// flush stores one batch and commits it. It reports false when the batch
// should be retried.
func (p *Pipeline) flush(ctx context.Context, batch []kafka.Message) bool {
	start := time.Now()
	before := p.processor.GetStats()
	readings := p.processor.ProcessBatch(batch)
	after := p.processor.GetStats()
	p.messages.WithLabelValues("invalid").Add(float64(after["invalid"] - before["invalid"]))
	p.messages.WithLabelValues("duplicate").Add(float64(after["deduplicated"] - before["deduplicated"]))

	n, err := p.writer.WriteBatch(ctx, readings)
	if err != nil {
		p.failures.Inc()
		p.processor.Forget(readings)
		p.logger.WithError(err).WithField("batch", len(batch)).Error("Failed to store batch")
		select {
		case <-ctx.Done():
		case <-time.After(p.opts.RetryBackoff):
		}
		return false
	}
	p.messages.WithLabelValues("stored").Add(float64(n))
	p.messages.WithLabelValues("skipped").Add(float64(len(readings) - n))

	if err := p.source.Commit(ctx, batch...); err != nil {
		p.logger.WithError(err).Error("Failed to commit offsets")
	}
	elapsed := time.Since(start)
	p.batches.Observe(elapsed.Seconds())
	p.logger.WithFields(logrus.Fields{
		"messages": len(batch),
		"stored":   n,
		"duration": elapsed,
	}).Debug("Batch stored")
	return true
}
