// Package producer publishes simulator readings to Kafka.
package producer

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/simulator/internal/circuit"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/reading"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options configures the Kafka writer.
type Options struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	// Consecutive failed ticks before publishing is suspended.
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// Producer writes readings keyed by equipment id. Without brokers it runs
// in log-only mode.
type Producer struct {
	writer     messageWriter
	topic      string
	maxRetries int
	backoff    time.Duration
	breaker    *circuit.Breaker
	logger     *logrus.Entry

	sent     atomic.Uint64
	errors   atomic.Uint64
	dropped  atomic.Uint64
	bytesOut atomic.Uint64
}

// New creates a producer for opts.
func New(opts Options, logger *logrus.Logger) *Producer {
	entry := logger.WithField("component", "producer")
	if opts.Topic == "" {
		opts.Topic = reading.Topic
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	p := &Producer{
		topic:      opts.Topic,
		maxRetries: opts.MaxRetries,
		backoff:    100 * time.Millisecond,
		breaker:    circuit.NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown, time.Minute),
		logger:     entry,
	}
	p.breaker.OnStateChange(func(from, to circuit.State) {
		entry.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("Kafka circuit breaker changed state")
	})
	if len(opts.Brokers) == 0 {
		entry.Warn("No Kafka brokers configured, readings will be logged only")
		return p
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Topic:                  opts.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           opts.WriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		MaxAttempts:            3,
		Transport: &kafka.Transport{
			DialTimeout: 10 * time.Second,
			IdleTimeout: 30 * time.Second,
			MetadataTTL: 60 * time.Second,
			ClientID:    "production-simulator",
		},
	}
	entry.WithField("brokers", opts.Brokers).WithField("topic", opts.Topic).Info("Kafka producer initialized")
	return p
}

// Publish sends one tick of readings. All readings of a tick are written in
// one call.
func (p *Producer) Publish(ctx context.Context, readings []reading.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(readings))
	for _, r := range readings {
		if err := r.Validate(); err != nil {
			p.errors.Add(1)
			p.logger.WithError(err).WithField("equipment_id", r.EquipmentID).Warn("Dropping invalid reading")
			continue
		}
		msgs = append(msgs, kafka.Message{Key: r.Key(), Value: r.Marshal(nil), Time: r.TS})
	}
	if len(msgs) == 0 {
		return nil
	}

	if p.writer == nil {
		for _, m := range msgs {
			p.logger.WithField("key", string(m.Key)).Debug(string(m.Value))
		}
		p.record(msgs)
		return nil
	}

	err := p.breaker.Call(func() error { return p.sendWithRetry(ctx, msgs) })
	if errors.Is(err, circuit.ErrCircuitOpen) {
		p.dropped.Add(uint64(len(msgs)))
		return err
	}
	if err != nil {
		p.errors.Add(uint64(len(msgs)))
		return err
	}
	p.record(msgs)
	return nil
}

func (p *Producer) record(msgs []kafka.Message) {
	p.sent.Add(uint64(len(msgs)))
	for _, m := range msgs {
		p.bytesOut.Add(uint64(len(m.Value)))
	}
}

// sendWithRetry sends msgs with exponential backoff.
func (p *Producer) sendWithRetry(ctx context.Context, msgs []kafka.Message) error {
	var err error
	backoff := p.backoff
	for i := 0; i < p.maxRetries; i++ {
		err = p.writer.WriteMessages(ctx, msgs...)
		if err == nil || !isRetryable(err) {
			return err
		}
		if i < p.maxRetries-1 {
			p.logger.WithError(err).WithField("attempt", i+1).Warn("Kafka write failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return err
}

func isRetryable(err error) bool {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		(errors.As(err, &netErr) && netErr.Timeout())
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	var err error
	if p.writer != nil {
		err = p.writer.Close()
	}
	p.logger.WithFields(logrus.Fields{
		"sent":      p.sent.Load(),
		"errors":    p.errors.Load(),
		"dropped":   p.dropped.Load(),
		"bytes_out": p.bytesOut.Load(),
	}).Info("Producer closed")
	return err
}

// Stats returns producer counters.
func (p *Producer) Stats() map[string]uint64 {
	return map[string]uint64{
		"sent":      p.sent.Load(),
		"errors":    p.errors.Load(),
		"dropped":   p.dropped.Load(),
		"bytes_out": p.bytesOut.Load(),
	}
}
