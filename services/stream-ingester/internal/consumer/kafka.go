// Package consumer reads production readings from Kafka.
package consumer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

// Options configures the Kafka reader.
type Options struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	Topic   string   `mapstructure:"topic"`
	Buffer  int      `mapstructure:"buffer"`
}

// KafkaConsumer fetches messages into a channel. Offsets are committed only
// when the caller has stored the messages.
type KafkaConsumer struct {
	reader   messageReader
	messages chan kafka.Message
	logger   *logrus.Entry
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewKafkaConsumer creates a consumer group reader for opts.Topic.
func NewKafkaConsumer(opts Options, logger *logrus.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               opts.Brokers,
		GroupID:               opts.GroupID,
		Topic:                 opts.Topic,
		MinBytes:              1,
		MaxBytes:              10485760, // 10MB
		StartOffset:           kafka.FirstOffset,
		QueueCapacity:         1000,
		MaxWait:               500 * time.Millisecond,
		ReadBatchTimeout:      100 * time.Millisecond,
		WatchPartitionChanges: true,
	})
	kc := newConsumer(reader, opts.Buffer, logger)
	kc.logger.WithFields(logrus.Fields{
		"brokers": opts.Brokers,
		"group":   opts.GroupID,
		"topic":   opts.Topic,
	}).Info("Kafka consumer started")
	return kc
}

func newConsumer(reader messageReader, buffer int, logger *logrus.Logger) *KafkaConsumer {
	if buffer <= 0 {
		buffer = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	kc := &KafkaConsumer{
		reader:   reader,
		messages: make(chan kafka.Message, buffer),
		logger:   logger.WithField("component", "consumer"),
		ctx:      ctx,
		cancel:   cancel,
	}
	kc.wg.Add(1)
	go kc.consume()
	return kc
}

// consume reads from Kafka and sends to channel
func (kc *KafkaConsumer) consume() {
	defer kc.wg.Done()
	defer close(kc.messages)

	for {
		ctx, cancel := context.WithTimeout(kc.ctx, 5*time.Second)
		msg, err := kc.reader.FetchMessage(ctx)
		cancel()

		if err != nil {
			if kc.ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			// Idle partitions time out routinely.
			if !errors.Is(err, context.DeadlineExceeded) {
				kc.logger.WithError(err).Warn("Failed to fetch message")
				select {
				case <-kc.ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}

		select {
		case kc.messages <- msg:
		case <-kc.ctx.Done():
			return
		}
	}
}

// Messages returns the message channel. It is closed after Close.
func (kc *KafkaConsumer) Messages() <-chan kafka.Message {
	return kc.messages
}

// Commit marks msgs as processed.
func (kc *KafkaConsumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return kc.reader.CommitMessages(ctx, msgs...)
}

// Close shuts down the consumer
func (kc *KafkaConsumer) Close() {
	kc.cancel()
	kc.wg.Wait()
	if err := kc.reader.Close(); err != nil {
		kc.logger.WithError(err).Error("Failed to close reader")
	}
	kc.logger.Info("Kafka consumer closed")
}

// Stats returns reader statistics.
func (kc *KafkaConsumer) Stats() map[string]int64 {
	s := kc.reader.Stats()
	return map[string]int64{
		"messages": s.Messages,
		"bytes":    s.Bytes,
		"errors":   s.Errors,
		"lag":      s.Lag,
		"offset":   s.Offset,
	}
}
