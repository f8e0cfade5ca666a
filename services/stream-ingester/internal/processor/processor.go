// Package processor decodes readings and drops redeliveries.
package processor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/reading"
)

// EventProcessor decodes Kafka messages and deduplicates readings on
// (equipment id, timestamp).
type EventProcessor struct {
	dedupWindow time.Duration
	mu          sync.Mutex
	seen        map[string]time.Time
	now         func() time.Time
	logger      *logrus.Entry

	processed    atomic.Uint64
	deduplicated atomic.Uint64
	invalid      atomic.Uint64
}

// NewEventProcessor creates a processor remembering keys for window.
func NewEventProcessor(window time.Duration, logger *logrus.Logger) *EventProcessor {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &EventProcessor{
		dedupWindow: window,
		seen:        make(map[string]time.Time),
		now:         time.Now,
		logger:      logger.WithField("component", "processor"),
	}
}

func dedupKey(r reading.Reading) string {
	return r.EquipmentID + "|" + r.TS.Format(time.RFC3339Nano)
}

// ProcessBatch returns the new readings of msgs ordered by timestamp.
// Readings that fail to decode are dropped.
func (ep *EventProcessor) ProcessBatch(msgs []kafka.Message) []reading.Reading {
	out := make([]reading.Reading, 0, len(msgs))
	now := ep.now()

	ep.mu.Lock()
	for _, msg := range msgs {
		r, err := reading.Parse(msg.Value)
		if err != nil {
			ep.invalid.Add(1)
			ep.logger.WithError(err).WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Warn("Dropping invalid reading")
			continue
		}

		key := dedupKey(r)
		if at, ok := ep.seen[key]; ok && now.Sub(at) < ep.dedupWindow {
			ep.deduplicated.Add(1)
			continue
		}
		ep.seen[key] = now
		out = append(out, r)
		ep.processed.Add(1)
	}
	ep.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

// Forget removes keys so the readings can be retried after a failed write.
func (ep *EventProcessor) Forget(readings []reading.Reading) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	for _, r := range readings {
		delete(ep.seen, dedupKey(r))
	}
}

// cleanup removes keys older than the dedup window.
func (ep *EventProcessor) cleanup() int {
	cutoff := ep.now().Add(-ep.dedupWindow)
	removed := 0

	ep.mu.Lock()
	for key, at := range ep.seen {
		if at.Before(cutoff) {
			delete(ep.seen, key)
			removed++
		}
	}
	ep.mu.Unlock()

	if removed > 0 {
		ep.logger.Debugf("Cleaned up %d old dedup entries", removed)
	}
	return removed
}

// CleanupLoop runs cleanup every interval until ctx is done.
func (ep *EventProcessor) CleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ep.cleanup()
		}
	}
}

// GetStats returns processor statistics
func (ep *EventProcessor) GetStats() map[string]uint64 {
	return map[string]uint64{
		"processed":    ep.processed.Load(),
		"deduplicated": ep.deduplicated.Load(),
		"invalid":      ep.invalid.Load(),
	}
}
