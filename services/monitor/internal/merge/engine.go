// Package merge folds poll responses into the bounded window.
package merge

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/metrics"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

// ErrInvariant wraps a window error raised while merging. It means the
// response was not normalized before reaching the engine.
var ErrInvariant = errors.New("merge: window invariant violated")

// Mode describes what a merge did.
type Mode int

const (
	ModeNoop Mode = iota
	ModeAppend
	ModeReload
)

func (m Mode) String() string {
	switch m {
	case ModeAppend:
		return "append"
	case ModeReload:
		return "reload"
	default:
		return "noop"
	}
}

// Outcome summarizes one merge.
type Outcome struct {
	Mode     Mode
	Admitted int
	Evicted  int
}

// Options configures an Engine.
type Options struct {
	MaxPoints int
	// TrackIdleEntities registers every entity named in a reload response,
	// even one without a sample inside the replayed tail.
	TrackIdleEntities bool
	// Strict panics on invariant violations instead of resetting.
	Strict bool
	// Registerer receives the engine's collectors. Nil disables registration.
	Registerer prometheus.Registerer
}

// Engine owns the window store. Merge, Resize and RequestReload must be
// called from one goroutine.
type Engine struct {
	store         *window.Store
	opts          Options
	pendingReload bool
	logger        *logrus.Entry

	merges    *prometheus.CounterVec
	admitted  prometheus.Counter
	evicted   prometheus.Counter
	windowLen prometheus.Gauge
}

// NewEngine creates an engine with an empty window.
func NewEngine(opts Options, logger *logrus.Logger) (*Engine, error) {
	store, err := window.NewStore(opts.MaxPoints)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	e := &Engine{
		store:         store,
		opts:          opts,
		pendingReload: true,
		logger:        logger.WithField("component", "merge"),
	}

	e.merges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_merges_total",
			Help: "Merge cycles by outcome",
		},
		[]string{"mode"},
	)
	e.admitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_samples_admitted_total",
		Help: "Samples appended to the window",
	})
	e.evicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_samples_evicted_total",
		Help: "Samples evicted from the front of the window",
	})
	e.windowLen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_window_points",
		Help: "Points currently held in the window",
	})
	if opts.Registerer != nil {
		for _, c := range []prometheus.Collector{e.merges, e.admitted, e.evicted, e.windowLen} {
			if err := opts.Registerer.Register(c); err != nil {
				return nil, fmt.Errorf("register merge metrics: %w", err)
			}
		}
	}
	return e, nil
}

// Capacity returns the current window capacity.
func (e *Engine) Capacity() int {
	return e.store.Capacity()
}

// Resize discards the window and sets a new capacity. The next merge reloads.
func (e *Engine) Resize(capacity int) error {
	if err := e.store.Reset(capacity); err != nil {
		return err
	}
	e.opts.MaxPoints = capacity
	e.pendingReload = true
	e.windowLen.Set(0)
	return nil
}

// RequestReload discards the window. The next merge reloads.
func (e *Engine) RequestReload() {
	// capacity was validated when it was set
	_ = e.store.Reset(e.opts.MaxPoints)
	e.pendingReload = true
	e.windowLen.Set(0)
}

// Snapshot returns an immutable copy of the window.
func (e *Engine) Snapshot() window.Snapshot {
	return e.store.Snapshot()
}

// Merge folds resp into the window. Responses must carry strictly increasing
// aggregate timestamps.
func (e *Engine) Merge(resp metrics.Response, forceReload bool) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	if forceReload || e.pendingReload || e.store.Empty() {
		out, err = e.reload(resp)
	} else {
		out, err = e.append(resp)
	}
	if err != nil {
		return out, e.fail(err)
	}

	e.merges.WithLabelValues(out.Mode.String()).Inc()
	e.admitted.Add(float64(out.Admitted))
	e.evicted.Add(float64(out.Evicted))
	e.windowLen.Set(float64(e.store.Len()))

	if out.Mode != ModeNoop {
		e.logger.WithFields(logrus.Fields{
			"mode":     out.Mode.String(),
			"admitted": out.Admitted,
			"evicted":  out.Evicted,
			"points":   e.store.Len(),
		}).Debug("Merged poll response")
	}
	return out, nil
}

func (e *Engine) reload(resp metrics.Response) (Outcome, error) {
	if err := e.store.Reset(e.opts.MaxPoints); err != nil {
		return Outcome{}, err
	}
	e.pendingReload = false

	if e.opts.TrackIdleEntities {
		for _, id := range resp.EquipmentIDs() {
			e.store.Track(id)
		}
	}

	tail := resp.Total
	if len(tail) > e.opts.MaxPoints {
		tail = tail[len(tail)-e.opts.MaxPoints:]
	}
	return e.appendAll(ModeReload, tail, resp.ValuesAt())
}

func (e *Engine) append(resp metrics.Response) (Outcome, error) {
	last, _ := e.store.Last()
	var fresh []metrics.Sample
	for _, s := range resp.Total {
		if s.TS.After(last) {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) == 0 {
		return Outcome{Mode: ModeNoop}, nil
	}
	return e.appendAll(ModeAppend, fresh, resp.ValuesAt())
}

func (e *Engine) appendAll(mode Mode, samples []metrics.Sample, byTS map[window.Timestamp]map[string]float64) (Outcome, error) {
	out := Outcome{Mode: mode}
	for _, s := range samples {
		n, err := e.store.AppendAt(s.TS, s.Production, byTS[s.TS])
		if err != nil {
			return out, err
		}
		out.Admitted++
		out.Evicted += n
	}
	return out, nil
}

func (e *Engine) fail(err error) error {
	if e.opts.Strict {
		panic(fmt.Sprintf("merge: %v", err))
	}
	e.logger.WithError(err).Error("Window invariant violated, discarding window")
	e.RequestReload()
	return fmt.Errorf("%w: %w", ErrInvariant, err)
}
