// Package poller drives fetch and merge cycles for the dashboard.
package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/merge"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/metrics"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/view"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

// RangeRealtime is the only range merged into the live window. Every other
// range is rendered from its full response.
const RangeRealtime = "realtime"

// Source fetches one poll response.
type Source interface {
	FetchMetrics(ctx context.Context, rangeName string, limit int) (metrics.Response, error)
}

// Update is published after every cycle and every display change.
type Update struct {
	Frame    view.Frame
	Snapshot window.Snapshot
	Outcome  merge.Outcome
	Modes    view.Modes
	Range    string
	Paused   bool
	At       time.Time
	Err      error
}

// Config configures a Poller.
type Config struct {
	Interval time.Duration
	Range    string
	Limit    int
	Modes    view.Modes
}

type result struct {
	rangeName string
	resp      metrics.Response
	err       error
}

// Poller owns the merge engine. All state changes happen on the Run goroutine,
// so at most one fetch is in flight and merges never overlap.
type Poller struct {
	source  Source
	engine  *merge.Engine
	cfg     Config
	publish func(Update)
	logger  *logrus.Entry

	control chan func()
	results chan result

	// run-goroutine state
	inflight    context.CancelFunc
	repoll      bool
	forceReload bool
	paused      bool
	history     metrics.Response
	last        Update

	polls    uint64
	failures uint64
}

// New creates a poller. publish is called on the Run goroutine and must not block.
func New(source Source, engine *merge.Engine, cfg Config, publish func(Update), logger *logrus.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Range == "" {
		cfg.Range = RangeRealtime
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if publish == nil {
		publish = func(Update) {}
	}
	return &Poller{
		source:  source,
		engine:  engine,
		cfg:     cfg,
		publish: publish,
		logger:  logger.WithField("component", "poller"),
		control: make(chan func(), 16),
		results: make(chan result, 1),
	}
}

// Run polls until ctx is done. The first poll starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.forceReload = true
	p.start(ctx)

	for {
		select {
		case <-ctx.Done():
			if p.inflight != nil {
				p.inflight()
			}
			return ctx.Err()

		case <-ticker.C:
			if p.paused {
				continue
			}
			if p.inflight != nil {
				p.logger.Debug("Previous poll still pending, skipping tick")
				continue
			}
			p.start(ctx)

		case cmd := <-p.control:
			cmd()
			if p.repoll && p.inflight == nil {
				p.start(ctx)
			}

		case res := <-p.results:
			p.inflight = nil
			p.handle(res)
			if p.repoll {
				p.start(ctx)
			}
		}
	}
}

func (p *Poller) start(ctx context.Context) {
	pctx, cancel := context.WithCancel(ctx)
	p.inflight = cancel
	p.repoll = false
	rangeName := p.cfg.Range
	limit := p.cfg.Limit
	atomic.AddUint64(&p.polls, 1)

	go func() {
		defer cancel()
		resp, err := p.source.FetchMetrics(pctx, rangeName, limit)
		p.results <- result{rangeName: rangeName, resp: resp, err: err}
	}()
}

func (p *Poller) handle(res result) {
	if res.rangeName != p.cfg.Range {
		p.logger.WithField("range", res.rangeName).Debug("Discarding response for a previous range")
		p.repoll = true
		return
	}

	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			p.logger.Debug("Poll cancelled")
			return
		}
		atomic.AddUint64(&p.failures, 1)
		p.logger.WithError(res.err).Warn("Poll failed, skipping cycle")
		u := p.last
		u.Err = res.err
		u.At = time.Now()
		p.emit(u)
		return
	}

	if res.rangeName != RangeRealtime {
		p.history = res.resp
		p.emit(p.render(merge.Outcome{Mode: merge.ModeReload, Admitted: len(res.resp.Total)}))
		return
	}

	force := p.forceReload
	p.forceReload = false
	outcome, err := p.engine.Merge(res.resp, force)
	if err != nil {
		atomic.AddUint64(&p.failures, 1)
		u := p.render(outcome)
		u.Err = err
		p.emit(u)
		return
	}
	p.emit(p.render(outcome))
}

func (p *Poller) render(outcome merge.Outcome) Update {
	u := Update{
		Outcome: outcome,
		Modes:   p.modes(),
		Range:   p.cfg.Range,
		Paused:  p.paused,
		At:      time.Now(),
	}
	if p.cfg.Range == RangeRealtime {
		u.Snapshot = p.engine.Snapshot()
		u.Frame = view.Transform(u.Snapshot, p.cfg.Modes.SeriesMode, p.cfg.Modes.ValueMode)
		return u
	}

	frame, err := view.FromResponse(p.history, p.cfg.Modes.SeriesMode, p.cfg.Modes.ValueMode)
	if err != nil {
		u.Err = err
	}
	u.Frame = frame
	return u
}

func (p *Poller) modes() view.Modes {
	m := p.cfg.Modes
	m.MaxPoints = p.engine.Capacity()
	return m
}

func (p *Poller) emit(u Update) {
	p.last = u
	p.publish(u)
}

func (p *Poller) rerender() {
	u := p.render(merge.Outcome{Mode: merge.ModeNoop})
	u.Err = p.last.Err
	p.emit(u)
}

func (p *Poller) cancelInflight() {
	if p.inflight != nil {
		p.inflight()
	}
	p.repoll = true
}

func (p *Poller) send(cmd func()) {
	p.control <- cmd
}

// SetMaxPoints resizes the window and reloads it.
func (p *Poller) SetMaxPoints(n int) {
	p.send(func() {
		if n == p.engine.Capacity() {
			return
		}
		if err := p.engine.Resize(n); err != nil {
			p.logger.WithError(err).WithField("max_points", n).Warn("Rejected window size")
			return
		}
		p.cfg.Modes.MaxPoints = n
		p.forceReload = true
		p.logger.WithField("max_points", n).Info("Window resized")
		p.rerender()
		p.cancelInflight()
	})
}

// SetSeriesMode changes the series selection. No fetch is issued.
func (p *Poller) SetSeriesMode(m view.SeriesMode) {
	p.send(func() {
		p.cfg.Modes.SeriesMode = m
		p.rerender()
	})
}

// SetValueMode changes the value mode. No fetch is issued.
func (p *Poller) SetValueMode(m view.ValueMode) {
	p.send(func() {
		p.cfg.Modes.ValueMode = m
		p.rerender()
	})
}

// SetRange switches the time range and fetches it immediately. Returning to
// the realtime range rebuilds the window.
func (p *Poller) SetRange(rangeName string) {
	p.send(func() {
		if rangeName == p.cfg.Range {
			return
		}
		prev := p.cfg.Range
		p.cfg.Range = rangeName
		if rangeName == RangeRealtime || prev == RangeRealtime {
			p.engine.RequestReload()
			p.forceReload = true
		}
		p.history = metrics.Response{}
		p.cancelInflight()
	})
}

// Reload discards the window and fetches immediately.
func (p *Poller) Reload() {
	p.send(func() {
		p.engine.RequestReload()
		p.forceReload = true
		p.cancelInflight()
	})
}

// SetPaused stops or resumes ticking. A paused poller still applies display
// changes.
func (p *Poller) SetPaused(paused bool) {
	p.send(func() {
		p.paused = paused
		u := p.last
		u.Paused = paused
		p.emit(u)
	})
}

// Stats returns poll and failure counts.
func (p *Poller) Stats() (polls, failures uint64) {
	return atomic.LoadUint64(&p.polls), atomic.LoadUint64(&p.failures)
}
