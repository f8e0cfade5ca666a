// Production line monitor: a terminal dashboard over the query API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rivo/tview"
	"github.com/sirupsen/logrus"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/collector"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/config"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/export"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/merge"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/poller"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/ui"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/view"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/versions"
)

// Monitor represents the main monitoring application
type Monitor struct {
	cfg       *config.Config
	logger    *logrus.Logger
	app       *tview.Application
	layout    *ui.Layout
	collector *collector.Collector
	engine    *merge.Engine
	poller    *poller.Poller
	exporter  *export.Exporter
	registry  *prometheus.Registry

	// Display state, touched only on the tview goroutine
	modes     view.Modes
	rangeName string
	paused    bool
	frame     view.Frame

	ctx    context.Context
	cancel context.CancelFunc
}

// NewMonitor wires the dashboard components from cfg
func NewMonitor(cfg *config.Config, logger *logrus.Logger) (*Monitor, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	engine, err := merge.NewEngine(merge.Options{
		MaxPoints:         cfg.Window.MaxPoints,
		TrackIdleEntities: cfg.Window.TrackIdleEntities,
		Strict:            cfg.Window.Strict,
		Registerer:        registry,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create merge engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		cfg:       cfg,
		logger:    logger,
		app:       tview.NewApplication(),
		collector: collector.NewCollector(cfg.API.BaseURL, cfg.API.Timeout, logger),
		engine:    engine,
		exporter:  export.NewExporter(cfg.Export.Dir, cfg.Export.Width, cfg.Export.Height),
		registry:  registry,
		modes:     cfg.Modes(),
		rangeName: cfg.Poll.Range,
		ctx:       ctx,
		cancel:    cancel,
	}

	m.layout = ui.NewLayout(m.app, ui.DefaultColorScheme(), ui.Actions{
		Quit:             m.Stop,
		TogglePause:      m.togglePause,
		Reload:           m.reload,
		ToggleSeriesMode: m.toggleSeriesMode,
		ToggleValueMode:  m.toggleValueMode,
		CycleWindow:      m.cycleWindow,
		CycleRange:       m.cycleRange,
		Export:           m.exportChart,
	})

	m.poller = poller.New(m.collector, engine, poller.Config{
		Interval: cfg.Poll.Interval,
		Range:    cfg.Poll.Range,
		Limit:    cfg.Poll.Limit,
		Modes:    m.modes,
	}, m.publish, logger)

	return m, nil
}

// publish runs on the poller goroutine
func (m *Monitor) publish(u poller.Update) {
	var trends map[string][]window.Value
	if u.Range == poller.RangeRealtime && u.Snapshot.Len() > 0 {
		trends = make(map[string][]window.Value, len(u.Snapshot.Entities))
		for _, s := range view.Transform(u.Snapshot, view.PerEntity, view.Delta).Series {
			trends[s.Name] = s.Values
		}
	}

	m.app.QueueUpdateDraw(func() {
		m.frame = u.Frame
		m.layout.SetFrame(u.Frame, u.Range, u.Modes.MaxPoints, trends)
		if u.Err != nil {
			m.layout.SetStatus(fmt.Sprintf("Poll failed: %v", u.Err), true)
			return
		}
		m.layout.SetStatus(m.statusLine(u), false)
	})
}

func (m *Monitor) statusLine(u poller.Update) string {
	polls, failures := m.poller.Stats()
	state := "Live"
	if u.Paused {
		state = "Paused"
	}
	return fmt.Sprintf("%s | %s %d pts (+%d/-%d) | polls %d, failed %d",
		state, u.Outcome.Mode, len(u.Frame.Labels), u.Outcome.Admitted, u.Outcome.Evicted, polls, failures)
}

// refreshPanels keeps the KPI header and side panels current
func (m *Monitor) refreshPanels() {
	ticker := time.NewTicker(m.cfg.Poll.PanelInterval)
	defer ticker.Stop()

	for {
		m.collector.CollectPanels(m.ctx, m.cfg.Poll.AlertHours, m.cfg.Poll.MaintenanceHours)
		m.app.QueueUpdateDraw(func() {
			m.layout.SetSummary(m.collector.GetSummary())
			m.layout.SetMaintenance(m.collector.GetMaintenance())
			m.layout.SetEquipment(m.collector.GetEquipment())
			m.layout.SetAlerts(m.collector.GetAlerts())
		})

		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) togglePause() {
	m.paused = !m.paused
	m.poller.SetPaused(m.paused)
	if m.paused {
		m.layout.SetStatus("Paused", false)
	} else {
		m.layout.SetStatus("Resumed", false)
	}
}

func (m *Monitor) reload() {
	m.poller.Reload()
	m.layout.SetStatus("Reloading window...", false)
}

func (m *Monitor) toggleSeriesMode() {
	m.modes.SeriesMode = m.modes.SeriesMode.Next()
	m.poller.SetSeriesMode(m.modes.SeriesMode)
}

func (m *Monitor) toggleValueMode() {
	m.modes.ValueMode = m.modes.ValueMode.Next()
	m.poller.SetValueMode(m.modes.ValueMode)
}

func (m *Monitor) cycleWindow() {
	sizes := m.cfg.Window.Sizes
	next := sizes[0]
	for i, s := range sizes {
		if s == m.modes.MaxPoints {
			next = sizes[(i+1)%len(sizes)]
			break
		}
	}
	m.modes.MaxPoints = next
	m.poller.SetMaxPoints(next)
	m.layout.SetStatus(fmt.Sprintf("Window size %d", next), false)
}

func (m *Monitor) cycleRange() {
	next := config.Ranges[0]
	for i, r := range config.Ranges {
		if r == m.rangeName {
			next = config.Ranges[(i+1)%len(config.Ranges)]
			break
		}
	}
	m.rangeName = next
	m.poller.SetRange(next)
	m.layout.SetStatus(fmt.Sprintf("Loading range %s...", next), false)
}

func (m *Monitor) exportChart() {
	frame := m.frame
	m.layout.SetStatus("Exporting chart...", false)
	go func() {
		path, err := m.exporter.Export(frame)
		m.app.QueueUpdateDraw(func() {
			if err != nil {
				m.logger.WithError(err).Warn("Chart export failed")
				m.layout.SetStatus(fmt.Sprintf("Export failed: %v", err), true)
				return
			}
			m.logger.WithField("path", path).Info("Chart exported")
			m.layout.SetStatus("Exported "+path, false)
		})
	}()
}

// applyConfig handles a live config file edit
func (m *Monitor) applyConfig(cfg *config.Config) {
	m.app.QueueUpdateDraw(func() {
		m.cfg.Window.Sizes = cfg.Window.Sizes
		if cfg.Window.MaxPoints != m.modes.MaxPoints {
			m.modes.MaxPoints = cfg.Window.MaxPoints
			m.poller.SetMaxPoints(cfg.Window.MaxPoints)
		}
		if mode := view.SeriesMode(cfg.Window.SeriesMode); mode != m.modes.SeriesMode {
			m.modes.SeriesMode = mode
			m.poller.SetSeriesMode(mode)
		}
		if mode := view.ValueMode(cfg.Window.ValueMode); mode != m.modes.ValueMode {
			m.modes.ValueMode = mode
			m.poller.SetValueMode(mode)
		}
		m.layout.SetStatus("Configuration reloaded", false)
	})
}

func (m *Monitor) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":" + m.cfg.Metrics.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-m.ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	m.logger.WithField("addr", srv.Addr).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.WithError(err).Error("Metrics server failed")
	}
}

// Run starts the monitor and blocks until the UI exits
func (m *Monitor) Run() error {
	m.layout.Initialize()

	go func() {
		if err := m.poller.Run(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.WithError(err).Error("Poller stopped")
		}
	}()
	go m.refreshPanels()
	if m.cfg.Metrics.Port != "" {
		go m.serveMetrics()
	}

	return m.layout.Run()
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	m.cancel()
	m.app.Stop()
}

func newLogger(cfg *config.Config) (*logrus.Logger, *os.File, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(level)

	// The terminal belongs to the UI
	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(f)
	return logger, f, nil
}

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config/config.yaml or ./config.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Production Line Monitor")
		fmt.Fprintln(os.Stderr, "\nUsage: monitor [options]")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEvery setting can be overridden with %s_* environment variables,\n", config.EnvPrefix)
		fmt.Fprintln(os.Stderr, "e.g. MONITOR_API_BASE_URL or MONITOR_WINDOW_MAX_POINTS.")
		fmt.Fprintln(os.Stderr, "\nKeyboard shortcuts available when running (press F1 for help)")
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(versions.Get("monitor"))
		return
	}

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, logFile, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logFile.Close()

	logger.WithFields(logrus.Fields{
		"api":        cfg.API.BaseURL,
		"interval":   cfg.Poll.Interval,
		"max_points": cfg.Window.MaxPoints,
		"range":      cfg.Poll.Range,
		"version":    versions.Version,
	}).Info("Starting monitor")

	monitor, err := NewMonitor(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to start monitor")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	config.Watch(v, logger, monitor.applyConfig)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.WithField("signal", sig.String()).Info("Shutting down")
		monitor.Stop()
	}()

	if err := monitor.Run(); err != nil {
		logger.WithError(err).Error("Monitor exited with error")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Info("Monitor stopped")
}
