// Package server exposes the production data over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/audit"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/cache"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/events"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/planner"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/series"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// Options tunes the event endpoints.
type Options struct {
	Version          string
	AlertHours       int
	MaintenanceHours int
	MaxHours         int
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	store   *store.Store
	cache   *cache.QueryCache
	planner *planner.QueryPlanner
	auditor *audit.Auditor
	opts    Options
	logger  *logrus.Entry
	router  *mux.Router
	now     func() time.Time

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	gatherer prometheus.Gatherer
}

// New builds the router. reg receives the request metrics and backs /metrics.
func New(st *store.Store, qc *cache.QueryCache, qp *planner.QueryPlanner, opts Options, reg *prometheus.Registry, logger *logrus.Logger) *Server {
	if opts.AlertHours <= 0 {
		opts.AlertHours = 12
	}
	if opts.MaintenanceHours <= 0 {
		opts.MaintenanceHours = 24
	}
	if opts.MaxHours <= 0 {
		opts.MaxHours = 168
	}
	s := &Server{
		store:   st,
		cache:   qc,
		planner: qp,
		auditor: audit.NewAuditor(st, logger),
		opts:    opts,
		logger:  logger.WithField("component", "http"),
		router:  mux.NewRouter(),
		now:     time.Now,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "query_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "query_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route"}),
		gatherer: reg,
	}
	reg.MustRegister(s.requests, s.latency)
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.summaryHandler).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.metricsHandler).Methods(http.MethodGet)

	api.HandleFunc("/equipment", s.listEquipment).Methods(http.MethodGet)
	api.HandleFunc("/equipment", s.createEquipment).Methods(http.MethodPost)
	api.HandleFunc("/equipment/{id}", s.updateEquipment).Methods(http.MethodPut)
	api.HandleFunc("/equipment/{id}", s.deleteEquipment).Methods(http.MethodDelete)

	api.HandleFunc("/alerts", s.alertsHandler).Methods(http.MethodGet)
	api.HandleFunc("/maintenance", s.maintenanceHandler).Methods(http.MethodGet)
	api.HandleFunc("/audit", s.auditHandler).Methods(http.MethodGet)

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.auditor.Middleware)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		s.requests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		s.latency.WithLabelValues(route).Observe(elapsed.Seconds())
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sw.status,
			"duration": elapsed,
		}).Debug("Request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// intParam parses an optional positive integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "version": s.opts.Version})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Summary is the /api/summary body.
type Summary struct {
	DailyProduction int64   `json:"dailyProduction"`
	Efficiency      float64 `json:"efficiency"`
	Status          string  `json:"status"`
	ActiveEquipment int     `json:"activeEquipment"`
	TotalEquipment  int     `json:"totalEquipment"`
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sum := Summary{Status: "N/A"}

	latest, err := s.store.LatestMetric(ctx)
	switch {
	case err == nil:
		sum.Efficiency = latest.Efficiency
		sum.Status = latest.Status
	case !errors.Is(err, store.ErrNotFound):
		s.internalError(w, r, err)
		return
	}

	if sum.DailyProduction, err = s.store.DailyProduction(ctx, startOfDay(s.now())); err != nil {
		s.internalError(w, r, err)
		return
	}
	if sum.TotalEquipment, sum.ActiveEquipment, err = s.store.CountEquipment(ctx); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	plan, err := s.planner.Plan(r.URL.Query().Get("range"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	key := s.cache.GenerateKey(plan.CacheKey())
	var resp series.Response
	if s.cache.Get(ctx, key, &resp) {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, resp)
		return
	}

	start := time.Now()
	rows, err := s.store.RecentBatches(ctx, plan.Since, plan.Batches)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if plan.Resolution > 0 {
		rows = series.Downsample(rows, plan.Resolution)
	}
	resp = series.Build(plan.Range, rows)
	s.cache.Set(ctx, key, resp, plan.TTL)

	w.Header().Set("X-Cache", "MISS")
	w.Header().Set("X-Query-Time", time.Since(start).String())
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listEquipment(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListEquipment(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type equipmentRequest struct {
	EquipmentID string `json:"equipment_id"`
}

func decodeEquipment(r *http.Request) (string, error) {
	var req equipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", err
	}
	return req.EquipmentID, nil
}

func equipmentRowID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// invalidate drops cached responses after an equipment write.
func (s *Server) invalidate(r *http.Request) {
	if err := s.cache.Clear(r.Context()); err != nil {
		s.logger.WithError(err).Warn("Failed to clear query cache")
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidEquipment):
		http.Error(w, "equipment_id required", http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "equipment not found", http.StatusNotFound)
	default:
		s.internalError(w, r, err)
	}
}

func (s *Server) createEquipment(w http.ResponseWriter, r *http.Request) {
	equipmentID, err := decodeEquipment(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, err := s.store.CreateEquipment(r.Context(), equipmentID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.invalidate(r)
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) updateEquipment(w http.ResponseWriter, r *http.Request) {
	id, err := equipmentRowID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	equipmentID, err := decodeEquipment(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, err := s.store.UpdateEquipment(r.Context(), id, equipmentID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.invalidate(r)
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) deleteEquipment(w http.ResponseWriter, r *http.Request) {
	id, err := equipmentRowID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.store.DeleteEquipment(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.invalidate(r)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// history loads the rows of the last ?hours= hours.
func (s *Server) history(w http.ResponseWriter, r *http.Request, def int) ([]store.Metric, bool) {
	hours, err := intParam(r, "hours", def)
	if err != nil || hours == 0 || hours > s.opts.MaxHours {
		http.Error(w, "hours must be between 1 and "+strconv.Itoa(s.opts.MaxHours), http.StatusBadRequest)
		return nil, false
	}
	rows, err := s.store.MetricsSince(r.Context(), s.now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		s.internalError(w, r, err)
		return nil, false
	}
	return rows, true
}

func (s *Server) alertsHandler(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.history(w, r, s.opts.AlertHours)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events.Alerts(rows)})
}

func (s *Server) maintenanceHandler(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.history(w, r, s.opts.MaintenanceHours)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": events.Maintenance(rows, s.now())})
}

func (s *Server) auditHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultAuditLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch {
	case limit == 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	entries, err := s.store.ListAudits(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
