// Package collector fetches dashboard data from the query API
package collector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/metrics"
)

// ErrStatus is returned when the API answers with a non-2xx status.
var ErrStatus = errors.New("collector: unexpected status")

// Endpoint paths on the query API.
const (
	MetricsPath     = "/api/metrics"
	SummaryPath     = "/api/summary"
	EquipmentPath   = "/api/equipment"
	AlertsPath      = "/api/alerts"
	MaintenancePath = "/api/maintenance"
)

// Collector polls the query API. Fetch methods are safe for concurrent use;
// the last successful result of each side panel is cached for the UI.
type Collector struct {
	baseURL string
	timeout time.Duration
	client  *fasthttp.Client
	logger  *logrus.Entry

	mu          sync.RWMutex
	lastUpdate  time.Time
	summary     metrics.Summary
	equipment   []metrics.Equipment
	alerts      []metrics.Alert
	maintenance []metrics.MaintenanceRecord

	requests uint64
	failures uint64
}

// NewCollector creates a collector for the API rooted at baseURL.
func NewCollector(baseURL string, timeout time.Duration, logger *logrus.Logger) *Collector {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Collector{
		baseURL: baseURL,
		timeout: timeout,
		client: &fasthttp.Client{
			Name:                "production-monitor",
			MaxConnsPerHost:     16,
			MaxIdleConnDuration: 10 * time.Second,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
		},
		logger: logger.WithField("component", "collector"),
	}
}

// FetchMetrics polls /api/metrics for one range.
func (c *Collector) FetchMetrics(ctx context.Context, rangeName string, limit int) (metrics.Response, error) {
	q := url.Values{}
	q.Set("range", rangeName)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.get(ctx, MetricsPath, q)
	if err != nil {
		return metrics.Response{}, err
	}
	resp, dropped, err := ParseMetrics(body)
	if err != nil {
		return metrics.Response{}, err
	}
	if dropped > 0 {
		c.logger.WithFields(logrus.Fields{
			"range":   rangeName,
			"dropped": dropped,
		}).Debug("Dropped malformed samples")
	}
	return resp, nil
}

// FetchSummary polls /api/summary and caches the result.
func (c *Collector) FetchSummary(ctx context.Context) (metrics.Summary, error) {
	body, err := c.get(ctx, SummaryPath, nil)
	if err != nil {
		return metrics.Summary{}, err
	}
	s, err := ParseSummary(body)
	if err != nil {
		return metrics.Summary{}, err
	}
	s.FetchedAt = time.Now()

	c.mu.Lock()
	c.summary = s
	c.lastUpdate = s.FetchedAt
	c.mu.Unlock()
	return s, nil
}

// FetchEquipment polls /api/equipment and caches the result.
func (c *Collector) FetchEquipment(ctx context.Context) ([]metrics.Equipment, error) {
	body, err := c.get(ctx, EquipmentPath, nil)
	if err != nil {
		return nil, err
	}
	eq, err := ParseEquipment(body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.equipment = eq
	c.lastUpdate = time.Now()
	c.mu.Unlock()
	return eq, nil
}

// FetchAlerts polls /api/alerts for the last hours and caches the result.
func (c *Collector) FetchAlerts(ctx context.Context, hours int) ([]metrics.Alert, error) {
	q := url.Values{}
	q.Set("hours", strconv.Itoa(hours))
	body, err := c.get(ctx, AlertsPath, q)
	if err != nil {
		return nil, err
	}
	alerts, err := ParseAlerts(body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.alerts = alerts
	c.lastUpdate = time.Now()
	c.mu.Unlock()
	return alerts, nil
}

// FetchMaintenance polls /api/maintenance for the last hours and caches the result.
func (c *Collector) FetchMaintenance(ctx context.Context, hours int) ([]metrics.MaintenanceRecord, error) {
	q := url.Values{}
	q.Set("hours", strconv.Itoa(hours))
	body, err := c.get(ctx, MaintenancePath, q)
	if err != nil {
		return nil, err
	}
	records, err := ParseMaintenance(body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.maintenance = records
	c.lastUpdate = time.Now()
	c.mu.Unlock()
	return records, nil
}

// CollectPanels refreshes every side panel. Failures are logged and leave
// the previous value cached.
func (c *Collector) CollectPanels(ctx context.Context, alertHours, maintenanceHours int) {
	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				c.logger.WithError(err).WithField("panel", name).Warn("Panel refresh failed")
			}
		}()
	}
	run("summary", func() error { _, err := c.FetchSummary(ctx); return err })
	run("equipment", func() error { _, err := c.FetchEquipment(ctx); return err })
	run("alerts", func() error { _, err := c.FetchAlerts(ctx, alertHours); return err })
	run("maintenance", func() error { _, err := c.FetchMaintenance(ctx, maintenanceHours); return err })
	wg.Wait()
}

// GetSummary returns the cached summary.
func (c *Collector) GetSummary() metrics.Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summary
}

// GetEquipment returns the cached equipment list.
func (c *Collector) GetEquipment() []metrics.Equipment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]metrics.Equipment, len(c.equipment))
	copy(out, c.equipment)
	return out
}

// GetAlerts returns the cached alerts.
func (c *Collector) GetAlerts() []metrics.Alert {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]metrics.Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// GetMaintenance returns the cached maintenance records.
func (c *Collector) GetMaintenance() []metrics.MaintenanceRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]metrics.MaintenanceRecord, len(c.maintenance))
	copy(out, c.maintenance)
	return out
}

// LastUpdate returns when a side panel was last refreshed.
func (c *Collector) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Stats returns request and failure counts.
func (c *Collector) Stats() (requests, failures uint64) {
	return atomic.LoadUint64(&c.requests), atomic.LoadUint64(&c.failures)
}

func (c *Collector) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	atomic.AddUint64(&c.requests, 1)
	if err := ctx.Err(); err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, err
	}

	uri := c.baseURL + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Cache-Control", "no-store")

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	err := c.client.DoDeadline(req, resp, deadline)
	if err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	// a cancelled poll is dropped even if the response made it back
	if err := ctx.Err(); err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		atomic.AddUint64(&c.failures, 1)
		return nil, fmt.Errorf("%w: GET %s returned %d", ErrStatus, path, code)
	}

	c.logger.WithFields(logrus.Fields{
		"path":    path,
		"latency": time.Since(start),
		"bytes":   len(resp.Body()),
	}).Trace("Fetched")

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}
