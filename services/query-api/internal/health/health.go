// Package health serves grpc.health.v1 and keeps its status in step with
// the database.
package health

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service is the name reported for the query API.
const Service = "query-api"

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker owns the gRPC server and the health state.
type Checker struct {
	server   *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	logger   *logrus.Entry
}

// NewChecker registers the health and reflection services on a new gRPC
// server.
func NewChecker(pinger Pinger, interval time.Duration, logger *logrus.Logger) *Checker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	c := &Checker{
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		pinger:   pinger,
		interval: interval,
		logger:   logger.WithField("component", "health"),
	}
	healthpb.RegisterHealthServer(c.server, c.health)
	reflection.Register(c.server)
	c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return c
}

func (c *Checker) set(status healthpb.HealthCheckResponse_ServingStatus) {
	c.health.SetServingStatus("", status)
	c.health.SetServingStatus(Service, status)
}

// Check pings once and updates the status.
func (c *Checker) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()
	if err := c.pinger.Ping(ctx); err != nil {
		c.logger.WithError(err).Warn("Database not reachable")
		c.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	c.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch re-checks until ctx is done.
func (c *Checker) Watch(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Serve blocks serving gRPC on lis.
func (c *Checker) Serve(lis net.Listener) error {
	c.logger.WithField("addr", lis.Addr().String()).Info("gRPC health server listening")
	return c.server.Serve(lis)
}

// Stop marks the service down and stops the server.
func (c *Checker) Stop() {
	c.health.Shutdown()
	c.server.GracefulStop()
}
