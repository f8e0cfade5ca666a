package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/cache"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/config"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/health"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/planner"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/server"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/versions"
)

const serviceName = "query-api"

func main() {
	configPath := flag.String("config", "", "path to the config file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	info := versions.Get(serviceName)
	if *showVersion {
		fmt.Print(info.String())
		return
	}

	log.SetFormatter(&log.JSONFormatter{})
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	level, _ := log.ParseLevel(cfg.Log.Level)
	log.SetLevel(level)
	logger := log.StandardLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	queryCache := cache.NewQueryCache(ctx, cfg.Cache, logger)
	defer queryCache.Close()
	queryPlanner := planner.NewQueryPlanner(cfg.Planner)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srv := server.New(st, queryCache, queryPlanner, server.Options{
		Version:          info.Version,
		AlertHours:       cfg.Events.AlertHours,
		MaintenanceHours: cfg.Events.MaintenanceHours,
		MaxHours:         cfg.Events.MaxHours,
	}, reg, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.HTTPPort,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{
			"port":    cfg.Server.HTTPPort,
			"driver":  cfg.Database.Driver,
			"version": info.Version,
		}).Info("Query API starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	var checker *health.Checker
	if cfg.Server.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			log.Fatalf("Failed to listen on gRPC port: %v", err)
		}
		checker = health.NewChecker(st, cfg.Server.HealthInterval, logger)
		go checker.Watch(ctx)
		go func() {
			log.Infof("gRPC health service listening on port %s", cfg.Server.GRPCPort)
			if err := checker.Serve(lis); err != nil {
				log.Errorf("gRPC server stopped: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Query API...")
	cancel()
	if checker != nil {
		checker.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Query API exited")
}
