package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/stream-ingester/internal/consumer"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/stream-ingester/internal/pipeline"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/stream-ingester/internal/processor"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/stream-ingester/internal/writer"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/reading"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/versions"
)

const serviceName = "stream-ingester"

type Config struct {
	Kafka    consumer.Options `mapstructure:"kafka"`
	Database store.Config     `mapstructure:"database"`
	Pipeline pipeline.Options `mapstructure:"pipeline"`
	Dedup    struct {
		Window          time.Duration `mapstructure:"window"`
		CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	} `mapstructure:"dedup"`
	Metrics struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func loadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", serviceName)
	v.SetDefault("kafka.topic", reading.Topic)
	v.SetDefault("kafka.buffer", 1000)
	v.SetDefault("database.driver", store.DriverSQLite)
	v.SetDefault("database.dsn", "file:database.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("pipeline.batch_size", 100)
	v.SetDefault("pipeline.flush_interval", "1s")
	v.SetDefault("pipeline.retry_backoff", "2s")
	v.SetDefault("dedup.window", "24h")
	v.SetDefault("dedup.cleanup_interval", "5m")
	v.SetDefault("metrics.port", "9102")
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ingester")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka.brokers is required")
	}
	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to the config file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Print(versions.Get(serviceName).String())
		return
	}

	log.SetFormatter(&log.JSONFormatter{})
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}
	logger := log.StandardLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	kafkaConsumer := consumer.NewKafkaConsumer(cfg.Kafka, logger)
	eventProcessor := processor.NewEventProcessor(cfg.Dedup.Window, logger)
	storeWriter := writer.NewStoreWriter(st, logger)
	ingest := pipeline.New(kafkaConsumer, eventProcessor, storeWriter, cfg.Pipeline, reg, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		eventProcessor.CleanupLoop(ctx, cfg.Dedup.CleanupInterval)
	}()
	go func() {
		defer wg.Done()
		ingest.Run(ctx)
	}()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.Metrics.Port,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()

	log.WithFields(log.Fields{
		"topic":   cfg.Kafka.Topic,
		"driver":  cfg.Database.Driver,
		"metrics": cfg.Metrics.Port,
	}).Info("Stream ingester started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down stream ingester...")
	cancel()
	wg.Wait()
	kafkaConsumer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)

	log.WithFields(log.Fields{
		"consumer":  kafkaConsumer.Stats(),
		"processor": eventProcessor.GetStats(),
		"writer":    storeWriter.GetStats(),
	}).Info("Stream ingester exited")
}
