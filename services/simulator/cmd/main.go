package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/simulator/internal/producer"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/simulator/internal/profile"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/simulator/internal/sim"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/reading"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/versions"
)

const serviceName = "simulator"

type Config struct {
	Kafka   producer.Options `mapstructure:"kafka"`
	Profile string           `mapstructure:"profile"`
	Log     struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func loadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", reading.Topic)
	v.SetDefault("kafka.write_timeout", "10s")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.breaker_threshold", 3)
	v.SetDefault("kafka.breaker_cooldown", "30s")
	v.SetDefault("profile", "")
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("SIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("simulator")
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
	// SIM_KAFKA_BROKERS arrives as one comma separated string
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
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

	line := profile.Default()
	if cfg.Profile != "" {
		if line, err = profile.Load(cfg.Profile); err != nil {
			log.Fatalf("Failed to load profile: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	simulator := sim.New(line)
	kafkaProducer := producer.New(cfg.Kafka, log.StandardLogger())
	defer kafkaProducer.Close()

	log.WithFields(log.Fields{
		"equipment": line.Equipment,
		"tick":      line.Tick,
	}).Info("Simulator started")

	ticker := time.NewTicker(line.Tick)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	tick := func(now time.Time) {
		readings := simulator.Step(now)
		if err := kafkaProducer.Publish(ctx, readings); err != nil {
			log.WithError(err).Error("Failed to publish readings")
			return
		}
		fields := log.Fields{}
		for _, r := range readings {
			fields[r.EquipmentID] = fmt.Sprintf("%s +%d eff=%.2f", r.Status, r.Produced, r.Efficiency)
		}
		log.WithFields(fields).Info("Tick")
	}

	tick(time.Now())
	for {
		select {
		case <-quit:
			log.Info("Simulator stopping")
			return
		case now := <-ticker.C:
			tick(now)
		}
	}
}
