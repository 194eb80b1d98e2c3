package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/asyncarush/makemates-sub000/pkg/config"
)

// FanoutConfig controls the notification fan-out pipeline.
type FanoutConfig struct {
	BatchSize int    `yaml:"batch_size"` // max recipients per job, default 50
	JobName   string `yaml:"job_name"`
}

// RealtimeConfig controls the presence/reconciliation layer.
type RealtimeConfig struct {
	ReconcileIntervalSeconds int `yaml:"reconcile_interval_seconds"` // default 30
}

// WorkerConfig controls the notification worker pool.
type WorkerConfig struct {
	Count      int `yaml:"count"`       // parallel consumers, default 4
	MaxRetries int `yaml:"max_retries"` // redeliveries before DLQ, default 5
}

// DedupConfig controls job idempotency bookkeeping.
type DedupConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"` // default 3600
}

type Config struct {
	Server   config.ServerConfig `yaml:"server"`
	DB       config.DBConfig     `yaml:"db"`
	MQ       config.MQConfig     `yaml:"mq"`
	Redis    config.RedisConfig  `yaml:"redis"`
	JWT      config.JWTConfig    `yaml:"jwt"`
	Fanout   FanoutConfig        `yaml:"fanout"`
	Realtime RealtimeConfig      `yaml:"realtime"`
	Worker   WorkerConfig        `yaml:"worker"`
	Dedup    DedupConfig         `yaml:"dedup"`
}

// Load reads the layered YAML configuration and applies environment
// overrides and defaults.
func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var cfg Config
	cfgData, err := yaml.Marshal(cfgMap)
	if err != nil {
		log.Fatalf("failed to marshal config: %v", err)
	}
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	overrideFromEnv(&cfg)

	applyDefaults(&cfg)

	return &cfg
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("FANOUT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fanout.BatchSize = n
		}
	}
	if v := os.Getenv("RECONCILE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Realtime.ReconcileIntervalSeconds = n
		}
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Count = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Fanout.BatchSize <= 0 {
		cfg.Fanout.BatchSize = 50
	}
	if cfg.Fanout.JobName == "" {
		cfg.Fanout.JobName = "newpost"
	}
	if cfg.Realtime.ReconcileIntervalSeconds <= 0 {
		cfg.Realtime.ReconcileIntervalSeconds = 30
	}
	if cfg.Worker.Count <= 0 {
		cfg.Worker.Count = 4
	}
	if cfg.Worker.MaxRetries <= 0 {
		cfg.Worker.MaxRetries = 5
	}
	if cfg.Dedup.TTLSeconds <= 0 {
		cfg.Dedup.TTLSeconds = 3600
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
}
