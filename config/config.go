package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// SchedulerConfig holds the machine pool and the timing knobs of the
// scheduling engine.
type SchedulerConfig struct {
	MachineCount        int           `yaml:"machine_count"`
	MachineNames        []string      `yaml:"machine_names"`
	TickIntervalSeconds int           `yaml:"tick_interval_seconds"`
	TickInterval        time.Duration `yaml:"-"` // Ignored by YAML parser
	LeadWindowSeconds   int           `yaml:"lead_window_seconds"`
	LeadWindow          time.Duration `yaml:"-"`
	Timezone            string        `yaml:"timezone"`
}

// Names returns the display name of every machine, generating
// "Machine N" entries when none are configured explicitly.
func (s *SchedulerConfig) Names() []string {
	if len(s.MachineNames) > 0 {
		return s.MachineNames
	}
	names := make([]string, s.MachineCount)
	for i := range names {
		names[i] = fmt.Sprintf("Machine %d", i+1)
	}
	return names
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Scheduler.MachineCount <= 0 && len(cfg.Scheduler.MachineNames) == 0 {
		cfg.Scheduler.MachineCount = 5
	}

	if cfg.Scheduler.TickIntervalSeconds <= 0 {
		cfg.Scheduler.TickIntervalSeconds = 1
	}
	cfg.Scheduler.TickInterval = time.Duration(cfg.Scheduler.TickIntervalSeconds) * time.Second

	if cfg.Scheduler.LeadWindowSeconds <= 0 {
		cfg.Scheduler.LeadWindowSeconds = 120
	}
	cfg.Scheduler.LeadWindow = time.Duration(cfg.Scheduler.LeadWindowSeconds) * time.Second

	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "UTC"
	}

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
