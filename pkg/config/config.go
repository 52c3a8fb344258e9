package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for topos-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the database password) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Pipeline worker and job scheduling configuration
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Exposure scoring policy
	Scoring ScoringConfig `yaml:"scoring"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"topos"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"topos_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// PipelineConfig holds worker-pool and job-queue settings. Components take
// this struct in their constructors rather than reading ambient globals so
// tests can drive them with explicit parameters.
type PipelineConfig struct {
	// Workers is the number of concurrent claim→process→complete loops.
	Workers int `yaml:"workers" env:"PIPELINE_WORKERS" env-default:"4"`
	// PollInterval is how long an idle worker sleeps between claim attempts.
	PollInterval time.Duration `yaml:"poll_interval" env:"PIPELINE_POLL_INTERVAL" env-default:"2s"`
	// LeaseTimeout bounds how long a claimed job may stay IN_PROGRESS before
	// the sweeper reclaims it as a failed attempt.
	LeaseTimeout time.Duration `yaml:"lease_timeout" env:"PIPELINE_LEASE_TIMEOUT" env-default:"5m"`
	// SweepInterval is how often the lease sweeper runs.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"PIPELINE_SWEEP_INTERVAL" env-default:"30s"`
	// MaxAttempts is the retry budget before a job is dead-lettered.
	MaxAttempts int `yaml:"max_attempts" env:"PIPELINE_MAX_ATTEMPTS" env-default:"5"`

	// ChunkSize is the maximum characters per chunk.
	ChunkSize int `yaml:"chunk_size" env:"PIPELINE_CHUNK_SIZE" env-default:"1000"`
	// ChunkOverlap is the number of characters shared between adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap" env:"PIPELINE_CHUNK_OVERLAP" env-default:"200"`
}

// ScoringConfig holds the exposure scoring policy. All thresholds are
// tunable; the defaults are the shipped policy, not hidden constants.
type ScoringConfig struct {
	// MediumThreshold and HighThreshold band the 0-100 score into levels:
	// score < MediumThreshold → LOW, < HighThreshold → MEDIUM, else HIGH.
	MediumThreshold int `yaml:"medium_threshold" env:"SCORING_MEDIUM_THRESHOLD" env-default:"34"`
	HighThreshold   int `yaml:"high_threshold" env:"SCORING_HIGH_THRESHOLD" env-default:"67"`
	// BroadGroupSize is the transitive member count at which a group is
	// regarded as "broad" (e.g. an org-wide group).
	BroadGroupSize int `yaml:"broad_group_size" env:"SCORING_BROAD_GROUP_SIZE" env-default:"50"`
	// MaxBroadGroupNames caps how many broad group names the access summary lists.
	MaxBroadGroupNames int `yaml:"max_broad_group_names" env:"SCORING_MAX_BROAD_GROUP_NAMES" env-default:"3"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. When config.yaml does not exist, configuration comes from
// environment variables and defaults alone.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("pipeline.chunk_overlap (%d) must be smaller than pipeline.chunk_size (%d)",
			c.Pipeline.ChunkOverlap, c.Pipeline.ChunkSize)
	}
	if c.Scoring.MediumThreshold >= c.Scoring.HighThreshold {
		return fmt.Errorf("scoring.medium_threshold (%d) must be below scoring.high_threshold (%d)",
			c.Scoring.MediumThreshold, c.Scoring.HighThreshold)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
