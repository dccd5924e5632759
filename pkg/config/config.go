// Package config provides configuration management for the reclamation engine.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Database DatabaseConfig `mapstructure:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Log      LogConfig      `mapstructure:"log"`
}

// EngineConfig holds collector and mutator-facing configuration.
type EngineConfig struct {
	// QueueCapacity is the number of retired pointers each thread can
	// buffer before a synchronous hand-off to the collector.
	QueueCapacity int `mapstructure:"queue_capacity"`

	// CheckpointSignal is the signal number used to drive registered
	// threads to the quiescence checkpoint.
	CheckpointSignal int `mapstructure:"checkpoint_signal"`

	// PageSize overrides the system page size (0 = use os.Getpagesize).
	PageSize int `mapstructure:"page_size"`
}

// SweepConfig holds reference-count sweep configuration.
type SweepConfig struct {
	// MaxWorkers caps the number of parallel sweep workers.
	MaxWorkers int `mapstructure:"max_workers"`

	// AddrsPerWorker is the approximate range size handed to each worker.
	AddrsPerWorker int `mapstructure:"addrs_per_worker"`

	// UnrefDepth bounds recursion of the unreference cascade.
	UnrefDepth int `mapstructure:"unref_depth"`
}

// DatabaseConfig holds cycle-history database configuration.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"` // for sqlite
	MaxConns int    `mapstructure:"max_conns"`
}

// ArchiveConfig holds cycle-report archive configuration.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	LocalPath string `mapstructure:"local_path"` // for local archive
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/forkscan")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Allow environment variables to override config
	v.SetEnvPrefix("FORKSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.queue_capacity", 1024)
	// SIGPWR by default; rarely used by applications and safe to repurpose.
	v.SetDefault("engine.checkpoint_signal", 30)
	v.SetDefault("engine.page_size", 0)

	// Sweep defaults
	v.SetDefault("sweep.max_workers", 80)
	v.SetDefault("sweep.addrs_per_worker", 128*1024)
	v.SetDefault("sweep.unref_depth", 30)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./forkscan.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_conns", 10)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.type", "local")
	v.SetDefault("archive.local_path", "./reports")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be at least 1")
	}
	if c.Engine.CheckpointSignal < 1 || c.Engine.CheckpointSignal > 64 {
		return fmt.Errorf("checkpoint signal must be a valid signal number")
	}

	if c.Sweep.MaxWorkers < 1 {
		return fmt.Errorf("sweep worker count must be at least 1")
	}
	if c.Sweep.UnrefDepth < 0 {
		return fmt.Errorf("unref depth must not be negative")
	}

	if c.Database.Enabled {
		switch c.Database.Type {
		case "sqlite":
			if c.Database.Path == "" {
				return fmt.Errorf("sqlite database path is required")
			}
		case "postgres", "mysql":
			if c.Database.Host == "" {
				return fmt.Errorf("database host is required")
			}
		default:
			return fmt.Errorf("unsupported database type: %s", c.Database.Type)
		}
	}

	return nil
}
