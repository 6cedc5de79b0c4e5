// Package config loads this core's own ambient configuration: block-
// incremental writer tunables, the verify engine's worker pool and retry
// schedule, and the repository location. It does not parse an outer
// stanza/repo option grammar — that belongs to a caller's own CLI layer.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (COREBACKUP_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// When no configuration file is found, Load returns GetDefaultConfig()
// and reads no environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pgbackup/corebackup/internal/bytesize"
	"github.com/pgbackup/corebackup/pkg/blockwriter"
	"github.com/pgbackup/corebackup/pkg/blocksize"
)

// Config is this core's ambient configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls Prometheus metrics collection.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Repository locates the backup repository this core reads and writes.
	Repository RepositoryConfig `mapstructure:"repository" validate:"required" yaml:"repository"`

	// Cluster describes the PostgreSQL cluster whose WAL segment naming
	// and archive layout this core has to match.
	Cluster ClusterConfig `mapstructure:"cluster" yaml:"cluster"`

	// BlockIncremental configures the block-incremental writer (pkg/blockwriter).
	BlockIncremental BlockIncrementalConfig `mapstructure:"block_incremental" yaml:"block_incremental"`

	// Verify configures the verify engine's worker pool and retry schedule.
	Verify VerifyConfig `mapstructure:"verify" yaml:"verify"`
}

// LoggingConfig controls logging behavior, mirroring internal/logger.Config.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false, pkg/metrics constructors return nil (zero overhead).
// No metrics HTTP server is started in this module; Port is validated and
// defaulted but not otherwise used.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// RepositoryConfig locates the backup repository.
type RepositoryConfig struct {
	// Path is the filesystem root a pkg/repo.PosixStore is rooted at.
	// Non-POSIX drivers are wired by the caller and ignore this field.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// ClusterConfig describes the PostgreSQL cluster this core backs up.
type ClusterConfig struct {
	// WALSegmentSize is the WAL segment size in bytes, usually the
	// cluster's compiled-in default of 16MiB.
	WALSegmentSize uint64 `mapstructure:"wal_segment_size" validate:"omitempty,min=1" yaml:"wal_segment_size"`

	// PGVersion is the cluster's numeric version (e.g. 150000 for 15.0),
	// used by pkg/walrange to select pre-/post-9.3 WAL naming rules.
	PGVersion int `mapstructure:"pg_version" validate:"omitempty,min=0" yaml:"pg_version"`
}

// BlockIncrementalConfig configures the block-incremental writer.
type BlockIncrementalConfig struct {
	// BlockSize is the fixed block size the delta planner and writer
	// split files into. Must fall within pkg/blocksize's supported range.
	// Accepts human-readable sizes ("256Ki", "1Mi") as well as a plain
	// byte count.
	BlockSize bytesize.ByteSize `mapstructure:"block_size" validate:"omitempty,min=65536,max=16777216" yaml:"block_size"`

	// TargetSuperBlockSize is the plaintext accumulator threshold a new
	// super-block flushes at.
	TargetSuperBlockSize bytesize.ByteSize `mapstructure:"target_super_block_size" validate:"omitempty,min=1" yaml:"target_super_block_size"`
}

// VerifyConfig configures the verify engine's local worker pool.
type VerifyConfig struct {
	// Workers is the size of the in-process worker pool (pkg/verify/localpool).
	Workers int `mapstructure:"workers" validate:"omitempty,min=1" yaml:"workers"`

	// RetrySchedule is the sleep-interval list a job is retried against
	// before being reported as a non-transient failure.
	RetrySchedule []time.Duration `mapstructure:"retry_schedule" yaml:"retry_schedule"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// SaveConfig saves the configuration to path in YAML, respecting yaml tags.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Cluster.WALSegmentSize == 0 {
		cfg.Cluster.WALSegmentSize = 16 * 1024 * 1024
	}
	if cfg.BlockIncremental.BlockSize == 0 {
		cfg.BlockIncremental.BlockSize = bytesize.ByteSize(blocksize.Default)
	}
	if cfg.BlockIncremental.TargetSuperBlockSize == 0 {
		cfg.BlockIncremental.TargetSuperBlockSize = bytesize.ByteSize(blockwriter.DefaultTargetSuperBlockSize)
	}
	if cfg.Verify.Workers == 0 {
		cfg.Verify.Workers = 8
	}
}

// GetDefaultConfig returns a Config with all defaults applied and no
// repository path set; callers loading from an empty environment must
// still supply Repository.Path before Validate passes.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Validate runs struct-tag validation via go-playground/validator.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("COREBACKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook lets config files use human-readable retry intervals
// like "30s", "1m" for VerifyConfig.RetrySchedule entries.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// byteSizeDecodeHook lets config files use human-readable sizes like
// "256Ki" or "4Mi" for BlockIncrementalConfig's byte-size fields.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "corebackup")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "corebackup")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
