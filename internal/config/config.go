// Package config loads the ferroci application settings from ferroci.yaml
// and FERROCI_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"ferroci/internal/logging"
)

// DefaultFile is read when no config path is given. It is optional.
const DefaultFile = "ferroci.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FERROCI_"

type Server struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	MaxParallel  int           `yaml:"max_parallel"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LogsDir      string        `yaml:"logs_dir"`
	LedgerPath   string        `yaml:"ledger_path"`
	KeysDir      string        `yaml:"keys_dir"`
	StreamOutput bool          `yaml:"stream_output"`
	Server       Server        `yaml:"server"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		LogLevel:     "info",
		LogFormat:    logging.FormatAuto,
		LogsDir:      ".ferroci/logs",
		LedgerPath:   ".ferroci/ledger.jsonl",
		KeysDir:      ".ferroci/keys",
		StreamOutput: true,
		Server:       Server{Addr: ":8080"},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// An empty path means DefaultFile, which may be missing; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(data); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("config: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from FERROCI_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LOG_LEVEL":   &c.LogLevel,
		"LOG_FORMAT":  &c.LogFormat,
		"LOGS_DIR":    &c.LogsDir,
		"LEDGER_PATH": &c.LedgerPath,
		"KEYS_DIR":    &c.KeysDir,
		"SERVER_ADDR": &c.Server.Addr,
	}
	for name, field := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*field = v
		}
	}

	if v, ok := lookup(EnvPrefix + "MAX_PARALLEL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sMAX_PARALLEL: %w", EnvPrefix, err)
		}
		c.MaxParallel = n
	}
	if v, ok := lookup(EnvPrefix + "POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %sPOLL_INTERVAL: %w", EnvPrefix, err)
		}
		c.PollInterval = d
	}
	if v, ok := lookup(EnvPrefix + "STREAM_OUTPUT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sSTREAM_OUTPUT: %w", EnvPrefix, err)
		}
		c.StreamOutput = b
	}
	return nil
}

// Validate rejects values no component can use.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.LogFormat {
	case logging.FormatText, logging.FormatJSON, logging.FormatAuto, "":
	default:
		return fmt.Errorf("config: invalid log format %q: must be text, json or auto", c.LogFormat)
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("config: max_parallel must not be negative, got %d", c.MaxParallel)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("config: poll_interval must not be negative, got %s", c.PollInterval)
	}
	return nil
}
