package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.smsd/config.toml.
type Config struct {
	DefaultProfile string       `toml:"default_profile"`
	OwnNumbers     []string     `toml:"own_numbers"`
	Ingest         IngestConfig `toml:"ingest"`
	Send           SendConfig   `toml:"send"`
}

// IngestConfig holds inbound-path tuning knobs. The dedup window and scan
// depth are product tuning values, not correctness requirements, so they
// live here instead of being hardcoded.
type IngestConfig struct {
	DedupWindowSeconds int `toml:"dedup_window_seconds"`
	DedupScanLimit     int `toml:"dedup_scan_limit"`
	SnippetLength      int `toml:"snippet_length"`
}

// SendConfig holds outbound-path tuning knobs.
type SendConfig struct {
	AutoRetry          bool `toml:"auto_retry"`
	MaxAttempts        int  `toml:"max_attempts"`
	ReportFallbackScan int  `toml:"report_fallback_scan"`
	PollIntervalMillis int  `toml:"poll_interval_millis"`
}

// Default returns a config with all tuning knobs at their default values.
func Default() *Config {
	return &Config{
		Ingest: IngestConfig{
			DedupWindowSeconds: 600,
			DedupScanLimit:     10,
			SnippetLength:      100,
		},
		Send: SendConfig{
			AutoRetry:          false,
			MaxAttempts:        3,
			ReportFallbackScan: 10,
			PollIntervalMillis: 500,
		},
	}
}

// Load reads config from the given path, applying defaults for unset
// values. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// DedupWindow returns the dedup window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Ingest.DedupWindowSeconds) * time.Second
}

// PollInterval returns the outbox poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Send.PollIntervalMillis) * time.Millisecond
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Ingest.DedupWindowSeconds <= 0 {
		c.Ingest.DedupWindowSeconds = def.Ingest.DedupWindowSeconds
	}
	if c.Ingest.DedupScanLimit <= 0 {
		c.Ingest.DedupScanLimit = def.Ingest.DedupScanLimit
	}
	if c.Ingest.SnippetLength <= 0 {
		c.Ingest.SnippetLength = def.Ingest.SnippetLength
	}
	if c.Send.MaxAttempts <= 0 {
		c.Send.MaxAttempts = def.Send.MaxAttempts
	}
	if c.Send.ReportFallbackScan <= 0 {
		c.Send.ReportFallbackScan = def.Send.ReportFallbackScan
	}
	if c.Send.PollIntervalMillis <= 0 {
		c.Send.PollIntervalMillis = def.Send.PollIntervalMillis
	}
}
