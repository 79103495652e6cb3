// Package config holds runtime settings for the engine. Values are loaded
// from defaults, then a JSON file (if present), then command-line flags;
// later sources take precedence.
package config

import "time"

// Config holds every tunable of the engine.
type Config struct {
	// DatabasePath is the sqlite file backing the local store.
	DatabasePath string

	// QuotaBytes is the assumed local storage quota used by the file-size
	// estimator.
	QuotaBytes int64

	// Codec thresholds, in bytes.
	ChunkThresholdBytes int
	ChunkSizeBytes      int

	// Tier age boundaries, in days.
	HotDays  int
	WarmDays int

	// Storage-pressure thresholds, in megabytes.
	WarningThresholdMB  int64
	CriticalThresholdMB int64

	// WarmEvictBatch is how many warm records lose blobs per critical pass.
	WarmEvictBatch int

	// RetentionDays is the trash window for soft-deleted records.
	RetentionDays int

	// Outbox settings.
	MaxRetries    int
	DrainInterval time.Duration

	// MaintenanceInterval is the period of the retier/pressure/purge loop.
	MaintenanceInterval time.Duration

	// LegacyImportPath, when set, names a JSON export of a pre-engine flat
	// store to feed through the save path on startup. One-shot, flag-only.
	LegacyImportPath string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "notesync.db"
	c.QuotaBytes = 2 << 30
	c.ChunkThresholdBytes = 50 << 10
	c.ChunkSizeBytes = 40 << 10
	c.HotDays = 7
	c.WarmDays = 30
	c.WarningThresholdMB = 512
	c.CriticalThresholdMB = 1024
	c.WarmEvictBatch = 10
	c.RetentionDays = 60
	c.MaxRetries = 5
	c.DrainInterval = 30 * time.Second
	c.MaintenanceInterval = 15 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags. Later sources win.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
