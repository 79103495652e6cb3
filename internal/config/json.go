package config

import (
	"encoding/json"
	"os"
	"time"
)

// jsonConfig is a DTO used exclusively for JSON unmarshalling. Durations are
// given in seconds so the file stays plain numbers. Zero-valued fields leave
// the defaults untouched.
type jsonConfig struct {
	DatabasePath        string `json:"database_path"`
	QuotaBytes          int64  `json:"quota_bytes"`
	ChunkThresholdBytes int    `json:"chunk_threshold_bytes"`
	ChunkSizeBytes      int    `json:"chunk_size_bytes"`
	HotDays             int    `json:"hot_days"`
	WarmDays            int    `json:"warm_days"`
	WarningThresholdMB  int64  `json:"warning_threshold_mb"`
	CriticalThresholdMB int64  `json:"critical_threshold_mb"`
	WarmEvictBatch      int    `json:"warm_evict_batch"`
	RetentionDays       int    `json:"retention_days"`
	MaxRetries          int    `json:"max_retries"`
	DrainIntervalSec    int    `json:"drain_interval_sec"`
	MaintenanceSec      int    `json:"maintenance_interval_sec"`
}

// parseJSON overlays cfg with values from the file named by the
// NOTESYNC_CONFIG environment variable. No variable, no overlay.
func parseJSON(cfg *Config) {
	path := os.Getenv("NOTESYNC_CONFIG")
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	applyJSON(cfg, &jc)
}

// applyJSON copies the non-zero fields of a parsed JSON config onto cfg.
func applyJSON(cfg *Config, jc *jsonConfig) {
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.QuotaBytes > 0 {
		cfg.QuotaBytes = jc.QuotaBytes
	}
	if jc.ChunkThresholdBytes > 0 {
		cfg.ChunkThresholdBytes = jc.ChunkThresholdBytes
	}
	if jc.ChunkSizeBytes > 0 {
		cfg.ChunkSizeBytes = jc.ChunkSizeBytes
	}
	if jc.HotDays > 0 {
		cfg.HotDays = jc.HotDays
	}
	if jc.WarmDays > 0 {
		cfg.WarmDays = jc.WarmDays
	}
	if jc.WarningThresholdMB > 0 {
		cfg.WarningThresholdMB = jc.WarningThresholdMB
	}
	if jc.CriticalThresholdMB > 0 {
		cfg.CriticalThresholdMB = jc.CriticalThresholdMB
	}
	if jc.WarmEvictBatch > 0 {
		cfg.WarmEvictBatch = jc.WarmEvictBatch
	}
	if jc.RetentionDays > 0 {
		cfg.RetentionDays = jc.RetentionDays
	}
	if jc.MaxRetries > 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	if jc.DrainIntervalSec > 0 {
		cfg.DrainInterval = time.Duration(jc.DrainIntervalSec) * time.Second
	}
	if jc.MaintenanceSec > 0 {
		cfg.MaintenanceInterval = time.Duration(jc.MaintenanceSec) * time.Second
	}
}
