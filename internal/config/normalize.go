// internal/config/normalize.go
package config

import (
	"fmt"
	"strings"
)

const (
	DefaultTimeoutMs            = 10000
	DefaultCalibrationTimeoutMs = 300000
	DefaultChunkWords           = 4096
	DefaultPollIntervalMs       = 1000
	DefaultEntropyWords         = 1024
	DefaultEntropyIntervalMs    = 1000
	DefaultRedisKey             = "qrng:entropy"
	DefaultRedisMaxBlocks       = 1000

	// MaxNameLen is the capacity of the status block name field.
	MaxNameLen = 16
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	q := &cfg.QRNG
	if q.TimeoutMs == 0 {
		q.TimeoutMs = DefaultTimeoutMs
	}
	if q.CalibrationTimeoutMs == 0 {
		q.CalibrationTimeoutMs = DefaultCalibrationTimeoutMs
	}
	if q.ChunkWords == 0 {
		q.ChunkWords = DefaultChunkWords
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	for i := range cfg.Devices {
		d := &cfg.Devices[i]

		if d.Poll.IntervalMs == 0 {
			d.Poll.IntervalMs = DefaultPollIntervalMs
		}

		// Name feeds the status block:
		// - ASCII already validated
		// - default to the device id
		// - truncate to max 16 characters
		if d.Name == "" {
			d.Name = fmt.Sprintf("qrng-%d", d.ID)
		}
		if len(d.Name) > MaxNameLen {
			d.Name = d.Name[:MaxNameLen]
		}

		for j, m := range d.DisableMonitors {
			d.DisableMonitors[j] = strings.ToLower(strings.TrimSpace(m))
		}
	}

	e := &cfg.Entropy
	if !e.Enabled {
		return
	}
	if e.Words == 0 {
		e.Words = DefaultEntropyWords
	}
	if e.IntervalMs == 0 {
		e.IntervalMs = DefaultEntropyIntervalMs
	}
	if e.Redis.Key == "" {
		e.Redis.Key = DefaultRedisKey
	}
	if e.Redis.MaxBlocks == 0 {
		e.Redis.MaxBlocks = DefaultRedisMaxBlocks
	}
}
