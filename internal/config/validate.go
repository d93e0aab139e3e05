// internal/config/validate.go
package config

import (
	"errors"
	"fmt"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}

	// ------------------------------------------------------------
	// SERVER
	// ------------------------------------------------------------

	if cfg.QRNG.Server == "" {
		return errors.New("qrng.server is required")
	}
	if cfg.QRNG.TimeoutMs < 0 {
		return fmt.Errorf("qrng.timeout_ms must not be negative (got %d)", cfg.QRNG.TimeoutMs)
	}
	if cfg.QRNG.CalibrationTimeoutMs < 0 {
		return fmt.Errorf("qrng.calibration_timeout_ms must not be negative (got %d)", cfg.QRNG.CalibrationTimeoutMs)
	}
	if cfg.QRNG.ChunkWords < 0 {
		return fmt.Errorf("qrng.chunk_words must not be negative (got %d)", cfg.QRNG.ChunkWords)
	}

	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json (got %q)", cfg.Log.Format)
	}
	switch cfg.Log.Output {
	case "", "stdout", "stderr":
	case "file":
		if cfg.Log.FilePath == "" {
			return errors.New("log.output is file but log.file_path is empty")
		}
	default:
		return fmt.Errorf("log.output must be stdout, stderr or file (got %q)", cfg.Log.Output)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return errors.New("metrics.enabled requires metrics.listen")
	}

	// ------------------------------------------------------------
	// DEVICES
	// ------------------------------------------------------------

	if len(cfg.Devices) == 0 {
		return errors.New("at least one device is required")
	}

	seen := make(map[uint16]bool)

	// key = endpoint | unit_id | slot
	statusOwner := make(map[string]uint16)

	for _, d := range cfg.Devices {
		if seen[d.ID] {
			return fmt.Errorf("device %d: duplicate id", d.ID)
		}
		seen[d.ID] = true

		if d.Poll.IntervalMs < 0 {
			return fmt.Errorf("device %d: poll.interval_ms must not be negative", d.ID)
		}

		// name goes into the status block: ASCII only
		for i := 0; i < len(d.Name); i++ {
			if d.Name[i] > 0x7F {
				return fmt.Errorf("device %d: name must contain ASCII characters only", d.ID)
			}
		}

		for _, m := range d.DisableMonitors {
			if _, err := protocol.ParseAlarmType(m); err != nil {
				return fmt.Errorf("device %d: disable_monitors: %w", d.ID, err)
			}
		}

		// status is opt-in
		if d.Status == nil {
			continue
		}

		if d.Status.Endpoint == "" {
			return fmt.Errorf("device %d: status.endpoint is required", d.ID)
		}

		key := fmt.Sprintf("%s|%d|%d", d.Status.Endpoint, d.Status.UnitID, d.Status.Slot)
		if prev, exists := statusOwner[key]; exists {
			return fmt.Errorf(
				"status slot collision: endpoint=%s unit_id=%d slot=%d used by devices %d and %d",
				d.Status.Endpoint,
				d.Status.UnitID,
				d.Status.Slot,
				prev,
				d.ID,
			)
		}
		statusOwner[key] = d.ID
	}

	// ------------------------------------------------------------
	// ENTROPY (OPT-IN)
	// ------------------------------------------------------------

	e := cfg.Entropy
	if !e.Enabled {
		return nil
	}
	if !seen[e.DeviceID] {
		return fmt.Errorf("entropy.device_id %d is not a configured device", e.DeviceID)
	}
	if e.Words < 0 {
		return fmt.Errorf("entropy.words must not be negative (got %d)", e.Words)
	}
	if e.IntervalMs < 0 {
		return fmt.Errorf("entropy.interval_ms must not be negative (got %d)", e.IntervalMs)
	}
	if e.Redis.Addr == "" {
		return errors.New("entropy.redis.addr is required")
	}
	if e.Redis.MaxBlocks < 0 {
		return fmt.Errorf("entropy.redis.max_blocks must not be negative (got %d)", e.Redis.MaxBlocks)
	}

	return nil
}
