// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	QRNG    QRNGConfig     `yaml:"qrng"`
	Log     LogConfig      `yaml:"log"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Devices []DeviceConfig `yaml:"devices"`
	Entropy EntropyConfig  `yaml:"entropy"`
}

// ---- SERVER ----

type QRNGConfig struct {
	Server               string `yaml:"server"`
	TimeoutMs            int    `yaml:"timeout_ms"`
	CalibrationTimeoutMs int    `yaml:"calibration_timeout_ms"`
	ChunkWords           int    `yaml:"chunk_words"`
	CalibrateOnStart     bool   `yaml:"calibrate_on_start"`
}

// ---- LOG ----

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"` // text | json
	Output   string `yaml:"output"` // stdout | file
	FilePath string `yaml:"file_path"`
}

// ---- METRICS ----

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	ID              uint16        `yaml:"id"`
	Name            string        `yaml:"name"`
	Poll            PollConfig    `yaml:"poll"`
	DisableMonitors []string      `yaml:"disable_monitors"`
	Status          *StatusConfig `yaml:"status"` // optional, opt-in
}

type PollConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

// StatusConfig places the device status block in a Modbus TCP memory.
type StatusConfig struct {
	Endpoint string `yaml:"endpoint"`
	UnitID   uint8  `yaml:"unit_id"`
	Slot     uint16 `yaml:"slot"`
}

// ---- ENTROPY ----

type EntropyConfig struct {
	Enabled    bool        `yaml:"enabled"`
	DeviceID   uint16      `yaml:"device_id"`
	Words      int         `yaml:"words"`
	IntervalMs int         `yaml:"interval_ms"`
	Redis      RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Key       string `yaml:"key"`
	MaxBlocks int64  `yaml:"max_blocks"`
	Channel   string `yaml:"channel"`
}

// Load reads and decodes a YAML file. Unknown keys are rejected.
// It does not validate.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}
