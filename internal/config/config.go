// Copyright 2025 shiioo
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the control plane's TOML
// configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "30s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the top-level control-plane configuration.
type Config struct {
	General  General  `toml:"general"`
	API      API      `toml:"api"`
	Capacity Capacity `toml:"capacity"`
	Cluster  Cluster  `toml:"cluster"`
	Secret   Secret   `toml:"secret"`
	Tenant   Tenant   `toml:"tenant"`
}

// General controls process-wide basics.
type General struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
}

// API configures the HTTP/WebSocket front-end.
type API struct {
	CORSOrigins    []string `toml:"cors_origins"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// Capacity holds capacity defaults that Load fills in and validates. No
// component reads them: every capacity source carries its own
// RateLimits, and the broker's backoff does not use these durations.
type Capacity struct {
	DefaultPerMinute int      `toml:"default_per_minute"`
	DefaultPerDay    int      `toml:"default_per_day"`
	BackoffBase      Duration `toml:"backoff_base"`
	BackoffMax       Duration `toml:"backoff_max"`
}

// Cluster configures node membership and leader election.
type Cluster struct {
	NodeID      string   `toml:"node_id"`
	RedisAddr   string   `toml:"redis_addr"`
	LeaderTTL   Duration `toml:"leader_ttl"`
	HeartbeatEvery Duration `toml:"heartbeat_every"`
}

// Secret configures the at-rest secret encryption key, consumed by the
// AES-GCM Encrypter the boot wiring installs.
type Secret struct {
	EncryptionKeyFile string `toml:"encryption_key_file"`
	RotationInterval  Duration `toml:"rotation_interval"`
}

// Tenant configures default per-tenant storage quotas.
type Tenant struct {
	DefaultStorageQuotaBytes int64 `toml:"default_storage_quota_bytes"`
}

// Load reads, defaults, and validates the TOML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.Host == "" {
		cfg.General.Host = "0.0.0.0"
	}
	if cfg.General.Port == 0 {
		cfg.General.Port = 8080
	}
	if cfg.General.DataDir == "" {
		cfg.General.DataDir = "./data"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}

	if cfg.API.RequestTimeout.Duration == 0 {
		cfg.API.RequestTimeout.Duration = 30 * time.Second
	}
	if len(cfg.API.CORSOrigins) == 0 {
		cfg.API.CORSOrigins = []string{"*"}
	}

	if cfg.Capacity.DefaultPerMinute == 0 {
		cfg.Capacity.DefaultPerMinute = 60
	}
	if cfg.Capacity.DefaultPerDay == 0 {
		cfg.Capacity.DefaultPerDay = 10000
	}
	if cfg.Capacity.BackoffBase.Duration == 0 {
		cfg.Capacity.BackoffBase.Duration = 1 * time.Second
	}
	if cfg.Capacity.BackoffMax.Duration == 0 {
		cfg.Capacity.BackoffMax.Duration = 60 * time.Second
	}

	if cfg.Cluster.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Cluster.NodeID = host
		} else {
			cfg.Cluster.NodeID = "node-1"
		}
	}
	if cfg.Cluster.LeaderTTL.Duration == 0 {
		cfg.Cluster.LeaderTTL.Duration = 15 * time.Second
	}
	if cfg.Cluster.HeartbeatEvery.Duration == 0 {
		cfg.Cluster.HeartbeatEvery.Duration = 5 * time.Second
	}

	if cfg.Secret.RotationInterval.Duration == 0 {
		cfg.Secret.RotationInterval = Duration{90 * 24 * time.Hour}
	}

	if cfg.Tenant.DefaultStorageQuotaBytes == 0 {
		cfg.Tenant.DefaultStorageQuotaBytes = 10 * 1024 * 1024 * 1024 // 10 GiB
	}
}

func normalizePaths(cfg *Config) {
	cfg.General.DataDir = filepath.Clean(cfg.General.DataDir)
	if cfg.Secret.EncryptionKeyFile != "" {
		cfg.Secret.EncryptionKeyFile = filepath.Clean(cfg.Secret.EncryptionKeyFile)
	}
}

func validate(cfg *Config) error {
	if cfg.General.Port <= 0 || cfg.General.Port > 65535 {
		return fmt.Errorf("general.port must be between 1 and 65535, got %d", cfg.General.Port)
	}
	if strings.TrimSpace(cfg.General.DataDir) == "" {
		return fmt.Errorf("general.data_dir is required")
	}
	if cfg.Capacity.DefaultPerMinute <= 0 {
		return fmt.Errorf("capacity.default_per_minute must be positive")
	}
	if cfg.Capacity.DefaultPerDay <= 0 {
		return fmt.Errorf("capacity.default_per_day must be positive")
	}
	if cfg.Tenant.DefaultStorageQuotaBytes <= 0 {
		return fmt.Errorf("tenant.default_storage_quota_bytes must be positive")
	}
	return nil
}
