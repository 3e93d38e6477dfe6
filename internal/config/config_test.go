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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "controlplane.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[general]
data_dir = "./data"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.General.Port)
	require.Equal(t, "info", cfg.General.LogLevel)
	require.Equal(t, 60, cfg.Capacity.DefaultPerMinute)
	require.Equal(t, 60*time.Second, cfg.Capacity.BackoffMax.Duration)
}

func TestLoadParsesDurationsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
[general]
data_dir = "./data"
port = 9090

[capacity]
default_per_minute = 120
backoff_base = "2s"
backoff_max = "30s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.General.Port)
	require.Equal(t, 120, cfg.Capacity.DefaultPerMinute)
	require.Equal(t, 2*time.Second, cfg.Capacity.BackoffBase.Duration)
	require.Equal(t, 30*time.Second, cfg.Capacity.BackoffMax.Duration)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := writeConfig(t, `
[general]
data_dir = "./data"
port = 70000
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
