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

package tenant

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func TestRegisterProvisionsStorageLayout(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	_, err := m.Register(Tenant{ID: "t1", Name: "Acme"})
	require.NoError(t, err)

	root := m.TenantRoot("t1")
	require.DirExists(t, filepath.Join(root, "blobs"))
	require.DirExists(t, filepath.Join(root, "index"))
	require.FileExists(t, filepath.Join(root, "events.jsonl"))
}

func TestRegisterDuplicateFails(t *testing.T) {
	m := New(t.TempDir())
	_, err := m.Register(Tenant{ID: "t1"})
	require.NoError(t, err)
	_, err = m.Register(Tenant{ID: "t1"})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.AlreadyExists, apiErr.Kind)
}

func TestSuspendActivateDisable(t *testing.T) {
	m := New(t.TempDir())
	m.Register(Tenant{ID: "t1"})

	require.NoError(t, m.Suspend("t1"))
	tt, _ := m.Get("t1")
	require.Equal(t, Suspended, tt.Status)

	require.NoError(t, m.Activate("t1"))
	tt, _ = m.Get("t1")
	require.Equal(t, Active, tt.Status)

	require.NoError(t, m.Disable("t1"))
	tt, _ = m.Get("t1")
	require.Equal(t, Disabled, tt.Status)
}

func TestCheckQuotaExceeded(t *testing.T) {
	m := New(t.TempDir())
	m.Register(Tenant{ID: "t1", Quota: Quota{"runs": int64p(10)}})

	require.NoError(t, m.CheckQuota("t1", "runs", 5, 3))

	err := m.CheckQuota("t1", "runs", 9, 3)
	require.Error(t, err)
	apiErr, _ := apierr.As(err)
	require.Equal(t, apierr.QuotaExceeded, apiErr.Kind)
}

func TestCheckQuotaUnboundedWhenNoCap(t *testing.T) {
	m := New(t.TempDir())
	m.Register(Tenant{ID: "t1"})
	require.NoError(t, m.CheckQuota("t1", "runs", 1_000_000, 1))
}

func TestStorageStatsCountsFiles(t *testing.T) {
	m := New(t.TempDir())
	m.Register(Tenant{ID: "t1"})

	blobPath := filepath.Join(m.TenantRoot("t1"), "blobs", "x.bin")
	require.NoError(t, os.WriteFile(blobPath, []byte("hello"), 0o644))

	stats, err := m.StorageStats("t1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.Bytes, int64(5))
	require.GreaterOrEqual(t, stats.Files, int64(1))
}
