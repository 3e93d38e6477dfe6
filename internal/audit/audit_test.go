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

package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChainVerifiesAfterRecords(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := l.Record("security", SeverityInfo, "login", "user-1", "tenant-1", "127.0.0.1", nil)
		require.NoError(t, err)
	}

	require.Empty(t, l.VerifyChain())
}

func TestMutatingAnEntryBreaksTheChain(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := l.Record("security", SeverityInfo, "login", "user-1", "tenant-1", "", nil)
		require.NoError(t, err)
	}

	l.entries[0].UserID = "tampered"

	violations := l.VerifyChain()
	require.NotEmpty(t, violations)
}

func TestFirstEntryHasNoPreviousHash(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	e, err := l.Record("security", SeverityInfo, "init", "", "", "", nil)
	require.NoError(t, err)
	require.Empty(t, e.PreviousHash)
}

func TestChainLinksPreviousHash(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	e1, err := l.Record("security", SeverityInfo, "a", "", "", "", nil)
	require.NoError(t, err)
	e2, err := l.Record("security", SeverityInfo, "b", "", "", "", nil)
	require.NoError(t, err)

	require.Equal(t, e1.EntryHash, e2.PreviousHash)
}

func TestLogReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, nil)
	require.NoError(t, err)

	_, err = l.Record("security", SeverityInfo, "a", "", "", "", nil)
	require.NoError(t, err)

	reloaded, err := New(dir, nil)
	require.NoError(t, err)
	require.Len(t, reloaded.Entries(), 1)
	require.Empty(t, reloaded.VerifyChain())
}
