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

package capacity

import (
	"context"
	"testing"
	"time"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls  int
	onCall func(source Source, prompt string, maxTokens int) (string, int, int, error)
}

func (f *fakeProvider) Call(_ context.Context, source Source, prompt string, maxTokens int) (string, int, int, error) {
	f.calls++
	return f.onCall(source, prompt, maxTokens)
}

func TestSelectSourcePrefersHigherPriority(t *testing.T) {
	b := New(&fakeProvider{}, nil)
	b.RegisterSource(Source{ID: "lo", Priority: 10, Enabled: true, RateLimits: RateLimits{RPM: 60, TPM: 1000}})
	b.RegisterSource(Source{ID: "hi", Priority: 100, Enabled: true, RateLimits: RateLimits{RPM: 60, TPM: 1000}})

	id, ok := b.SelectSource(500)
	require.True(t, ok)
	require.Equal(t, "hi", id)
}

// TestPrioritySelectionAndBackoff is the literal S5 scenario.
func TestPrioritySelectionAndBackoff(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{onCall: func(source Source, prompt string, maxTokens int) (string, int, int, error) {
		return "ok", maxTokens, 0, nil
	}}
	b := New(provider, nil)
	b.SetClock(func() time.Time { return clock })
	b.RegisterSource(Source{ID: "hi", Priority: 100, Enabled: true, RateLimits: RateLimits{RPM: 60, TPM: 1000}})
	b.RegisterSource(Source{ID: "lo", Priority: 10, Enabled: true, RateLimits: RateLimits{RPM: 60, TPM: 1000}})

	_, _, err := b.ExecuteRequest(context.Background(), PriorityRequest{ID: ids.New(), MaxTokens: 500, CreatedAt: clock})
	require.NoError(t, err)

	_, _, err = b.ExecuteRequest(context.Background(), PriorityRequest{ID: ids.New(), MaxTokens: 500, CreatedAt: clock})
	require.NoError(t, err)

	// hi is now at 1000/1000 tokens; a third 500-token request must not
	// pick hi, it picks lo.
	id, ok := b.SelectSource(500)
	require.True(t, ok)
	require.Equal(t, "lo", id)

	retryAfter := 120 * time.Second
	b.applyBackoff("lo", &retryAfter)

	// hi still over budget, lo in backoff: nothing eligible.
	_, ok = b.SelectSource(500)
	require.False(t, ok)

	req := PriorityRequest{ID: ids.New(), MaxTokens: 500, CreatedAt: clock}
	_, _, err = b.ExecuteRequest(context.Background(), req)
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.NoCapacity, ae.Kind)
	require.Equal(t, 1, b.QueueLen())
}

func TestReservationNeverRolledBackOnFailure(t *testing.T) {
	provider := &fakeProvider{onCall: func(source Source, prompt string, maxTokens int) (string, int, int, error) {
		return "", 0, 0, &RateLimitedError{}
	}}
	b := New(provider, nil)
	b.RegisterSource(Source{ID: "hi", Priority: 1, Enabled: true, RateLimits: RateLimits{RPM: 60, TPM: 1000}})

	_, _, err := b.ExecuteRequest(context.Background(), PriorityRequest{ID: ids.New(), MaxTokens: 400})
	require.Error(t, err)

	b.mu.Lock()
	st := b.state["hi"]
	tokensInWindow := st.tokensInWindow
	requestsInWindow := st.requestsInWindow
	b.mu.Unlock()

	require.Equal(t, 400, tokensInWindow)
	require.Equal(t, 1, requestsInWindow)
}

func TestWindowResetAtSixtySeconds(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{onCall: func(source Source, prompt string, maxTokens int) (string, int, int, error) {
		return "ok", maxTokens, 0, nil
	}}
	b := New(provider, nil)
	b.SetClock(func() time.Time { return clock })
	b.RegisterSource(Source{ID: "hi", Priority: 1, Enabled: true, RateLimits: RateLimits{RPM: 1, TPM: 1000}})

	_, _, err := b.ExecuteRequest(context.Background(), PriorityRequest{ID: ids.New(), MaxTokens: 100})
	require.NoError(t, err)

	// exhausted rpm=1; immediately ineligible.
	_, ok := b.SelectSource(100)
	require.False(t, ok)

	clock = clock.Add(61 * time.Second)
	id, ok := b.SelectSource(100)
	require.True(t, ok)
	require.Equal(t, "hi", id)
}

func TestEnqueueDequeueOrdering(t *testing.T) {
	b := New(&fakeProvider{}, nil)
	now := time.Now()
	b.Enqueue(PriorityRequest{ID: "low-old", Priority: 1, CreatedAt: now})
	b.Enqueue(PriorityRequest{ID: "high", Priority: 10, CreatedAt: now.Add(time.Second)})
	b.Enqueue(PriorityRequest{ID: "low-new", Priority: 1, CreatedAt: now.Add(2 * time.Second)})

	first, ok := b.Dequeue()
	require.True(t, ok)
	require.Equal(t, "high", first.ID)

	second, ok := b.Dequeue()
	require.True(t, ok)
	require.Equal(t, "low-old", second.ID)
}

func TestSuccessfulCallRecordsUsage(t *testing.T) {
	provider := &fakeProvider{onCall: func(source Source, prompt string, maxTokens int) (string, int, int, error) {
		return "ok", 120, 30, nil
	}}
	b := New(provider, nil)
	b.RegisterSource(Source{ID: "hi", Priority: 1, Enabled: true, CostPerToken: 0.001, RateLimits: RateLimits{RPM: 60, TPM: 1000}})

	text, usage, err := b.ExecuteRequest(context.Background(), PriorityRequest{ID: ids.New(), MaxTokens: 500})
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.NotNil(t, usage)
	require.Equal(t, "hi", usage.SourceID)
	require.Equal(t, 120, usage.InputTokens)
	require.Equal(t, 30, usage.OutputTokens)
	require.InDelta(t, 0.15, usage.Cost, 1e-9)
	require.Len(t, b.Usage(), 1)
	require.InDelta(t, 0.15, b.TotalCost(), 1e-9)
}

func TestRateLimitedRequestIsRequeued(t *testing.T) {
	provider := &fakeProvider{onCall: func(source Source, prompt string, maxTokens int) (string, int, int, error) {
		return "", 0, 0, &RateLimitedError{}
	}}
	b := New(provider, nil)
	b.RegisterSource(Source{ID: "hi", Priority: 1, Enabled: true, RateLimits: RateLimits{RPM: 60, TPM: 1000}})

	_, _, err := b.ExecuteRequest(context.Background(), PriorityRequest{ID: "r1", MaxTokens: 100})
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.RateLimited, ae.Kind)

	queued, ok := b.Dequeue()
	require.True(t, ok)
	require.Equal(t, "r1", queued.ID)
	require.Equal(t, 1, queued.Attempts)
}
