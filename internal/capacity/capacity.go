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

// Package capacity is the LLM capacity broker: it selects among
// registered sources under per-minute and per-day token/request quotas,
// reserves usage pessimistically before the provider call, backs a
// source off on rate limits (for the provider's retry-after, else 60s),
// and queues requests by
// priority when nothing is eligible.
package capacity

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/shared/logger"
)

// RateLimits caps one source's throughput.
type RateLimits struct {
	RPM int  `json:"rpm"`
	TPM int  `json:"tpm"`
	TPD *int `json:"tpd,omitempty"`
}

// Source is a registered LLM provider+model endpoint.
type Source struct {
	ID           string     `json:"id"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	RateLimits   RateLimits `json:"rate_limits"`
	CostPerToken float64    `json:"cost_per_token"`
	Priority     uint8      `json:"priority"`
	Enabled      bool       `json:"enabled"`
}

// rateLimitState is the mutable per-source window state. Touched only
// under Broker.mu.
type rateLimitState struct {
	windowStart      time.Time
	requestsInWindow int
	tokensInWindow   int
	dailyTokens      int
	dailyResetAt     time.Time
	backoffUntil     *time.Time
}

// Usage is one append-only usage record.
type Usage struct {
	SourceID      string    `json:"source_id"`
	Timestamp     time.Time `json:"timestamp"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	Cost          float64   `json:"cost"`
	RequestCount  int       `json:"request_count"`
	RunID         string    `json:"run_id,omitempty"`
	StepID        string    `json:"step_id,omitempty"`
}

// PriorityRequest is a queued LLM request awaiting capacity.
type PriorityRequest struct {
	ID        string    `json:"id"`
	Priority  int       `json:"priority"`
	RunID     string    `json:"run_id"`
	StepID    string    `json:"step_id"`
	Role      string    `json:"role"`
	Prompt    string    `json:"prompt"`
	MaxTokens int       `json:"max_tokens"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`

	index int // heap bookkeeping
}

// priorityQueue is a max-heap ordered by (priority desc, created_at asc).
type priorityQueue []*PriorityRequest

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].CreatedAt.Before(q[j].CreatedAt)
}
func (q priorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *priorityQueue) Push(x interface{}) {
	item := x.(*PriorityRequest)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *priorityQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// Provider is the opaque "call provider" interface; the core never knows
// about real LLM HTTP clients.
type Provider interface {
	Call(ctx context.Context, source Source, prompt string, maxTokens int) (text string, inputTokens, outputTokens int, err error)
}

// RateLimitedError is returned by a Provider when the upstream source
// throttled the request.
type RateLimitedError struct {
	RetryAfter *time.Duration
}

func (e *RateLimitedError) Error() string { return "provider rate limited the request" }

// Broker is the capacity broker. now is overridable for tests.
type Broker struct {
	provider Provider
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	sources map[string]*Source
	state   map[string]*rateLimitState
	usage   []Usage
	queue   priorityQueue
}

// New returns an empty Broker.
func New(provider Provider, log *logger.Logger) *Broker {
	return &Broker{
		provider: provider,
		log:      log,
		now:      time.Now,
		sources:  make(map[string]*Source),
		state:    make(map[string]*rateLimitState),
	}
}

// RegisterSource adds or replaces a source.
func (b *Broker) RegisterSource(s Source) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources[s.ID] = &s
	if _, ok := b.state[s.ID]; !ok {
		now := b.now()
		b.state[s.ID] = &rateLimitState{windowStart: now, dailyResetAt: now.Add(24 * time.Hour)}
	}
}

// RemoveSource deletes a source and its state.
func (b *Broker) RemoveSource(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sources, id)
	delete(b.state, id)
}

// Sources returns every registered source.
func (b *Broker) Sources() []Source {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Source, 0, len(b.sources))
	for _, s := range b.sources {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// advanceWindows rolls window_start/daily_reset_at/backoff_until forward
// for st as of now. Caller holds b.mu.
func (b *Broker) advanceWindows(st *rateLimitState, now time.Time) {
	if !now.Before(st.windowStart.Add(60 * time.Second)) {
		st.windowStart = now
		st.requestsInWindow = 0
		st.tokensInWindow = 0
	}
	if !now.Before(st.dailyResetAt) {
		st.dailyTokens = 0
		st.dailyResetAt = now.Add(24 * time.Hour)
	}
	if st.backoffUntil != nil {
		if now.Before(*st.backoffUntil) {
			return
		}
		st.backoffUntil = nil
	}
}

// SelectSource picks the highest-priority enabled source with headroom
// for requiredTokens, or ("", false) if none qualify.
func (b *Broker) SelectSource(requiredTokens int) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selectSourceLocked(requiredTokens)
}

func (b *Broker) selectSourceLocked(requiredTokens int) (string, bool) {
	now := b.now()

	candidates := make([]*Source, 0, len(b.sources))
	for _, s := range b.sources {
		if s.Enabled {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Priority > candidates[j].Priority })

	for _, s := range candidates {
		st := b.state[s.ID]
		b.advanceWindows(st, now)

		if st.backoffUntil != nil && now.Before(*st.backoffUntil) {
			continue
		}
		if st.requestsInWindow+1 > s.RateLimits.RPM {
			continue
		}
		if st.tokensInWindow+requiredTokens > s.RateLimits.TPM {
			continue
		}
		if s.RateLimits.TPD != nil && st.dailyTokens+requiredTokens > *s.RateLimits.TPD {
			continue
		}
		return s.ID, true
	}
	return "", false
}

// reserve pessimistically reserves requiredTokens and 1 request against
// sourceID before the provider call. The reservation is never rolled
// back on failure, which skews the accounting toward throttling.
func (b *Broker) reserve(sourceID string, requiredTokens int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state[sourceID]
	if st == nil {
		return
	}
	st.requestsInWindow++
	st.tokensInWindow += requiredTokens
	st.dailyTokens += requiredTokens
}

// applyBackoff sets sourceID's backoff_until to now+retryAfter (default
// 60s).
func (b *Broker) applyBackoff(sourceID string, retryAfter *time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state[sourceID]
	if st == nil {
		return
	}
	d := 60 * time.Second
	if retryAfter != nil {
		d = *retryAfter
	}
	until := b.now().Add(d)
	st.backoffUntil = &until
}

func (b *Broker) recordUsage(u Usage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage = append(b.usage, u)
}

// Usage returns every recorded usage entry.
func (b *Broker) Usage() []Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Usage, len(b.usage))
	copy(out, b.usage)
	return out
}

// TotalCost sums cost across every recorded usage entry.
func (b *Broker) TotalCost() float64 {
	var total float64
	for _, u := range b.Usage() {
		total += u.Cost
	}
	return total
}

// Enqueue adds req to the priority queue.
func (b *Broker) Enqueue(req PriorityRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	heap.Push(&b.queue, &req)
}

// Dequeue pops the highest-(priority, then oldest) request, or
// (nil, false) if the queue is empty.
func (b *Broker) Dequeue() (*PriorityRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&b.queue).(*PriorityRequest), true
}

// QueueLen reports the number of requests currently queued.
func (b *Broker) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// ExecuteRequest runs the full call lifecycle: select a source, call
// the provider, record usage on success, back off this source and
// requeue on rate limit, or surface NoCapacity and enqueue if nothing
// is eligible. The returned Usage is non-nil only on success.
func (b *Broker) ExecuteRequest(ctx context.Context, req PriorityRequest) (string, *Usage, error) {
	sourceID, ok := b.SelectSource(req.MaxTokens)
	if !ok {
		b.Enqueue(req)
		if b.log != nil {
			b.log.Warn(logger.Ctx{RunID: req.RunID, StepID: req.StepID}, "no capacity available, request queued", nil)
		}
		return "", nil, apierr.New(apierr.NoCapacity, "no capacity source available")
	}

	b.reserve(sourceID, req.MaxTokens)

	source := b.sourceByID(sourceID)
	text, inTok, outTok, callErr := b.provider.Call(ctx, source, req.Prompt, req.MaxTokens)
	if callErr != nil {
		if rl, ok := callErr.(*RateLimitedError); ok {
			b.applyBackoff(sourceID, rl.RetryAfter)
			req.Attempts++
			b.Enqueue(req)
			if b.log != nil {
				b.log.Warn(logger.Ctx{RunID: req.RunID, StepID: req.StepID}, "source rate limited, applying backoff", map[string]interface{}{"source_id": sourceID})
			}
			return "", nil, apierr.Newf(apierr.RateLimited, "source %s rate limited", sourceID)
		}
		return "", nil, apierr.Newf(apierr.Internal, "provider call failed: %v", callErr)
	}

	usage := Usage{
		SourceID:     sourceID,
		Timestamp:    b.now(),
		InputTokens:  inTok,
		OutputTokens: outTok,
		Cost:         float64(inTok+outTok) * source.CostPerToken,
		RequestCount: 1,
		RunID:        req.RunID,
		StepID:       req.StepID,
	}
	b.recordUsage(usage)
	return text, &usage, nil
}

func (b *Broker) sourceByID(id string) Source {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.sources[id]
}

// SetClock overrides the broker's time source. Test-only seam.
func (b *Broker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
