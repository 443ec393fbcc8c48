package worker

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// If a dispatcher crashes mid-send, its claimed rows stay in 'sending'
// forever and block campaign completion. The janitor periodically returns
// rows whose provisional sent_at is older than the stale age to 'waiting'
// so a later invocation re-claims them.
const (
	DefaultJanitorInterval = 2 * time.Minute
	DefaultStaleAge        = 5 * time.Minute
)

// Janitor sweeps stale in-flight messages back to waiting.
type Janitor struct {
	repo     campaign.Repository
	interval time.Duration
	staleAge time.Duration

	sweeps int64
	swept  int64
}

// NewJanitor creates a janitor. Non-positive durations fall back to the
// defaults.
func NewJanitor(repo campaign.Repository, interval, staleAge time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &Janitor{repo: repo, interval: interval, staleAge: staleAge}
}

// Start begins the sweep loop. It blocks until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Printf("[Janitor] Starting (interval=%s, stale_age=%s)", j.interval, j.staleAge)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Janitor] Stopping")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Exposed so a trigger or test can run it directly.
func (j *Janitor) Sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	atomic.AddInt64(&j.sweeps, 1)
	cutoff := time.Now().UTC().Add(-j.staleAge)
	n, err := j.repo.SweepStaleSending(sweepCtx, cutoff)
	if err != nil {
		log.Printf("[Janitor] Sweep: %v", err)
		return
	}
	if n > 0 {
		atomic.AddInt64(&j.swept, int64(n))
		staleSwept.Add(float64(n))
		log.Printf("[Janitor] Returned %d stuck sending messages to waiting", n)
	}
}

// JanitorStats is a snapshot of the janitor's counters.
type JanitorStats struct {
	Sweeps int64 `json:"sweeps"`
	Swept  int64 `json:"swept"`
}

// Stats returns a snapshot of the janitor's counters.
func (j *Janitor) Stats() JanitorStats {
	return JanitorStats{
		Sweeps: atomic.LoadInt64(&j.sweeps),
		Swept:  atomic.LoadInt64(&j.swept),
	}
}
