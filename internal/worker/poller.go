package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollInterval keeps the scan cadence at most one minute, matching
// the dispatch budget's hand-off.
const DefaultPollInterval = 60 * time.Second

// Poller runs the dispatcher on a fixed cadence and on demand. Create
// installs Kick as the service's dispatch hook so new campaigns start
// without waiting for the next tick.
type Poller struct {
	dispatcher *Dispatcher
	interval   time.Duration

	kicks chan string

	// Stats
	ticks     int64
	kickRuns  int64
	runErrors int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewPoller creates a poller around the dispatcher. interval <= 0 falls
// back to DefaultPollInterval.
func NewPoller(dispatcher *Dispatcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		dispatcher: dispatcher,
		interval:   interval,
		kicks:      make(chan string, 16),
	}
}

// Start begins the polling loop.
func (p *Poller) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[Poller] Starting (interval=%s)", p.interval)
	p.wg.Add(1)
	go p.loop()
	return nil
}

// Stop halts the polling loop and waits for an in-flight run to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	log.Println("[Poller] Stopped")
}

// Kick requests an immediate run for one campaign. Non-blocking: when the
// queue is full the campaign is picked up by the next tick instead.
func (p *Poller) Kick(campaignID string) {
	select {
	case p.kicks <- campaignID:
	default:
		log.Printf("[Poller] Kick queue full, campaign %s waits for the next tick", campaignID)
	}
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			atomic.AddInt64(&p.ticks, 1)
			p.run("")
		case id := <-p.kicks:
			atomic.AddInt64(&p.kickRuns, 1)
			p.run(id)
		}
	}
}

func (p *Poller) run(campaignID string) {
	results, err := p.dispatcher.Run(p.ctx, campaignID)
	if err != nil {
		atomic.AddInt64(&p.runErrors, 1)
		log.Printf("[Poller] Dispatch run: %v", err)
		return
	}
	for _, r := range results {
		log.Printf("[Poller] Campaign %s: %d sent, %s", r.ID, r.MessagesSent, r.Status)
	}
}

// PollerStats is a snapshot of the poller's counters.
type PollerStats struct {
	Ticks     int64 `json:"ticks"`
	KickRuns  int64 `json:"kick_runs"`
	RunErrors int64 `json:"run_errors"`
}

// Stats returns a snapshot of the poller's counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Ticks:     atomic.LoadInt64(&p.ticks),
		KickRuns:  atomic.LoadInt64(&p.kickRuns),
		RunErrors: atomic.LoadInt64(&p.runErrors),
	}
}
