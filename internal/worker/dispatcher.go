package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/gateway"
	"github.com/ignite/campaign-dispatch/internal/pacing"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// DefaultBudget is the per-invocation wall-clock budget. It sits just under
// the one-minute poll cadence so consecutive invocations hand off cleanly.
const DefaultBudget = 55 * time.Second

// Per-campaign run outcomes reported to the trigger caller.
const (
	StatusContinued         = "continued"
	StatusFinished          = "finished"
	StatusPausedTemporarily = "paused_temporarily"
)

// Result is the per-campaign outcome of one dispatcher invocation.
type Result struct {
	ID           string `json:"id"`
	MessagesSent int    `json:"messagesSent"`
	Status       string `json:"status"`
}

// LockFactory builds the campaign-scoped distributed lock. A nil factory
// disables locking (single-worker deployments and tests).
type LockFactory func(campaignID string) distlock.DistLock

// Dispatcher drives eligible campaigns through their send loops. One
// invocation is bounded by the wall-clock budget; a campaign that still has
// work when the budget runs out reports continued and is resumed by the
// next invocation.
type Dispatcher struct {
	repo    campaign.Repository
	sender  gateway.Sender
	loc     *time.Location
	budget  time.Duration
	newLock LockFactory

	// Stats
	runs              int64
	campaignsTouched  int64
	sentTotal         int64
	failedTotal       int64
	finishedCampaigns int64
}

// NewDispatcher creates a dispatcher. Policy clocks are evaluated in loc
// (nil means UTC); budget <= 0 falls back to DefaultBudget.
func NewDispatcher(repo campaign.Repository, sender gateway.Sender, loc *time.Location, budget time.Duration) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Dispatcher{repo: repo, sender: sender, loc: loc, budget: budget}
}

// SetLockFactory installs the distributed-lock factory used to serialize
// concurrent workers per campaign.
func (d *Dispatcher) SetLockFactory(f LockFactory) { d.newLock = f }

// DispatcherStats is a snapshot of the dispatcher's counters.
type DispatcherStats struct {
	Runs              int64 `json:"runs"`
	CampaignsTouched  int64 `json:"campaigns_touched"`
	MessagesSent      int64 `json:"messages_sent"`
	MessagesFailed    int64 `json:"messages_failed"`
	CampaignsFinished int64 `json:"campaigns_finished"`
}

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Runs:              atomic.LoadInt64(&d.runs),
		CampaignsTouched:  atomic.LoadInt64(&d.campaignsTouched),
		MessagesSent:      atomic.LoadInt64(&d.sentTotal),
		MessagesFailed:    atomic.LoadInt64(&d.failedTotal),
		CampaignsFinished: atomic.LoadInt64(&d.finishedCampaigns),
	}
}

// Run executes one dispatcher invocation. An empty campaignID scans all
// eligible campaigns; a non-empty one targets that campaign (its scheduled_at
// is not re-checked, so a create-kick starts immediately).
func (d *Dispatcher) Run(ctx context.Context, campaignID string) ([]Result, error) {
	atomic.AddInt64(&d.runs, 1)
	dispatchRuns.Inc()

	deadline := time.Now().Add(d.budget)
	eligible, err := d.repo.ListEligible(ctx, time.Now().UTC(), campaignID)
	if err != nil {
		return nil, fmt.Errorf("list eligible campaigns: %w", err)
	}

	var results []Result
	for i := range eligible {
		if ctx.Err() != nil {
			break
		}
		if !time.Now().Before(deadline) {
			break
		}
		res, processed := d.runCampaign(ctx, &eligible[i], deadline)
		if processed {
			results = append(results, res)
		}
	}
	return results, nil
}

// runCampaign drives one campaign until it finishes, pauses, errors out, or
// the budget expires. processed is false when the campaign was skipped
// without touching it (lock held elsewhere, guard miss, bad policy).
func (d *Dispatcher) runCampaign(ctx context.Context, c *domain.Campaign, deadline time.Time) (res Result, processed bool) {
	if d.newLock != nil {
		lock := d.newLock(c.ID)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			log.Printf("[Dispatcher] Lock acquire for campaign %s: %v", c.ID, err)
			return Result{}, false
		}
		if !ok {
			// Another worker holds the campaign.
			return Result{}, false
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				log.Printf("[Dispatcher] Lock release for campaign %s: %v", c.ID, err)
			}
		}()
	}

	policy, err := pacing.Compile(c.Config, d.loc)
	if err != nil {
		log.Printf("[Dispatcher] Campaign %s has an uncompilable policy: %v", c.ID, err)
		return Result{}, false
	}

	now := time.Now().UTC()
	startedAt, err := d.repo.MarkProcessing(ctx, c.ID, now)
	if err != nil {
		log.Printf("[Dispatcher] Mark processing %s: %v", c.ID, err)
		return Result{}, false
	}
	if startedAt == nil {
		// Status changed underneath the eligibility scan.
		return Result{}, false
	}
	atomic.AddInt64(&d.campaignsTouched, 1)

	// Pause gates hold without a persisted status change; they are
	// re-evaluated on every invocation.
	if policy.AutoPauseActive(now, *startedAt) {
		log.Printf("[Dispatcher] Campaign %s in automatic pause until %s", c.ID, policy.AutoPauseResumeAt().Format(time.RFC3339))
		return Result{ID: c.ID, Status: StatusPausedTemporarily}, true
	}
	if policy.InBusinessPause(now) {
		log.Printf("[Dispatcher] Campaign %s outside business hours", c.ID)
		return Result{ID: c.ID, Status: StatusPausedTemporarily}, true
	}

	if finished, err := d.finalizeIfComplete(ctx, c.ID, *startedAt); err != nil {
		log.Printf("[Dispatcher] Completion check %s: %v", c.ID, err)
		return Result{}, false
	} else if finished {
		return Result{ID: c.ID, Status: StatusFinished}, true
	}

	res = d.sendLoop(ctx, c, policy, *startedAt, deadline)

	if res.Status != StatusFinished {
		elapsed := int64(time.Now().UTC().Sub(*startedAt).Seconds())
		if err := d.repo.UpdateExecutionTime(ctx, c.ID, elapsed); err != nil {
			log.Printf("[Dispatcher] Update execution time %s: %v", c.ID, err)
		}
	}
	return res, true
}

func (d *Dispatcher) sendLoop(ctx context.Context, c *domain.Campaign, policy *pacing.Policy, startedAt, deadline time.Time) Result {
	sentThisRun := 0
	sentTotal := int64(c.SentMessages)

	for {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return Result{ID: c.ID, MessagesSent: sentThisRun, Status: StatusContinued}
		}

		// Operator commands land between sends.
		status, err := d.repo.ReadStatus(ctx, c.ID)
		if err != nil {
			log.Printf("[Dispatcher] Read status %s: %v", c.ID, err)
			return Result{ID: c.ID, MessagesSent: sentThisRun, Status: StatusContinued}
		}
		if status == domain.CampaignPaused || status.IsTerminal() {
			// Operator pause/cancel stops the run as a plain continued;
			// paused_temporarily is reserved for the policy gates, which
			// carry a resume time.
			log.Printf("[Dispatcher] Campaign %s is %s, stopping loop", c.ID, status)
			return Result{ID: c.ID, MessagesSent: sentThisRun, Status: StatusContinued}
		}

		lastSentAt, err := d.repo.LastSentAt(ctx, c.ID)
		if err != nil {
			log.Printf("[Dispatcher] Last sent at %s: %v", c.ID, err)
			return Result{ID: c.ID, MessagesSent: sentThisRun, Status: StatusContinued}
		}

		requiredDelay := policy.SampleInterval()
		if policy.BatchBoundary(sentTotal) {
			requiredDelay += policy.SampleBatchPause()
		}
		if lastSentAt.IsZero() {
			// First message goes out immediately.
			requiredDelay = 0
		}

		now := time.Now().UTC()
		if waitFor := requiredDelay - now.Sub(lastSentAt); waitFor > 0 {
			if now.Add(waitFor).After(deadline) {
				return Result{ID: c.ID, MessagesSent: sentThisRun, Status: StatusContinued}
			}
			if err := sleepCtx(ctx, waitFor); err != nil {
				return Result{ID: c.ID, MessagesSent: sentThisRun, Status: StatusContinued}
			}
		}

		claimed, err := d.repo.ClaimNextMessage(ctx, c.ID, time.Now().UTC())
		if errors.Is(err, campaign.ErrNoWaitingMessages) {
			finished, ferr := d.finalizeIfComplete(ctx, c.ID, startedAt)
			if ferr != nil {
				log.Printf("[Dispatcher] Completion check %s: %v", c.ID, ferr)
				return Result{ID: c.ID, MessagesSent: sentThisRun, Status: StatusContinued}
			}
			if finished {
				return Result{ID: c.ID, MessagesSent: sentThisRun, Status: StatusFinished}
			}
			// Sending rows are still in flight elsewhere; let them resolve.
			return Result{ID: c.ID, MessagesSent: sentThisRun, Status: StatusContinued}
		}
		if err != nil {
			log.Printf("[Dispatcher] Claim for %s: %v", c.ID, err)
			return Result{ID: c.ID, MessagesSent: sentThisRun, Status: StatusContinued}
		}

		sendErr := d.sender.Send(ctx, claimed.Name, claimed.Phone, claimed.MessageBody)
		switch {
		case sendErr == nil:
			if err := d.repo.MarkMessageSent(ctx, claimed.MessageID, time.Now().UTC()); err != nil {
				// The row stays in sending; the janitor returns it to waiting.
				log.Printf("[Dispatcher] Commit sent %s: %v", claimed.MessageID, err)
				continue
			}
			if err := d.repo.IncrementSent(ctx, c.ID); err != nil {
				log.Printf("[Dispatcher] Increment sent %s: %v", c.ID, err)
			}
			sentTotal++
			sentThisRun++
			atomic.AddInt64(&d.sentTotal, 1)
			messagesSent.Inc()

		case errors.Is(sendErr, gateway.ErrUnavailable):
			// The gateway is shedding; give the message back untouched and
			// let a later invocation find the gateway healthy again.
			if err := d.repo.ReleaseMessage(ctx, claimed.MessageID); err != nil {
				log.Printf("[Dispatcher] Release %s: %v", claimed.MessageID, err)
			}
			log.Printf("[Dispatcher] Gateway unavailable, abandoning campaign %s", c.ID)
			return Result{ID: c.ID, MessagesSent: sentThisRun, Status: StatusContinued}

		default:
			reason := gateway.Truncate(sendErr).Error()
			log.Printf("[Dispatcher] Send to %s failed: %s", logger.RedactPhone(claimed.Phone), reason)
			if err := d.repo.MarkMessageFailed(ctx, claimed.MessageID, reason); err != nil {
				log.Printf("[Dispatcher] Commit failed %s: %v", claimed.MessageID, err)
			}
			atomic.AddInt64(&d.failedTotal, 1)
			messagesFailed.Inc()
		}
	}
}

// finalizeIfComplete finishes the campaign when no unresolved messages
// remain, reconciling sent_messages to the actual sent row count.
func (d *Dispatcher) finalizeIfComplete(ctx context.Context, campaignID string, startedAt time.Time) (bool, error) {
	counts, err := d.repo.CountMessages(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if counts.Unresolved() > 0 {
		return false, nil
	}
	now := time.Now().UTC()
	elapsed := int64(now.Sub(startedAt).Seconds())
	if err := d.repo.FinalizeCampaign(ctx, campaignID, counts.Sent, now, elapsed); err != nil {
		return false, err
	}
	atomic.AddInt64(&d.finishedCampaigns, 1)
	campaignsFinished.Inc()
	log.Printf("[Dispatcher] Campaign %s finished: %d sent, %d failed, %ds",
		campaignID, counts.Sent, counts.Failed, elapsed)
	return true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
