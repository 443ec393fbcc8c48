// Package pacing computes planned send instants and live send delays from a
// campaign's pacing policy.
//
// There is exactly one implementation of the timing rules: the admission
// planner and the schedule preview use Plan (expected-value intervals), the
// dispatcher uses the Sample* methods (uniform draws over the same inclusive
// ranges) plus the pause predicates. With min == max the two coincide, which
// is what keeps previews honest.
package pacing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Policy is a compiled pacing policy: HH:MM fields parsed to minute-of-day,
// ranges checked, timezone bound. Compile once, use everywhere.
type Policy struct {
	minInterval int
	maxInterval int

	useBatching   bool
	batchSize     int
	batchPauseMin int
	batchPauseMax int

	businessPause bool
	pauseAtMin    int // minute-of-day sending stops, inclusive
	resumeAtMin   int // minute-of-day sending resumes, exclusive bound of the pause

	auto *autoPause

	loc *time.Location
}

type autoPause struct {
	pauseAtMin int
	resumeAt   time.Time
}

// Compile validates cfg enough to pace with and binds it to loc (nil means
// UTC). Unlike PolicyConfig.Validate it tolerates intervals below the
// admission floor: stored documents predate the floor and tests exercise
// zero-delay policies.
func Compile(cfg domain.PolicyConfig, loc *time.Location) (*Policy, error) {
	if loc == nil {
		loc = time.UTC
	}
	if cfg.MinInterval < 0 {
		return nil, fmt.Errorf("min_interval must not be negative, got %d", cfg.MinInterval)
	}
	if cfg.MaxInterval < cfg.MinInterval {
		return nil, fmt.Errorf("max_interval (%d) below min_interval (%d)", cfg.MaxInterval, cfg.MinInterval)
	}

	p := &Policy{
		minInterval: cfg.MinInterval,
		maxInterval: cfg.MaxInterval,
		loc:         loc,
	}

	if cfg.UseBatching {
		if cfg.BatchSize < 1 {
			return nil, fmt.Errorf("batch_size must be at least 1, got %d", cfg.BatchSize)
		}
		if cfg.BatchPauseMin < 0 || cfg.BatchPauseMax < cfg.BatchPauseMin {
			return nil, fmt.Errorf("invalid batch pause range [%d, %d]", cfg.BatchPauseMin, cfg.BatchPauseMax)
		}
		p.useBatching = true
		p.batchSize = cfg.BatchSize
		p.batchPauseMin = cfg.BatchPauseMin
		p.batchPauseMax = cfg.BatchPauseMax
	}

	if cfg.BusinessHoursStrategy == domain.StrategyPause {
		pauseMin, err := domain.ParseClock(cfg.PauseAt)
		if err != nil {
			return nil, fmt.Errorf("pause_at: %w", err)
		}
		resumeMin, err := domain.ParseClock(cfg.ResumeAt)
		if err != nil {
			return nil, fmt.Errorf("resume_at: %w", err)
		}
		if resumeMin >= pauseMin {
			return nil, fmt.Errorf("business hours window must not span midnight (resume %s, pause %s)", cfg.ResumeAt, cfg.PauseAt)
		}
		p.businessPause = true
		p.pauseAtMin = pauseMin
		p.resumeAtMin = resumeMin
	}

	if cfg.AutomaticPause != nil {
		pauseMin, err := domain.ParseClock(cfg.AutomaticPause.PauseAt)
		if err != nil {
			return nil, fmt.Errorf("automatic_pause.pause_at: %w", err)
		}
		if cfg.AutomaticPause.ResumeAt.IsZero() {
			return nil, fmt.Errorf("automatic_pause.resume_at is required")
		}
		p.auto = &autoPause{pauseAtMin: pauseMin, resumeAt: cfg.AutomaticPause.ResumeAt}
	}

	return p, nil
}

// Plan returns the n expected send instants starting at start.
//
// Per message: add the average interval (first message immediate), add the
// average batch pause on batch boundaries, roll forward out of the business
// pause, then take the one-shot automatic-pause jump and re-check business
// hours. All arithmetic is in whole seconds.
func (p *Policy) Plan(start time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}

	avgInterval := time.Duration((p.minInterval+p.maxInterval)/2) * time.Second
	avgBatchPause := time.Duration((p.batchPauseMin+p.batchPauseMax)/2) * time.Second

	out := make([]time.Time, 0, n)
	cursor := start
	for i := 0; i < n; i++ {
		if i > 0 {
			cursor = cursor.Add(avgInterval)
		}
		if p.useBatching && i > 0 && i%p.batchSize == 0 {
			cursor = cursor.Add(avgBatchPause)
		}
		cursor = p.rollBusinessHours(cursor)
		if p.autoJumpApplies(cursor, start) {
			cursor = p.auto.resumeAt
			cursor = p.rollBusinessHours(cursor)
		}
		out = append(out, cursor)
	}
	return out
}

// End returns the last planned instant, or start itself for an empty campaign.
func (p *Policy) End(start time.Time, n int) time.Time {
	plan := p.Plan(start, n)
	if len(plan) == 0 {
		return start
	}
	return plan[len(plan)-1]
}

// SampleInterval draws the live per-send delay, uniform over
// [minInterval, maxInterval] seconds inclusive.
func (p *Policy) SampleInterval() time.Duration {
	return uniformSeconds(p.minInterval, p.maxInterval)
}

// SampleBatchPause draws the live batch pause, uniform over
// [batchPauseMin, batchPauseMax] seconds inclusive. Zero when batching is off.
func (p *Policy) SampleBatchPause() time.Duration {
	if !p.useBatching {
		return 0
	}
	return uniformSeconds(p.batchPauseMin, p.batchPauseMax)
}

// BatchBoundary reports whether a batch pause is due after sent messages.
// The sent > 0 guard keeps the pause off the very first message and off the
// end of an exactly-full final batch.
func (p *Policy) BatchBoundary(sent int64) bool {
	return p.useBatching && sent > 0 && sent%int64(p.batchSize) == 0
}

// InBusinessPause reports whether t falls in the recurring daily pause:
// minute-of-day >= pauseAt or < resumeAt.
func (p *Policy) InBusinessPause(t time.Time) bool {
	if !p.businessPause {
		return false
	}
	mod := p.minuteOfDay(t)
	return mod >= p.pauseAtMin || mod < p.resumeAtMin
}

// AutoPauseActive reports whether the one-shot pause holds at now for a
// campaign whose run started at start: now is before the resume instant and
// either past the pause time-of-day or on a later day than the start.
func (p *Policy) AutoPauseActive(now, start time.Time) bool {
	return p.autoJumpApplies(now, start)
}

// AutoPauseResumeAt returns the one-shot resume instant, zero when unset.
func (p *Policy) AutoPauseResumeAt() time.Time {
	if p.auto == nil {
		return time.Time{}
	}
	return p.auto.resumeAt
}

func (p *Policy) autoJumpApplies(t, start time.Time) bool {
	if p.auto == nil || !t.Before(p.auto.resumeAt) {
		return false
	}
	return p.minuteOfDay(t) >= p.auto.pauseAtMin || p.dayAfter(t, start)
}

// rollBusinessHours moves t out of the daily pause window: past pauseAt rolls
// to the next day's resume clock, before resumeAt rolls to the same day's.
func (p *Policy) rollBusinessHours(t time.Time) time.Time {
	if !p.businessPause {
		return t
	}
	local := t.In(p.loc)
	mod := local.Hour()*60 + local.Minute()
	switch {
	case mod >= p.pauseAtMin:
		next := local.AddDate(0, 0, 1)
		return p.atClock(next, p.resumeAtMin)
	case mod < p.resumeAtMin:
		return p.atClock(local, p.resumeAtMin)
	default:
		return t
	}
}

// atClock returns day's date at the given minute-of-day in the policy zone.
func (p *Policy) atClock(day time.Time, minuteOfDay int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minuteOfDay/60, minuteOfDay%60, 0, 0, p.loc)
}

func (p *Policy) minuteOfDay(t time.Time) int {
	local := t.In(p.loc)
	return local.Hour()*60 + local.Minute()
}

// dayAfter reports whether t's calendar date is strictly after ref's in the
// policy zone.
func (p *Policy) dayAfter(t, ref time.Time) bool {
	ty, tm, td := t.In(p.loc).Date()
	ry, rm, rd := ref.In(p.loc).Date()
	if ty != ry {
		return ty > ry
	}
	if tm != rm {
		return tm > rm
	}
	return td > rd
}

func uniformSeconds(min, max int) time.Duration {
	if max <= min {
		return time.Duration(min) * time.Second
	}
	return time.Duration(min+rand.Intn(max-min+1)) * time.Second
}
