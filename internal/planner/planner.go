// Package planner decides at admission time whether a candidate campaign's
// estimated send window collides with the owner's existing campaigns.
package planner

import (
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pacing"
)

const (
	// Buffer keeps campaigns apart: windows are padded by this much on both
	// sides before testing for overlap.
	Buffer = 60 * time.Minute
	// SuggestionGap is added after the buffer when proposing a new start.
	SuggestionGap = 5 * time.Minute
)

// Candidate is the campaign being admitted.
type Candidate struct {
	Config domain.PolicyConfig
	Start  time.Time
	Count  int
}

// Window is an existing campaign's claim on the calendar.
type Window struct {
	ID     string
	Name   string
	Config domain.PolicyConfig
	Start  time.Time
	Count  int
}

// Conflict names the first campaign the candidate collides with and the
// earliest start the planner considers safe.
type Conflict struct {
	CampaignID     string    `json:"campaign_id"`
	CampaignName   string    `json:"campaign_name"`
	SuggestedStart time.Time `json:"suggested_start"`
}

// Check estimates the candidate's send window with the pacing calculator and
// compares it against each existing window in order. It returns the first
// conflict found, or nil when the schedule is clear.
//
// Two windows conflict when candidate.end > existing.start − Buffer and
// candidate.start < existing.end + Buffer (both strict). Existing campaigns
// whose stored policy no longer compiles are skipped: they predate admission
// validation and must not block new work.
func Check(candidate Candidate, existing []Window, loc *time.Location) (*Conflict, error) {
	cp, err := pacing.Compile(candidate.Config, loc)
	if err != nil {
		return nil, fmt.Errorf("candidate policy: %w", err)
	}
	candidateStart := candidate.Start
	candidateEnd := cp.End(candidate.Start, candidate.Count)

	for _, w := range existing {
		wp, err := pacing.Compile(w.Config, loc)
		if err != nil {
			continue
		}
		wStart := w.Start
		wEnd := wp.End(w.Start, w.Count)

		if candidateEnd.After(wStart.Add(-Buffer)) && candidateStart.Before(wEnd.Add(Buffer)) {
			return &Conflict{
				CampaignID:     w.ID,
				CampaignName:   w.Name,
				SuggestedStart: wEnd.Add(Buffer + SuggestionGap),
			}, nil
		}
	}
	return nil, nil
}
