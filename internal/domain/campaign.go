package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	// CampaignScheduled is the initial state when scheduled_at is in the future.
	CampaignScheduled CampaignStatus = "scheduled"
	// CampaignPending is the initial state when the campaign should run immediately.
	CampaignPending CampaignStatus = "pending"
	// CampaignProcessing is the persisted state while the dispatcher is driving
	// the campaign, possibly across many worker invocations.
	CampaignProcessing CampaignStatus = "processing"
	// CampaignActive is an alias for processing, written by the resume command.
	// The dispatcher coerces it back to processing on entry.
	CampaignActive   CampaignStatus = "active"
	CampaignPaused   CampaignStatus = "paused"
	CampaignFinished CampaignStatus = "finished"
	CampaignCanceled CampaignStatus = "canceled"
	// CampaignFailed is an administrative terminal state. The dispatcher never
	// produces it; operators use it to abort a campaign by policy.
	CampaignFailed CampaignStatus = "failed"
)

// RunnableCampaignStatuses is the status set the dispatcher selects for.
var RunnableCampaignStatuses = []CampaignStatus{
	CampaignScheduled,
	CampaignPending,
	CampaignProcessing,
	CampaignActive,
}

// Campaign is a batch of messages sharing one pacing policy and schedule.
type Campaign struct {
	ID      string         `json:"id" db:"id"`
	OwnerID string         `json:"owner_id" db:"owner_id"`
	Name    string         `json:"name" db:"name"`
	Status  CampaignStatus `json:"status" db:"status"`

	// TotalMessages is fixed at creation and equals the number of message rows.
	TotalMessages int `json:"total_messages" db:"total_messages"`
	// SentMessages is a monotone counter, incremented only on confirmed sends
	// and reconciled against the sent rows when the campaign finalizes.
	SentMessages int `json:"sent_messages" db:"sent_messages"`
	// ExecutionTime is whole seconds between startedAt and the last dispatcher
	// touch (now − startedAt), refreshed after every run.
	ExecutionTime int64 `json:"execution_time" db:"execution_time_seconds"`

	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at" db:"finished_at"`

	Config PolicyConfig `json:"config" db:"config"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// IsTerminal returns true for states no command or dispatcher entry may leave.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignFinished || s == CampaignCanceled || s == CampaignFailed
}

// IsRunnable reports whether the dispatcher may pick the campaign up.
func (s CampaignStatus) IsRunnable() bool {
	switch s {
	case CampaignScheduled, CampaignPending, CampaignProcessing, CampaignActive:
		return true
	}
	return false
}

// CanTransition is the authority on legal campaign status transitions.
// Self-transitions are legal wherever the target state is reachable at all;
// the pause/resume/cancel commands are idempotent.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	if s.IsTerminal() {
		// Re-canceling a canceled campaign is tolerated as a no-op elsewhere;
		// no terminal state has outgoing edges.
		return false
	}
	switch to {
	case CampaignProcessing:
		return s == CampaignScheduled || s == CampaignPending || s == CampaignActive || s == CampaignProcessing
	case CampaignPaused:
		return true
	case CampaignActive:
		return s == CampaignPaused || s == CampaignActive || s == CampaignProcessing
	case CampaignCanceled, CampaignFailed:
		return true
	case CampaignFinished:
		return s == CampaignProcessing || s == CampaignActive
	case CampaignPending, CampaignScheduled:
		// Initial states are assigned at creation only. Retry-message reopening
		// a finished campaign is an administrative reset in the service layer,
		// not a state-machine edge.
		return false
	}
	return false
}
