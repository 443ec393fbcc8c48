package campaign

import (
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatch/internal/planner"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrScheduleConflict  = errors.New("schedule conflict")
	ErrCampaignCanceled  = errors.New("campaign is canceled")
	ErrNoWaitingMessages = errors.New("no waiting messages")
)

// ConflictError carries the admission planner's verdict when a new schedule
// would crowd an existing campaign. errors.Is(err, ErrScheduleConflict)
// matches it.
type ConflictError struct {
	Conflict planner.Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schedule conflicts with campaign %s (%s); next free slot %s",
		e.Conflict.CampaignID, e.Conflict.CampaignName,
		e.Conflict.SuggestedStart.Format(time.RFC3339))
}

// Is makes the wrapped sentinel matchable without losing the payload.
func (e *ConflictError) Is(target error) bool { return target == ErrScheduleConflict }
