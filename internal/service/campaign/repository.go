package campaign

import (
	"context"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Repository is the store contract shared by the command service and the
// dispatcher. Implementations must be safe for concurrent use: the claim,
// the retry reset and the sent counter are the coordination points between
// overlapping worker invocations.
//
// The reference implementation lives in repository/postgres/.
type Repository interface {
	// CreateCampaign persists a campaign together with its recipients and
	// their waiting messages in one transaction.
	CreateCampaign(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient, messages []domain.Message) error

	// GetCampaign returns a single campaign. Returns ErrNotFound if it
	// doesn't exist.
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)

	// ListCampaignsByOwner returns all of an owner's campaigns, newest first.
	ListCampaignsByOwner(ctx context.Context, ownerID string) ([]domain.Campaign, error)

	// ListEligible returns campaigns the dispatcher may run: runnable status
	// and scheduled_at <= now. A non-empty campaignID restricts the scan to
	// that campaign and skips the scheduled_at filter.
	ListEligible(ctx context.Context, now time.Time, campaignID string) ([]domain.Campaign, error)

	// ReadStatus is the atomic status read the dispatcher performs between
	// sends so operator commands take effect mid-loop.
	ReadStatus(ctx context.Context, id string) (domain.CampaignStatus, error)

	// UpdateStatus writes the campaign status unconditionally.
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error

	// MarkProcessing is the guarded entry transition: scheduled/pending/active
	// rows become processing and started_at is set once. Returns the effective
	// start instant, or nil when the guard missed (the status changed
	// underneath us).
	MarkProcessing(ctx context.Context, id string, now time.Time) (*time.Time, error)

	// FinalizeCampaign reconciles sent_messages to the actual sent count and
	// stamps the terminal bookkeeping in one statement.
	FinalizeCampaign(ctx context.Context, id string, sentCount int, finishedAt time.Time, executionSeconds int64) error

	// UpdateExecutionTime refreshes the accumulated active seconds after a
	// run that did not finalize.
	UpdateExecutionTime(ctx context.Context, id string, seconds int64) error

	// IncrementSent bumps sent_messages by one, atomic across workers.
	IncrementSent(ctx context.Context, id string) error

	// CancelCampaign flips the campaign to canceled and fails its remaining
	// waiting messages with the given reason, transactionally. In-flight
	// sending rows are left for their worker to commit.
	CancelCampaign(ctx context.Context, id string, reason string) error

	// ReopenCampaign resets a finished campaign to pending and clears
	// finished_at, so a retried message gets picked up again.
	ReopenCampaign(ctx context.Context, id string) error

	// ClaimNextMessage atomically moves one waiting message of the campaign
	// to sending with a provisional sent_at, returning it joined with its
	// recipient. Returns ErrNoWaitingMessages when nothing is claimable.
	ClaimNextMessage(ctx context.Context, campaignID string, now time.Time) (*domain.ClaimedMessage, error)

	// MarkMessageSent commits a confirmed send: status sent, authoritative
	// sent_at, error cleared.
	MarkMessageSent(ctx context.Context, messageID string, sentAt time.Time) error

	// MarkMessageFailed commits a failed send: status failed, the claim-time
	// sent_at kept, errorMsg recorded (pre-truncated by the caller).
	MarkMessageFailed(ctx context.Context, messageID string, errorMsg string) error

	// ReleaseMessage returns a claimed message to waiting with its claim
	// fields cleared, as if it had never been picked up.
	ReleaseMessage(ctx context.Context, messageID string) error

	// RetryMessage is the failed -> waiting CAS, clearing error_message and
	// sent_at. Returns false when the message was not in failed.
	RetryMessage(ctx context.Context, messageID string) (bool, error)

	// GetMessage returns a single message row. Returns ErrMessageNotFound if
	// it doesn't exist.
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)

	// ListMessages returns the campaign's message rows in creation order.
	ListMessages(ctx context.Context, campaignID string) ([]domain.Message, error)

	// CountMessages returns the campaign's per-status message counts.
	CountMessages(ctx context.Context, campaignID string) (domain.MessageCounts, error)

	// LastSentAt returns the most recent non-null sent_at across the
	// campaign's messages, or the zero time when none exists.
	LastSentAt(ctx context.Context, campaignID string) (time.Time, error)

	// SweepStaleSending resets sending rows whose provisional sent_at is older
	// than the threshold back to waiting, returning the swept count. Run by
	// the janitor to recover rows orphaned by crashed workers.
	SweepStaleSending(ctx context.Context, olderThan time.Time) (int, error)
}
