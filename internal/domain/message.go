package domain

import (
	"time"
)

// MessageStatus enumerates the lifecycle of a single campaign message.
type MessageStatus string

const (
	MessageWaiting MessageStatus = "waiting"
	MessageSending MessageStatus = "sending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// CanTransition is the authority on legal message status transitions.
// waiting → sending is the claim; sending reaches sent or failed; the retry
// command resets failed → waiting and nothing else.
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	switch s {
	case MessageWaiting:
		// The janitor may also fail a waiting row when its campaign is canceled.
		return to == MessageSending || to == MessageFailed
	case MessageSending:
		return to == MessageSent || to == MessageFailed || to == MessageWaiting
	case MessageFailed:
		return to == MessageWaiting
	}
	return false
}

// Message is the per-recipient unit of work: the smallest claim/commit unit.
type Message struct {
	ID          string        `json:"id" db:"id"`
	CampaignID  string        `json:"campaign_id" db:"campaign_id"`
	RecipientID string        `json:"recipient_id" db:"recipient_id"`
	Status      MessageStatus `json:"status" db:"status"`

	// ErrorMessage holds the truncated failure reason; null on waiting/sent rows.
	ErrorMessage *string `json:"error_message" db:"error_message"`
	// SentAt is provisional at claim time, authoritative after a confirmed
	// send, and retained as the attempt time on failed rows.
	SentAt *time.Time `json:"sent_at" db:"sent_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Recipient is read-only to the scheduler; ingestion populates it upstream.
type Recipient struct {
	ID          string    `json:"id" db:"id"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	Name        string    `json:"name" db:"name"`
	Phone       string    `json:"phone" db:"phone"`
	MessageBody string    `json:"message_body" db:"message_body"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ClaimedMessage is a message joined with its recipient, as returned by the
// store's atomic claim. It carries everything one send attempt needs.
type ClaimedMessage struct {
	MessageID   string    `json:"message_id"`
	CampaignID  string    `json:"campaign_id"`
	RecipientID string    `json:"recipient_id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	MessageBody string    `json:"message_body"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

// MessageCounts summarizes a campaign's delivery queue by status.
type MessageCounts struct {
	Waiting int `json:"waiting"`
	Sending int `json:"sending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Total returns the number of message rows in the campaign.
func (c MessageCounts) Total() int { return c.Waiting + c.Sending + c.Sent + c.Failed }

// Unresolved returns the rows that may still produce a delivery. A campaign
// finalizes when this reaches zero.
func (c MessageCounts) Unresolved() int { return c.Waiting + c.Sending }
