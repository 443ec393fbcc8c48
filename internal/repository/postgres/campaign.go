package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
//
// Concurrency contract: claims use FOR UPDATE SKIP LOCKED so overlapping
// workers never hand the same message to two senders, and all status
// transitions are guarded single statements.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, owner_id, name, status, total_messages, sent_messages,
	       execution_time_seconds, scheduled_at, started_at, finished_at, config, created_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var cfg []byte
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.Status, &c.TotalMessages, &c.SentMessages,
		&c.ExecutionTime, &c.ScheduledAt, &c.StartedAt, &c.FinishedAt, &cfg, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c.Config); err != nil {
			return nil, fmt.Errorf("decode config for campaign %s: %w", c.ID, err)
		}
	}
	c.Config.ApplyDefaults()
	return c, nil
}

func (r *CampaignRepo) CreateCampaign(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient, messages []domain.Message) error {
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, owner_id, name, status, total_messages, sent_messages,
			 execution_time_seconds, scheduled_at, config, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7, $8)
	`, c.ID, c.OwnerID, c.Name, c.Status, c.TotalMessages, c.ScheduledAt, cfg, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	for i := range recipients {
		rec := &recipients[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recipients (id, owner_id, name, phone, message_body, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, rec.ID, rec.OwnerID, rec.Name, rec.Phone, rec.MessageBody, rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert recipient %s: %w", rec.ID, err)
		}
	}

	for i := range messages {
		m := &messages[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO campaign_messages (id, campaign_id, recipient_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, m.ID, m.CampaignID, m.RecipientID, m.Status, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) ListCampaignsByOwner(ctx context.Context, ownerID string) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

func (r *CampaignRepo) ListEligible(ctx context.Context, now time.Time, campaignID string) ([]domain.Campaign, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if campaignID != "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+campaignColumns+`
			FROM campaigns
			WHERE id = $1 AND status IN ('scheduled','pending','processing','active')
		`, campaignID)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+campaignColumns+`
			FROM campaigns
			WHERE status IN ('scheduled','pending','processing','active')
			  AND scheduled_at <= $1
			ORDER BY scheduled_at ASC
		`, now)
	}
	if err != nil {
		return nil, fmt.Errorf("list eligible campaigns: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

func collectCampaigns(rows *sql.Rows) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return out, nil
}

func (r *CampaignRepo) ReadStatus(ctx context.Context, id string) (domain.CampaignStatus, error) {
	var status domain.CampaignStatus
	err := r.db.QueryRowContext(ctx, `
		SELECT status FROM campaigns WHERE id = $1
	`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", campaign.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return status, nil
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1 WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// MarkProcessing is the guarded dispatcher entry. The status predicate makes
// it race-safe against concurrent pause/cancel: if the guard misses, the row
// was changed underneath us and the caller skips the campaign.
func (r *CampaignRepo) MarkProcessing(ctx context.Context, id string, now time.Time) (*time.Time, error) {
	var startedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		UPDATE campaigns
		SET status = 'processing', started_at = COALESCE(started_at, $2)
		WHERE id = $1 AND status IN ('scheduled','pending','processing','active')
		RETURNING started_at
	`, id, now).Scan(&startedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	return &startedAt, nil
}

func (r *CampaignRepo) FinalizeCampaign(ctx context.Context, id string, sentCount int, finishedAt time.Time, executionSeconds int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'finished', sent_messages = $2, finished_at = $3,
		    execution_time_seconds = $4
		WHERE id = $1
	`, id, sentCount, finishedAt, executionSeconds)
	if err != nil {
		return fmt.Errorf("finalize campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) UpdateExecutionTime(ctx context.Context, id string, seconds int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET execution_time_seconds = $1 WHERE id = $2
	`, seconds, id)
	if err != nil {
		return fmt.Errorf("update execution time: %w", err)
	}
	return nil
}

func (r *CampaignRepo) IncrementSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET sent_messages = sent_messages + 1 WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("increment sent: %w", err)
	}
	return nil
}

func (r *CampaignRepo) CancelCampaign(ctx context.Context, id string, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET status = 'canceled'
		WHERE id = $1 AND status NOT IN ('finished','canceled','failed')
	`, id)
	if err != nil {
		return fmt.Errorf("cancel campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}

	// In-flight sending rows are left for their worker to commit; the
	// dispatcher re-reads the status before claiming again.
	_, err = tx.ExecContext(ctx, `
		UPDATE campaign_messages
		SET status = 'failed', error_message = $2
		WHERE campaign_id = $1 AND status = 'waiting'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("fail waiting messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}
	return nil
}

func (r *CampaignRepo) ReopenCampaign(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'pending', finished_at = NULL
		WHERE id = $1 AND status = 'finished'
	`, id)
	if err != nil {
		return fmt.Errorf("reopen campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// ClaimNextMessage moves the oldest waiting message to sending and returns it
// joined with its recipient. SKIP LOCKED keeps concurrent claimers from
// blocking on each other's row.
func (r *CampaignRepo) ClaimNextMessage(ctx context.Context, campaignID string, now time.Time) (*domain.ClaimedMessage, error) {
	cm := &domain.ClaimedMessage{}
	err := r.db.QueryRowContext(ctx, `
		WITH next AS (
			SELECT id FROM campaign_messages
			WHERE campaign_id = $1 AND status = 'waiting'
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		), claimed AS (
			UPDATE campaign_messages m
			SET status = 'sending', sent_at = $2
			FROM next
			WHERE m.id = next.id
			RETURNING m.id, m.campaign_id, m.recipient_id, m.sent_at
		)
		SELECT c.id, c.campaign_id, c.recipient_id, r.name, r.phone, r.message_body, c.sent_at
		FROM claimed c
		JOIN recipients r ON r.id = c.recipient_id
	`, campaignID, now).Scan(
		&cm.MessageID, &cm.CampaignID, &cm.RecipientID,
		&cm.Name, &cm.Phone, &cm.MessageBody, &cm.ClaimedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNoWaitingMessages
	}
	if err != nil {
		return nil, fmt.Errorf("claim message: %w", err)
	}
	return cm, nil
}

func (r *CampaignRepo) MarkMessageSent(ctx context.Context, messageID string, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_messages
		SET status = 'sent', sent_at = $2, error_message = NULL
		WHERE id = $1
	`, messageID, sentAt)
	if err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrMessageNotFound
	}
	return nil
}

func (r *CampaignRepo) MarkMessageFailed(ctx context.Context, messageID string, errorMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_messages
		SET status = 'failed', error_message = $2
		WHERE id = $1
	`, messageID, errorMsg)
	if err != nil {
		return fmt.Errorf("mark message failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrMessageNotFound
	}
	return nil
}

func (r *CampaignRepo) ReleaseMessage(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_messages
		SET status = 'waiting', sent_at = NULL, error_message = NULL
		WHERE id = $1 AND status = 'sending'
	`, messageID)
	if err != nil {
		return fmt.Errorf("release message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrMessageNotFound
	}
	return nil
}

func (r *CampaignRepo) RetryMessage(ctx context.Context, messageID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_messages
		SET status = 'waiting', error_message = NULL, sent_at = NULL
		WHERE id = $1 AND status = 'failed'
	`, messageID)
	if err != nil {
		return false, fmt.Errorf("retry message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CampaignRepo) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, recipient_id, status, error_message, sent_at, created_at
		FROM campaign_messages
		WHERE id = $1
	`, messageID).Scan(
		&m.ID, &m.CampaignID, &m.RecipientID, &m.Status, &m.ErrorMessage, &m.SentAt, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *CampaignRepo) ListMessages(ctx context.Context, campaignID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, recipient_id, status, error_message, sent_at, created_at
		FROM campaign_messages
		WHERE campaign_id = $1
		ORDER BY created_at, id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.ID, &m.CampaignID, &m.RecipientID, &m.Status, &m.ErrorMessage, &m.SentAt, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (r *CampaignRepo) CountMessages(ctx context.Context, campaignID string) (domain.MessageCounts, error) {
	var counts domain.MessageCounts
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'waiting'),
			COUNT(*) FILTER (WHERE status = 'sending'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM campaign_messages
		WHERE campaign_id = $1
	`, campaignID).Scan(&counts.Waiting, &counts.Sending, &counts.Sent, &counts.Failed)
	if err != nil {
		return domain.MessageCounts{}, fmt.Errorf("count messages: %w", err)
	}
	return counts, nil
}

func (r *CampaignRepo) LastSentAt(ctx context.Context, campaignID string) (time.Time, error) {
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(sent_at) FROM campaign_messages WHERE campaign_id = $1
	`, campaignID).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("last sent at: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time, nil
}

func (r *CampaignRepo) SweepStaleSending(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_messages
		SET status = 'waiting', sent_at = NULL, error_message = NULL
		WHERE status = 'sending' AND sent_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("sweep stale sending: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
