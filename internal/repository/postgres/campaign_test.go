package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func campaignRows(t *testing.T, c domain.Campaign) *sqlmock.Rows {
	t.Helper()
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return sqlmock.NewRows([]string{
		"id", "owner_id", "name", "status", "total_messages", "sent_messages",
		"execution_time_seconds", "scheduled_at", "started_at", "finished_at", "config", "created_at",
	}).AddRow(
		c.ID, c.OwnerID, c.Name, string(c.Status), c.TotalMessages, c.SentMessages,
		c.ExecutionTime, c.ScheduledAt, c.StartedAt, c.FinishedAt, cfg, c.CreatedAt,
	)
}

func TestGetCampaign(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	want := domain.Campaign{
		ID:            "c1",
		OwnerID:       "o1",
		Name:          "Promo",
		Status:        domain.CampaignPending,
		TotalMessages: 10,
		ScheduledAt:   time.Now().UTC(),
		Config:        domain.PolicyConfig{MinInterval: 5, MaxInterval: 5, BusinessHoursStrategy: domain.StrategyIgnore},
		CreatedAt:     time.Now().UTC(),
	}
	mock.ExpectQuery("SELECT (.+) FROM campaigns").
		WithArgs("c1").
		WillReturnRows(campaignRows(t, want))

	repo := NewCampaignRepo(db)
	got, err := repo.GetCampaign(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if got.Name != want.Name || got.Status != want.Status {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Config.MinInterval != 5 {
		t.Errorf("config not decoded: %+v", got.Config)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM campaigns").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	repo := NewCampaignRepo(db)
	_, err := repo.GetCampaign(context.Background(), "missing")
	if !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkProcessingGuard(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)
	now := time.Now().UTC()

	started := now.Add(-time.Minute)
	mock.ExpectQuery("UPDATE campaigns").
		WithArgs("c1", now).
		WillReturnRows(sqlmock.NewRows([]string{"started_at"}).AddRow(started))

	got, err := repo.MarkProcessing(context.Background(), "c1", now)
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if got == nil || !got.Equal(started) {
		t.Fatalf("expected started_at %v, got %v", started, got)
	}

	// Guard miss: campaign was paused under us.
	mock.ExpectQuery("UPDATE campaigns").
		WithArgs("c2", now).
		WillReturnError(sql.ErrNoRows)

	got, err = repo.MarkProcessing(context.Background(), "c2", now)
	if err != nil {
		t.Fatalf("MarkProcessing on miss: %v", err)
	}
	if got != nil {
		t.Fatalf("guard miss must return nil, got %v", got)
	}
}

func TestClaimNextMessage(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery("WITH next AS").
		WithArgs("c1", now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "recipient_id", "name", "phone", "message_body", "sent_at",
		}).AddRow("m1", "c1", "r1", "Ana", "+5511987654321", "hello", now))

	cm, err := repo.ClaimNextMessage(context.Background(), "c1", now)
	if err != nil {
		t.Fatalf("ClaimNextMessage: %v", err)
	}
	if cm.MessageID != "m1" || cm.Phone != "+5511987654321" {
		t.Errorf("unexpected claim %+v", cm)
	}
}

func TestClaimNextMessageEmpty(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery("WITH next AS").
		WithArgs("c1", now).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.ClaimNextMessage(context.Background(), "c1", now)
	if !errors.Is(err, campaign.ErrNoWaitingMessages) {
		t.Fatalf("expected ErrNoWaitingMessages, got %v", err)
	}
}

func TestRetryMessageCAS(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectExec("UPDATE campaign_messages").
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	retried, err := repo.RetryMessage(context.Background(), "m1")
	if err != nil || !retried {
		t.Fatalf("expected retried=true, got %v, %v", retried, err)
	}

	// Not in failed: zero rows affected, no error.
	mock.ExpectExec("UPDATE campaign_messages").
		WithArgs("m2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	retried, err = repo.RetryMessage(context.Background(), "m2")
	if err != nil || retried {
		t.Fatalf("expected retried=false, got %v, %v", retried, err)
	}
}

func TestCancelCampaignTransaction(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE campaigns").
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaign_messages").
		WithArgs("c1", "campaign canceled").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	if err := repo.CancelCampaign(context.Background(), "c1", "campaign canceled"); err != nil {
		t.Fatalf("CancelCampaign: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCancelTerminalCampaignRollsBack(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE campaigns").
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CancelCampaign(context.Background(), "c1", "campaign canceled")
	if !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCountMessages(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("SELECT(.+)FROM campaign_messages").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"waiting", "sending", "sent", "failed"}).
			AddRow(3, 1, 5, 2))

	counts, err := repo.CountMessages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if counts.Total() != 11 || counts.Unresolved() != 4 {
		t.Errorf("unexpected counts %+v", counts)
	}
}

func TestLastSentAtNone(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("SELECT MAX").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	last, err := repo.LastSentAt(context.Background(), "c1")
	if err != nil {
		t.Fatalf("LastSentAt: %v", err)
	}
	if !last.IsZero() {
		t.Fatalf("expected zero time, got %v", last)
	}
}

func TestSweepStaleSending(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)
	cutoff := time.Now().Add(-5 * time.Minute)

	mock.ExpectExec("UPDATE campaign_messages").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.SweepStaleSending(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("SweepStaleSending: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 swept rows, got %d", n)
	}
}
