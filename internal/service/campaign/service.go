package campaign

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pacing"
	"github.com/ignite/campaign-dispatch/internal/planner"
)

// Service implements the operator commands: create with admission check,
// pause, resume, cancel, and per-message retry. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo      Repository
	loc       *time.Location
	templates *liquid.Engine

	// dispatchHook, when set, is called with the campaign id after a
	// successful create so the first dispatcher run starts immediately.
	dispatchHook func(campaignID string)
}

// NewService creates a campaign service backed by the given repository.
// Policy clock fields (HH:MM) are interpreted in loc; nil means UTC.
func NewService(repo Repository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	engine := liquid.NewEngine()
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" {
			return defaultVal
		}
		return value
	})
	return &Service{repo: repo, loc: loc, templates: engine}
}

// SetDispatchHook installs the callback that kicks an immediate dispatcher
// run after create. The hook must not block.
func (s *Service) SetDispatchHook(fn func(campaignID string)) { s.dispatchHook = fn }

// RecipientInput is one row of the campaign's audience. MessageBody is
// optional when the campaign carries a template.
type RecipientInput struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	MessageBody string `json:"message_body"`
}

// CreateInput holds the fields for admitting a new campaign.
type CreateInput struct {
	OwnerID     string              `json:"owner_id"`
	Name        string              `json:"name"`
	ScheduledAt time.Time           `json:"scheduled_at"`
	Config      domain.PolicyConfig `json:"config"`
	// MessageTemplate is an optional liquid template rendered per recipient
	// when the recipient has no explicit body. Bindings: name, phone.
	MessageTemplate string           `json:"message_template"`
	Recipients      []RecipientInput `json:"recipients"`
}

// Create validates the policy, runs the admission check against the owner's
// extant campaigns, renders per-recipient bodies, and persists the campaign
// with its waiting messages. On success the dispatch hook fires so delivery
// starts without waiting for the next poll.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if input.OwnerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	cfg := input.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	now := time.Now().UTC()
	scheduledAt := input.ScheduledAt
	status := domain.CampaignScheduled
	if scheduledAt.IsZero() || !scheduledAt.After(now) {
		scheduledAt = now
		status = domain.CampaignPending
	}

	conflict, err := s.checkConflict(ctx, input.OwnerID, cfg, scheduledAt, len(input.Recipients), "")
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return nil, &ConflictError{Conflict: *conflict}
	}

	for i, rec := range input.Recipients {
		if rec.Phone == "" {
			return nil, fmt.Errorf("recipient %d: phone is required", i)
		}
		if rec.MessageBody == "" && input.MessageTemplate == "" {
			return nil, fmt.Errorf("recipient %d: message_body is required without a campaign template", i)
		}
	}

	c := &domain.Campaign{
		ID:            uuid.New().String(),
		OwnerID:       input.OwnerID,
		Name:          input.Name,
		Status:        status,
		TotalMessages: len(input.Recipients),
		ScheduledAt:   scheduledAt,
		Config:        cfg,
		CreatedAt:     now,
	}

	recipients := make([]domain.Recipient, 0, len(input.Recipients))
	messages := make([]domain.Message, 0, len(input.Recipients))
	for _, rec := range input.Recipients {
		body := rec.MessageBody
		if body == "" {
			rendered, err := s.renderBody(input.MessageTemplate, rec)
			if err != nil {
				return nil, fmt.Errorf("render template for %s: %w", rec.Name, err)
			}
			body = rendered
		}
		r := domain.Recipient{
			ID:          uuid.New().String(),
			OwnerID:     input.OwnerID,
			Name:        rec.Name,
			Phone:       rec.Phone,
			MessageBody: body,
			CreatedAt:   now,
		}
		recipients = append(recipients, r)
		messages = append(messages, domain.Message{
			ID:          uuid.New().String(),
			CampaignID:  c.ID,
			RecipientID: r.ID,
			Status:      domain.MessageWaiting,
			CreatedAt:   now,
		})
	}

	if err := s.repo.CreateCampaign(ctx, c, recipients, messages); err != nil {
		return nil, fmt.Errorf("persist campaign: %w", err)
	}

	log.Printf("[campaign.Service] Created campaign %s (%q, %d recipients, status=%s)",
		c.ID, c.Name, c.TotalMessages, c.Status)

	if s.dispatchHook != nil {
		s.dispatchHook(c.ID)
	}
	return c, nil
}

func (s *Service) renderBody(template string, rec RecipientInput) (string, error) {
	bindings := map[string]interface{}{
		"name":  rec.Name,
		"phone": rec.Phone,
	}
	out, err := s.templates.ParseAndRenderString(template, bindings)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.GetCampaign(ctx, id)
}

// List returns an owner's campaigns, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]domain.Campaign, error) {
	return s.repo.ListCampaignsByOwner(ctx, ownerID)
}

// Messages returns the campaign's message rows for operator inspection.
func (s *Service) Messages(ctx context.Context, campaignID string) ([]domain.Message, error) {
	if _, err := s.repo.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, campaignID)
}

// Pause sets the campaign to paused. Idempotent: pausing a paused campaign
// succeeds. The dispatcher observes the status no later than its next claim.
func (s *Service) Pause(ctx context.Context, id string) error {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignPaused {
		return nil
	}
	if !c.Status.CanTransition(domain.CampaignPaused) {
		return fmt.Errorf("pause %s from %s: %w", id, c.Status, ErrInvalidTransition)
	}
	return s.repo.UpdateStatus(ctx, id, domain.CampaignPaused)
}

// Resume sets the campaign to active; the dispatcher coerces it back to
// processing on its next entry. Idempotent.
func (s *Service) Resume(ctx context.Context, id string) error {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignActive || c.Status == domain.CampaignProcessing {
		return nil
	}
	if !c.Status.CanTransition(domain.CampaignActive) {
		return fmt.Errorf("resume %s from %s: %w", id, c.Status, ErrInvalidTransition)
	}
	return s.repo.UpdateStatus(ctx, id, domain.CampaignActive)
}

// Cancel terminally stops the campaign. Remaining waiting messages are
// failed so the terminal invariant (no waiting/sending rows) holds once any
// in-flight send commits. Re-canceling is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) error {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignCanceled {
		return nil
	}
	if !c.Status.CanTransition(domain.CampaignCanceled) {
		return fmt.Errorf("cancel %s from %s: %w", id, c.Status, ErrInvalidTransition)
	}
	return s.repo.CancelCampaign(ctx, id, "campaign canceled")
}

// RetryMessage resets a failed message to waiting. Any other source state is
// a no-op. Retrying into a canceled campaign is rejected; retrying into a
// finished one reopens it so the next trigger picks the message up.
func (s *Service) RetryMessage(ctx context.Context, messageID string) error {
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	c, err := s.repo.GetCampaign(ctx, m.CampaignID)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignCanceled {
		return fmt.Errorf("retry message %s: %w", messageID, ErrCampaignCanceled)
	}

	retried, err := s.repo.RetryMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("retry message %s: %w", messageID, err)
	}
	if !retried {
		// Not failed; nothing to do.
		return nil
	}
	if c.Status == domain.CampaignFinished {
		if err := s.repo.ReopenCampaign(ctx, c.ID); err != nil {
			return fmt.Errorf("reopen campaign %s: %w", c.ID, err)
		}
		log.Printf("[campaign.Service] Campaign %s reopened for retried message %s", c.ID, messageID)
	}
	return nil
}

// Preview returns the expected send instants for a policy without
// persisting anything. Shares the pacing calculator with the dispatcher, so
// with min == max the preview matches execution to within send latency.
func (s *Service) Preview(cfg domain.PolicyConfig, start time.Time, n int) ([]time.Time, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	p, err := pacing.Compile(cfg, s.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return p.Plan(start, n), nil
}

// CheckConflict runs the admission planner for a candidate schedule without
// persisting. A nil conflict means the slot is clear.
func (s *Service) CheckConflict(ctx context.Context, ownerID string, cfg domain.PolicyConfig, start time.Time, n int) (*planner.Conflict, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return s.checkConflict(ctx, ownerID, cfg, start, n, "")
}

// plannerStatuses are the campaigns that still own their calendar window.
// Paused campaigns count: they resume.
var plannerStatuses = map[domain.CampaignStatus]bool{
	domain.CampaignScheduled:  true,
	domain.CampaignPending:    true,
	domain.CampaignProcessing: true,
	domain.CampaignActive:     true,
	domain.CampaignPaused:     true,
}

func (s *Service) checkConflict(ctx context.Context, ownerID string, cfg domain.PolicyConfig, start time.Time, n int, excludeID string) (*planner.Conflict, error) {
	existing, err := s.repo.ListCampaignsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	windows := make([]planner.Window, 0, len(existing))
	for _, c := range existing {
		if c.ID == excludeID || !plannerStatuses[c.Status] {
			continue
		}
		windows = append(windows, planner.Window{
			ID:     c.ID,
			Name:   c.Name,
			Config: c.Config,
			Start:  c.ScheduledAt,
			Count:  c.TotalMessages,
		})
	}
	return planner.Check(planner.Candidate{Config: cfg, Start: start, Count: n}, windows, s.loc)
}
