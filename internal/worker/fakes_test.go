package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// fakeStore is an in-memory campaign.Repository for dispatcher tests.
type fakeStore struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	recipients map[string]*domain.Recipient
	messages   []*domain.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns:  make(map[string]*domain.Campaign),
		recipients: make(map[string]*domain.Recipient),
	}
}

// seedCampaign adds a campaign with n waiting messages and returns it.
func (f *fakeStore) seedCampaign(id string, n int, cfg domain.PolicyConfig, status domain.CampaignStatus) *domain.Campaign {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	c := &domain.Campaign{
		ID:            id,
		OwnerID:       "owner-1",
		Name:          "Campaign " + id,
		Status:        status,
		TotalMessages: n,
		ScheduledAt:   now.Add(-time.Minute),
		Config:        cfg,
		CreatedAt:     now,
	}
	f.campaigns[id] = c
	for i := 0; i < n; i++ {
		rid := fmt.Sprintf("%s-r%d", id, i)
		f.recipients[rid] = &domain.Recipient{
			ID:          rid,
			OwnerID:     c.OwnerID,
			Name:        fmt.Sprintf("Recipient %d", i),
			Phone:       fmt.Sprintf("+55119%07d", i),
			MessageBody: "hello",
			CreatedAt:   now,
		}
		f.messages = append(f.messages, &domain.Message{
			ID:          fmt.Sprintf("%s-m%d", id, i),
			CampaignID:  id,
			RecipientID: rid,
			Status:      domain.MessageWaiting,
			CreatedAt:   now,
		})
	}
	return c
}

func (f *fakeStore) message(id string) *domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (f *fakeStore) CreateCampaign(_ context.Context, c *domain.Campaign, recipients []domain.Recipient, messages []domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.campaigns[cp.ID] = &cp
	for i := range recipients {
		r := recipients[i]
		f.recipients[r.ID] = &r
	}
	for i := range messages {
		m := messages[i]
		f.messages = append(f.messages, &m)
	}
	return nil
}

func (f *fakeStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListCampaignsByOwner(_ context.Context, ownerID string) ([]domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Campaign
	for _, c := range f.campaigns {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) ListEligible(_ context.Context, now time.Time, campaignID string) ([]domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Campaign
	for _, c := range f.campaigns {
		if campaignID != "" {
			if c.ID == campaignID && c.Status.IsRunnable() {
				out = append(out, *c)
			}
			continue
		}
		if c.Status.IsRunnable() && !c.ScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) ReadStatus(_ context.Context, id string) (domain.CampaignStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return "", campaign.ErrNotFound
	}
	return c.Status, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.Status = status
	return nil
}

func (f *fakeStore) MarkProcessing(_ context.Context, id string, now time.Time) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	if !c.Status.IsRunnable() {
		return nil, nil
	}
	c.Status = domain.CampaignProcessing
	if c.StartedAt == nil {
		t := now
		c.StartedAt = &t
	}
	started := *c.StartedAt
	return &started, nil
}

func (f *fakeStore) FinalizeCampaign(_ context.Context, id string, sentCount int, finishedAt time.Time, executionSeconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.Status = domain.CampaignFinished
	c.SentMessages = sentCount
	fin := finishedAt
	c.FinishedAt = &fin
	c.ExecutionTime = executionSeconds
	return nil
}

func (f *fakeStore) UpdateExecutionTime(_ context.Context, id string, seconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.ExecutionTime = seconds
	return nil
}

func (f *fakeStore) IncrementSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.SentMessages++
	return nil
}

func (f *fakeStore) CancelCampaign(_ context.Context, id string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.Status = domain.CampaignCanceled
	for _, m := range f.messages {
		if m.CampaignID == id && m.Status == domain.MessageWaiting {
			m.Status = domain.MessageFailed
			r := reason
			m.ErrorMessage = &r
		}
	}
	return nil
}

func (f *fakeStore) ReopenCampaign(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.Status = domain.CampaignPending
	c.FinishedAt = nil
	return nil
}

func (f *fakeStore) ClaimNextMessage(_ context.Context, campaignID string, now time.Time) (*domain.ClaimedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.CampaignID != campaignID || m.Status != domain.MessageWaiting {
			continue
		}
		m.Status = domain.MessageSending
		t := now
		m.SentAt = &t
		rec := f.recipients[m.RecipientID]
		return &domain.ClaimedMessage{
			MessageID:   m.ID,
			CampaignID:  m.CampaignID,
			RecipientID: m.RecipientID,
			Name:        rec.Name,
			Phone:       rec.Phone,
			MessageBody: rec.MessageBody,
			ClaimedAt:   now,
		}, nil
	}
	return nil, campaign.ErrNoWaitingMessages
}

func (f *fakeStore) MarkMessageSent(_ context.Context, messageID string, sentAt time.Time) error {
	m := f.message(messageID)
	if m == nil {
		return campaign.ErrMessageNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m.Status = domain.MessageSent
	t := sentAt
	m.SentAt = &t
	m.ErrorMessage = nil
	return nil
}

func (f *fakeStore) MarkMessageFailed(_ context.Context, messageID string, errorMsg string) error {
	m := f.message(messageID)
	if m == nil {
		return campaign.ErrMessageNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m.Status = domain.MessageFailed
	e := errorMsg
	m.ErrorMessage = &e
	return nil
}

func (f *fakeStore) ReleaseMessage(_ context.Context, messageID string) error {
	m := f.message(messageID)
	if m == nil {
		return campaign.ErrMessageNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m.Status = domain.MessageWaiting
	m.SentAt = nil
	m.ErrorMessage = nil
	return nil
}

func (f *fakeStore) RetryMessage(_ context.Context, messageID string) (bool, error) {
	m := f.message(messageID)
	if m == nil {
		return false, campaign.ErrMessageNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.Status != domain.MessageFailed {
		return false, nil
	}
	m.Status = domain.MessageWaiting
	m.SentAt = nil
	m.ErrorMessage = nil
	return true, nil
}

func (f *fakeStore) GetMessage(_ context.Context, messageID string) (*domain.Message, error) {
	m := f.message(messageID)
	if m == nil {
		return nil, campaign.ErrMessageNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	return &cp, nil
}

func (f *fakeStore) ListMessages(_ context.Context, campaignID string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.CampaignID == campaignID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) CountMessages(_ context.Context, campaignID string) (domain.MessageCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var counts domain.MessageCounts
	for _, m := range f.messages {
		if m.CampaignID != campaignID {
			continue
		}
		switch m.Status {
		case domain.MessageWaiting:
			counts.Waiting++
		case domain.MessageSending:
			counts.Sending++
		case domain.MessageSent:
			counts.Sent++
		case domain.MessageFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (f *fakeStore) LastSentAt(_ context.Context, campaignID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last time.Time
	for _, m := range f.messages {
		if m.CampaignID == campaignID && m.SentAt != nil && m.SentAt.After(last) {
			last = *m.SentAt
		}
	}
	return last, nil
}

func (f *fakeStore) SweepStaleSending(_ context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.Status == domain.MessageSending && m.SentAt != nil && m.SentAt.Before(olderThan) {
			m.Status = domain.MessageWaiting
			m.SentAt = nil
			m.ErrorMessage = nil
			n++
		}
	}
	return n, nil
}

// fakeSender scripts per-phone outcomes and an optional post-send callback.
type fakeSender struct {
	mu        sync.Mutex
	failWith  map[string]error
	afterSend func(phone string)
	calls     int
}

func newFakeSender() *fakeSender {
	return &fakeSender{failWith: make(map[string]error)}
}

func (s *fakeSender) Send(_ context.Context, _, phone, _ string) error {
	s.mu.Lock()
	s.calls++
	err := s.failWith[phone]
	after := s.afterSend
	s.mu.Unlock()
	if after != nil {
		after(phone)
	}
	return err
}

func (s *fakeSender) sendCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// instant is a zero-delay pacing policy so tests never sleep.
func instant() domain.PolicyConfig {
	return domain.PolicyConfig{BusinessHoursStrategy: domain.StrategyIgnore}
}
