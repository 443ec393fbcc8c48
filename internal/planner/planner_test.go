package planner

import (
	"testing"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// fixedPolicy paces one message every intervalSeconds with no pauses, so a
// campaign of n messages occupies exactly (n-1)*interval.
func fixedPolicy(intervalSeconds int) domain.PolicyConfig {
	return domain.PolicyConfig{
		MinInterval:           intervalSeconds,
		MaxInterval:           intervalSeconds,
		BusinessHoursStrategy: domain.StrategyIgnore,
	}
}

func TestCheckReportsConflictWithSuggestion(t *testing.T) {
	// Existing campaign occupies [10:00, 11:00].
	existingStart := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	existing := []Window{{
		ID:     "camp-1",
		Name:   "February blast",
		Config: fixedPolicy(3600),
		Start:  existingStart,
		Count:  2, // start + one hour
	}}

	// Candidate proposes 10:30 with a 20 minute duration.
	candidate := Candidate{
		Config: fixedPolicy(600),
		Start:  time.Date(2026, 2, 10, 10, 30, 0, 0, time.UTC),
		Count:  3, // start + 2 * 10min
	}

	conflict, err := Check(candidate, existing, time.UTC)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if conflict == nil {
		t.Fatal("expected a conflict")
	}
	if conflict.CampaignID != "camp-1" || conflict.CampaignName != "February blast" {
		t.Errorf("conflict names wrong campaign: %+v", conflict)
	}
	// 11:00 end + 60 min buffer + 5 min gap = 12:05.
	want := time.Date(2026, 2, 10, 12, 5, 0, 0, time.UTC)
	if !conflict.SuggestedStart.Equal(want) {
		t.Errorf("expected suggested start %v, got %v", want, conflict.SuggestedStart)
	}
}

func TestCheckNoConflictWhenClear(t *testing.T) {
	existing := []Window{{
		ID:     "camp-1",
		Name:   "morning",
		Config: fixedPolicy(3600),
		Start:  time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC),
		Count:  2, // ends 11:00
	}}

	candidate := Candidate{
		Config: fixedPolicy(600),
		Start:  time.Date(2026, 2, 10, 12, 1, 0, 0, time.UTC), // one minute past the buffer
		Count:  2,
	}

	conflict, err := Check(candidate, existing, time.UTC)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if conflict != nil {
		t.Fatalf("expected no conflict, got %+v", conflict)
	}
}

func TestCheckBufferBoundariesAreStrict(t *testing.T) {
	existingStart := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	existing := []Window{{
		ID:     "camp-1",
		Name:   "existing",
		Config: fixedPolicy(3600),
		Start:  existingStart,
		Count:  2, // [10:00, 11:00]
	}}

	// Candidate starting exactly at existing.end + buffer does not conflict.
	after := Candidate{
		Config: fixedPolicy(60),
		Start:  time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		Count:  2,
	}
	if c, _ := Check(after, existing, time.UTC); c != nil {
		t.Errorf("start at existing.end+buffer should not conflict, got %+v", c)
	}

	// Candidate ending exactly at existing.start − buffer does not conflict.
	before := Candidate{
		Config: fixedPolicy(60),
		Start:  time.Date(2026, 2, 10, 8, 59, 0, 0, time.UTC),
		Count:  2, // ends 09:00
	}
	if c, _ := Check(before, existing, time.UTC); c != nil {
		t.Errorf("end at existing.start-buffer should not conflict, got %+v", c)
	}

	// One second inside the buffer on either side does conflict.
	justInside := Candidate{
		Config: fixedPolicy(60),
		Start:  time.Date(2026, 2, 10, 8, 59, 1, 0, time.UTC), // ends 09:00:01
		Count:  2,
	}
	if c, _ := Check(justInside, existing, time.UTC); c == nil {
		t.Error("end one second past existing.start-buffer should conflict")
	}
}

func TestCheckReturnsFirstConflict(t *testing.T) {
	mk := func(id string, hour int) Window {
		return Window{
			ID:     id,
			Name:   id,
			Config: fixedPolicy(60),
			Start:  time.Date(2026, 2, 10, hour, 0, 0, 0, time.UTC),
			Count:  2,
		}
	}
	existing := []Window{mk("first", 10), mk("second", 10)}

	candidate := Candidate{
		Config: fixedPolicy(60),
		Start:  time.Date(2026, 2, 10, 10, 0, 30, 0, time.UTC),
		Count:  2,
	}

	conflict, err := Check(candidate, existing, time.UTC)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if conflict == nil || conflict.CampaignID != "first" {
		t.Fatalf("expected the first window to win, got %+v", conflict)
	}
}

func TestCheckSkipsBrokenExistingPolicies(t *testing.T) {
	existing := []Window{
		{
			ID:     "broken",
			Name:   "broken",
			Config: domain.PolicyConfig{MinInterval: 10, MaxInterval: 5}, // does not compile
			Start:  time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC),
			Count:  100,
		},
	}

	candidate := Candidate{
		Config: fixedPolicy(60),
		Start:  time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC),
		Count:  2,
	}

	conflict, err := Check(candidate, existing, time.UTC)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if conflict != nil {
		t.Fatalf("broken windows should be skipped, got %+v", conflict)
	}
}

func TestCheckRejectsBrokenCandidate(t *testing.T) {
	candidate := Candidate{
		Config: domain.PolicyConfig{MinInterval: 10, MaxInterval: 5},
		Start:  time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC),
		Count:  2,
	}
	if _, err := Check(candidate, nil, time.UTC); err == nil {
		t.Fatal("expected an error for a candidate policy that does not compile")
	}
}

func TestCheckEmptyCandidateStillOccupiesItsStart(t *testing.T) {
	existing := []Window{{
		ID:     "camp-1",
		Name:   "existing",
		Config: fixedPolicy(3600),
		Start:  time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC),
		Count:  2,
	}}

	// Zero recipients: the window is a point, but buffers still apply.
	candidate := Candidate{
		Config: fixedPolicy(60),
		Start:  time.Date(2026, 2, 10, 11, 30, 0, 0, time.UTC),
		Count:  0,
	}
	if c, _ := Check(candidate, existing, time.UTC); c == nil {
		t.Error("point window inside the buffer should conflict")
	}
}
