package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Business-hours strategies.
const (
	StrategyIgnore = "ignore"
	StrategyPause  = "pause"
)

// Defaults applied when a stored policy document omits required fields.
const (
	DefaultMinInterval = 30
	DefaultMaxInterval = 40
)

// PolicyConfig is the pacing policy of a campaign.
//
// Stored policy documents are duck-typed: historical writers mixed snake_case
// and camelCase key spellings. UnmarshalJSON accepts either (snake wins when
// both appear), ignores unknown keys, and fills missing required fields with
// defaults. Marshaling always emits the canonical snake_case form.
type PolicyConfig struct {
	// MinInterval/MaxInterval bound the uniform per-send delay, in seconds.
	MinInterval int `json:"min_interval"`
	MaxInterval int `json:"max_interval"`

	UseBatching   bool `json:"use_batching"`
	BatchSize     int  `json:"batch_size,omitempty"`
	BatchPauseMin int  `json:"batch_pause_min,omitempty"`
	BatchPauseMax int  `json:"batch_pause_max,omitempty"`

	// BusinessHoursStrategy is "ignore" or "pause". Under "pause", sending
	// stops at PauseAt and resumes at ResumeAt (HH:MM, campaign timezone,
	// same-day window: ResumeAt must be strictly before PauseAt).
	BusinessHoursStrategy string `json:"business_hours_strategy"`
	PauseAt               string `json:"pause_at,omitempty"`
	ResumeAt              string `json:"resume_at,omitempty"`

	AutomaticPause *AutomaticPause `json:"automatic_pause,omitempty"`
}

// AutomaticPause is a one-shot interruption: sending stops once the clock
// passes PauseAt (or the campaign crosses into a later day) and stays stopped
// until the absolute ResumeAt instant.
type AutomaticPause struct {
	PauseAt  string    `json:"pause_at"`
	ResumeAt time.Time `json:"resume_at"`
}

// UnmarshalJSON implements the duck-typed adapter described above.
func (p *PolicyConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = PolicyConfig{}
	var err error
	if p.MinInterval, err = intField(raw, "min_interval", "minInterval"); err != nil {
		return err
	}
	if p.MaxInterval, err = intField(raw, "max_interval", "maxInterval"); err != nil {
		return err
	}
	if p.UseBatching, err = boolField(raw, "use_batching", "useBatching"); err != nil {
		return err
	}
	if p.BatchSize, err = intField(raw, "batch_size", "batchSize"); err != nil {
		return err
	}
	if p.BatchPauseMin, err = intField(raw, "batch_pause_min", "batchPauseMin"); err != nil {
		return err
	}
	if p.BatchPauseMax, err = intField(raw, "batch_pause_max", "batchPauseMax"); err != nil {
		return err
	}
	if p.BusinessHoursStrategy, err = stringField(raw, "business_hours_strategy", "businessHoursStrategy"); err != nil {
		return err
	}
	if p.PauseAt, err = stringField(raw, "pause_at", "pauseAt"); err != nil {
		return err
	}
	if p.ResumeAt, err = stringField(raw, "resume_at", "resumeAt"); err != nil {
		return err
	}

	if ap, ok := pick(raw, "automatic_pause", "automaticPause"); ok && string(ap) != "null" {
		var rawAP map[string]json.RawMessage
		if err := json.Unmarshal(ap, &rawAP); err != nil {
			return fmt.Errorf("automatic_pause: %w", err)
		}
		auto := &AutomaticPause{}
		if auto.PauseAt, err = stringField(rawAP, "pause_at", "pauseAt"); err != nil {
			return fmt.Errorf("automatic_pause: %w", err)
		}
		if auto.ResumeAt, err = instantField(rawAP, "resume_at", "resumeAt"); err != nil {
			return fmt.Errorf("automatic_pause: %w", err)
		}
		p.AutomaticPause = auto
	}

	p.ApplyDefaults()
	return nil
}

// ApplyDefaults fills the required fields a loose policy document may omit.
// Idempotent.
func (p *PolicyConfig) ApplyDefaults() {
	if p.MinInterval <= 0 {
		p.MinInterval = DefaultMinInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	if p.BusinessHoursStrategy == "" {
		p.BusinessHoursStrategy = StrategyIgnore
	}
}

// Validate rejects policies the dispatcher cannot honor. Called at admission;
// rejected policies are never persisted.
func (p *PolicyConfig) Validate() error {
	if p.MinInterval < 5 {
		return fmt.Errorf("min_interval must be at least 5 seconds, got %d", p.MinInterval)
	}
	if p.MaxInterval < p.MinInterval {
		return fmt.Errorf("max_interval (%d) must be >= min_interval (%d)", p.MaxInterval, p.MinInterval)
	}
	if p.UseBatching {
		if p.BatchSize < 1 {
			return fmt.Errorf("batch_size must be at least 1, got %d", p.BatchSize)
		}
		if p.BatchPauseMin < 1 {
			return fmt.Errorf("batch_pause_min must be at least 1 second, got %d", p.BatchPauseMin)
		}
		if p.BatchPauseMax < p.BatchPauseMin {
			return fmt.Errorf("batch_pause_max (%d) must be >= batch_pause_min (%d)", p.BatchPauseMax, p.BatchPauseMin)
		}
	}
	switch p.BusinessHoursStrategy {
	case StrategyIgnore:
	case StrategyPause:
		pauseMin, err := ParseClock(p.PauseAt)
		if err != nil {
			return fmt.Errorf("pause_at: %w", err)
		}
		resumeMin, err := ParseClock(p.ResumeAt)
		if err != nil {
			return fmt.Errorf("resume_at: %w", err)
		}
		// Windows spanning midnight are not supported.
		if resumeMin >= pauseMin {
			return fmt.Errorf("resume_at (%s) must be strictly before pause_at (%s) on the same day", p.ResumeAt, p.PauseAt)
		}
	default:
		return fmt.Errorf("unknown business_hours_strategy %q", p.BusinessHoursStrategy)
	}
	if p.AutomaticPause != nil {
		if _, err := ParseClock(p.AutomaticPause.PauseAt); err != nil {
			return fmt.Errorf("automatic_pause.pause_at: %w", err)
		}
		if p.AutomaticPause.ResumeAt.IsZero() {
			return fmt.Errorf("automatic_pause.resume_at is required")
		}
	}
	return nil
}

// ParseClock parses an HH:MM string into a minute-of-day (0..1439).
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid HH:MM value %q", s)
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

func pick(raw map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func intField(raw map[string]json.RawMessage, keys ...string) (int, error) {
	v, ok := pick(raw, keys...)
	if !ok || string(v) == "null" {
		return 0, nil
	}
	// Loose documents store integers as numbers, occasionally with a
	// fractional zero, occasionally as quoted strings.
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return int(f), nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid integer %q", keys[0], s)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s: expected an integer, got %s", keys[0], string(v))
}

func boolField(raw map[string]json.RawMessage, keys ...string) (bool, error) {
	v, ok := pick(raw, keys...)
	if !ok || string(v) == "null" {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		return false, fmt.Errorf("%s: expected a boolean, got %s", keys[0], string(v))
	}
	return b, nil
}

func stringField(raw map[string]json.RawMessage, keys ...string) (string, error) {
	v, ok := pick(raw, keys...)
	if !ok || string(v) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%s: expected a string, got %s", keys[0], string(v))
	}
	return s, nil
}

func instantField(raw map[string]json.RawMessage, keys ...string) (time.Time, error) {
	v, ok := pick(raw, keys...)
	if !ok || string(v) == "null" {
		return time.Time{}, nil
	}
	var t time.Time
	if err := json.Unmarshal(v, &t); err == nil {
		return t, nil
	}
	// Epoch seconds fallback for the oldest documents.
	var epoch int64
	if err := json.Unmarshal(v, &epoch); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%s: expected an RFC 3339 instant, got %s", keys[0], string(v))
}
