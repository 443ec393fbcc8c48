// Package gateway is the HTTP client for the external message gateway.
//
// One Send call is one delivery attempt: transient gateway errors are
// retried inside the attempt, and a circuit breaker sheds load when the
// gateway is down so claimed messages can be released instead of burned.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/pkg/httpretry"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// ErrUnavailable is returned when the circuit breaker is open or
// half-open-saturated. The caller should release the claimed message back
// to waiting rather than record a failure.
var ErrUnavailable = errors.New("gateway unavailable")

// maxErrorLen bounds the failure reason persisted on a message row.
const maxErrorLen = 255

var (
	sendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_send_total",
			Help: "Gateway send attempts by outcome",
		},
		[]string{"outcome"},
	)
	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_send_duration_seconds",
			Help:    "Gateway send latency",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Sender is the delivery port the dispatcher depends on.
type Sender interface {
	// Send delivers one message. A nil error is a confirmed delivery.
	// ErrUnavailable means the attempt was shed before reaching the
	// gateway; any other error is a final per-message failure whose text
	// is safe to persist.
	Send(ctx context.Context, name, phone, body string) error
}

// Client implements Sender against the gateway's POST {send_path} endpoint.
type Client struct {
	baseURL  string
	sendPath string
	apiKey   string
	timeout  time.Duration
	http     httpretry.HTTPDoer
	breaker  *gobreaker.CircuitBreaker
}

// NewClient builds a gateway client from configuration. The underlying
// doer retries 429/5xx with jittered backoff; pass a custom doer in tests.
func NewClient(cfg config.GatewayConfig, doer httpretry.HTTPDoer) *Client {
	timeout := cfg.Timeout()
	if doer == nil {
		base := &http.Client{Timeout: timeout}
		doer = httpretry.NewRetryClientWithDelays(base, cfg.MaxRetries, 500*time.Millisecond, 5*time.Second)
	}
	settings := gobreaker.Settings{
		Name:    "gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[Gateway] Circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		sendPath: cfg.SendPath,
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		http:     doer,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

type sendRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Send implements Sender.
func (c *Client) Send(ctx context.Context, name, phone, body string) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, name, phone, body)
	})
	sendDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		sendTotal.WithLabelValues("sent").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		sendTotal.WithLabelValues("shed").Inc()
		return ErrUnavailable
	default:
		sendTotal.WithLabelValues("failed").Inc()
		return err
	}
}

func (c *Client) post(ctx context.Context, name, phone, body string) error {
	payload, err := json.Marshal(sendRequest{Name: name, Phone: phone, Message: body})
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}

	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+c.sendPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			log.Printf("[Gateway] Send to %s timed out after %s", logger.RedactPhone(phone), c.timeout)
			return errors.New("timeout")
		}
		return Truncate(fmt.Errorf("gateway request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Truncate(fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Truncate(fmt.Errorf("decode gateway response: %w", err))
	}
	if !out.Success {
		reason := out.Error
		if reason == "" {
			reason = "gateway rejected message"
		}
		return Truncate(errors.New(reason))
	}
	return nil
}

// Truncate caps an error's text at the length the message store accepts.
func Truncate(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) <= maxErrorLen {
		return err
	}
	return errors.New(msg[:maxErrorLen])
}
