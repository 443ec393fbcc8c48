package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatch/internal/worker"
)

// DispatchRequest optionally targets a single campaign.
type DispatchRequest struct {
	CampaignID string `json:"campaign_id"`
}

// DispatchResponse is the trigger envelope. The trigger always answers
// HTTP 200 so external schedulers (cron gateways, uptime pingers) never
// retry-storm on internal errors; failures surface as success=false.
type DispatchResponse struct {
	Success bool            `json:"success"`
	Results []worker.Result `json:"results"`
	Error   string          `json:"error,omitempty"`
}

// HandleDispatch runs one dispatcher invocation synchronously.
//
//	POST /api/dispatch
func (h *Handlers) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	// An empty body means a full scan; only reject bodies that are
	// present and malformed.
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httputil.OK(w, DispatchResponse{Success: false, Results: []worker.Result{}, Error: "invalid JSON body"})
			return
		}
	}

	results, err := h.dispatcher.Run(r.Context(), req.CampaignID)
	if err != nil {
		log.Printf("[API] Dispatch run: %v", err)
		httputil.OK(w, DispatchResponse{Success: false, Results: []worker.Result{}, Error: "dispatch failed"})
		return
	}
	if results == nil {
		results = []worker.Result{}
	}
	httputil.OK(w, DispatchResponse{Success: true, Results: results})
}

// HandleDispatchStats reports dispatcher, poller and janitor counters.
//
//	GET /api/dispatch/stats
func (h *Handlers) HandleDispatchStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"dispatcher": h.dispatcher.Stats(),
	}
	if h.poller != nil {
		stats["poller"] = h.poller.Stats()
	}
	if h.janitor != nil {
		stats["janitor"] = h.janitor.Stats()
	}
	httputil.OK(w, stats)
}
