package api

import (
	"net/http"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
)

// PreviewRequest asks for the planned send instants of a policy.
type PreviewRequest struct {
	Config domain.PolicyConfig `json:"config"`
	Start  time.Time           `json:"start"`
	Count  int                 `json:"count"`
}

// HandlePreview returns the expected send instants without persisting.
//
//	POST /api/campaigns/preview
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Count <= 0 {
		httputil.BadRequest(w, "count must be positive")
		return
	}
	if req.Count > 10000 {
		httputil.BadRequest(w, "count must be at most 10000")
		return
	}

	plan, err := h.svc.Preview(req.Config, req.Start, req.Count)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, map[string]any{"plan": plan})
}

// CheckConflictRequest asks whether a candidate schedule is admissible.
type CheckConflictRequest struct {
	OwnerID string              `json:"owner_id"`
	Config  domain.PolicyConfig `json:"config"`
	Start   time.Time           `json:"start"`
	Count   int                 `json:"count"`
}

// HandleCheckConflict runs the admission planner without persisting.
// A null conflict means the slot is clear.
//
//	POST /api/campaigns/check-conflict
func (h *Handlers) HandleCheckConflict(w http.ResponseWriter, r *http.Request) {
	var req CheckConflictRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.OwnerID == "" {
		httputil.BadRequest(w, "owner_id is required")
		return
	}

	conflict, err := h.svc.CheckConflict(r.Context(), req.OwnerID, req.Config, req.Start, req.Count)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, map[string]any{"conflict": conflict})
}
