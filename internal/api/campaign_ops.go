package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// HandleCreateCampaign admits a new campaign.
//
//	POST /api/campaigns
func (h *Handlers) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	c, err := h.svc.Create(r.Context(), input)
	if err != nil {
		var ce *campaign.ConflictError
		if errors.As(err, &ce) {
			httputil.Conflict(w, "schedule conflict", ce.Conflict)
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Created(w, c)
}

// HandleListCampaigns lists an owner's campaigns.
//
//	GET /api/campaigns?owner_id=…
func (h *Handlers) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		httputil.BadRequest(w, "owner_id is required")
		return
	}
	campaigns, err := h.svc.List(r.Context(), ownerID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaigns": campaigns})
}

// HandleGetCampaign fetches one campaign.
//
//	GET /api/campaigns/{campaignID}
func (h *Handlers) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// HandleListMessages returns the campaign's message rows.
//
//	GET /api/campaigns/{campaignID}/messages
func (h *Handlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.svc.Messages(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"messages": messages})
}

// HandlePauseCampaign pauses a campaign. Idempotent.
//
//	POST /api/campaigns/{campaignID}/pause
func (h *Handlers) HandlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Pause, "paused")
}

// HandleResumeCampaign resumes a paused campaign. Idempotent.
//
//	POST /api/campaigns/{campaignID}/resume
func (h *Handlers) HandleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	if err := h.svc.Resume(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	// A resumed campaign should not wait for the next poll tick.
	if h.poller != nil {
		h.poller.Kick(id)
	}
	httputil.OK(w, map[string]any{"success": true, "status": "resumed"})
}

// HandleCancelCampaign terminally cancels a campaign.
//
//	POST /api/campaigns/{campaignID}/cancel
func (h *Handlers) HandleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Cancel, "canceled")
}

// HandleRetryMessage resets a failed message to waiting.
//
//	POST /api/messages/{messageID}/retry
func (h *Handlers) HandleRetryMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RetryMessage(r.Context(), chi.URLParam(r, "messageID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"success": true})
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error, status string) {
	if err := op(r.Context(), chi.URLParam(r, "campaignID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"success": true, "status": status})
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, campaign.ErrMessageNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, campaign.ErrInvalidTransition), errors.Is(err, campaign.ErrCampaignCanceled):
		httputil.Conflict(w, err.Error(), nil)
	default:
		httputil.InternalError(w, err)
	}
}
