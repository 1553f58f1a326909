package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lpbf-planner/internal/lifecycle"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/store"
)

// ListDrafts handles GET /api/notifications.
func (h *Handler) ListDrafts(c *gin.Context) {
	runID, ok := optionalID(c, "run_id")
	if !ok {
		return
	}
	f := store.DraftFilter{
		Status:         model.DraftStatus(c.Query("status")),
		CustomerNumber: c.Query("customer_number"),
		RunID:          runID,
	}
	if f.Status != "" && !lifecycle.ValidDraftStatus(f.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	drafts, err := h.store.ListDrafts(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]draftView, 0, len(drafts))
	for i := range drafts {
		out = append(out, newDraftView(&drafts[i]))
	}
	c.JSON(http.StatusOK, out)
}

// TransitionDraft handles PUT /api/notifications/:id/status.
func (h *Handler) TransitionDraft(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	draft, err := h.store.TransitionDraft(c.Request.Context(), id, model.DraftStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDraftView(draft))
}

// RetryNotifications handles POST /api/notifications/retry. Every pending or
// failed row is queued again regardless of its attempt count.
func (h *Handler) RetryNotifications(c *gin.Context) {
	reqs, err := h.store.RetryableNotificationRequests(c.Request.Context(), 0, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	ids := make([]uint, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ID)
	}
	if h.dispatcher != nil && len(ids) > 0 {
		h.dispatcher.Dispatch(ids...)
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": len(ids)})
}
