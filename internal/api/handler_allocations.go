package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lpbf-planner/internal/model"
	"lpbf-planner/internal/store"
)

type allocateRequest struct {
	PartRequestID uint   `json:"part_request_id" binding:"required"`
	RunIDs        []uint `json:"run_ids"`
}

// Allocate handles POST /api/allocations. Rejections are regular outcomes and
// come back with 200.
func (h *Handler) Allocate(c *gin.Context) {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	res, err := h.engine.Allocate(c.Request.Context(), req.PartRequestID, req.RunIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Unassign handles DELETE /api/allocations/:part_id.
func (h *Handler) Unassign(c *gin.Context) {
	id, ok := idParam(c, "part_id")
	if !ok {
		return
	}
	res, err := h.engine.Unassign(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListDecisions handles GET /api/decisions.
func (h *Handler) ListDecisions(c *gin.Context) {
	runID, ok := optionalID(c, "run_id")
	if !ok {
		return
	}
	partID, ok := optionalID(c, "part_request_id")
	if !ok {
		return
	}
	entries, err := h.store.ListDecisions(c.Request.Context(), store.DecisionFilter{
		RunID:         runID,
		PartRequestID: partID,
		Decision:      model.Decision(c.Query("decision")),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]decisionView, 0, len(entries))
	for i := range entries {
		out = append(out, newDecisionView(&entries[i]))
	}
	c.JSON(http.StatusOK, out)
}
