package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lpbf-planner/internal/inquiry"
	"lpbf-planner/internal/lifecycle"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/parse"
	"lpbf-planner/internal/store"
)

// CreateRun handles POST /api/runs.
func (h *Handler) CreateRun(c *gin.Context) {
	var in inquiry.RunInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	run, err := h.intake.OpenRun(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newRunView(run))
}

// ListRuns handles GET /api/runs.
func (h *Handler) ListRuns(c *gin.Context) {
	f := store.RunFilter{Machine: parse.NormalizeMachine(c.Query("machine"))}
	if g := c.Query("material_group"); g != "" {
		f.MaterialGroup = parse.NormalizeGroup(g)
	}
	for _, s := range c.QueryArray("status") {
		status := model.RunStatus(s)
		if !lifecycle.ValidRunStatus(status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		f.Statuses = append(f.Statuses, status)
	}

	runs, err := h.store.ListRuns(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]runView, 0, len(runs))
	for i := range runs {
		out = append(out, newRunView(&runs[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetRun handles GET /api/runs/:id.
func (h *Handler) GetRun(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	run, err := h.store.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRunView(run))
}

// TransitionRun handles POST /api/runs/:id/status.
func (h *Handler) TransitionRun(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	run, err := h.intake.TransitionRun(c.Request.Context(), id, model.RunStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRunView(run))
}

// NestRun handles POST /api/runs/:id/nest.
func (h *Handler) NestRun(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := h.engine.NestAll(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
