package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/inquiry"
	"lpbf-planner/internal/lifecycle"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/store"
)

// CreatePart handles POST /api/parts. A part that was stored but could not be
// estimated is returned with 201 and a warning.
func (h *Handler) CreatePart(c *gin.Context) {
	var in inquiry.PartInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	part, err := h.intake.Create(c.Request.Context(), in)
	respondPart(c, http.StatusCreated, part, err)
}

// UpdatePart handles PUT /api/parts/:id.
func (h *Handler) UpdatePart(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in inquiry.PartInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	part, err := h.intake.Update(c.Request.Context(), id, in)
	respondPart(c, http.StatusOK, part, err)
}

// ImportParts handles POST /api/parts/import. The file is sent either as the
// multipart field "file" or as the raw request body.
func (h *Handler) ImportParts(c *gin.Context) {
	var body io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is unreadable"})
			return
		}
		defer f.Close()
		body = f
	}
	res, err := h.intake.Import(c.Request.Context(), body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// EstimatePart handles POST /api/parts/:id/estimate.
func (h *Handler) EstimatePart(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	part, err := h.intake.Reestimate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"part": newPartView(part)})
}

// respondPart writes a stored part. Estimation failures after the part was
// stored are reported as a warning rather than an error.
func respondPart(c *gin.Context, status int, part *model.PartRequest, err error) {
	if err != nil && (part == nil || !errors.Is(err, errs.ErrExternalService)) {
		respondError(c, err)
		return
	}
	body := gin.H{"part": newPartView(part)}
	if err != nil {
		body["warning"] = err.Error()
	}
	c.JSON(status, body)
}

// ListParts handles GET /api/parts.
func (h *Handler) ListParts(c *gin.Context) {
	f := store.PartFilter{
		Status:         model.PartStatus(c.Query("status")),
		CustomerNumber: c.Query("customer_number"),
		InquiryNumber:  c.Query("inquiry_number"),
		Unassigned:     c.Query("unassigned") == "true",
	}
	if f.Status != "" && !lifecycle.ValidPartStatus(f.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	parts, err := h.store.ListParts(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]partView, 0, len(parts))
	for i := range parts {
		out = append(out, newPartView(&parts[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetPart handles GET /api/parts/:id.
func (h *Handler) GetPart(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	part, err := h.store.GetPart(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPartView(part))
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// TransitionPart handles POST /api/parts/:id/status.
func (h *Handler) TransitionPart(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	part, err := h.intake.Transition(c.Request.Context(), id, model.PartStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPartView(part))
}
