package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type machineView struct {
	Name            string          `json:"name"`
	PlatformAreaCM2 decimal.Decimal `json:"platform_area_cm2"`
	MaterialGroups  []string        `json:"material_groups"`
}

// GetMachines handles GET /api/machines.
func (h *Handler) GetMachines(c *gin.Context) {
	out := make([]machineView, 0, len(h.machines))
	for _, m := range h.machines {
		out = append(out, machineView{Name: m.Name, PlatformAreaCM2: m.PlatformAreaCM2, MaterialGroups: m.MaterialGroups})
	}
	c.JSON(http.StatusOK, out)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
