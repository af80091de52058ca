package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dolores18/api-manager/internal/registry"
	"github.com/Dolores18/api-manager/internal/store/model"
)

type HealthHandler struct {
	registry *registry.Registry
}

func NewHealthHandler(reg *registry.Registry) *HealthHandler {
	return &HealthHandler{registry: reg}
}

// Health is the liveness probe, with a coarse pool summary for dashboards.
func (h *HealthHandler) Health(c *gin.Context) {
	active := 0
	providers := h.registry.List()
	for _, p := range providers {
		if p.Status == model.StatusActive {
			active++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"providers":        len(providers),
		"active_providers": active,
	})
}
