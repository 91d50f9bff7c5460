package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/fpv/internal/backend"
	"github.com/your-org/fpv/pkg/dto"
)

type BackendLister interface {
	Describe() []backend.Summary
}

type BackendHandler struct {
	registry BackendLister
}

func NewBackendHandler(registry BackendLister) *BackendHandler {
	return &BackendHandler{registry: registry}
}

func (h *BackendHandler) List(c *gin.Context) {
	summaries := h.registry.Describe()
	resp := dto.BackendListResponse{Backends: make([]dto.BackendResponse, 0, len(summaries))}
	for _, s := range summaries {
		resp.Backends = append(resp.Backends, dto.BackendResponse{
			Name:      s.Name,
			Driver:    s.Driver,
			Positions: s.Positions,
			Filters:   s.Filters,
		})
	}
	c.JSON(http.StatusOK, resp)
}
