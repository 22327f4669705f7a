package projection

import (
	"errors"
	"net/http"

	httperr "github.com/aevon-lab/eventkernel/internal/core/errors"
	"github.com/gin-gonic/gin"
)

// AdminHandler exposes orchestrator admin operations over HTTP.
type AdminHandler struct {
	orchestrator *Orchestrator
}

func NewAdminHandler(o *Orchestrator) *AdminHandler {
	return &AdminHandler{orchestrator: o}
}

// RegisterRoutes registers the projection admin routes on the given router.
func (h *AdminHandler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/v1/projections")
	g.GET("", h.HandleList)
	g.POST("/rebuild", h.HandleRebuildAll)
	g.GET("/:name", h.HandleGet)
	g.POST("/:name/pause", h.control(h.orchestrator.PauseProjection))
	g.POST("/:name/resume", h.control(h.orchestrator.ResumeProjection))
	g.POST("/:name/stop", h.control(h.orchestrator.StopProjection))
	g.POST("/:name/rebuild", h.HandleRebuild)
}

// HandleList handles GET /v1/projections
func (h *AdminHandler) HandleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"projections": h.orchestrator.GetAllProjectionStatuses()})
}

// HandleGet handles GET /v1/projections/:name
func (h *AdminHandler) HandleGet(c *gin.Context) {
	status, err := h.orchestrator.GetProjectionStatus(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *AdminHandler) control(op func(name string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := op(name); err != nil {
			writeError(c, err)
			return
		}
		status, err := h.orchestrator.GetProjectionStatus(name)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// HandleRebuild handles POST /v1/projections/:name/rebuild
func (h *AdminHandler) HandleRebuild(c *gin.Context) {
	name := c.Param("name")
	if err := h.orchestrator.RebuildProjection(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	status, _ := h.orchestrator.GetProjectionStatus(name)
	c.JSON(http.StatusOK, status)
}

// HandleRebuildAll handles POST /v1/projections/rebuild
func (h *AdminHandler) HandleRebuildAll(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.RebuildAll(c.Request.Context()))
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, ErrProjectionNotFound) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpProjectionNotFoundError,
			Message:   "Projection not found",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   "Projection operation failed",
		Details:   err.Error(),
	})
}
