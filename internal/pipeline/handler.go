package pipeline

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carepipe/internal/logger"
	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

type Handler struct {
	orchestrator *Orchestrator
	logger       logger.Logger
}

func NewHandler(orchestrator *Orchestrator, log logger.Logger) *Handler {
	return &Handler{orchestrator: orchestrator, logger: log}
}

func (h *Handler) RegisterRoutes(router gin.IRoutes) {
	router.POST("/pipeline/run", h.Run)
}

// Run pushes one clinical message through the pipeline. Failed runs answer 502 with the same
// result body, naming the stage that failed.
func (h *Handler) Run(c *gin.Context) {
	var msg models.ClinicalMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrDecode.WithCause(err)))
		return
	}

	res := h.orchestrator.Run(c.Request.Context(), msg)
	if !res.Success {
		c.JSON(http.StatusBadGateway, res)
		return
	}
	c.JSON(http.StatusOK, res)
}
