package dashboard

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"carepipe/internal/logger"
	"carepipe/internal/store"
	"carepipe/pkg/errors"
)

const defaultAlertLimit = 50

type Handler struct {
	store  store.CarePlanStore
	logger logger.Logger
}

func NewHandler(s store.CarePlanStore, log logger.Logger) *Handler {
	return &Handler{store: s, logger: log}
}

func (h *Handler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/members/:member_id/care-plans", h.CarePlans)
	router.GET("/alerts", h.Alerts)
}

// CarePlans lists a member's plans, newest first.
func (h *Handler) CarePlans(c *gin.Context) {
	memberID := c.Param("member_id")

	plans, err := h.store.PlansForMember(c.Request.Context(), memberID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if len(plans) == 0 {
		h.respondError(c, errors.ErrNotFound.WithMessage("no care plans for member %s", memberID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"member_id":  memberID,
		"care_plans": plans,
		"count":      len(plans),
	})
}

func (h *Handler) Alerts(c *gin.Context) {
	limit := defaultAlertLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondError(c, errors.ErrValidation.WithMessage("limit must be a positive integer"))
			return
		}
		limit = n
	}

	alerts, err := h.store.RecentAlerts(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if !errors.IsNotFound(err) && !errors.IsValidation(err) {
		h.logger.ErrorwCtx(c.Request.Context(), "Dashboard query failed", "error", err)
	}
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}
