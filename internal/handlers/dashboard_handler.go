package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-service/internal/services"
	"github.com/SAP-F-2025/exam-service/internal/utils"
)

type DashboardHandler struct {
	BaseHandler
	service services.DashboardService
}

func NewDashboardHandler(service services.DashboardService, logger utils.Logger) *DashboardHandler {
	return &DashboardHandler{
		BaseHandler: NewBaseHandler(logger),
		service:     service,
	}
}

// GetDashboardStats returns the student's dashboard statistics
// @Summary Get dashboard statistics
// @Description Returns exam counts and the average score for the authenticated user
// @Tags dashboard
// @Accept json
// @Produce json
// @Success 200 {object} services.DashboardStats
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /dashboard/stats [get]
func (h *DashboardHandler) GetDashboardStats(c *gin.Context) {
	h.LogRequest(c, "Getting dashboard stats")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	stats, err := h.service.GetStats(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetActiveExams returns the exams the user can take right now
// @Summary Get active exams
// @Description Lists active, in-window exams visible to the user, decorated with attempt state
// @Tags dashboard
// @Accept json
// @Produce json
// @Success 200 {array} services.ActiveExamView
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /dashboard/active-exams [get]
func (h *DashboardHandler) GetActiveExams(c *gin.Context) {
	h.LogRequest(c, "Getting active exams")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	exams, err := h.service.GetActiveExams(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exams)
}
