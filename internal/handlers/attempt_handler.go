package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-service/internal/services"
	"github.com/SAP-F-2025/exam-service/internal/utils"
	"github.com/SAP-F-2025/exam-service/internal/validator"
)

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	validator      *validator.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	validator *validator.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		validator:      validator,
	}
}

// StartAttempt starts or resumes an exam attempt
// @Summary Start exam attempt
// @Description Starts a new attempt, or resumes the open one if it exists
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 201 {object} services.AttemptResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /exams/{id}/attempts/start [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	h.LogRequest(c, "Starting exam attempt", "exam_id", examID)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), userID, examID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if attempt.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, attempt)
}

// SaveProgress persists the draft answer sheet of the open attempt
// @Summary Save attempt progress
// @Description Saves the current question, draft answers, marked questions and remaining time
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Param progress body services.SaveProgressRequest true "Progress snapshot"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "No attempt in progress"
// @Failure 500 {object} ErrorResponse
// @Router /exams/{id}/attempts/progress [put]
func (h *AttemptHandler) SaveProgress(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	var req services.SaveProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.attemptService.SaveProgress(c.Request.Context(), userID, examID, &req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Progress saved successfully",
	})
}

// GetProgress returns the saved draft for the open attempt
// @Summary Get attempt progress
// @Description Returns the progress snapshot, or null when no attempt is open
// @Tags attempts
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} models.ProgressSnapshot
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /exams/{id}/attempts/progress [get]
func (h *AttemptHandler) GetProgress(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	progress, err := h.attemptService.GetProgress(c.Request.Context(), userID, examID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

// ToggleMark flips the review mark on a question
// @Summary Toggle question mark
// @Description Marks the question for review, or unmarks it if already marked
// @Tags attempts
// @Produce json
// @Param id path uint true "Exam ID"
// @Param question_id path uint true "Question ID"
// @Success 200 {object} services.MarkToggleResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /exams/{id}/attempts/questions/{question_id}/mark [post]
func (h *AttemptHandler) ToggleMark(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}
	questionID := h.parseIDParam(c, "question_id")
	if questionID == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	result, err := h.attemptService.ToggleMark(c.Request.Context(), userID, examID, questionID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ClearAnswer removes the drafted answer for a question
// @Summary Clear answer
// @Description Removes the drafted answer for one question; a no-op when nothing was drafted
// @Tags attempts
// @Produce json
// @Param id path uint true "Exam ID"
// @Param question_id path uint true "Question ID"
// @Success 200 {object} SuccessResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /exams/{id}/attempts/questions/{question_id}/answer [delete]
func (h *AttemptHandler) ClearAnswer(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}
	questionID := h.parseIDParam(c, "question_id")
	if questionID == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.attemptService.ClearAnswer(c.Request.Context(), userID, examID, questionID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Answer cleared successfully",
	})
}

// SubmitAttempt finalizes the open attempt
// @Summary Submit exam attempt
// @Description Scores and finalizes the attempt; repeating a submit returns the stored result
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Param submission body services.SubmitAttemptRequest true "Submission data"
// @Success 200 {object} services.ResultSummary
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /exams/{id}/attempts/submit [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	h.LogRequest(c, "Submitting exam attempt", "exam_id", examID)

	var req services.SubmitAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), userID, examID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// AutoSubmitAttempt finalizes the open attempt when time runs out
// @Summary Auto-submit exam attempt
// @Description Finalizes the open attempt with its drafted answers on timer expiry
// @Tags attempts
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} services.ResultSummary
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /exams/{id}/attempts/auto-submit [post]
func (h *AttemptHandler) AutoSubmitAttempt(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	h.LogRequest(c, "Auto-submitting exam attempt", "exam_id", examID)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	result, err := h.attemptService.AutoSubmit(c.Request.Context(), userID, examID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetResults returns the detailed result for the latest completed attempt
// @Summary Get attempt results
// @Description Returns the per-question breakdown for the user's latest completed attempt
// @Tags attempts
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} services.ResultDetail
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /exams/{id}/attempts/results [get]
func (h *AttemptHandler) GetResults(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	results, err := h.attemptService.GetResults(c.Request.Context(), userID, examID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

// GetHistory returns the user's completed attempts
// @Summary Get attempt history
// @Description Returns the user's completed attempts, newest first
// @Tags attempts
// @Produce json
// @Param limit query int false "Number of entries (default: 20, max: 100)"
// @Success 200 {array} services.HistoryEntry
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /attempts/history [get]
func (h *AttemptHandler) GetHistory(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	limit := parseQueryInt(c, "limit", 20, 100)

	history, err := h.attemptService.GetHistory(c.Request.Context(), userID, limit)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}
