package handlers

import (
	"net/http"

	"github.com/campuskit/attempt-service/internal/services"
	"github.com/campuskit/attempt-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	validator      *utils.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	validator *utils.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		validator:      validator,
	}
}

// StartAttempt starts or resumes an assessment attempt
// @Summary Start attempt
// @Description Starts a new attempt, or resumes the caller's in-progress attempt with its original deadline
// @Tags attempts
// @Accept json
// @Produce json
// @Param attempt body services.StartAttemptRequest true "Attempt data"
// @Success 201 {object} services.AttemptResponse
// @Success 200 {object} services.AttemptResponse "Resumed existing attempt"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/start [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	var req services.StartAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	studentID := h.requireUserID(c)
	if studentID == "" {
		return
	}

	h.LogRequest(c, "Starting attempt", "assessment_id", req.AssessmentID)

	response, err := h.attemptService.Start(c.Request.Context(), &req, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if response.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, response)
}

// GetCurrentAttempt returns the caller's in-progress attempt for an assessment
// @Summary Get current attempt
// @Description Returns the in-progress attempt for the assessment, or 204 when none exists
// @Tags attempts
// @Produce json
// @Param assessment_id path uint true "Assessment ID"
// @Success 200 {object} services.AttemptResponse
// @Success 204 "No active attempt"
// @Failure 401 {object} ErrorResponse
// @Router /attempts/current/{assessment_id} [get]
func (h *AttemptHandler) GetCurrentAttempt(c *gin.Context) {
	assessmentID := h.parseIDParam(c, "assessment_id")
	if assessmentID == 0 {
		return
	}

	studentID := h.requireUserID(c)
	if studentID == "" {
		return
	}

	response, err := h.attemptService.GetCurrentAttempt(c.Request.Context(), assessmentID, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if response == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetAttempt retrieves an attempt with its questions and answers
// @Summary Get attempt details
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id}/details [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID := h.requireUserID(c)
	if studentID == "" {
		return
	}

	response, err := h.attemptService.GetByIDWithDetails(c.Request.Context(), id, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// SaveAnswer saves the answer for one question of an attempt
// @Summary Save answer
// @Description Persists an answer for the question; acknowledged with the saved record
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param answer body services.SaveAnswerRequest true "Answer data"
// @Success 200 {object} models.StudentAnswer
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/answer [post]
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.SaveAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	studentID := h.requireUserID(c)
	if studentID == "" {
		return
	}

	answer, err := h.attemptService.SaveAnswer(c.Request.Context(), id, &req, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, answer)
}

// Advance moves to the next question, saving the current answer first
// @Summary Advance to next question
// @Description Flushes the current answer (when provided), then moves the question index; on the last question it finalizes the attempt
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param navigation body services.AdvanceRequest false "Answer to flush before advancing"
// @Success 200 {object} services.AdvanceResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/advance [post]
func (h *AttemptHandler) Advance(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.AdvanceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid request payload",
				Details: err.Error(),
			})
			return
		}
	}

	studentID := h.requireUserID(c)
	if studentID == "" {
		return
	}

	result, err := h.attemptService.Advance(c.Request.Context(), id, &req, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Retreat moves back to the previous question
// @Summary Back to previous question
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/retreat [post]
func (h *AttemptHandler) Retreat(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID := h.requireUserID(c)
	if studentID == "" {
		return
	}

	response, err := h.attemptService.Retreat(c.Request.Context(), id, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// SubmitAttempt finalizes an attempt
// @Summary Submit attempt
// @Description Flushes final answers and finalizes the attempt; submitting twice yields 409
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param submission body services.SubmitAttemptRequest false "Final answers"
// @Success 200 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/submit [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.SubmitAttemptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid request payload",
				Details: err.Error(),
			})
			return
		}
	}

	studentID := h.requireUserID(c)
	if studentID == "" {
		return
	}

	h.LogRequest(c, "Submitting attempt", "attempt_id", id)

	response, err := h.attemptService.Submit(c.Request.Context(), id, &req, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetTimeRemaining returns the seconds left on an attempt
// @Summary Get remaining time
// @Description Returns the remaining seconds, derived from the server-stored deadline
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} map[string]int
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/time-remaining [get]
func (h *AttemptHandler) GetTimeRemaining(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID := h.requireUserID(c)
	if studentID == "" {
		return
	}

	remaining, err := h.attemptService.GetTimeRemaining(c.Request.Context(), id, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"time_remaining": remaining})
}
