package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
	"github.com/campuskit/attempt-service/internal/services"
	"github.com/campuskit/attempt-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type AssessmentHandler struct {
	BaseHandler
	assessmentService services.AssessmentService
	exportService     services.ExportService
}

func NewAssessmentHandler(
	assessmentService services.AssessmentService,
	exportService services.ExportService,
	logger utils.Logger,
) *AssessmentHandler {
	return &AssessmentHandler{
		BaseHandler:       NewBaseHandler(logger),
		assessmentService: assessmentService,
		exportService:     exportService,
	}
}

// GetAssessment retrieves an assessment with its questions
// @Summary Get assessment
// @Description Retrieves the assessment with questions and options; option correctness is never included
// @Tags assessments
// @Produce json
// @Param id path uint true "Assessment ID"
// @Success 200 {object} models.Assessment
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id} [get]
func (h *AssessmentHandler) GetAssessment(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	includeQuestions := c.DefaultQuery("include_questions", "true") == "true"

	assessment, err := h.assessmentService.GetByID(c.Request.Context(), id, includeQuestions)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// GetAssessmentStats returns attempt statistics for an assessment
// @Summary Get assessment statistics
// @Tags assessments
// @Produce json
// @Param id path uint true "Assessment ID"
// @Success 200 {object} repositories.AttemptStats
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id}/stats [get]
func (h *AssessmentHandler) GetAssessmentStats(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID := h.requireUserID(c)
	if userID == "" {
		return
	}

	stats, err := h.assessmentService.GetStats(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ListAttempts lists attempts across assessments for staff monitoring
// @Summary List attempts
// @Description Pages through attempts, optionally filtered by status and student; staff only
// @Tags attempts
// @Produce json
// @Param status query string false "Attempt status filter"
// @Param student_id query string false "Student filter"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /attempts [get]
func (h *AssessmentHandler) ListAttempts(c *gin.Context) {
	userID := h.requireUserID(c)
	if userID == "" {
		return
	}

	filters := repositories.AttemptFilters{
		Limit:     50,
		SortBy:    "started_at",
		SortOrder: "desc",
	}
	if status := c.Query("status"); status != "" {
		st := models.AttemptStatus(status)
		filters.Status = &st
	}
	if student := c.Query("student_id"); student != "" {
		filters.StudentID = &student
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && limit > 0 && limit <= 200 {
		filters.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && offset > 0 {
		filters.Offset = offset
	}

	attempts, total, err := h.assessmentService.ListAttempts(c.Request.Context(), filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempts": attempts,
		"total":    total,
	})
}

// ExportResults downloads attempt results as an xlsx workbook
// @Summary Export attempt results
// @Description Exports every attempt of the assessment as an Excel workbook; staff only
// @Tags assessments
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path uint true "Assessment ID"
// @Success 200 {file} binary
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id}/results/export [get]
func (h *AssessmentHandler) ExportResults(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID := h.requireUserID(c)
	if userID == "" {
		return
	}

	h.LogRequest(c, "Exporting attempt results", "assessment_id", id)

	data, err := h.exportService.ExportAttemptResults(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("assessment_%d_results.xlsx", id)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
