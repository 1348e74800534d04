package handlers

import (
	"github.com/campuskit/attempt-service/internal/services"
	"github.com/campuskit/attempt-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type HandlerManager struct {
	assessmentHandler *AssessmentHandler
	attemptHandler    *AttemptHandler
}

func NewHandlerManager(
	serviceManager *services.ServiceManager,
	validator *utils.Validator,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		assessmentHandler: NewAssessmentHandler(serviceManager.Assessment(), serviceManager.Export(), logger),
		attemptHandler:    NewAttemptHandler(serviceManager.Attempt(), validator, logger),
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Health check endpoint
	router.GET("/health", HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware)
	{
		// Assessment routes (read-only: authoring lives elsewhere)
		assessments := v1.Group("/assessments")
		{
			assessments.GET("/:id", hm.assessmentHandler.GetAssessment)
			assessments.GET("/:id/stats", hm.assessmentHandler.GetAssessmentStats)
			assessments.GET("/:id/results/export", hm.assessmentHandler.ExportResults)
		}

		// Attempt routes
		attempts := v1.Group("/attempts")
		{
			// Staff monitoring view
			attempts.GET("", hm.assessmentHandler.ListAttempts)

			attempts.POST("/start", hm.attemptHandler.StartAttempt)
			attempts.GET("/current/:assessment_id", hm.attemptHandler.GetCurrentAttempt)
			attempts.GET("/:id/details", hm.attemptHandler.GetAttempt)
			attempts.GET("/:id/time-remaining", hm.attemptHandler.GetTimeRemaining)
			attempts.POST("/:id/answer", hm.attemptHandler.SaveAnswer)
			attempts.POST("/:id/advance", hm.attemptHandler.Advance)
			attempts.POST("/:id/retreat", hm.attemptHandler.Retreat)
			attempts.POST("/:id/submit", hm.attemptHandler.SubmitAttempt)
		}
	}
}
