package services

import (
	"context"
	"log/slog"

	"github.com/campuskit/attempt-service/internal/cache"
	"github.com/campuskit/attempt-service/internal/events"
	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
	"github.com/campuskit/attempt-service/internal/utils"
)

// ===== REQUEST / RESPONSE TYPES =====

type StartAttemptRequest struct {
	AssessmentID uint                   `json:"assessment_id" validate:"required"`
	SessionData  map[string]interface{} `json:"session_data,omitempty"`
}

type SaveAnswerRequest struct {
	QuestionID       uint    `json:"question_id" validate:"required"`
	SelectedOptionID *uint   `json:"selected_option_id,omitempty"`
	TextResponse     *string `json:"text_response,omitempty"`
	TimeSpent        *int    `json:"time_spent,omitempty" validate:"omitempty,min=0"`
}

type AdvanceRequest struct {
	// Answer, when present, is flushed before the index moves.
	Answer *SaveAnswerRequest `json:"answer,omitempty"`
}

type SubmitAttemptRequest struct {
	// Final answers to flush before the terminal transition.
	Answers   []SaveAnswerRequest `json:"answers,omitempty" validate:"omitempty,dive"`
	TimeSpent *int                `json:"time_spent,omitempty" validate:"omitempty,min=0"`
}

// QuestionForAttempt pairs a question with the learner's persisted answer.
type QuestionForAttempt struct {
	Question       models.Question       `json:"question"`
	ExistingAnswer *models.StudentAnswer `json:"existing_answer,omitempty"`
	IsFirst        bool                  `json:"is_first"`
	IsLast         bool                  `json:"is_last"`
}

type AttemptResponse struct {
	*models.AssessmentAttempt

	// TimeRemaining is computed from the stored deadline, seconds, clamped at 0.
	TimeRemaining int  `json:"time_remaining"`
	TimeWarning   bool `json:"time_warning"`
	Resumed       bool `json:"resumed"`
	CanSubmit     bool `json:"can_submit"`

	Questions []QuestionForAttempt `json:"questions,omitempty"`
}

// AdvanceResult reports the outcome of a forward navigation: either the index
// moved, or the attempt was on its last question and got finalized.
type AdvanceResult struct {
	Attempt     *AttemptResponse `json:"attempt"`
	Finalized   bool             `json:"finalized"`
	AnswerSaved bool             `json:"answer_saved"`
}

// ===== SERVICE INTERFACES =====

type AttemptService interface {
	// Start creates a new attempt or resumes the student's in-progress one.
	Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*AttemptResponse, error)
	GetByIDWithDetails(ctx context.Context, attemptID uint, userID string) (*AttemptResponse, error)
	GetCurrentAttempt(ctx context.Context, assessmentID uint, studentID string) (*AttemptResponse, error)

	SaveAnswer(ctx context.Context, attemptID uint, req *SaveAnswerRequest, studentID string) (*models.StudentAnswer, error)
	Advance(ctx context.Context, attemptID uint, req *AdvanceRequest, studentID string) (*AdvanceResult, error)
	Retreat(ctx context.Context, attemptID uint, studentID string) (*AttemptResponse, error)

	Submit(ctx context.Context, attemptID uint, req *SubmitAttemptRequest, studentID string) (*AttemptResponse, error)
	HandleTimeout(ctx context.Context, attemptID uint) error

	GetTimeRemaining(ctx context.Context, attemptID uint, studentID string) (int, error)
}

type AssessmentService interface {
	GetByID(ctx context.Context, id uint, includeQuestions bool) (*models.Assessment, error)
	GetStats(ctx context.Context, assessmentID uint, userID string) (*repositories.AttemptStats, error)
	// ListAttempts pages through attempts for staff monitoring.
	ListAttempts(ctx context.Context, filters repositories.AttemptFilters, userID string) ([]*models.AssessmentAttempt, int64, error)
}

// DeadlineRegistry arms and disarms server-side countdowns for in-progress
// attempts. The attempt service registers attempts on start and resume and
// disarms them when they finish.
type DeadlineRegistry interface {
	Track(attempt *models.AssessmentAttempt)
	Untrack(attemptID uint)
}

type GradingResult struct {
	AttemptID       uint    `json:"attempt_id"`
	Score           float64 `json:"score"`
	MaxScore        int     `json:"max_score"`
	Percentage      float64 `json:"percentage"`
	Passed          bool    `json:"passed"`
	GradedAnswers   int     `json:"graded_answers"`
	UngradedAnswers int     `json:"ungraded_answers"` // essays, and short answers without expected text
}

type GradingService interface {
	AutoGradeAttempt(ctx context.Context, attemptID uint) (*GradingResult, error)
}

type ExportService interface {
	// ExportAttemptResults renders all attempts of an assessment to an xlsx
	// workbook.
	ExportAttemptResults(ctx context.Context, assessmentID uint, userID string) ([]byte, error)
}

// ===== SERVICE MANAGER =====

// ServiceManager wires the service layer once and hands it to transports.
type ServiceManager struct {
	attempt    AttemptService
	assessment AssessmentService
	grading    GradingService
	export     ExportService
}

func NewServiceManager(
	repo repositories.Repository,
	checkpoints cache.CheckpointStore,
	publisher events.EventPublisher,
	logger *slog.Logger,
	validator *utils.Validator,
) *ServiceManager {
	grading := NewGradingService(repo, logger)
	return &ServiceManager{
		attempt:    NewAttemptService(repo, checkpoints, publisher, grading, logger, validator),
		assessment: NewAssessmentService(repo, logger),
		grading:    grading,
		export:     NewExportService(repo, logger),
	}
}

// BindDeadlineRegistry connects the countdown scheduler once both sides
// exist; the scheduler needs the attempt service to time attempts out, so
// the registry cannot be a constructor argument.
func (m *ServiceManager) BindDeadlineRegistry(registry DeadlineRegistry) {
	if svc, ok := m.attempt.(*attemptService); ok {
		svc.registry = registry
	}
}

func (m *ServiceManager) Attempt() AttemptService       { return m.attempt }
func (m *ServiceManager) Assessment() AssessmentService { return m.assessment }
func (m *ServiceManager) Grading() GradingService       { return m.grading }
func (m *ServiceManager) Export() ExportService         { return m.export }
