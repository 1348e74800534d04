package repositories

import (
	"context"
	"time"

	"github.com/campuskit/attempt-service/internal/models"
)

type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.AssessmentAttempt) error
	GetByID(ctx context.Context, id uint) (*models.AssessmentAttempt, error)
	// GetByIDWithDetails loads the attempt with its answers and the owning
	// assessment's questions.
	GetByIDWithDetails(ctx context.Context, id uint) (*models.AssessmentAttempt, error)
	Update(ctx context.Context, attempt *models.AssessmentAttempt) error

	// GetActiveAttempt returns the single in-progress attempt for the
	// student on the assessment, or nil when there is none.
	GetActiveAttempt(ctx context.Context, assessmentID uint, studentID string) (*models.AssessmentAttempt, error)
	GetStudentAttemptCount(ctx context.Context, assessmentID uint, studentID string) (int, error)

	// Finish transitions the attempt to a terminal status. The transition is
	// conditional on the attempt still being in progress; it reports whether
	// this call performed the transition, which makes finalization idempotent
	// under racing submitters.
	Finish(ctx context.Context, id uint, status models.AttemptStatus, endReason string, finishedAt time.Time, timeSpent int) (bool, error)

	UpdateProgress(ctx context.Context, id uint, currentQuestionIndex int) error
	// UpdateScore records the attempt's score; graded marks whether every
	// answer has been graded (false while essays await manual grading).
	UpdateScore(ctx context.Context, id uint, score float64, maxScore int, percentage float64, passed, graded bool) error

	// GetExpiredAttempts returns in-progress attempts whose deadline is at or
	// before the cutoff, for the expiry sweep.
	GetExpiredAttempts(ctx context.Context, cutoff time.Time) ([]*models.AssessmentAttempt, error)
	GetInProgressAttempts(ctx context.Context) ([]*models.AssessmentAttempt, error)

	List(ctx context.Context, filters AttemptFilters) ([]*models.AssessmentAttempt, int64, error)
	GetByAssessment(ctx context.Context, assessmentID uint, filters AttemptFilters) ([]*models.AssessmentAttempt, error)
	GetStats(ctx context.Context, assessmentID uint) (*AttemptStats, error)
}
