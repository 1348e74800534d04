package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/campuskit/attempt-service/internal/models"
	"gorm.io/gorm"
)

// ===== AGGREGATE ACCESS =====

type Repository interface {
	Assessment() AssessmentRepository
	Attempt() AttemptRepository
	Answer() AnswerRepository
	User() UserRepository
}

// TransactionRepository is implemented by repositories that can open a
// transactional view of themselves. Begin returns a view whose writes are
// settled by Commit or Rollback on that view.
type TransactionRepository interface {
	Repository
	Begin(ctx context.Context) (TransactionRepository, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// IsNotFoundError reports whether err represents a missing row.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ===== SHARED FILTER STRUCTS =====

type AttemptFilters struct {
	Status    *models.AttemptStatus `json:"status"`
	StudentID *string               `json:"student_id"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`    // "created_at", "started_at", "score"
	SortOrder string                `json:"sort_order"` // "asc", "desc"
}

// ===== SHARED STATISTICS STRUCTS =====

type AttemptStats struct {
	TotalAttempts    int                          `json:"total_attempts"`
	StatusBreakdown  map[models.AttemptStatus]int `json:"status_breakdown"`
	AverageScore     float64                      `json:"average_score"`
	AverageTimeSpent int                          `json:"average_time_spent"`
	PassRate         float64                      `json:"pass_rate"`
}
