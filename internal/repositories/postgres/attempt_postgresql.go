package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
	"gorm.io/gorm"
)

type AttemptPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{db: db}
}

func (a AttemptPostgreSQL) Create(ctx context.Context, attempt *models.AssessmentAttempt) error {
	return a.db.WithContext(ctx).Create(attempt).Error
}

func (a AttemptPostgreSQL) GetByID(ctx context.Context, id uint) (*models.AssessmentAttempt, error) {
	var attempt models.AssessmentAttempt
	if err := a.db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a AttemptPostgreSQL) GetByIDWithDetails(ctx context.Context, id uint) (*models.AssessmentAttempt, error) {
	var attempt models.AssessmentAttempt
	if err := a.db.WithContext(ctx).
		Preload("Answers").
		Preload("Assessment").
		Preload("Assessment.Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.display_order ASC")
		}).
		Preload("Assessment.Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_options.display_order ASC")
		}).
		First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a AttemptPostgreSQL) Update(ctx context.Context, attempt *models.AssessmentAttempt) error {
	return a.db.WithContext(ctx).Save(attempt).Error
}

func (a AttemptPostgreSQL) GetActiveAttempt(ctx context.Context, assessmentID uint, studentID string) (*models.AssessmentAttempt, error) {
	var attempt models.AssessmentAttempt
	if err := a.db.WithContext(ctx).
		Where("assessment_id = ? AND student_id = ? AND status = ?",
			assessmentID, studentID, models.AttemptInProgress).
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (a AttemptPostgreSQL) GetStudentAttemptCount(ctx context.Context, assessmentID uint, studentID string) (int, error) {
	var count int64
	if err := a.db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("assessment_id = ? AND student_id = ?", assessmentID, studentID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// Finish performs the single allowed terminal transition. The WHERE clause on
// status makes concurrent finalizers (manual submit racing timer expiry)
// collapse to one effective transition.
func (a AttemptPostgreSQL) Finish(ctx context.Context, id uint, status models.AttemptStatus, endReason string, finishedAt time.Time, timeSpent int) (bool, error) {
	result := a.db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("id = ? AND status = ?", id, models.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":       status,
			"end_reason":   endReason,
			"submitted_at": finishedAt,
			"time_spent":   timeSpent,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (a AttemptPostgreSQL) UpdateProgress(ctx context.Context, id uint, currentQuestionIndex int) error {
	return a.db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("id = ?", id).
		Update("current_question_index", currentQuestionIndex).Error
}

func (a AttemptPostgreSQL) UpdateScore(ctx context.Context, id uint, score float64, maxScore int, percentage float64, passed, graded bool) error {
	return a.db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"score":      score,
			"max_score":  maxScore,
			"percentage": percentage,
			"passed":     passed,
			"is_graded":  graded,
		}).Error
}

func (a AttemptPostgreSQL) GetExpiredAttempts(ctx context.Context, cutoff time.Time) ([]*models.AssessmentAttempt, error) {
	var attempts []*models.AssessmentAttempt
	if err := a.db.WithContext(ctx).
		Where("status = ? AND end_time <= ?", models.AttemptInProgress, cutoff).
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (a AttemptPostgreSQL) GetInProgressAttempts(ctx context.Context) ([]*models.AssessmentAttempt, error) {
	var attempts []*models.AssessmentAttempt
	if err := a.db.WithContext(ctx).
		Where("status = ?", models.AttemptInProgress).
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (a AttemptPostgreSQL) List(ctx context.Context, filters repositories.AttemptFilters) ([]*models.AssessmentAttempt, int64, error) {
	var attempts []*models.AssessmentAttempt
	var total int64

	query := a.db.WithContext(ctx).Model(&models.AssessmentAttempt{})
	query = a.applyFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = a.applyPaginationAndSort(query, filters)
	if err := query.Preload("Assessment").Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func (a AttemptPostgreSQL) GetByAssessment(ctx context.Context, assessmentID uint, filters repositories.AttemptFilters) ([]*models.AssessmentAttempt, error) {
	var attempts []*models.AssessmentAttempt

	query := a.db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("assessment_id = ?", assessmentID)
	query = a.applyFilters(query, filters)
	query = a.applyPaginationAndSort(query, filters)

	if err := query.Preload("Answers").Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (a AttemptPostgreSQL) GetStats(ctx context.Context, assessmentID uint) (*repositories.AttemptStats, error) {
	var total int64
	if err := a.db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("assessment_id = ?", assessmentID).
		Count(&total).Error; err != nil {
		return nil, err
	}

	statusBreakdown := make(map[models.AttemptStatus]int)
	for _, status := range []models.AttemptStatus{models.AttemptInProgress, models.AttemptSubmitted, models.AttemptTimedOut} {
		var count int64
		if err := a.db.WithContext(ctx).
			Model(&models.AssessmentAttempt{}).
			Where("assessment_id = ? AND status = ?", assessmentID, status).
			Count(&count).Error; err != nil {
			return nil, err
		}
		statusBreakdown[status] = int(count)
	}

	var avgScore, avgTimeSpent float64
	var finishedCount, passedCount int64
	a.db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("assessment_id = ? AND status <> ?", assessmentID, models.AttemptInProgress).
		Select("COALESCE(AVG(score), 0), COALESCE(AVG(time_spent), 0), COUNT(*), SUM(CASE WHEN passed = true THEN 1 ELSE 0 END)").
		Row().Scan(&avgScore, &avgTimeSpent, &finishedCount, &passedCount)

	passRate := float64(0)
	if finishedCount > 0 {
		passRate = float64(passedCount) / float64(finishedCount)
	}

	return &repositories.AttemptStats{
		TotalAttempts:    int(total),
		StatusBreakdown:  statusBreakdown,
		AverageScore:     avgScore,
		AverageTimeSpent: int(avgTimeSpent),
		PassRate:         passRate,
	}, nil
}

func (a AttemptPostgreSQL) applyFilters(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

func (a AttemptPostgreSQL) applyPaginationAndSort(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	sortBy := filters.SortBy
	switch sortBy {
	case "started_at", "score", "created_at":
	default:
		sortBy = "created_at"
	}
	order := "DESC"
	if filters.SortOrder == "asc" {
		order = "ASC"
	}
	query = query.Order(sortBy + " " + order)

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}
	return query
}
