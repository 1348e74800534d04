package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
)

type assessmentService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewAssessmentService(repo repositories.Repository, logger *slog.Logger) AssessmentService {
	return &assessmentService{repo: repo, logger: logger}
}

func (s *assessmentService) GetByID(ctx context.Context, id uint, includeQuestions bool) (*models.Assessment, error) {
	var (
		assessment *models.Assessment
		err        error
	)
	if includeQuestions {
		assessment, err = s.repo.Assessment().GetByIDWithQuestions(ctx, id)
	} else {
		assessment, err = s.repo.Assessment().GetByID(ctx, id)
	}
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return assessment, nil
}

// GetStats aggregates attempt statistics for an assessment. Only staff may
// see them.
func (s *assessmentService) GetStats(ctx context.Context, assessmentID uint, userID string) (*repositories.AttemptStats, error) {
	if err := s.requireStaff(ctx, userID, assessmentID, "view_stats"); err != nil {
		return nil, err
	}

	exists, err := s.repo.Assessment().ExistsByID(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check assessment: %w", err)
	}
	if !exists {
		return nil, ErrAssessmentNotFound
	}

	stats, err := s.repo.Attempt().GetStats(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt stats: %w", err)
	}
	return stats, nil
}

// ListAttempts pages through attempts for staff monitoring, newest first
// unless the filters say otherwise.
func (s *assessmentService) ListAttempts(ctx context.Context, filters repositories.AttemptFilters, userID string) ([]*models.AssessmentAttempt, int64, error) {
	if err := s.requireStaff(ctx, userID, 0, "list_attempts"); err != nil {
		return nil, 0, err
	}

	attempts, total, err := s.repo.Attempt().List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, total, nil
}

func (s *assessmentService) requireStaff(ctx context.Context, userID string, assessmentID uint, action string) error {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user.Role != models.RoleTeacher && user.Role != models.RoleAdmin {
		return NewPermissionError(userID, assessmentID, "assessment", action, "requires teacher or admin role")
	}
	return nil
}
