package repositories

import (
	"context"

	"github.com/campuskit/attempt-service/internal/models"
)

type AnswerRepository interface {
	Create(ctx context.Context, answer *models.StudentAnswer) error
	Update(ctx context.Context, answer *models.StudentAnswer) error
	GetByAttemptAndQuestion(ctx context.Context, attemptID, questionID uint) (*models.StudentAnswer, error)
	GetByAttempt(ctx context.Context, attemptID uint) ([]*models.StudentAnswer, error)
}
