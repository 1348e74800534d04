package postgres

import (
	"context"

	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
	"gorm.io/gorm"
)

type AnswerPostgreSQL struct {
	db *gorm.DB
}

func NewAnswerPostgreSQL(db *gorm.DB) repositories.AnswerRepository {
	return &AnswerPostgreSQL{db: db}
}

func (a AnswerPostgreSQL) Create(ctx context.Context, answer *models.StudentAnswer) error {
	return a.db.WithContext(ctx).Create(answer).Error
}

func (a AnswerPostgreSQL) Update(ctx context.Context, answer *models.StudentAnswer) error {
	return a.db.WithContext(ctx).Save(answer).Error
}

func (a AnswerPostgreSQL) GetByAttemptAndQuestion(ctx context.Context, attemptID, questionID uint) (*models.StudentAnswer, error) {
	var answer models.StudentAnswer
	if err := a.db.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		First(&answer).Error; err != nil {
		return nil, err
	}
	return &answer, nil
}

func (a AnswerPostgreSQL) GetByAttempt(ctx context.Context, attemptID uint) ([]*models.StudentAnswer, error) {
	var answers []*models.StudentAnswer
	if err := a.db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("question_id ASC").
		Find(&answers).Error; err != nil {
		return nil, err
	}
	return answers, nil
}
