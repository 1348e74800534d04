package postgres

import (
	"context"

	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
	"gorm.io/gorm"
)

// Repository bundles the PostgreSQL implementations of the aggregate
// repositories over a single gorm handle so transactional views share one
// connection.
type Repository struct {
	db *gorm.DB

	assessment repositories.AssessmentRepository
	attempt    repositories.AttemptRepository
	answer     repositories.AnswerRepository
	user       repositories.UserRepository
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:         db,
		assessment: NewAssessmentPostgreSQL(db),
		attempt:    NewAttemptPostgreSQL(db),
		answer:     NewAnswerPostgreSQL(db),
		user:       NewUserPostgreSQL(db),
	}
}

var _ repositories.TransactionRepository = (*Repository)(nil)

func (r *Repository) Assessment() repositories.AssessmentRepository { return r.assessment }
func (r *Repository) Attempt() repositories.AttemptRepository       { return r.attempt }
func (r *Repository) Answer() repositories.AnswerRepository         { return r.answer }
func (r *Repository) User() repositories.UserRepository             { return r.user }

func (r *Repository) Begin(ctx context.Context) (repositories.TransactionRepository, error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return NewRepository(tx), nil
}

func (r *Repository) Commit(ctx context.Context) error {
	return r.db.Commit().Error
}

func (r *Repository) Rollback(ctx context.Context) error {
	return r.db.Rollback().Error
}

// AutoMigrate creates or updates the schema for all owned models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Assessment{},
		&models.Question{},
		&models.QuestionOption{},
		&models.AssessmentAttempt{},
		&models.StudentAnswer{},
	)
}
