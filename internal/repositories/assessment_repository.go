package repositories

import (
	"context"

	"github.com/campuskit/attempt-service/internal/models"
)

// AssessmentRepository reads assessment definitions. This service does not
// own authoring; creation exists for fixtures and migration tooling.
type AssessmentRepository interface {
	Create(ctx context.Context, assessment *models.Assessment) error
	GetByID(ctx context.Context, id uint) (*models.Assessment, error)
	// GetByIDWithQuestions loads the assessment with its questions in display
	// order, each with its options.
	GetByIDWithQuestions(ctx context.Context, id uint) (*models.Assessment, error)
	ExistsByID(ctx context.Context, id uint) (bool, error)
}
