package services

import (
	"context"
	"fmt"
	"time"

	"github.com/campuskit/attempt-service/internal/deadline"
	"github.com/campuskit/attempt-service/internal/events"
	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
)

// ===== READ OPERATIONS =====

func (s *attemptService) GetByIDWithDetails(ctx context.Context, attemptID uint, studentID string) (*AttemptResponse, error) {
	if _, err := s.getOwnedAttempt(ctx, attemptID, studentID, "view"); err != nil {
		return nil, err
	}
	return s.buildDetailedResponse(ctx, attemptID)
}

// GetCurrentAttempt returns the student's in-progress attempt for the
// assessment, or nil when none exists. Expired attempts are timed out
// in passing rather than handed back as resumable.
func (s *attemptService) GetCurrentAttempt(ctx context.Context, assessmentID uint, studentID string) (*AttemptResponse, error) {
	active, err := s.repo.Attempt().GetActiveAttempt(ctx, assessmentID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active attempt: %w", err)
	}
	if active == nil {
		return nil, nil
	}

	if active.IsExpired(time.Now()) {
		if err := s.HandleTimeout(ctx, active.ID); err != nil {
			s.logger.Error("Failed to time out expired attempt",
				"attempt_id", active.ID, "error", err)
		}
		return nil, nil
	}

	response, err := s.buildDetailedResponse(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	response.Resumed = true
	return response, nil
}

func (s *attemptService) GetTimeRemaining(ctx context.Context, attemptID uint, studentID string) (int, error) {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, studentID, "view")
	if err != nil {
		return 0, err
	}
	if attempt.Status != models.AttemptInProgress {
		return 0, ErrAttemptNotActive
	}
	return deadline.RemainingSeconds(attempt.Deadline(), time.Now()), nil
}

// ===== GUARDS =====

// getOwnedAttempt loads the attempt and verifies the caller owns it.
func (s *attemptService) getOwnedAttempt(ctx context.Context, attemptID uint, studentID, action string) (*models.AssessmentAttempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, NewPermissionError(studentID, attemptID, "attempt", action, "attempt belongs to another student")
	}
	return attempt, nil
}

// getOwnedActiveAttempt additionally requires the attempt to be in progress
// and inside its deadline. An expired attempt is timed out on the spot.
func (s *attemptService) getOwnedActiveAttempt(ctx context.Context, attemptID uint, studentID, action string) (*models.AssessmentAttempt, error) {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, studentID, action)
	if err != nil {
		return nil, err
	}
	if attempt.Status != models.AttemptInProgress {
		return nil, ErrAttemptNotActive
	}
	if attempt.IsExpired(time.Now()) {
		if err := s.HandleTimeout(ctx, attemptID); err != nil {
			s.logger.Error("Failed to time out expired attempt",
				"attempt_id", attemptID, "error", err)
		}
		return nil, ErrAttemptTimeExpired
	}
	return attempt, nil
}

func (s *attemptService) checkTakeable(assessment *models.Assessment) error {
	if assessment.Status != models.StatusActive {
		return ErrAssessmentNotPublished
	}
	if assessment.DueDate != nil && time.Now().After(*assessment.DueDate) {
		return ErrAssessmentExpired
	}
	return nil
}

// questionOfAssessment resolves a question and verifies it belongs to the
// given assessment.
func (s *attemptService) questionOfAssessment(ctx context.Context, repo repositories.Repository, assessmentID, questionID uint) (*models.Question, error) {
	assessment, err := repo.Assessment().GetByIDWithQuestions(ctx, assessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	for i := range assessment.Questions {
		if assessment.Questions[i].ID == questionID {
			return &assessment.Questions[i], nil
		}
	}
	return nil, ErrQuestionNotInAssessment
}

// validateAnswerForm checks that the provided answer shape matches the
// question type: choice questions take an option reference, text questions
// take a response body, never both.
func validateAnswerForm(question *models.Question, req *SaveAnswerRequest) error {
	if question.IsChoice() {
		if req.SelectedOptionID == nil {
			if req.TextResponse != nil {
				return ErrAnswerFormMismatch
			}
			return ErrAnswerEmpty
		}
		if req.TextResponse != nil {
			return ErrAnswerFormMismatch
		}
		if !question.HasOption(*req.SelectedOptionID) {
			return ErrOptionNotInQuestion
		}
		return nil
	}

	if req.SelectedOptionID != nil {
		return ErrAnswerFormMismatch
	}
	if req.TextResponse == nil || *req.TextResponse == "" {
		return ErrAnswerEmpty
	}
	return nil
}

// ===== RESPONSE BUILDING =====

func (s *attemptService) buildDetailedResponse(ctx context.Context, attemptID uint) (*AttemptResponse, error) {
	attempt, err := s.repo.Attempt().GetByIDWithDetails(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt details: %w", err)
	}
	return s.buildAttemptResponse(attempt), nil
}

func (s *attemptService) buildAttemptResponse(attempt *models.AssessmentAttempt) *AttemptResponse {
	now := time.Now()
	remaining := deadline.Remaining(attempt.Deadline(), now)

	response := &AttemptResponse{
		AssessmentAttempt: attempt,
		TimeRemaining:     int(remaining.Seconds()),
		TimeWarning:       attempt.Status == models.AttemptInProgress && deadline.InWarningWindow(attempt.Deadline(), now),
		CanSubmit:         attempt.Status == models.AttemptInProgress,
	}

	answersByQuestion := make(map[uint]*models.StudentAnswer, len(attempt.Answers))
	for i := range attempt.Answers {
		answersByQuestion[attempt.Answers[i].QuestionID] = &attempt.Answers[i]
	}

	questions := attempt.Assessment.Questions
	response.Questions = make([]QuestionForAttempt, len(questions))
	for i := range questions {
		response.Questions[i] = QuestionForAttempt{
			Question:       questions[i],
			ExistingAnswer: answersByQuestion[questions[i].ID],
			IsFirst:        i == 0,
			IsLast:         i == len(questions)-1,
		}
	}

	return response
}

// elapsedSeconds computes the time charged to the attempt, capped at the
// assessment's time limit. A client-reported figure is accepted only when
// it does not exceed the server-derived elapsed time.
func (s *attemptService) elapsedSeconds(attempt *models.AssessmentAttempt, now time.Time, reported *int) int {
	elapsed := int(now.Sub(attempt.StartedAt).Seconds())
	limit := int(attempt.Deadline().Sub(attempt.StartedAt).Seconds())
	if elapsed > limit {
		elapsed = limit
	}
	if reported != nil && *reported >= 0 && *reported < elapsed {
		return *reported
	}
	return elapsed
}

func (s *attemptService) publishEvent(ctx context.Context, event *events.AttemptEvent) {
	if err := s.publisher.PublishAttemptEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish attempt event",
			"event_type", event.Type, "error", err)
	}
}
