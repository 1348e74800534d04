package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
)

type gradingService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewGradingService(repo repositories.Repository, logger *slog.Logger) GradingService {
	return &gradingService{repo: repo, logger: logger}
}

// AutoGradeAttempt grades a finished attempt: choice answers against their
// question's correct option, short answers against the question's expected
// text. Essays, and short answers without an expected text, are left for
// manual grading; the attempt is marked graded only when nothing awaits a
// human.
func (s *gradingService) AutoGradeAttempt(ctx context.Context, attemptID uint) (*GradingResult, error) {
	attempt, err := s.repo.Attempt().GetByIDWithDetails(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt for grading: %w", err)
	}
	if attempt.Status == models.AttemptInProgress {
		return nil, ErrAttemptNotActive
	}

	questionsByID := make(map[uint]*models.Question, len(attempt.Assessment.Questions))
	maxScore := 0
	for i := range attempt.Assessment.Questions {
		q := &attempt.Assessment.Questions[i]
		questionsByID[q.ID] = q
		maxScore += q.Points
	}

	result := &GradingResult{AttemptID: attemptID, MaxScore: maxScore}
	now := time.Now()

	for i := range attempt.Answers {
		answer := &attempt.Answers[i]
		question, ok := questionsByID[answer.QuestionID]
		if !ok {
			s.logger.Warn("Answer references unknown question, skipping",
				"attempt_id", attemptID, "question_id", answer.QuestionID)
			continue
		}

		var gradeable, correct bool
		switch {
		case question.IsChoice():
			gradeable = true
			correct = answer.SelectedOptionID != nil &&
				s.isCorrectOption(question, *answer.SelectedOptionID)
		case question.Type == models.ShortAnswer && question.ExpectedAnswer != nil:
			gradeable = true
			correct = matchesExpectedAnswer(question, answer)
		}

		if !gradeable {
			result.UngradedAnswers++
			continue
		}

		answer.IsCorrect = &correct
		answer.IsGraded = true
		answer.GradedAt = &now
		answer.MaxScore = question.Points
		if correct {
			answer.Score = float64(question.Points)
		} else {
			answer.Score = 0
		}

		if err := s.repo.Answer().Update(ctx, answer); err != nil {
			return nil, fmt.Errorf("failed to save grade for question %d: %w", answer.QuestionID, err)
		}

		result.Score += answer.Score
		result.GradedAnswers++
	}

	if maxScore > 0 {
		result.Percentage = result.Score / float64(maxScore) * 100
	}
	result.Passed = result.Percentage >= float64(attempt.Assessment.PassingScore)

	fullyGraded := result.UngradedAnswers == 0
	if err := s.repo.Attempt().UpdateScore(ctx, attemptID, result.Score, maxScore, result.Percentage, result.Passed, fullyGraded); err != nil {
		return nil, fmt.Errorf("failed to save attempt score: %w", err)
	}

	s.logger.Info("Attempt auto-graded",
		"attempt_id", attemptID,
		"score", result.Score,
		"max_score", maxScore,
		"ungraded_answers", result.UngradedAnswers)

	return result, nil
}

func (s *gradingService) isCorrectOption(question *models.Question, optionID uint) bool {
	for _, opt := range question.Options {
		if opt.ID == optionID {
			return opt.IsCorrect
		}
	}
	return false
}

// matchesExpectedAnswer compares a short answer against the question's
// expected text, ignoring case and surrounding whitespace.
func matchesExpectedAnswer(question *models.Question, answer *models.StudentAnswer) bool {
	if answer.TextResponse == nil {
		return false
	}
	return strings.EqualFold(
		strings.TrimSpace(*answer.TextResponse),
		strings.TrimSpace(*question.ExpectedAnswer))
}
