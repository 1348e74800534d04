package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuskit/attempt-service/internal/cache"
	"github.com/campuskit/attempt-service/internal/deadline"
	"github.com/campuskit/attempt-service/internal/events"
	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
	"github.com/campuskit/attempt-service/internal/utils"
)

type attemptService struct {
	repo        repositories.Repository
	checkpoints cache.CheckpointStore
	publisher   events.EventPublisher
	grading     GradingService
	logger      *slog.Logger
	validator   *utils.Validator

	// registry is bound after construction; the expiry scheduler needs this
	// service to time attempts out, so neither can be built first.
	registry DeadlineRegistry
}

func NewAttemptService(
	repo repositories.Repository,
	checkpoints cache.CheckpointStore,
	publisher events.EventPublisher,
	grading GradingService,
	logger *slog.Logger,
	validator *utils.Validator,
) AttemptService {
	return &attemptService{
		repo:        repo,
		checkpoints: checkpoints,
		publisher:   publisher,
		grading:     grading,
		logger:      logger,
		validator:   validator,
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

// Start opens an attempt for the student. The attempt store is authoritative
// for the single-active-attempt rule: an existing in-progress attempt is
// always resumed with its original deadline, never duplicated, no matter how
// many clients or tabs call Start.
func (s *attemptService) Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*AttemptResponse, error) {
	s.logger.Info("Starting assessment attempt",
		"assessment_id", req.AssessmentID,
		"student_id", studentID)

	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	// Get assessment details
	assessment, err := s.repo.Assessment().GetByIDWithQuestions(ctx, req.AssessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	if err := s.checkTakeable(assessment); err != nil {
		return nil, err
	}

	// Checkpoint lookup is a fast path only; a cache failure must not kill
	// initialization while the attempt store can still answer.
	checkpoint, err := s.checkpoints.Get(ctx, req.AssessmentID, studentID)
	if err != nil {
		s.logger.Warn("Checkpoint lookup failed, falling back to attempt store",
			"assessment_id", req.AssessmentID,
			"student_id", studentID,
			"error", err)
		checkpoint = nil
	}

	// Authoritative single-active-attempt check.
	active, err := s.repo.Attempt().GetActiveAttempt(ctx, req.AssessmentID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active attempt: %w", err)
	}

	if active == nil && checkpoint != nil {
		// Stale marker left behind by a finished attempt; discard it.
		if clearErr := s.checkpoints.Clear(ctx, req.AssessmentID, studentID, checkpoint.AttemptID); clearErr != nil {
			s.logger.Warn("Failed to clear stale checkpoint", "error", clearErr)
		}
	}

	if active != nil {
		if active.IsExpired(time.Now()) {
			// Resumed past the deadline: the attempt ends now, it does not
			// get more time. A failed transition aborts the start; creating
			// a fresh attempt next to a still-open one would leave two in
			// progress.
			if err := s.HandleTimeout(ctx, active.ID); err != nil {
				return nil, fmt.Errorf("failed to time out expired attempt %d: %w", active.ID, err)
			}
		} else {
			return s.resume(ctx, active, req, studentID)
		}
	}

	// Enforce the attempt budget before creating a fresh one.
	count, err := s.repo.Attempt().GetStudentAttemptCount(ctx, req.AssessmentID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt count: %w", err)
	}
	if count >= assessment.MaxAttempts {
		return nil, ErrAttemptLimitExceeded
	}

	return s.create(ctx, req, assessment, studentID, count+1)
}

// resume re-enters an in-progress attempt. Remaining time derives from the
// stored start time; re-deriving from "now" would silently extend the
// allotted time.
func (s *attemptService) resume(ctx context.Context, active *models.AssessmentAttempt, req *StartAttemptRequest, studentID string) (*AttemptResponse, error) {
	s.logger.Info("Resuming existing attempt",
		"attempt_id", active.ID,
		"remaining_seconds", deadline.RemainingSeconds(active.Deadline(), time.Now()))

	// A fresh client session replaces the stored session metadata.
	if req.SessionData != nil {
		raw, err := json.Marshal(req.SessionData)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session data: %w", err)
		}
		active.SessionData = raw
		if err := s.repo.Attempt().Update(ctx, active); err != nil {
			s.logger.Warn("Failed to refresh session data on resume",
				"attempt_id", active.ID, "error", err)
		}
	}

	// Refresh the checkpoint so a reloaded client finds its marker again.
	if err := s.checkpoints.Save(ctx, active.AssessmentID, studentID, cache.Checkpoint{
		AttemptID: active.ID,
		StartedAt: active.StartedAt,
		Deadline:  active.Deadline(),
	}); err != nil {
		s.logger.Warn("Failed to refresh checkpoint on resume",
			"attempt_id", active.ID, "error", err)
	}

	s.trackDeadline(active)

	s.publishEvent(ctx, events.NewAttemptEvent(
		events.EventAttemptResumed, active.AssessmentID, active.ID, studentID))

	response, err := s.buildDetailedResponse(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	response.Resumed = true
	return response, nil
}

func (s *attemptService) create(ctx context.Context, req *StartAttemptRequest, assessment *models.Assessment, studentID string, attemptNumber int) (*AttemptResponse, error) {
	now := time.Now()

	attempt := &models.AssessmentAttempt{
		AssessmentID:   assessment.ID,
		StudentID:      studentID,
		AttemptNumber:  attemptNumber,
		Status:         models.AttemptInProgress,
		StartedAt:      now,
		EndTime:        deadline.Compute(now, assessment.Duration),
		TotalQuestions: len(assessment.Questions),
		MaxScore:       assessment.TotalPoints,
	}

	if req.SessionData != nil {
		raw, err := json.Marshal(req.SessionData)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session data: %w", err)
		}
		attempt.SessionData = raw
	}

	if err := s.repo.Attempt().Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	// The checkpoint mirrors the attempt for reload recovery; its loss is
	// recoverable through the attempt store.
	if err := s.checkpoints.Save(ctx, assessment.ID, studentID, cache.Checkpoint{
		AttemptID: attempt.ID,
		StartedAt: attempt.StartedAt,
		Deadline:  attempt.Deadline(),
	}); err != nil {
		s.logger.Warn("Failed to save checkpoint for new attempt",
			"attempt_id", attempt.ID, "error", err)
	}

	s.trackDeadline(attempt)

	s.publishEvent(ctx, events.NewAttemptEvent(
		events.EventAttemptStarted, assessment.ID, attempt.ID, studentID).
		WithData(map[string]interface{}{
			"attempt_number": attemptNumber,
			"deadline":       attempt.Deadline().Format(time.RFC3339),
		}))

	s.logger.Info("Assessment attempt started",
		"attempt_id", attempt.ID,
		"assessment_id", assessment.ID,
		"student_id", studentID,
		"attempt_number", attemptNumber)

	return s.buildDetailedResponse(ctx, attempt.ID)
}

// ===== ANSWERING AND NAVIGATION =====

// SaveAnswer upserts the learner's answer for one question of the attempt.
// The question must belong to the attempt's assessment, and the answer form
// must match the question type.
func (s *attemptService) SaveAnswer(ctx context.Context, attemptID uint, req *SaveAnswerRequest, studentID string) (*models.StudentAnswer, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	attempt, err := s.getOwnedActiveAttempt(ctx, attemptID, studentID, "save_answer")
	if err != nil {
		return nil, err
	}

	answer, err := s.persistAnswer(ctx, s.repo, attempt, req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Answer saved",
		"attempt_id", attemptID,
		"question_id", req.QuestionID)

	return answer, nil
}

// persistAnswer validates and upserts one answer through the given repository
// view, which may be transactional.
func (s *attemptService) persistAnswer(ctx context.Context, repo repositories.Repository, attempt *models.AssessmentAttempt, req *SaveAnswerRequest) (*models.StudentAnswer, error) {
	question, err := s.questionOfAssessment(ctx, repo, attempt.AssessmentID, req.QuestionID)
	if err != nil {
		return nil, err
	}

	if err := validateAnswerForm(question, req); err != nil {
		return nil, err
	}

	answer, err := repo.Answer().GetByAttemptAndQuestion(ctx, attempt.ID, req.QuestionID)
	if err != nil {
		if !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to get existing answer: %w", err)
		}
		answer = &models.StudentAnswer{
			AttemptID:  attempt.ID,
			QuestionID: req.QuestionID,
			MaxScore:   question.Points,
		}
	}

	now := time.Now()
	if answer.ID != 0 {
		if err := answer.AppendRevision(now); err != nil {
			s.logger.Warn("Failed to record answer revision",
				"attempt_id", attempt.ID, "question_id", req.QuestionID, "error", err)
		}
	}

	// The setters keep the two answer forms mutually exclusive.
	if req.SelectedOptionID != nil {
		answer.SetSelectedOption(*req.SelectedOptionID)
	} else {
		answer.SetTextResponse(*req.TextResponse)
	}
	if req.TimeSpent != nil {
		answer.TimeSpent += *req.TimeSpent
	}
	answer.MarkSaved(now)

	if answer.ID == 0 {
		err = repo.Answer().Create(ctx, answer)
	} else {
		err = repo.Answer().Update(ctx, answer)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to persist answer: %w", err)
	}

	return answer, nil
}

// Advance flushes the current answer (when provided) and moves the question
// index forward. The flush strictly precedes the index change; a failed save
// withholds the saved acknowledgment but does not block navigation. On the
// last question, Advance finalizes the attempt instead.
func (s *attemptService) Advance(ctx context.Context, attemptID uint, req *AdvanceRequest, studentID string) (*AdvanceResult, error) {
	attempt, err := s.getOwnedActiveAttempt(ctx, attemptID, studentID, "advance")
	if err != nil {
		return nil, err
	}

	answerSaved := false
	if req != nil && req.Answer != nil {
		if _, saveErr := s.SaveAnswer(ctx, attemptID, req.Answer, studentID); saveErr != nil {
			// Non-fatal: the next navigation's save attempt retries it.
			s.logger.Warn("Answer save failed during advance",
				"attempt_id", attemptID,
				"question_id", req.Answer.QuestionID,
				"error", saveErr)
		} else {
			answerSaved = true
		}
	}

	if attempt.CurrentQuestionIndex >= attempt.TotalQuestions-1 {
		response, err := s.Submit(ctx, attemptID, &SubmitAttemptRequest{}, studentID)
		if err != nil {
			return nil, err
		}
		return &AdvanceResult{Attempt: response, Finalized: true, AnswerSaved: answerSaved}, nil
	}

	if err := s.repo.Attempt().UpdateProgress(ctx, attemptID, attempt.CurrentQuestionIndex+1); err != nil {
		return nil, fmt.Errorf("failed to advance question index: %w", err)
	}

	response, err := s.buildDetailedResponse(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return &AdvanceResult{Attempt: response, AnswerSaved: answerSaved}, nil
}

// Retreat moves the question index back by one, clamped at the first
// question. No answer is re-saved on the way back.
func (s *attemptService) Retreat(ctx context.Context, attemptID uint, studentID string) (*AttemptResponse, error) {
	attempt, err := s.getOwnedActiveAttempt(ctx, attemptID, studentID, "retreat")
	if err != nil {
		return nil, err
	}

	if attempt.CurrentQuestionIndex > 0 {
		if err := s.repo.Attempt().UpdateProgress(ctx, attemptID, attempt.CurrentQuestionIndex-1); err != nil {
			return nil, fmt.Errorf("failed to retreat question index: %w", err)
		}
	}

	return s.buildDetailedResponse(ctx, attemptID)
}

// ===== FINALIZATION =====

// Submit finalizes the attempt. The terminal transition is conditional on
// the attempt still being in progress, so a manual submit racing timer
// expiry results in exactly one effective submission. When the repository
// supports transactions, the final answer flush and the transition commit
// together. Checkpoint markers are cleared only after the transition
// succeeds; a failed submit leaves them in place so the attempt can still be
// resumed.
func (s *attemptService) Submit(ctx context.Context, attemptID uint, req *SubmitAttemptRequest, studentID string) (*AttemptResponse, error) {
	s.logger.Info("Submitting assessment attempt",
		"attempt_id", attemptID,
		"student_id", studentID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	attempt, err := s.getOwnedAttempt(ctx, attemptID, studentID, "submit")
	if err != nil {
		return nil, err
	}
	if attempt.Status.IsTerminal() {
		return nil, ErrAttemptAlreadySubmitted
	}

	flushRepo := s.repo
	var tx repositories.TransactionRepository
	if capable, ok := s.repo.(repositories.TransactionRepository); ok {
		view, err := capable.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin submit transaction: %w", err)
		}
		tx = view
		flushRepo = view
	}

	// Flush any final answers before the terminal transition.
	for i := range req.Answers {
		if _, err := s.persistAnswer(ctx, flushRepo, attempt, &req.Answers[i]); err != nil {
			s.rollback(ctx, tx)
			return nil, fmt.Errorf("failed to save answer for question %d: %w", req.Answers[i].QuestionID, err)
		}
	}

	now := time.Now()
	timeSpent := s.elapsedSeconds(attempt, now, req.TimeSpent)

	transitioned, err := flushRepo.Attempt().Finish(ctx, attemptID, models.AttemptSubmitted, models.AttemptEndReasonManual, now, timeSpent)
	if err != nil {
		s.rollback(ctx, tx)
		return nil, fmt.Errorf("failed to submit attempt: %w", err)
	}
	if !transitioned {
		// Somebody else (timer expiry, another tab) won the race. The
		// flushed answers roll back with it; the deadline had passed.
		s.rollback(ctx, tx)
		return nil, ErrAttemptAlreadySubmitted
	}

	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit submit: %w", err)
		}
	}

	s.finishAttempt(ctx, attempt, events.EventAttemptSubmitted)

	s.logger.Info("Assessment attempt submitted",
		"attempt_id", attemptID,
		"student_id", studentID)

	return s.buildDetailedResponse(ctx, attemptID)
}

// HandleTimeout is the expiry path of finalization. It is safe to call for
// attempts that already finished: the conditional transition makes repeated
// or racing invocations no-ops.
func (s *attemptService) HandleTimeout(ctx context.Context, attemptID uint) error {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.Status.IsTerminal() {
		return nil // Already handled
	}

	now := time.Now()
	transitioned, err := s.repo.Attempt().Finish(ctx, attemptID, models.AttemptTimedOut, models.AttemptEndReasonTimeout, now, s.elapsedSeconds(attempt, now, nil))
	if err != nil {
		return fmt.Errorf("failed to time out attempt: %w", err)
	}
	if !transitioned {
		return nil // Lost the race to a manual submit
	}

	s.logger.Info("Attempt timed out", "attempt_id", attemptID)

	s.finishAttempt(ctx, attempt, events.EventAttemptTimedOut)
	return nil
}

// finishAttempt runs the shared post-transition work: countdown disarm,
// checkpoint cleanup, lifecycle event, asynchronous auto-grading.
func (s *attemptService) finishAttempt(ctx context.Context, attempt *models.AssessmentAttempt, eventType events.AttemptEventType) {
	s.untrackDeadline(attempt.ID)

	if err := s.checkpoints.Clear(ctx, attempt.AssessmentID, attempt.StudentID, attempt.ID); err != nil {
		s.logger.Warn("Failed to clear checkpoint after finalize",
			"attempt_id", attempt.ID, "error", err)
	}

	s.publishEvent(ctx, events.NewAttemptEvent(
		eventType, attempt.AssessmentID, attempt.ID, attempt.StudentID))

	go func() {
		if _, err := s.grading.AutoGradeAttempt(context.Background(), attempt.ID); err != nil {
			s.logger.Error("Failed to auto-grade attempt",
				"attempt_id", attempt.ID, "error", err)
		}
	}()
}

// trackDeadline and untrackDeadline forward to the countdown registry when
// one is bound; without it the expiry sweep still times attempts out.
func (s *attemptService) trackDeadline(attempt *models.AssessmentAttempt) {
	if s.registry != nil {
		s.registry.Track(attempt)
	}
}

func (s *attemptService) untrackDeadline(attemptID uint) {
	if s.registry != nil {
		s.registry.Untrack(attemptID)
	}
}

func (s *attemptService) rollback(ctx context.Context, tx repositories.TransactionRepository) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(ctx); err != nil {
		s.logger.Warn("Failed to roll back submit transaction", "error", err)
	}
}
