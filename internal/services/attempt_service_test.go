package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/campuskit/attempt-service/internal/cache"
	"github.com/campuskit/attempt-service/internal/events"
	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testStudentID = "student-1"

type attemptServiceFixture struct {
	repo        *mockRepository
	checkpoints *memoryCheckpointStore
	publisher   *events.MockEventPublisher
	grading     *stubGradingService
	registry    *stubDeadlineRegistry
	service     AttemptService
}

func newAttemptServiceFixture(t *testing.T) *attemptServiceFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &attemptServiceFixture{
		repo:        newMockRepository(),
		checkpoints: newMemoryCheckpointStore(),
		publisher:   events.NewMockEventPublisher(logger),
		grading:     &stubGradingService{},
		registry:    &stubDeadlineRegistry{},
	}
	f.service = NewAttemptService(f.repo, f.checkpoints, f.publisher, f.grading, logger, utils.NewValidator())
	f.service.(*attemptService).registry = f.registry
	return f
}

// newTxAttemptServiceFixture builds the service over a transaction-capable
// repository so submits run their flush and transition in one unit.
func newTxAttemptServiceFixture(t *testing.T) (*attemptServiceFixture, *txMockRepository) {
	t.Helper()
	f := newAttemptServiceFixture(t)
	tx := &txMockRepository{mockRepository: f.repo}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewAttemptService(tx, f.checkpoints, f.publisher, f.grading, logger, utils.NewValidator())
	f.service.(*attemptService).registry = f.registry
	return f, tx
}

func testAssessment() *models.Assessment {
	return &models.Assessment{
		ID:           10,
		Title:        "Network Fundamentals Final",
		Duration:     60, // minutes
		Status:       models.StatusActive,
		MaxAttempts:  2,
		PassingScore: 60,
		TotalPoints:  20,
		Questions: []models.Question{
			{
				ID: 100, AssessmentID: 10, Type: models.MultipleChoice, Points: 10, DisplayOrder: 1,
				Options: []models.QuestionOption{
					{ID: 1000, QuestionID: 100, IsCorrect: true},
					{ID: 1001, QuestionID: 100},
				},
			},
			{ID: 101, AssessmentID: 10, Type: models.Essay, Points: 10, DisplayOrder: 2},
		},
	}
}

func testAttempt(startedAgo time.Duration) *models.AssessmentAttempt {
	now := time.Now()
	started := now.Add(-startedAgo)
	return &models.AssessmentAttempt{
		ID:             42,
		AssessmentID:   10,
		StudentID:      testStudentID,
		AttemptNumber:  1,
		Status:         models.AttemptInProgress,
		StartedAt:      started,
		EndTime:        started.Add(60 * time.Minute),
		TotalQuestions: 2,
		MaxScore:       20,
	}
}

func withDetails(attempt *models.AssessmentAttempt) *models.AssessmentAttempt {
	detailed := *attempt
	detailed.Assessment = *testAssessment()
	return &detailed
}

func checkpointFor(attempt *models.AssessmentAttempt) cache.Checkpoint {
	return cache.Checkpoint{
		AttemptID: attempt.ID,
		StartedAt: attempt.StartedAt,
		Deadline:  attempt.EndTime,
	}
}

func TestAttemptService_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh attempt gets full duration", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		assessment := testAssessment()

		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(assessment, nil)
		f.repo.attempt.On("GetActiveAttempt", ctx, uint(10), testStudentID).Return(nil, nil)
		f.repo.attempt.On("GetStudentAttemptCount", ctx, uint(10), testStudentID).Return(0, nil)
		var created *models.AssessmentAttempt
		f.repo.attempt.On("Create", ctx, mock.AnythingOfType("*models.AssessmentAttempt")).
			Run(func(args mock.Arguments) {
				created = args.Get(1).(*models.AssessmentAttempt)
				created.ID = 42
			}).Return(nil)
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(42)).
			Return(withDetails(testAttempt(0)), nil)

		response, err := f.service.Start(ctx, &StartAttemptRequest{AssessmentID: 10}, testStudentID)
		require.NoError(t, err)

		assert.False(t, response.Resumed)
		assert.InDelta(t, 3600, response.TimeRemaining, 2)
		assert.True(t, f.checkpoints.Has(10, testStudentID))

		require.NotNil(t, created)
		assert.Equal(t, 1, created.AttemptNumber)
		assert.Equal(t, 2, created.TotalQuestions)
		assert.Equal(t, 60*time.Minute, created.EndTime.Sub(created.StartedAt))
		assert.Equal(t, []uint{42}, f.registry.trackedIDs())

		published := f.publisher.GetPublishedEvents()
		require.Len(t, published, 1)
		assert.Equal(t, events.EventAttemptStarted, published[0].Type)
	})

	t.Run("active attempt is resumed, never duplicated", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		active := testAttempt(10 * time.Minute)

		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.attempt.On("GetActiveAttempt", ctx, uint(10), testStudentID).Return(active, nil)
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(42)).Return(withDetails(active), nil)

		response, err := f.service.Start(ctx, &StartAttemptRequest{AssessmentID: 10}, testStudentID)
		require.NoError(t, err)

		assert.True(t, response.Resumed)
		// Remaining time derives from the original start, not from now.
		assert.InDelta(t, 3000, response.TimeRemaining, 2)
		// The countdown is re-armed against the original deadline.
		assert.Equal(t, []uint{42}, f.registry.trackedIDs())

		f.repo.attempt.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)

		published := f.publisher.GetPublishedEvents()
		require.Len(t, published, 1)
		assert.Equal(t, events.EventAttemptResumed, published[0].Type)
	})

	t.Run("repeated start does not create a second attempt", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		active := testAttempt(time.Minute)

		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.attempt.On("GetActiveAttempt", ctx, uint(10), testStudentID).Return(active, nil)
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(42)).Return(withDetails(active), nil)

		for i := 0; i < 2; i++ {
			response, err := f.service.Start(ctx, &StartAttemptRequest{AssessmentID: 10}, testStudentID)
			require.NoError(t, err)
			assert.True(t, response.Resumed)
		}
		f.repo.attempt.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("expired active attempt is timed out and a fresh one created", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		expired := testAttempt(2 * time.Hour)

		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.attempt.On("GetActiveAttempt", ctx, uint(10), testStudentID).Return(expired, nil)
		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(expired, nil)
		f.repo.attempt.On("Finish", ctx, uint(42), models.AttemptTimedOut, models.AttemptEndReasonTimeout,
			mock.AnythingOfType("time.Time"), 3600).Return(true, nil)
		f.repo.attempt.On("GetStudentAttemptCount", ctx, uint(10), testStudentID).Return(1, nil)
		f.repo.attempt.On("Create", ctx, mock.AnythingOfType("*models.AssessmentAttempt")).
			Run(func(args mock.Arguments) {
				args.Get(1).(*models.AssessmentAttempt).ID = 43
			}).Return(nil)
		fresh := testAttempt(0)
		fresh.ID = 43
		fresh.AttemptNumber = 2
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(43)).Return(withDetails(fresh), nil)

		response, err := f.service.Start(ctx, &StartAttemptRequest{AssessmentID: 10}, testStudentID)
		require.NoError(t, err)
		assert.False(t, response.Resumed)
		assert.Equal(t, uint(43), response.ID)
	})

	t.Run("resume with fresh session data persists it", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		active := testAttempt(10 * time.Minute)

		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.attempt.On("GetActiveAttempt", ctx, uint(10), testStudentID).Return(active, nil)
		f.repo.attempt.On("Update", ctx, active).Return(nil)
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(42)).Return(withDetails(active), nil)

		response, err := f.service.Start(ctx, &StartAttemptRequest{
			AssessmentID: 10,
			SessionData:  map[string]interface{}{"browser": "firefox"},
		}, testStudentID)
		require.NoError(t, err)

		assert.True(t, response.Resumed)
		f.repo.attempt.AssertCalled(t, "Update", ctx, active)
		assert.JSONEq(t, `{"browser":"firefox"}`, string(active.SessionData))
	})

	t.Run("failed timeout of an expired attempt aborts the start", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		expired := testAttempt(2 * time.Hour)

		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.attempt.On("GetActiveAttempt", ctx, uint(10), testStudentID).Return(expired, nil)
		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(expired, nil)
		f.repo.attempt.On("Finish", ctx, uint(42), models.AttemptTimedOut, models.AttemptEndReasonTimeout,
			mock.AnythingOfType("time.Time"), 3600).Return(false, assert.AnError)

		_, err := f.service.Start(ctx, &StartAttemptRequest{AssessmentID: 10}, testStudentID)
		require.Error(t, err)

		// The old attempt is still open; a second one must not appear.
		f.repo.attempt.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		f.repo.attempt.AssertNotCalled(t, "GetStudentAttemptCount", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("attempt limit reached", func(t *testing.T) {
		f := newAttemptServiceFixture(t)

		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.attempt.On("GetActiveAttempt", ctx, uint(10), testStudentID).Return(nil, nil)
		f.repo.attempt.On("GetStudentAttemptCount", ctx, uint(10), testStudentID).Return(2, nil)

		_, err := f.service.Start(ctx, &StartAttemptRequest{AssessmentID: 10}, testStudentID)
		assert.ErrorIs(t, err, ErrAttemptLimitExceeded)
		f.repo.attempt.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("unpublished assessment", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		draft := testAssessment()
		draft.Status = models.StatusDraft

		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(draft, nil)

		_, err := f.service.Start(ctx, &StartAttemptRequest{AssessmentID: 10}, testStudentID)
		assert.ErrorIs(t, err, ErrAssessmentNotPublished)
	})

	t.Run("assessment not found", func(t *testing.T) {
		f := newAttemptServiceFixture(t)

		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(nil, gorm.ErrRecordNotFound)

		_, err := f.service.Start(ctx, &StartAttemptRequest{AssessmentID: 10}, testStudentID)
		assert.ErrorIs(t, err, ErrAssessmentNotFound)
	})
}

func TestAttemptService_SaveAnswer(t *testing.T) {
	ctx := context.Background()
	optionID := uint(1000)
	text := "Packets are routed hop by hop."

	t.Run("choice answer saved and acknowledged", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(time.Minute)

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.answer.On("GetByAttemptAndQuestion", ctx, uint(42), uint(100)).Return(nil, gorm.ErrRecordNotFound)
		f.repo.answer.On("Create", ctx, mock.AnythingOfType("*models.StudentAnswer")).Return(nil)

		answer, err := f.service.SaveAnswer(ctx, 42, &SaveAnswerRequest{
			QuestionID:       100,
			SelectedOptionID: &optionID,
		}, testStudentID)
		require.NoError(t, err)

		require.NotNil(t, answer.SelectedOptionID)
		assert.Equal(t, optionID, *answer.SelectedOptionID)
		assert.Nil(t, answer.TextResponse)
		assert.True(t, answer.IsSaved())
	})

	t.Run("re-answer switches form and clears the other", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(time.Minute)
		existing := &models.StudentAnswer{
			ID: 7, AttemptID: 42, QuestionID: 101, SelectedOptionID: &optionID,
		}

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.answer.On("GetByAttemptAndQuestion", ctx, uint(42), uint(101)).Return(existing, nil)
		f.repo.answer.On("Update", ctx, existing).Return(nil)

		answer, err := f.service.SaveAnswer(ctx, 42, &SaveAnswerRequest{
			QuestionID:   101,
			TextResponse: &text,
		}, testStudentID)
		require.NoError(t, err)

		assert.Nil(t, answer.SelectedOptionID)
		require.NotNil(t, answer.TextResponse)
		assert.Equal(t, text, *answer.TextResponse)
	})

	t.Run("rejects option on essay question", func(t *testing.T) {
		f := newAttemptServiceFixture(t)

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(testAttempt(time.Minute), nil)
		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)

		_, err := f.service.SaveAnswer(ctx, 42, &SaveAnswerRequest{
			QuestionID:       101,
			SelectedOptionID: &optionID,
		}, testStudentID)
		assert.ErrorIs(t, err, ErrAnswerFormMismatch)
	})

	t.Run("rejects foreign option", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		foreign := uint(9999)

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(testAttempt(time.Minute), nil)
		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)

		_, err := f.service.SaveAnswer(ctx, 42, &SaveAnswerRequest{
			QuestionID:       100,
			SelectedOptionID: &foreign,
		}, testStudentID)
		assert.ErrorIs(t, err, ErrOptionNotInQuestion)
	})

	t.Run("rejects unknown question", func(t *testing.T) {
		f := newAttemptServiceFixture(t)

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(testAttempt(time.Minute), nil)
		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)

		_, err := f.service.SaveAnswer(ctx, 42, &SaveAnswerRequest{
			QuestionID:   555,
			TextResponse: &text,
		}, testStudentID)
		assert.ErrorIs(t, err, ErrQuestionNotInAssessment)
	})

	t.Run("rejects other student's attempt", func(t *testing.T) {
		f := newAttemptServiceFixture(t)

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(testAttempt(time.Minute), nil)

		_, err := f.service.SaveAnswer(ctx, 42, &SaveAnswerRequest{
			QuestionID:       100,
			SelectedOptionID: &optionID,
		}, "intruder")
		assert.True(t, IsPermissionDenied(err))
	})

	t.Run("rejects expired attempt and times it out", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		expired := testAttempt(2 * time.Hour)

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(expired, nil)
		f.repo.attempt.On("Finish", ctx, uint(42), models.AttemptTimedOut, models.AttemptEndReasonTimeout,
			mock.AnythingOfType("time.Time"), 3600).Return(true, nil)

		_, err := f.service.SaveAnswer(ctx, 42, &SaveAnswerRequest{
			QuestionID:       100,
			SelectedOptionID: &optionID,
		}, testStudentID)
		assert.ErrorIs(t, err, ErrAttemptTimeExpired)
		f.repo.attempt.AssertCalled(t, "Finish", ctx, uint(42), models.AttemptTimedOut,
			models.AttemptEndReasonTimeout, mock.AnythingOfType("time.Time"), 3600)
	})
}

func TestAttemptService_Advance(t *testing.T) {
	ctx := context.Background()
	optionID := uint(1000)

	t.Run("answer is flushed before the index moves", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(time.Minute)

		var order []string
		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.answer.On("GetByAttemptAndQuestion", ctx, uint(42), uint(100)).Return(nil, gorm.ErrRecordNotFound)
		f.repo.answer.On("Create", ctx, mock.AnythingOfType("*models.StudentAnswer")).
			Run(func(mock.Arguments) { order = append(order, "save") }).Return(nil)
		f.repo.attempt.On("UpdateProgress", ctx, uint(42), 1).
			Run(func(mock.Arguments) { order = append(order, "advance") }).Return(nil)
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(42)).Return(withDetails(attempt), nil)

		result, err := f.service.Advance(ctx, 42, &AdvanceRequest{
			Answer: &SaveAnswerRequest{QuestionID: 100, SelectedOptionID: &optionID},
		}, testStudentID)
		require.NoError(t, err)

		assert.True(t, result.AnswerSaved)
		assert.False(t, result.Finalized)
		assert.Equal(t, []string{"save", "advance"}, order)
	})

	t.Run("failed save withholds acknowledgment but still advances", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(time.Minute)

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.answer.On("GetByAttemptAndQuestion", ctx, uint(42), uint(100)).Return(nil, gorm.ErrRecordNotFound)
		f.repo.answer.On("Create", ctx, mock.AnythingOfType("*models.StudentAnswer")).Return(assert.AnError)
		f.repo.attempt.On("UpdateProgress", ctx, uint(42), 1).Return(nil)
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(42)).Return(withDetails(attempt), nil)

		result, err := f.service.Advance(ctx, 42, &AdvanceRequest{
			Answer: &SaveAnswerRequest{QuestionID: 100, SelectedOptionID: &optionID},
		}, testStudentID)
		require.NoError(t, err)

		assert.False(t, result.AnswerSaved)
	})

	t.Run("advancing past the last question finalizes", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(10 * time.Minute)
		attempt.CurrentQuestionIndex = 1 // last of two

		submitted := withDetails(attempt)
		submitted.Status = models.AttemptSubmitted

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.attempt.On("Finish", ctx, uint(42), models.AttemptSubmitted, models.AttemptEndReasonManual,
			mock.AnythingOfType("time.Time"), mock.AnythingOfType("int")).Return(true, nil)
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(42)).Return(submitted, nil)

		result, err := f.service.Advance(ctx, 42, nil, testStudentID)
		require.NoError(t, err)

		assert.True(t, result.Finalized)
		f.repo.attempt.AssertNotCalled(t, "UpdateProgress", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAttemptService_Retreat(t *testing.T) {
	ctx := context.Background()

	t.Run("moves back one question", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(time.Minute)
		attempt.CurrentQuestionIndex = 1

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.attempt.On("UpdateProgress", ctx, uint(42), 0).Return(nil)
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(42)).Return(withDetails(attempt), nil)

		_, err := f.service.Retreat(ctx, 42, testStudentID)
		require.NoError(t, err)
		f.repo.attempt.AssertCalled(t, "UpdateProgress", ctx, uint(42), 0)
	})

	t.Run("clamps at the first question", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(time.Minute)

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(42)).Return(withDetails(attempt), nil)

		_, err := f.service.Retreat(ctx, 42, testStudentID)
		require.NoError(t, err)
		f.repo.attempt.AssertNotCalled(t, "UpdateProgress", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAttemptService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("successful submit clears checkpoint and publishes", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(10 * time.Minute)
		f.checkpoints.Save(ctx, 10, testStudentID, checkpointFor(attempt))

		submitted := withDetails(attempt)
		submitted.Status = models.AttemptSubmitted

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.attempt.On("Finish", ctx, uint(42), models.AttemptSubmitted, models.AttemptEndReasonManual,
			mock.AnythingOfType("time.Time"), mock.AnythingOfType("int")).Return(true, nil)
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(42)).Return(submitted, nil)

		_, err := f.service.Submit(ctx, 42, &SubmitAttemptRequest{}, testStudentID)
		require.NoError(t, err)

		assert.False(t, f.checkpoints.Has(10, testStudentID))
		assert.Equal(t, []uint{42}, f.registry.untrackedIDs())
		published := f.publisher.GetPublishedEvents()
		require.Len(t, published, 1)
		assert.Equal(t, events.EventAttemptSubmitted, published[0].Type)
	})

	t.Run("flush and transition commit as one transaction", func(t *testing.T) {
		f, tx := newTxAttemptServiceFixture(t)
		attempt := testAttempt(10 * time.Minute)
		text := "closing argument"

		submitted := withDetails(attempt)
		submitted.Status = models.AttemptSubmitted

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.answer.On("GetByAttemptAndQuestion", ctx, uint(42), uint(101)).Return(nil, gorm.ErrRecordNotFound)
		f.repo.answer.On("Create", ctx, mock.AnythingOfType("*models.StudentAnswer")).Return(nil)
		f.repo.attempt.On("Finish", ctx, uint(42), models.AttemptSubmitted, models.AttemptEndReasonManual,
			mock.AnythingOfType("time.Time"), mock.AnythingOfType("int")).Return(true, nil)
		f.repo.attempt.On("GetByIDWithDetails", ctx, uint(42)).Return(submitted, nil)

		_, err := f.service.Submit(ctx, 42, &SubmitAttemptRequest{
			Answers: []SaveAnswerRequest{{QuestionID: 101, TextResponse: &text}},
		}, testStudentID)
		require.NoError(t, err)

		assert.True(t, tx.began)
		assert.True(t, tx.committed)
		assert.False(t, tx.rolledBack)
	})

	t.Run("failed flush rolls the transaction back", func(t *testing.T) {
		f, tx := newTxAttemptServiceFixture(t)
		attempt := testAttempt(10 * time.Minute)
		f.checkpoints.Save(ctx, 10, testStudentID, checkpointFor(attempt))
		text := "lost words"

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.answer.On("GetByAttemptAndQuestion", ctx, uint(42), uint(101)).Return(nil, gorm.ErrRecordNotFound)
		f.repo.answer.On("Create", ctx, mock.AnythingOfType("*models.StudentAnswer")).Return(assert.AnError)

		_, err := f.service.Submit(ctx, 42, &SubmitAttemptRequest{
			Answers: []SaveAnswerRequest{{QuestionID: 101, TextResponse: &text}},
		}, testStudentID)
		require.Error(t, err)

		assert.True(t, tx.rolledBack)
		assert.False(t, tx.committed)
		assert.True(t, f.checkpoints.Has(10, testStudentID))
		f.repo.attempt.AssertNotCalled(t, "Finish",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("losing the race rolls flushed answers back", func(t *testing.T) {
		f, tx := newTxAttemptServiceFixture(t)
		attempt := testAttempt(10 * time.Minute)

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.attempt.On("Finish", ctx, uint(42), models.AttemptSubmitted, models.AttemptEndReasonManual,
			mock.AnythingOfType("time.Time"), mock.AnythingOfType("int")).Return(false, nil)

		_, err := f.service.Submit(ctx, 42, &SubmitAttemptRequest{}, testStudentID)
		assert.ErrorIs(t, err, ErrAttemptAlreadySubmitted)
		assert.True(t, tx.rolledBack)
		assert.False(t, tx.committed)
	})

	t.Run("losing the finalization race surfaces already submitted", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(10 * time.Minute)
		f.checkpoints.Save(ctx, 10, testStudentID, checkpointFor(attempt))

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.attempt.On("Finish", ctx, uint(42), models.AttemptSubmitted, models.AttemptEndReasonManual,
			mock.AnythingOfType("time.Time"), mock.AnythingOfType("int")).Return(false, nil)

		_, err := f.service.Submit(ctx, 42, &SubmitAttemptRequest{}, testStudentID)
		assert.ErrorIs(t, err, ErrAttemptAlreadySubmitted)
		assert.Empty(t, f.publisher.GetPublishedEvents())
	})

	t.Run("terminal attempt cannot be resubmitted", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(10 * time.Minute)
		attempt.Status = models.AttemptSubmitted

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)

		_, err := f.service.Submit(ctx, 42, &SubmitAttemptRequest{}, testStudentID)
		assert.ErrorIs(t, err, ErrAttemptAlreadySubmitted)
		f.repo.attempt.AssertNotCalled(t, "Finish",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("failed answer flush aborts and keeps checkpoint", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(10 * time.Minute)
		f.checkpoints.Save(ctx, 10, testStudentID, checkpointFor(attempt))
		text := "final thoughts"

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.assessment.On("GetByIDWithQuestions", ctx, uint(10)).Return(testAssessment(), nil)
		f.repo.answer.On("GetByAttemptAndQuestion", ctx, uint(42), uint(101)).Return(nil, gorm.ErrRecordNotFound)
		f.repo.answer.On("Create", ctx, mock.AnythingOfType("*models.StudentAnswer")).Return(assert.AnError)

		_, err := f.service.Submit(ctx, 42, &SubmitAttemptRequest{
			Answers: []SaveAnswerRequest{{QuestionID: 101, TextResponse: &text}},
		}, testStudentID)
		require.Error(t, err)

		assert.True(t, f.checkpoints.Has(10, testStudentID))
		f.repo.attempt.AssertNotCalled(t, "Finish",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAttemptService_HandleTimeout(t *testing.T) {
	ctx := context.Background()

	t.Run("times out an overdue attempt exactly once", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(2 * time.Hour)
		f.checkpoints.Save(ctx, 10, testStudentID, checkpointFor(attempt))

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)
		f.repo.attempt.On("Finish", ctx, uint(42), models.AttemptTimedOut, models.AttemptEndReasonTimeout,
			mock.AnythingOfType("time.Time"), 3600).Return(true, nil).Once()
		f.repo.attempt.On("Finish", ctx, uint(42), models.AttemptTimedOut, models.AttemptEndReasonTimeout,
			mock.AnythingOfType("time.Time"), 3600).Return(false, nil)

		require.NoError(t, f.service.HandleTimeout(ctx, 42))
		require.NoError(t, f.service.HandleTimeout(ctx, 42))

		assert.False(t, f.checkpoints.Has(10, testStudentID))
		assert.Equal(t, []uint{42}, f.registry.untrackedIDs())
		published := f.publisher.GetPublishedEvents()
		require.Len(t, published, 1)
		assert.Equal(t, events.EventAttemptTimedOut, published[0].Type)
	})

	t.Run("terminal attempt is a no-op", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(2 * time.Hour)
		attempt.Status = models.AttemptTimedOut

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)

		require.NoError(t, f.service.HandleTimeout(ctx, 42))
		f.repo.attempt.AssertNotCalled(t, "Finish",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAttemptService_GetTimeRemaining(t *testing.T) {
	ctx := context.Background()

	t.Run("remaining derives from the stored deadline", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(10 * time.Minute)

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)

		remaining, err := f.service.GetTimeRemaining(ctx, 42, testStudentID)
		require.NoError(t, err)
		assert.InDelta(t, 3000, remaining, 2)
	})

	t.Run("inactive attempt", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		attempt := testAttempt(10 * time.Minute)
		attempt.Status = models.AttemptSubmitted

		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(attempt, nil)

		_, err := f.service.GetTimeRemaining(ctx, 42, testStudentID)
		assert.ErrorIs(t, err, ErrAttemptNotActive)
	})
}

func TestAttemptService_GetCurrentAttempt(t *testing.T) {
	ctx := context.Background()

	t.Run("no active attempt returns nil", func(t *testing.T) {
		f := newAttemptServiceFixture(t)

		f.repo.attempt.On("GetActiveAttempt", ctx, uint(10), testStudentID).Return(nil, nil)

		response, err := f.service.GetCurrentAttempt(ctx, 10, testStudentID)
		require.NoError(t, err)
		assert.Nil(t, response)
	})

	t.Run("expired attempt is timed out, not resumed", func(t *testing.T) {
		f := newAttemptServiceFixture(t)
		expired := testAttempt(2 * time.Hour)

		f.repo.attempt.On("GetActiveAttempt", ctx, uint(10), testStudentID).Return(expired, nil)
		f.repo.attempt.On("GetByID", ctx, uint(42)).Return(expired, nil)
		f.repo.attempt.On("Finish", ctx, uint(42), models.AttemptTimedOut, models.AttemptEndReasonTimeout,
			mock.AnythingOfType("time.Time"), 3600).Return(true, nil)

		response, err := f.service.GetCurrentAttempt(ctx, 10, testStudentID)
		require.NoError(t, err)
		assert.Nil(t, response)
	})
}
