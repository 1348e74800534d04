package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campuskit/attempt-service/internal/cache"
	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
	"github.com/stretchr/testify/mock"
)

// MockAssessmentRepository is a mock implementation of AssessmentRepository
type MockAssessmentRepository struct {
	mock.Mock
}

func (m *MockAssessmentRepository) Create(ctx context.Context, assessment *models.Assessment) error {
	args := m.Called(ctx, assessment)
	return args.Error(0)
}

func (m *MockAssessmentRepository) GetByID(ctx context.Context, id uint) (*models.Assessment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Assessment), args.Error(1)
}

func (m *MockAssessmentRepository) GetByIDWithQuestions(ctx context.Context, id uint) (*models.Assessment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Assessment), args.Error(1)
}

func (m *MockAssessmentRepository) ExistsByID(ctx context.Context, id uint) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// MockAttemptRepository is a mock implementation of AttemptRepository
type MockAttemptRepository struct {
	mock.Mock
}

func (m *MockAttemptRepository) Create(ctx context.Context, attempt *models.AssessmentAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockAttemptRepository) GetByID(ctx context.Context, id uint) (*models.AssessmentAttempt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AssessmentAttempt), args.Error(1)
}

func (m *MockAttemptRepository) GetByIDWithDetails(ctx context.Context, id uint) (*models.AssessmentAttempt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AssessmentAttempt), args.Error(1)
}

func (m *MockAttemptRepository) Update(ctx context.Context, attempt *models.AssessmentAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockAttemptRepository) GetActiveAttempt(ctx context.Context, assessmentID uint, studentID string) (*models.AssessmentAttempt, error) {
	args := m.Called(ctx, assessmentID, studentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AssessmentAttempt), args.Error(1)
}

func (m *MockAttemptRepository) GetStudentAttemptCount(ctx context.Context, assessmentID uint, studentID string) (int, error) {
	args := m.Called(ctx, assessmentID, studentID)
	return args.Int(0), args.Error(1)
}

func (m *MockAttemptRepository) Finish(ctx context.Context, id uint, status models.AttemptStatus, endReason string, finishedAt time.Time, timeSpent int) (bool, error) {
	args := m.Called(ctx, id, status, endReason, finishedAt, timeSpent)
	return args.Bool(0), args.Error(1)
}

func (m *MockAttemptRepository) UpdateProgress(ctx context.Context, id uint, currentQuestionIndex int) error {
	args := m.Called(ctx, id, currentQuestionIndex)
	return args.Error(0)
}

func (m *MockAttemptRepository) UpdateScore(ctx context.Context, id uint, score float64, maxScore int, percentage float64, passed, graded bool) error {
	args := m.Called(ctx, id, score, maxScore, percentage, passed, graded)
	return args.Error(0)
}

func (m *MockAttemptRepository) GetExpiredAttempts(ctx context.Context, cutoff time.Time) ([]*models.AssessmentAttempt, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AssessmentAttempt), args.Error(1)
}

func (m *MockAttemptRepository) GetInProgressAttempts(ctx context.Context) ([]*models.AssessmentAttempt, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AssessmentAttempt), args.Error(1)
}

func (m *MockAttemptRepository) List(ctx context.Context, filters repositories.AttemptFilters) ([]*models.AssessmentAttempt, int64, error) {
	args := m.Called(ctx, filters)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*models.AssessmentAttempt), args.Get(1).(int64), args.Error(2)
}

func (m *MockAttemptRepository) GetByAssessment(ctx context.Context, assessmentID uint, filters repositories.AttemptFilters) ([]*models.AssessmentAttempt, error) {
	args := m.Called(ctx, assessmentID, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AssessmentAttempt), args.Error(1)
}

func (m *MockAttemptRepository) GetStats(ctx context.Context, assessmentID uint) (*repositories.AttemptStats, error) {
	args := m.Called(ctx, assessmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repositories.AttemptStats), args.Error(1)
}

// MockAnswerRepository is a mock implementation of AnswerRepository
type MockAnswerRepository struct {
	mock.Mock
}

func (m *MockAnswerRepository) Create(ctx context.Context, answer *models.StudentAnswer) error {
	args := m.Called(ctx, answer)
	return args.Error(0)
}

func (m *MockAnswerRepository) Update(ctx context.Context, answer *models.StudentAnswer) error {
	args := m.Called(ctx, answer)
	return args.Error(0)
}

func (m *MockAnswerRepository) GetByAttemptAndQuestion(ctx context.Context, attemptID, questionID uint) (*models.StudentAnswer, error) {
	args := m.Called(ctx, attemptID, questionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StudentAnswer), args.Error(1)
}

func (m *MockAnswerRepository) GetByAttempt(ctx context.Context, attemptID uint) ([]*models.StudentAnswer, error) {
	args := m.Called(ctx, attemptID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.StudentAnswer), args.Error(1)
}

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// mockRepository bundles the per-aggregate mocks behind the Repository
// interface.
type mockRepository struct {
	assessment *MockAssessmentRepository
	attempt    *MockAttemptRepository
	answer     *MockAnswerRepository
	user       *MockUserRepository
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		assessment: new(MockAssessmentRepository),
		attempt:    new(MockAttemptRepository),
		answer:     new(MockAnswerRepository),
		user:       new(MockUserRepository),
	}
}

func (r *mockRepository) Assessment() repositories.AssessmentRepository { return r.assessment }
func (r *mockRepository) Attempt() repositories.AttemptRepository       { return r.attempt }
func (r *mockRepository) Answer() repositories.AnswerRepository         { return r.answer }
func (r *mockRepository) User() repositories.UserRepository             { return r.user }

// txMockRepository adds transactional capability over the mock bundle; the
// transactional view is the bundle itself, with the lifecycle calls recorded.
type txMockRepository struct {
	*mockRepository

	mu         sync.Mutex
	began      bool
	committed  bool
	rolledBack bool
}

func (r *txMockRepository) Begin(ctx context.Context) (repositories.TransactionRepository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.began = true
	return r, nil
}

func (r *txMockRepository) Commit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = true
	return nil
}

func (r *txMockRepository) Rollback(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolledBack = true
	return nil
}

// stubDeadlineRegistry records countdown registrations from the attempt
// service.
type stubDeadlineRegistry struct {
	mu        sync.Mutex
	tracked   []uint
	untracked []uint
}

func (r *stubDeadlineRegistry) Track(attempt *models.AssessmentAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked = append(r.tracked, attempt.ID)
}

func (r *stubDeadlineRegistry) Untrack(attemptID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.untracked = append(r.untracked, attemptID)
}

func (r *stubDeadlineRegistry) trackedIDs() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint(nil), r.tracked...)
}

func (r *stubDeadlineRegistry) untrackedIDs() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint(nil), r.untracked...)
}

// memoryCheckpointStore is an in-memory CheckpointStore for tests.
type memoryCheckpointStore struct {
	mu          sync.Mutex
	checkpoints map[string]cache.Checkpoint
}

func newMemoryCheckpointStore() *memoryCheckpointStore {
	return &memoryCheckpointStore{checkpoints: make(map[string]cache.Checkpoint)}
}

func checkpointKey(assessmentID uint, studentID string) string {
	return fmt.Sprintf("%d:%s", assessmentID, studentID)
}

func (s *memoryCheckpointStore) Save(ctx context.Context, assessmentID uint, studentID string, cp cache.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[checkpointKey(assessmentID, studentID)] = cp
	return nil
}

func (s *memoryCheckpointStore) Get(ctx context.Context, assessmentID uint, studentID string) (*cache.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[checkpointKey(assessmentID, studentID)]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (s *memoryCheckpointStore) Clear(ctx context.Context, assessmentID uint, studentID string, attemptID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, checkpointKey(assessmentID, studentID))
	return nil
}

func (s *memoryCheckpointStore) Has(assessmentID uint, studentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.checkpoints[checkpointKey(assessmentID, studentID)]
	return ok
}

// stubGradingService swallows the asynchronous auto-grade call fired after
// finalization so tests do not race against real grading.
type stubGradingService struct {
	mu    sync.Mutex
	calls []uint
}

func (s *stubGradingService) AutoGradeAttempt(ctx context.Context, attemptID uint) (*GradingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, attemptID)
	return &GradingResult{AttemptID: attemptID}, nil
}
