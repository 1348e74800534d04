// Package scheduler enforces attempt deadlines on the server: every
// in-progress attempt gets a countdown toward its fixed deadline, and a
// periodic sweep catches anything a countdown missed (restarts, clock skew,
// attempts created on another instance).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/campuskit/attempt-service/internal/deadline"
	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
	"github.com/campuskit/attempt-service/internal/services"
)

const DefaultSweepInterval = 30 * time.Second

// ExpiryScheduler times out attempts whose deadline passed without a manual
// submit. Timing out through the service keeps the path identical to every
// other finalization: conditional transition, checkpoint cleanup, event,
// grading.
type ExpiryScheduler struct {
	repo          repositories.Repository
	attempts      services.AttemptService
	logger        *slog.Logger
	sweepInterval time.Duration

	mu         sync.Mutex
	baseCtx    context.Context
	countdowns map[uint]*countdownEntry
}

// The attempt service registers countdowns through the DeadlineRegistry
// binding.
var _ services.DeadlineRegistry = (*ExpiryScheduler)(nil)

type countdownEntry struct {
	countdown *deadline.Countdown
	cancel    context.CancelFunc
}

type Option func(*ExpiryScheduler)

func WithSweepInterval(d time.Duration) Option {
	return func(s *ExpiryScheduler) { s.sweepInterval = d }
}

func NewExpiryScheduler(repo repositories.Repository, attempts services.AttemptService, logger *slog.Logger, opts ...Option) *ExpiryScheduler {
	s := &ExpiryScheduler{
		repo:          repo,
		attempts:      attempts,
		logger:        logger,
		sweepInterval: DefaultSweepInterval,
		baseCtx:       context.Background(),
		countdowns:    make(map[uint]*countdownEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until the context is cancelled. On startup it re-arms
// countdowns for attempts that were in progress before a restart, then
// sweeps on the configured interval.
func (s *ExpiryScheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.rearm(ctx)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Track arms a countdown for the attempt's deadline. Tracking the same
// attempt again replaces the previous countdown. Countdowns run against the
// scheduler's own context so they outlive the request that registered them.
func (s *ExpiryScheduler) Track(attempt *models.AssessmentAttempt) {
	attemptID := attempt.ID

	cd := deadline.NewCountdown(attempt.Deadline(), func() {
		s.expire(attemptID)
	})

	s.mu.Lock()
	cdCtx, cancel := context.WithCancel(s.baseCtx)
	if prev, ok := s.countdowns[attemptID]; ok {
		prev.cancel()
		prev.countdown.Stop()
	}
	s.countdowns[attemptID] = &countdownEntry{countdown: cd, cancel: cancel}
	s.mu.Unlock()

	go cd.Start(cdCtx)
}

// Untrack disarms the countdown for an attempt that finished through a
// manual submit.
func (s *ExpiryScheduler) Untrack(attemptID uint) {
	s.mu.Lock()
	entry, ok := s.countdowns[attemptID]
	if ok {
		delete(s.countdowns, attemptID)
	}
	s.mu.Unlock()

	if ok {
		entry.countdown.Stop()
		entry.cancel()
	}
}

// TrackedCount reports how many attempts currently have an armed countdown.
func (s *ExpiryScheduler) TrackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.countdowns)
}

func (s *ExpiryScheduler) expire(attemptID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.attempts.HandleTimeout(ctx, attemptID); err != nil {
		// The sweep retries it on the next pass.
		s.logger.Error("Failed to time out attempt on countdown expiry",
			"attempt_id", attemptID, "error", err)
		return
	}
	s.Untrack(attemptID)
}

// rearm restores countdowns for attempts that were in progress when the
// process last stopped.
func (s *ExpiryScheduler) rearm(ctx context.Context) {
	attempts, err := s.repo.Attempt().GetInProgressAttempts(ctx)
	if err != nil {
		s.logger.Error("Failed to load in-progress attempts on startup", "error", err)
		return
	}

	for _, attempt := range attempts {
		s.Track(attempt)
	}

	if len(attempts) > 0 {
		s.logger.Info("Re-armed attempt countdowns", "count", len(attempts))
	}
}

// sweep times out overdue attempts straight from the database. It is the
// safety net behind the countdowns and the only path that catches attempts
// started on an instance that died.
func (s *ExpiryScheduler) sweep(ctx context.Context) {
	expired, err := s.repo.Attempt().GetExpiredAttempts(ctx, time.Now())
	if err != nil {
		s.logger.Error("Expiry sweep query failed", "error", err)
		return
	}

	for _, attempt := range expired {
		if err := s.attempts.HandleTimeout(ctx, attempt.ID); err != nil {
			s.logger.Error("Failed to time out attempt during sweep",
				"attempt_id", attempt.ID, "error", err)
			continue
		}
		s.Untrack(attempt.ID)
	}

	if len(expired) > 0 {
		s.logger.Info("Expiry sweep finalized overdue attempts", "count", len(expired))
	}
}

func (s *ExpiryScheduler) stopAll() {
	s.mu.Lock()
	entries := make([]*countdownEntry, 0, len(s.countdowns))
	for _, entry := range s.countdowns {
		entries = append(entries, entry)
	}
	s.countdowns = make(map[uint]*countdownEntry)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.countdown.Stop()
		entry.cancel()
	}
}
