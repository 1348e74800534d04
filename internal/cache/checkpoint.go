package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checkpoint is the resumption marker for one student's in-progress attempt:
// enough to re-enter the attempt after a client reload without creating a
// duplicate, and to re-derive the deadline from the original start time.
type Checkpoint struct {
	AttemptID uint      `json:"attempt_id"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

// CheckpointStore persists attempt checkpoints. Writes happen at attempt
// creation, deletion at finalization; both keys of a checkpoint move together.
type CheckpointStore interface {
	Save(ctx context.Context, assessmentID uint, studentID string, cp Checkpoint) error
	// Get returns nil without error when no checkpoint exists.
	Get(ctx context.Context, assessmentID uint, studentID string) (*Checkpoint, error)
	Clear(ctx context.Context, assessmentID uint, studentID string, attemptID uint) error
}

// checkpointTTLGrace keeps stale markers from outliving their attempt by
// more than a day past the deadline.
const checkpointTTLGrace = 24 * time.Hour

type redisCheckpointStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisCheckpointStore(client *redis.Client, logger *slog.Logger) CheckpointStore {
	return &redisCheckpointStore{
		client: client,
		logger: logger,
	}
}

func ongoingKey(assessmentID uint, studentID string) string {
	return fmt.Sprintf("ongoing_assessment_%d:%s", assessmentID, studentID)
}

func deadlineKey(attemptID uint) string {
	return fmt.Sprintf("assessment_end_%d", attemptID)
}

func (s *redisCheckpointStore) Save(ctx context.Context, assessmentID uint, studentID string, cp Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	ttl := time.Until(cp.Deadline) + checkpointTTLGrace

	if err := s.client.Set(ctx, ongoingKey(assessmentID, studentID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, deadlineKey(cp.AttemptID), cp.Deadline.Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("failed to save deadline marker: %w", err)
	}

	s.logger.Debug("Checkpoint saved",
		"assessment_id", assessmentID,
		"student_id", studentID,
		"attempt_id", cp.AttemptID)
	return nil
}

func (s *redisCheckpointStore) Get(ctx context.Context, assessmentID uint, studentID string) (*Checkpoint, error) {
	raw, err := s.client.Get(ctx, ongoingKey(assessmentID, studentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		// A corrupt marker is unusable; treat it as absent so the attempt
		// store remains the authority.
		s.logger.Warn("Discarding unreadable checkpoint",
			"assessment_id", assessmentID,
			"student_id", studentID,
			"error", err)
		return nil, nil
	}

	return &cp, nil
}

func (s *redisCheckpointStore) Clear(ctx context.Context, assessmentID uint, studentID string, attemptID uint) error {
	if err := s.client.Del(ctx, ongoingKey(assessmentID, studentID), deadlineKey(attemptID)).Err(); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}

	s.logger.Debug("Checkpoint cleared",
		"assessment_id", assessmentID,
		"student_id", studentID,
		"attempt_id", attemptID)
	return nil
}
