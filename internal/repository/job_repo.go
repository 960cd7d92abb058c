package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vidscribe-backend/internal/models"
)

const jobTTL = 24 * time.Hour

// JobRepo keeps async extraction jobs in Redis next to the queue that
// carries them; a job record expires a day after its last update.
type JobRepo struct {
	rdb *redis.Client
}

func NewJobRepo(rdb *redis.Client) *JobRepo {
	return &JobRepo{rdb: rdb}
}

func jobKey(id uuid.UUID) string { return "job:" + id.String() }

func (r *JobRepo) Create(ctx context.Context, j *models.Job) error {
	j.ID = uuid.New()
	j.Status = "pending"
	j.RetryCount = 0
	if j.MaxRetries == 0 {
		j.MaxRetries = 3
	}
	j.CreatedAt = time.Now().UTC()
	return r.save(ctx, j)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	data, err := r.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j := &models.Job{}
	if err := json.Unmarshal(data, j); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return j, nil
}

// GetForUser hides other users' jobs behind ErrNotFound.
func (r *JobRepo) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Job, error) {
	j, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, ErrNotFound
	}
	return j, nil
}

func (r *JobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	return r.update(ctx, id, func(j *models.Job) {
		j.Status = status
		if status == "completed" || status == "failed" {
			now := time.Now().UTC()
			j.CompletedAt = &now
		}
	})
}

func (r *JobRepo) UpdateError(ctx context.Context, id uuid.UUID, code, errMsg string, retryCount int) error {
	return r.update(ctx, id, func(j *models.Job) {
		j.ErrorCode = &code
		j.ErrorMessage = &errMsg
		j.RetryCount = retryCount
	})
}

func (r *JobRepo) Complete(ctx context.Context, id, resultID uuid.UUID) error {
	return r.update(ctx, id, func(j *models.Job) {
		now := time.Now().UTC()
		j.Status = "completed"
		j.ResultID = &resultID
		j.CompletedAt = &now
	})
}

func (r *JobRepo) update(ctx context.Context, id uuid.UUID, mutate func(*models.Job)) error {
	j, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	mutate(j)
	return r.save(ctx, j)
}

func (r *JobRepo) save(ctx context.Context, j *models.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	return r.rdb.Set(ctx, jobKey(j.ID), data, jobTTL).Err()
}
