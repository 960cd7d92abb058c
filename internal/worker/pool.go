package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vidscribe-backend/internal/models"
	"vidscribe-backend/internal/repository"
	"vidscribe-backend/internal/services"
)

const QueueName = "queue:" + models.JobTypeExtraction

type extractor interface {
	Extract(ctx context.Context, req services.ExtractRequest) (*services.ExtractResult, error)
}

type jobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateError(ctx context.Context, id uuid.UUID, code, errMsg string, retryCount int) error
	Complete(ctx context.Context, id, resultID uuid.UUID) error
}

// Queue creates job records and pushes them onto the extraction queue.
type Queue struct {
	redis *redis.Client
	jobs  *repository.JobRepo
}

func NewQueue(redisClient *redis.Client, jobs *repository.JobRepo) *Queue {
	return &Queue{redis: redisClient, jobs: jobs}
}

func (q *Queue) Enqueue(ctx context.Context, userID uuid.UUID, req models.ExtractTranscriptRequest) (*models.Job, error) {
	req.Async = false
	job := &models.Job{
		UserID:  userID,
		Type:    models.JobTypeExtraction,
		Request: req,
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	jobBytes, _ := json.Marshal(job)
	if err := q.redis.LPush(ctx, QueueName, string(jobBytes)).Err(); err != nil {
		log.Printf("failed to enqueue extraction job %s: %v", job.ID, err)
		_ = q.jobs.UpdateStatus(ctx, job.ID, "failed")
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

type Pool struct {
	redis       *redis.Client
	extractor   extractor
	jobs        jobStore
	notifier    services.Notifier
	workerCount int
	pollTimeout time.Duration
	stopChan    chan struct{}
}

func NewPool(
	redisClient *redis.Client,
	extractor extractor,
	jobs jobStore,
	notifier services.Notifier,
	workerCount int,
) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		redis:       redisClient,
		extractor:   extractor,
		jobs:        jobs,
		notifier:    notifier,
		workerCount: workerCount,
		pollTimeout: 5 * time.Second,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	log.Printf("Started %d worker goroutines", p.workerCount)
}

func (p *Pool) Stop() {
	select {
	case <-p.stopChan:
	default:
		close(p.stopChan)
	}
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, p.pollTimeout, QueueName).Result()
		if err != nil {
			continue // Timeout or error, retry
		}
		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("Worker %d: failed to parse job: %v", id, err)
			continue
		}

		lockKey := fmt.Sprintf("job_lock:%s", job.ID.String())
		locked, err := p.redis.SetNX(ctx, lockKey, "1", 30*time.Minute).Result()
		if err != nil || !locked {
			continue // Another worker has this job
		}

		p.process(ctx, id, &job)
		p.redis.Del(ctx, lockKey)
	}
}

// process runs one job to completion or to its next retry.
func (p *Pool) process(ctx context.Context, workerID int, job *models.Job) {
	if current, err := p.jobs.GetByID(ctx, job.ID); err == nil && current.Status == "failed" {
		log.Printf("Worker %d: skipping cancelled job %s", workerID, job.ID)
		return
	}

	log.Printf("Worker %d: processing job %s (%s)", workerID, job.ID, job.Request.URL)
	p.jobs.UpdateStatus(ctx, job.ID, "processing")

	jobID := job.ID
	res, err := p.extractor.Extract(ctx, services.ExtractRequest{
		Source:   job.Request.URL,
		UserID:   job.UserID,
		Method:   job.Request.Method,
		Language: job.Request.Language,
		Strict:   job.Request.Strict,
		JobID:    &jobID,
	})
	if err == nil && (res == nil || res.TranscriptID == nil) {
		err = fmt.Errorf("extraction returned no transcript")
	}
	if err != nil {
		p.handleFailure(ctx, job, err)
		return
	}

	p.handleSuccess(ctx, job, res)
}

func (p *Pool) handleSuccess(ctx context.Context, job *models.Job, res *services.ExtractResult) {
	if err := p.jobs.Complete(ctx, job.ID, *res.TranscriptID); err != nil {
		log.Printf("Job %s: failed to record completion: %v", job.ID, err)
	}
	log.Printf("Job %s completed (transcript %s, cached=%t)", job.ID, *res.TranscriptID, res.FromCache)

	p.notifier.Publish(ctx, job.UserID, models.WSMessage{
		Type: "completed",
		Payload: models.CompletedEvent{
			JobID:        job.ID,
			TranscriptID: *res.TranscriptID,
			FromCache:    res.FromCache,
		},
	})
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	job.RetryCount++
	errMsg := err.Error()
	code := errorCode(err)

	if shouldRetry(job, err) {
		log.Printf("Job %s failed (attempt %d): %s, retrying", job.ID, job.RetryCount, errMsg)
		p.jobs.UpdateStatus(ctx, job.ID, "pending")
		p.jobs.UpdateError(ctx, job.ID, code, errMsg, job.RetryCount)

		jobBytes, _ := json.Marshal(job)
		time.AfterFunc(retryBackoff(job.RetryCount), func() {
			p.redis.LPush(context.Background(), QueueName, string(jobBytes))
		})
		return
	}

	log.Printf("Job %s failed permanently: %s", job.ID, errMsg)
	p.jobs.UpdateStatus(ctx, job.ID, "failed")
	p.jobs.UpdateError(ctx, job.ID, code, errMsg, job.RetryCount)

	p.notifier.Publish(ctx, job.UserID, models.WSMessage{
		Type: "error",
		Payload: models.ErrorEvent{
			JobID:        job.ID,
			ErrorCode:    code,
			ErrorMessage: errMsg,
		},
	})
}

// shouldRetry expects job.RetryCount to already count the failed attempt.
func shouldRetry(job *models.Job, err error) bool {
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return services.IsRetryable(err) && job.RetryCount < maxRetries
}

func retryBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

func errorCode(err error) string {
	if kind := services.KindOf(err); kind != "" {
		return string(kind)
	}
	return "JOB_FAILED"
}
