package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"actionline/internal/engine"
	"actionline/internal/repo"
)

// Job statuses.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// DefaultJobTimeout bounds a single rescan run, analyzer call included.
const DefaultJobTimeout = 2 * time.Minute

// DefaultMaxRetries is how many times a failed job is re-run before it is
// marked failed. Fatal errors are never retried.
const DefaultMaxRetries = 2

// Job is one queued rescan request and its lifecycle record.
type Job struct {
	ID         string               `json:"id"`
	Options    engine.RescanOptions `json:"options"`
	Status     string               `json:"status"`
	Attempts   int                  `json:"attempts"`
	Error      string               `json:"error,omitempty"`
	EnqueuedAt time.Time            `json:"enqueuedAt"`
	FinishedAt *time.Time           `json:"finishedAt,omitempty"`

	Result *engine.RescanResult `json:"result,omitempty"`
}

// Config holds worker dependencies.
type Config struct {
	Engine     engine.Engine
	JobTimeout time.Duration
	MaxRetries int
	QueueSize  int
}

// Worker runs rescan jobs one at a time off an in-process queue. Sequential
// execution is deliberate: a rescan fans out writes across sessions, flat
// tasks and boards, and serializing jobs keeps those multi-store updates from
// interleaving. Job records are kept in memory only; a restart drops the
// queue and callers re-enqueue.
type Worker struct {
	engine     engine.Engine
	jobTimeout time.Duration
	maxRetries int

	queue chan string

	mu   sync.Mutex
	jobs map[string]*Job

	done    chan struct{}
	stopped sync.Once
}

func New(cfg Config) *Worker {
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = DefaultMaxRetries
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	return &Worker{
		engine:     cfg.Engine,
		jobTimeout: timeout,
		maxRetries: retries,
		queue:      make(chan string, size),
		jobs:       map[string]*Job{},
		done:       make(chan struct{}),
	}
}

// Start begins the run loop. Call once.
func (w *Worker) Start() {
	go w.loop()
	slog.Info("worker started", "queue_size", cap(w.queue))
}

// Stop halts the run loop after the in-flight job finishes.
func (w *Worker) Stop() {
	w.stopped.Do(func() {
		close(w.done)
		slog.Info("worker stopped")
	})
}

// Enqueue registers a job and schedules it. Returns the job record
// immediately; callers poll Get for the outcome.
func (w *Worker) Enqueue(opts engine.RescanOptions) (Job, error) {
	job := &Job{
		ID:         uuid.New().String(),
		Options:    opts,
		Status:     JobQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	w.mu.Lock()
	w.jobs[job.ID] = job
	w.mu.Unlock()

	select {
	case w.queue <- job.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, job.ID)
		w.mu.Unlock()
		return Job{}, errors.New("rescan queue is full")
	}
	slog.Info("rescan enqueued", "job_id", job.ID, "meeting_id", opts.MeetingID, "mode", opts.Mode)
	return *job, nil
}

// Get returns a snapshot of a job record.
func (w *Worker) Get(id string) (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	job, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (w *Worker) loop() {
	for {
		select {
		case <-w.done:
			return
		case id := <-w.queue:
			w.run(id)
		}
	}
}

func (w *Worker) run(id string) {
	w.mu.Lock()
	job, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	job.Status = JobRunning
	opts := job.Options
	w.mu.Unlock()

	var result engine.RescanResult
	var err error
	attempts := 0
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
		result, err = w.engine.Rescan(ctx, opts)
		cancel()
		attempts++
		if err == nil {
			break
		}
		if !retryable(err) || attempt >= w.maxRetries {
			break
		}
		slog.Warn("rescan attempt failed, retrying",
			"job_id", id, "attempt", attempt+1, "error", err)
	}

	now := time.Now().UTC()
	w.mu.Lock()
	job.Attempts = attempts
	job.FinishedAt = &now
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
	} else {
		job.Status = JobDone
		job.Result = &result
	}
	w.mu.Unlock()

	if err != nil {
		slog.Error("rescan failed", "job_id", id, "meeting_id", opts.MeetingID, "error", err)
		return
	}
	slog.Info("rescan finished",
		"job_id", id,
		"meeting_id", opts.MeetingID,
		"new_tasks", result.Stats.NewTasksAdded,
		"completion_updates", result.Stats.CompletionUpdates)
}

// retryable separates transient failures from ones a retry can never fix.
// Missing records and invalid meeting state are deterministic.
func retryable(err error) bool {
	if errors.Is(err, repo.ErrNotFound) {
		return false
	}
	var invalid engine.InvalidStateError
	return !errors.As(err, &invalid)
}
