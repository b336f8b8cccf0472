package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/slidecast/internal/archive"
)

// Static errors for fetch jobs.
var (
	// ErrFetchInProgress is returned when a batch is already running.
	ErrFetchInProgress = errors.New("job: a fetch is already running")
	// ErrNothingToFetch is returned when the deck has no TTS sources.
	ErrNothingToFetch = errors.New("job: no text-to-speech sources")
)

// Fetcher downloads a batch into an archive and publishes it.
// *archive.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, a *archive.Archive, name string, items []archive.Item, progress archive.Progress) (archive.Result, error)
}

// ItemSource lists the items of a new batch.
type ItemSource func(ctx context.Context) ([]archive.Item, error)

// FetchServiceOption configures a FetchService.
type FetchServiceOption func(*FetchService)

// WithTimeout bounds a whole batch. Zero means no deadline.
func WithTimeout(d time.Duration) FetchServiceOption {
	return func(s *FetchService) {
		s.timeout = d
	}
}

// FetchService runs one TTS batch at a time in the background and keeps
// its job up to date in the repository.
type FetchService struct {
	repo    Repository
	fetcher Fetcher
	items   ItemSource
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	running string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFetchService creates a FetchService.
func NewFetchService(repo Repository, fetcher Fetcher, items ItemSource, logger *slog.Logger, opts ...FetchServiceOption) *FetchService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FetchService{
		repo:    repo,
		fetcher: fetcher,
		items:   items,
		logger:  logger,
		timeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start queues a batch over the current TTS sources and runs it in the
// background. The returned job is a snapshot; poll GetJob for progress.
func (s *FetchService) Start(ctx context.Context) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != "" {
		return nil, fmt.Errorf("%w: %s", ErrFetchInProgress, s.running)
	}

	items, err := s.items(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNothingToFetch
	}

	job := New(len(items))
	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	// The batch outlives the request that started it.
	base := context.WithoutCancel(ctx)
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.timeout > 0 {
		runCtx, cancel = context.WithTimeout(base, s.timeout)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}
	s.running = job.ID
	s.cancel = cancel

	s.logger.Info("fetch job queued",
		slog.String("job_id", job.ID),
		slog.Int("items", len(items)),
	)

	snapshot := job.Clone()
	s.wg.Add(1)
	go s.run(runCtx, cancel, job, items)
	return snapshot, nil
}

func (s *FetchService) run(ctx context.Context, cancel context.CancelFunc, job *Job, items []archive.Item) {
	defer s.wg.Done()
	defer func() {
		cancel()
		s.mu.Lock()
		s.running = ""
		s.cancel = nil
		s.mu.Unlock()
	}()

	if err := job.Start(); err != nil {
		s.logger.Error("failed to start job", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return
	}
	s.save(ctx, job)

	name := fmt.Sprintf("tts-%s.zip", job.ID)
	res, err := s.fetcher.Fetch(ctx, archive.New(), name, items, func(done, _ int) {
		job.UpdateProgress(done)
		s.save(ctx, job)
	})

	switch {
	case err == nil:
		err = job.Complete(res.Name, res.URL, res.Entries)
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("fetch job timed out", slog.String("job_id", job.ID))
		err = job.Timeout()
	case errors.Is(err, context.Canceled):
		s.logger.Info("fetch job cancelled", slog.String("job_id", job.ID))
		err = job.Cancel()
	default:
		s.logger.Error("fetch job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		err = job.Fail(err.Error())
	}
	if err != nil {
		s.logger.Error("failed to finish job", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	s.save(context.WithoutCancel(ctx), job)

	s.logger.Info("fetch job finished",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.GetStatus())),
	)
}

func (s *FetchService) save(ctx context.Context, job *Job) {
	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Warn("failed to save job progress",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// GetJob retrieves a job by ID.
func (s *FetchService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, oldest first.
func (s *FetchService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Cancel stops the running batch with the given ID.
func (s *FetchService) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.running == id && s.cancel != nil {
		s.cancel()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// Wait blocks until no batch is running.
func (s *FetchService) Wait() {
	s.wg.Wait()
}

// Shutdown cancels the running batch, if any, and waits for it to finish.
func (s *FetchService) Shutdown() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
