// Package job tracks batch fetches of text-to-speech narration. A job walks
// every TTS source of the deck in order, stores the payloads in an archive
// and publishes it; its progress is what clients poll while it runs.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/slidecast/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job was accepted but has not started.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates items are being fetched.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the archive was published.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates an item could not be fetched or the archive
	// could not be published.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by a caller.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the batch ran past its deadline.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("job: invalid state transition")

var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one batch fetch.
type Job struct {
	mu sync.RWMutex

	ID     string
	Status Status

	// Total is the number of items in the batch; Done counts the stored ones.
	Total int
	Done  int
	// Progress is the percentage of completion (0-100).
	Progress int

	// ArchiveName and ArchiveURL locate the published archive.
	ArchiveName string
	ArchiveURL  string
	// Entries is the number of payloads in the published archive.
	Entries int

	Error string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// New creates a queued job for total items.
func New(total int) *Job {
	return NewWithID(id.Generate(), total)
}

// NewWithID creates a queued job with the given ID.
func NewWithID(jobID string, total int) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo changes the status, or returns ErrInvalidTransition.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()
	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start moves a queued job to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete records the published archive and moves the job to COMPLETED.
func (j *Job) Complete(name, url string, entries int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.ArchiveName = name
	j.ArchiveURL = url
	j.Entries = entries
	j.Done = j.Total
	j.Progress = 100
	return nil
}

// Fail moves the job to FAILED with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel moves the job to CANCELLED.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Timeout moves the job to TIMED_OUT.
func (j *Job) Timeout() error {
	return j.TransitionTo(StatusTimedOut)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress records that done of Total items are stored.
func (j *Job) UpdateProgress(done int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if done < 0 {
		done = 0
	}
	if done > j.Total {
		done = j.Total
	}
	j.Done = done
	if j.Total > 0 {
		j.Progress = done * 100 / j.Total
	}
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(validTransitions[j.Status]) == 0
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		Status:      j.Status,
		Total:       j.Total,
		Done:        j.Done,
		Progress:    j.Progress,
		ArchiveName: j.ArchiveName,
		ArchiveURL:  j.ArchiveURL,
		Entries:     j.Entries,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
