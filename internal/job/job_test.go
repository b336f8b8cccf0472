package job

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	job := New(3)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusInQueue, job.Status)
	assert.Equal(t, 3, job.Total)
	assert.Zero(t, job.Done)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		wantErr bool
	}{
		{StatusInQueue, StatusRunning, false},
		{StatusInQueue, StatusCancelled, false},
		{StatusRunning, StatusCompleted, false},
		{StatusRunning, StatusFailed, false},
		{StatusRunning, StatusCancelled, false},
		{StatusRunning, StatusTimedOut, false},
		{StatusInQueue, StatusCompleted, true},
		{StatusInQueue, StatusTimedOut, true},
		{StatusCompleted, StatusRunning, true},
		{StatusFailed, StatusCompleted, true},
		{StatusCancelled, StatusRunning, true},
		{StatusTimedOut, StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			job := NewWithID("test", 1)
			job.Status = tt.from

			err := job.TransitionTo(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, job.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, job.Status)
		})
	}
}

func TestJob_Lifecycle(t *testing.T) {
	job := New(4)
	before := time.Now()

	require.NoError(t, job.Start())
	assert.False(t, job.StartedAt.Before(before))

	job.UpdateProgress(1)
	assert.Equal(t, 1, job.Done)
	assert.Equal(t, 25, job.Progress)

	require.NoError(t, job.Complete("tts.zip", "/published/tts.zip", 4))
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, "/published/tts.zip", job.ArchiveURL)
	assert.Equal(t, 4, job.Entries)
	assert.Equal(t, 4, job.Done)
	assert.Equal(t, 100, job.Progress)
	assert.False(t, job.CompletedAt.IsZero())
	assert.True(t, job.IsTerminal())
}

func TestJob_Fail(t *testing.T) {
	job := New(3)
	require.NoError(t, job.Start())
	job.UpdateProgress(1)

	require.NoError(t, job.Fail("fetch 1.0: status 500"))
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "fetch 1.0: status 500", job.Error)
	assert.Equal(t, 1, job.Done, "stored items are kept")
	assert.Empty(t, job.ArchiveURL)

	assert.ErrorIs(t, job.Complete("x", "y", 1), ErrInvalidTransition)
	assert.Empty(t, job.ArchiveURL, "a terminal job is not modified")
}

func TestJob_FailRequiresRunning(t *testing.T) {
	job := New(1)
	assert.ErrorIs(t, job.Fail("boom"), ErrInvalidTransition)
	assert.Empty(t, job.Error)
}

func TestJob_UpdateProgressClamps(t *testing.T) {
	job := New(2)
	job.UpdateProgress(-1)
	assert.Zero(t, job.Progress)
	job.UpdateProgress(5)
	assert.Equal(t, 2, job.Done)
	assert.Equal(t, 100, job.Progress)
}

func TestJob_IsTerminal(t *testing.T) {
	for status, terminal := range map[Status]bool{
		StatusInQueue:   false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
		StatusTimedOut:  true,
	} {
		job := NewWithID("x", 1)
		job.Status = status
		assert.Equal(t, terminal, job.IsTerminal(), status)
	}
}

func TestJob_Clone(t *testing.T) {
	job := New(2)
	require.NoError(t, job.Start())
	job.UpdateProgress(1)

	clone := job.Clone()
	assert.Equal(t, job.ID, clone.ID)
	assert.Equal(t, job.Done, clone.Done)
	assert.Equal(t, job.StartedAt, clone.StartedAt)

	job.UpdateProgress(2)
	assert.Equal(t, 1, clone.Done)
}

func TestJob_ConcurrentProgress(t *testing.T) {
	job := New(100)
	require.NoError(t, job.Start())

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(done int) {
			defer wg.Done()
			job.UpdateProgress(done)
			_ = job.Clone()
			_ = job.GetStatus()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, StatusRunning, job.GetStatus())
}
