package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_SettleRunsInOrder(t *testing.T) {
	l := New(nil)
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Settle()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoop_TasksPostedFromTasksRunAfter(t *testing.T) {
	l := New(nil)
	var got []string
	l.Post(func() {
		got = append(got, "outer-start")
		l.Post(func() { got = append(got, "inner") })
		got = append(got, "outer-end")
	})
	l.Settle()
	assert.Equal(t, []string{"outer-start", "outer-end", "inner"}, got)
}

func TestLoop_SettleWaitsForWorkers(t *testing.T) {
	l := New(nil)
	result := ""
	l.Go(func() Task {
		time.Sleep(10 * time.Millisecond)
		return func() { result = "done" }
	})
	l.Settle()
	assert.Equal(t, "done", result)
}

func TestLoop_RecoversPanics(t *testing.T) {
	l := New(nil)
	ran := false
	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })
	l.Settle()
	assert.True(t, ran)
}

func TestLoop_StartAndDo(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Start(ctx)

	value := 0
	require.NoError(t, l.Do(ctx, func() { value = 42 }))
	assert.Equal(t, 42, value)

	l.Close()
	assert.ErrorIs(t, l.Do(ctx, func() {}), ErrClosed)
	assert.False(t, l.Post(func() {}))
}
