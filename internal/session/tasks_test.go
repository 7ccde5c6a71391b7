package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskManager_CancelWithNoTask(t *testing.T) {
	m := NewTaskManager()

	ran := false
	m.CancelCurrent(func() { ran = true })
	assert.True(t, ran, "completion runs immediately with no active task")
}

func TestTaskManager_CancelWaitsForTermination(t *testing.T) {
	m := NewTaskManager()

	ctx, finish := m.Begin(context.Background())
	require.True(t, m.Active())

	terminated := make(chan struct{})
	go func() {
		<-ctx.Done()
		// Simulate cleanup the task performs before terminating.
		time.Sleep(20 * time.Millisecond)
		close(terminated)
		finish()
	}()

	m.CancelCurrent(func() {
		select {
		case <-terminated:
		default:
			t.Error("completion ran while the cancelled task was still alive")
		}
	})
	assert.False(t, m.Active())
}

func TestTaskManager_BeginSupersedesCurrent(t *testing.T) {
	m := NewTaskManager()

	first, finishFirst := m.Begin(context.Background())
	go func() {
		<-first.Done()
		finishFirst()
	}()

	second, finishSecond := m.Begin(context.Background())
	defer finishSecond()

	assert.Error(t, first.Err(), "superseded task is cancelled")
	assert.NoError(t, second.Err())
	assert.True(t, m.Active())
}

func TestTaskManager_FinishClearsCurrent(t *testing.T) {
	m := NewTaskManager()

	_, finish := m.Begin(context.Background())
	finish()
	assert.False(t, m.Active())

	// finish is idempotent
	finish()
}
