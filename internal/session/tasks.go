package session

import (
	"context"
	"sync"
)

// TaskManager holds at most one in-flight inference task per session.
// Mutating operations cancel and wait out the current task before touching
// shared state, which is what keeps a stale in-flight response from
// overwriting a user-initiated delete/retry/edit.
type TaskManager struct {
	mu      sync.Mutex
	current *taskHandle
}

type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTaskManager creates an empty task manager
func NewTaskManager() *TaskManager {
	return &TaskManager{}
}

// Begin cancels any current task, waits for it to terminate, then registers
// a new one. The returned context is cancelled when the task is cancelled or
// superseded; finish must be called exactly once when the task body returns.
func (m *TaskManager) Begin(parent context.Context) (ctx context.Context, finish func()) {
	m.CancelCurrent(nil)

	ctx, cancel := context.WithCancel(parent)
	t := &taskHandle{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.current = t
	m.mu.Unlock()

	var once sync.Once
	finish = func() {
		once.Do(func() {
			m.mu.Lock()
			if m.current == t {
				m.current = nil
			}
			m.mu.Unlock()
			cancel()
			close(t.done)
		})
	}
	return ctx, finish
}

// CancelCurrent signals cancellation to the current task (if any), waits
// until it has terminated, then runs fn. fn never executes concurrently
// with the task it just cancelled. With no active task fn runs immediately.
func (m *TaskManager) CancelCurrent(fn func()) {
	m.mu.Lock()
	t := m.current
	m.current = nil
	m.mu.Unlock()

	if t != nil {
		t.cancel()
		<-t.done
	}
	if fn != nil {
		fn()
	}
}

// Shutdown cancels any active task unconditionally and waits for it.
func (m *TaskManager) Shutdown() {
	m.CancelCurrent(nil)
}

// Active reports whether a task is currently registered.
func (m *TaskManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}
