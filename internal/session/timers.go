package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// timerHost is the non-owning back-reference a timer entry dispatches to.
// Ticks go through the host so the message counter is only ever touched
// under the session's own lock.
type timerHost interface {
	hasMessage(messageID int64) bool
	tickThinking(messageID int64)
}

// TimerRegistry tracks per-message thinking timers. At most one entry per
// message id exists at any time.
type TimerRegistry struct {
	mu       sync.Mutex
	entries  map[int64]chan struct{}
	host     timerHost
	interval time.Duration
	wg       sync.WaitGroup
}

// NewTimerRegistry creates a registry ticking at the given interval
// (one second in production).
func NewTimerRegistry(host timerHost, interval time.Duration) *TimerRegistry {
	if interval <= 0 {
		interval = time.Second
	}
	return &TimerRegistry{
		entries:  make(map[int64]chan struct{}),
		host:     host,
		interval: interval,
	}
}

// Start begins a periodic thinking tick for the message. A second call for
// the same id is a no-op. Starting a timer for a message the session does
// not hold is an invariant violation and is logged, not acted on.
func (r *TimerRegistry) Start(messageID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[messageID]; ok {
		return
	}
	if !r.host.hasMessage(messageID) {
		log.Error().Int64("message_id", messageID).Msg("thinking timer started for unknown message")
		return
	}

	stop := make(chan struct{})
	r.entries[messageID] = stop
	r.wg.Add(1)
	go r.run(messageID, stop)
}

func (r *TimerRegistry) run(messageID int64, stop chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.host.tickThinking(messageID)
		}
	}
}

// Stop invalidates and removes the entry for the message, if present.
func (r *TimerRegistry) Stop(messageID int64) {
	r.mu.Lock()
	stop, ok := r.entries[messageID]
	if ok {
		delete(r.entries, messageID)
	}
	r.mu.Unlock()
	if ok {
		close(stop)
	}
}

// StopAll invalidates and clears every entry. Used on session teardown.
func (r *TimerRegistry) StopAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[int64]chan struct{})
	r.mu.Unlock()
	for _, stop := range entries {
		close(stop)
	}
	r.wg.Wait()
}

// Active reports whether a timer exists for the message.
func (r *TimerRegistry) Active(messageID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[messageID]
	return ok
}
