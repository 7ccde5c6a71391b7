package session

import (
	"sync"

	"github.com/Rrens/chat-sessions/internal/domain"
)

// Notification is broadcast whenever a session's message list changes.
type Notification struct {
	Messages     []domain.Message `json:"messages"`
	UserScrolled bool             `json:"user_scrolled"`
}

// Feed is a latest-value broadcast channel. A new subscriber immediately
// receives the most recent notification, then every subsequent one. Slow
// subscribers may miss intermediate values but always converge on the
// latest.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
	last   *Notification
	closed bool
}

// NewFeed creates an empty feed
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Notification)}
}

// Subscribe registers a consumer. The returned channel is buffered; the
// retained latest value, if any, is delivered before this call returns.
func (f *Feed) Subscribe() (int, <-chan Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan Notification, 8)
	if f.closed {
		close(ch)
		return id, ch
	}
	f.subs[id] = ch
	if f.last != nil {
		ch <- *f.last
	}
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (f *Feed) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// Publish retains n as the latest value and fans it out without blocking.
// When a subscriber's buffer is full the oldest entry is dropped so the
// newest value always lands.
func (f *Feed) Publish(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.last = &n
	for _, ch := range f.subs {
		select {
		case ch <- n:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- n:
			default:
			}
		}
	}
}

// Last returns the retained latest value, if any.
func (f *Feed) Last() *Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
