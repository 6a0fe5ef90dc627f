// Package events fans the messages a node reports, such as mined blocks or
// dropped peers, out to the websocket clients of the api.
package events

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Set of errors returned by Subscribe.
var (
	ErrClosed     = errors.New("events: feed closed")
	ErrSubscribed = errors.New("events: id already subscribed")
)

// subscriberBuffer bounds the messages queued for one subscriber. Messages
// published while it is full are dropped for that subscriber.
const subscriberBuffer = 100

// Feed delivers published messages to every subscriber without ever
// blocking the publisher.
type Feed struct {
	mu      sync.RWMutex
	subs    map[string]chan string
	closed  bool
	dropped atomic.Uint64
}

// NewFeed constructs an open feed with no subscribers.
func NewFeed() *Feed {
	return &Feed{subs: make(map[string]chan string)}
}

// Subscribe registers id and returns the channel its messages arrive on. The
// channel is closed by Unsubscribe or Close.
func (f *Feed) Subscribe(id string) (<-chan string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}
	if _, exists := f.subs[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSubscribed, id)
	}

	ch := make(chan string, subscriberBuffer)
	f.subs[id] = ch
	return ch, nil
}

// Unsubscribe closes and forgets the channel of id. Unknown ids are ignored.
func (f *Feed) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, exists := f.subs[id]; exists {
		delete(f.subs, id)
		close(ch)
	}
}

// Publish formats v with args and hands the result to every subscriber. It
// has the shape of the network event handler so it can be passed as one.
func (f *Feed) Publish(v string, args ...any) {
	msg := v
	if len(args) > 0 {
		msg = fmt.Sprintf(v, args...)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.subs {
		select {
		case ch <- msg:
		default:
			f.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// Close releases every subscriber and refuses new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
