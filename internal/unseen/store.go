// Package unseen holds the process-wide unseen notification count shown on
// the navigation badge.
//
// The Store is created once by the application root. The notification engine
// is the only holder of the Writer side; every other consumer receives a
// Reader.
package unseen

import "sync"

// Reader is the read-only view handed to badge consumers.
type Reader interface {
	Get() int
	// Subscribe returns a channel that always yields the latest count. The
	// current value is delivered immediately. Intermediate values may be
	// skipped when the reader is slow. Call the returned func to unsubscribe;
	// the channel is then closed.
	Subscribe() (<-chan int, func())
}

// Writer publishes new values.
type Writer interface {
	Reader
	Set(n int)
	Reset()
}

// Store is a Writer safe for concurrent use. The zero value is not usable;
// call New.
type Store struct {
	mu     sync.Mutex
	value  int
	nextID uint64
	subs   map[uint64]chan int
}

var _ Writer = (*Store)(nil)

// New returns a Store holding 0.
func New() *Store {
	return &Store{subs: make(map[uint64]chan int)}
}

// Get returns the current count.
func (s *Store) Get() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set publishes n. No validation is performed. Subscribers are notified only
// when the value changes.
func (s *Store) Set(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == s.value {
		return
	}
	s.value = n
	for _, ch := range s.subs {
		offer(ch, n)
	}
}

// Reset returns the count to 0, e.g. on logout.
func (s *Store) Reset() {
	s.Set(0)
}

// Subscribe implements Reader.
func (s *Store) Subscribe() (<-chan int, func()) {
	ch := make(chan int, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.value
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// offer replaces any unread value in ch with n. Callers hold s.mu, which makes
// them the only senders, so the send never blocks.
func offer(ch chan int, n int) {
	select {
	case <-ch:
	default:
	}
	ch <- n
}
