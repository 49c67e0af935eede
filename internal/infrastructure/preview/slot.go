package preview

import (
	"sync"
	"time"
)

// Frame is one encoded still. Data must be treated as read-only; it is shared
// between every reader of the same frame.
type Frame struct {
	Data []byte
	Seq  uint64
	At   time.Time
}

// Slot keeps the most recent still of the active session and fans it out to
// subscribers. A subscriber that falls behind skips to the newest frame, so
// Publish never waits on a reader.
type Slot struct {
	now func() time.Time

	mu     sync.Mutex
	latest Frame
	subs   map[uint64]chan Frame
	nextID uint64
	closed bool
}

func NewSlot() *Slot {
	return &Slot{
		now:  time.Now,
		subs: make(map[uint64]chan Frame),
	}
}

// Publish copies buf into the slot and wakes subscribers.
func (s *Slot) Publish(buf []byte) {
	if len(buf) == 0 {
		return
	}
	data := make([]byte, len(buf))
	copy(data, buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.latest = Frame{Data: data, Seq: s.latest.Seq + 1, At: s.now()}
	for _, ch := range s.subs {
		offer(ch, s.latest)
	}
}

// offer replaces whatever the subscriber has not read yet. Only Publish sends
// and it holds mu, so the second send cannot block.
func offer(ch chan Frame, f Frame) {
	select {
	case ch <- f:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- f
}

// Latest returns the newest frame, if any has been published since the last
// Reset.
func (s *Slot) Latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latest.Data != nil
}

// Subscribe returns a channel that always holds the newest unread frame. The
// current frame, if any, is delivered immediately. The channel is closed by
// cancel or Close.
func (s *Slot) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	if s.latest.Data != nil {
		ch <- s.latest
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

// Subscribers reports how many readers are attached.
func (s *Slot) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Reset drops the stored frame, keeping the sequence counter so readers can
// still tell frames apart.
func (s *Slot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest.Data = nil
}

// Close detaches every subscriber. Later publishes are ignored.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
