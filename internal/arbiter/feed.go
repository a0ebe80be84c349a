package arbiter

import "sync"

const feedBuffer = 64

// Feed fans the status record out to observers. Transitions are delivered
// in publish order to every subscriber; a newly attaching subscriber
// immediately receives the latest value.
//
// Publish happens only from the engine goroutine, which already serializes
// transitions, and must never block it: a subscriber that stops draining
// loses its oldest undelivered values, keeping the newest, while the engine
// keeps running.
type Feed struct {
	mu        sync.Mutex
	subs      map[int]chan Status
	nextID    int
	latest    Status
	hasLatest bool
	closed    bool
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Status)}
}

// Publish delivers st to all subscribers and records it for replay. It
// never blocks: when a subscriber's buffer is full its oldest value is
// dropped to make room.
func (f *Feed) Publish(st Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.latest = st
	f.hasLatest = true

	for _, ch := range f.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

// Subscribe attaches a new observer. The returned cancel func detaches it
// and closes the channel; it is safe to call more than once.
func (f *Feed) Subscribe() (<-chan Status, func()) {
	f.mu.Lock()

	ch := make(chan Status, feedBuffer)
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	if f.hasLatest {
		ch <- f.latest
	}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
			f.mu.Unlock()
		})
	}
	return ch, cancel
}

// Latest returns the most recently published value, if any.
func (f *Feed) Latest() (Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.hasLatest
}

// Close detaches and closes all subscribers.
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
