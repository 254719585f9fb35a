package jobs

import "sync"

const subscriberBuffer = 10

// feed holds the live state of a running job and fans its updates out to subscribers.
type feed struct {
	mu     sync.Mutex
	rec    Record
	subs   map[chan Update]struct{}
	closed bool
}

func newFeed(rec Record) *feed {
	return &feed{rec: rec, subs: map[chan Update]struct{}{}}
}

func (f *feed) snapshot() Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec
}

// subscribe returns a channel that first receives the current state.
func (f *feed) subscribe() (<-chan Update, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Update, subscriberBuffer)
	ch <- f.rec.update()

	if f.closed {
		close(ch)
		return ch, func() {}
	}

	f.subs[ch] = struct{}{}
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// apply mutates the record and publishes the result, slow subscribers miss intermediate updates.
func (f *feed) apply(mutate func(*Record)) Record {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return f.rec
	}

	mutate(&f.rec)
	u := f.rec.update()
	for sub := range f.subs {
		select {
		case sub <- u:
		default:
		}
	}
	return f.rec
}

// finish publishes the terminal state and closes every subscriber.
// The terminal update is always delivered, dropping the oldest buffered update if needed.
func (f *feed) finish(mutate func(*Record)) Record {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return f.rec
	}

	mutate(&f.rec)
	u := f.rec.update()
	for sub := range f.subs {
		select {
		case sub <- u:
		default:
			select {
			case <-sub:
			default:
			}
			sub <- u
		}
		close(sub)
	}
	f.subs = nil
	f.closed = true
	return f.rec
}
