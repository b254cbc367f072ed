package talker

import "sync"

// Subscription delivers every published value, in order, to one observer.
// Values queue up without bound while the observer is slow, so nothing is
// dropped.
type Subscription[T any] struct {
	out    chan T
	notify chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	queue []T

	once   sync.Once
	detach func()
}

func newSubscription[T any](detach func()) *Subscription[T] {
	s := &Subscription[T]{
		out:    make(chan T),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		detach: detach,
	}
	go s.pump()
	return s
}

// C is closed after Close.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Close detaches the subscription. Queued values are discarded.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		close(s.done)
	})
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}

type broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{subs: make(map[*Subscription[T]]struct{})}
}

func (b *broadcaster[T]) subscribe() *Subscription[T] {
	var s *Subscription[T]
	s = newSubscription[T](func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		go s.Close()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *broadcaster[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.push(v)
	}
}

func (b *broadcaster[T]) close() {
	b.mu.Lock()
	subs := make([]*Subscription[T], 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// watch runs fn for every value on a new subscription until the returned
// function is called.
func watch[T any](b *broadcaster[T], fn func(T)) func() {
	sub := b.subscribe()
	go func() {
		for v := range sub.C() {
			fn(v)
		}
	}()
	return sub.Close
}
