package talker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

// fakeInput hands out channel driven streams and counts open handles.
type fakeInput struct {
	mu      sync.Mutex
	open    int
	opened  int
	openErr error
	gate    chan struct{}
	entered chan struct{}
	streams []*fakeStream
}

func newFakeInput() *fakeInput {
	return &fakeInput{entered: make(chan struct{}, 16)}
}

func (f *fakeInput) Open(ctx context.Context, _ *AudioConfig) (InputStream, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.entered <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := &fakeStream{
		input:  f,
		blocks: make(chan []float32),
		fail:   make(chan error, 1),
		reads:  make(chan struct{}, 64),
		closed: make(chan struct{}),
	}
	f.open++
	f.opened++
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeInput) setGate(g chan struct{}) {
	f.mu.Lock()
	f.gate = g
	f.mu.Unlock()
}

func (f *fakeInput) openHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeInput) last(t *testing.T) *fakeStream {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		t.Fatalf("no stream opened")
	}
	return f.streams[len(f.streams)-1]
}

type fakeStream struct {
	input  *fakeInput
	blocks chan []float32
	fail   chan error
	reads  chan struct{}
	once   sync.Once
	closed chan struct{}
}

func (s *fakeStream) Read(ctx context.Context) ([]float32, error) {
	s.reads <- struct{}{}
	select {
	case b := <-s.blocks:
		return b, nil
	case err := <-s.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, errors.New("stream closed")
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.input.mu.Lock()
		s.input.open--
		s.input.mu.Unlock()
	})
	return nil
}

// feed delivers one block and returns once the capture goroutine has handed
// it to the manager.
func (s *fakeStream) feed(t *testing.T, block []float32) {
	t.Helper()
	select {
	case <-s.reads:
	case <-time.After(waitTimeout):
		t.Fatalf("capture never read")
	}
	select {
	case s.blocks <- block:
	case <-time.After(waitTimeout):
		t.Fatalf("block not consumed")
	}
	select {
	case <-s.reads:
	case <-time.After(waitTimeout):
		t.Fatalf("capture did not continue")
	}
	// Put the token back so the next feed sees a waiting reader.
	s.reads <- struct{}{}
}

// fakeOutput opens fakePlaybacks; data "bad" fails to decode and a gate keyed
// by the data holds Open until closed.
type fakeOutput struct {
	mu        sync.Mutex
	open      int
	gates     map[string]chan struct{}
	playbacks map[string]*fakePlayback
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{
		gates:     make(map[string]chan struct{}),
		playbacks: make(map[string]*fakePlayback),
	}
}

func (f *fakeOutput) Open(_ context.Context, data []byte) (Playback, error) {
	key := string(data)
	if key == "bad" {
		return nil, NewPlaybackError("cannot decode")
	}
	f.mu.Lock()
	gate := f.gates[key]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	pb := &fakePlayback{out: f, duration: 2 * time.Second, done: make(chan struct{})}
	f.open++
	f.playbacks[key] = pb
	return pb, nil
}

func (f *fakeOutput) gate(key string) chan struct{} {
	g := make(chan struct{})
	f.mu.Lock()
	f.gates[key] = g
	f.mu.Unlock()
	return g
}

func (f *fakeOutput) openHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeOutput) playback(t *testing.T, key string) *fakePlayback {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	pb, ok := f.playbacks[key]
	if !ok {
		t.Fatalf("no playback for %q", key)
	}
	return pb
}

type fakePlayback struct {
	out      *fakeOutput
	duration time.Duration

	mu      sync.Mutex
	pos     time.Duration
	paused  bool
	started bool
	closed  bool

	done     chan struct{}
	doneOnce sync.Once
}

func (p *fakePlayback) Duration() time.Duration { return p.duration }

func (p *fakePlayback) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *fakePlayback) Start() error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return nil
}

func (p *fakePlayback) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *fakePlayback) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }

func (p *fakePlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.out.mu.Lock()
		p.out.open--
		p.out.mu.Unlock()
	}
	return nil
}

func (p *fakePlayback) setPosition(d time.Duration) {
	p.mu.Lock()
	p.pos = d
	p.mu.Unlock()
}

func (p *fakePlayback) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *fakePlayback) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// waitFor reads sub until pred matches.
func waitFor[T any](t *testing.T, sub *Subscription[T], pred func(T) bool) T {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case v, ok := <-sub.C():
			if !ok {
				t.Fatalf("subscription closed while waiting")
			}
			if pred(v) {
				return v
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state")
		}
	}
}

// collect returns everything delivered on sub within d.
func collect[T any](sub *Subscription[T], d time.Duration) []T {
	var out []T
	timeout := time.After(d)
	for {
		select {
		case v, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, v)
		case <-timeout:
			return out
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func constantBlock(n int, v float32) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = v
	}
	return b
}
