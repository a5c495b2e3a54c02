package storage

import (
	"context"
	"sync"
)

// MemoryBackend is shared state for several in-process Memory storages,
// one per simulated tab.
type MemoryBackend struct {
	mu       sync.Mutex
	data     map[string]string
	watchers map[*memoryWatcher]struct{}
}

// NewMemoryBackend creates an empty shared backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:     make(map[string]string),
		watchers: make(map[*memoryWatcher]struct{}),
	}
}

// Tab returns a new Storage view over the backend with its own origin.
func (b *MemoryBackend) Tab(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{backend: b, origin: o.origin}
}

// Memory is an in-process Storage. It is used in tests and when the client
// runs without persistence.
type Memory struct {
	backend *MemoryBackend
	origin  string
}

// NewMemory returns a Memory storage over a private backend.
func NewMemory(opts ...Option) *Memory {
	return NewMemoryBackend().Tab(opts...)
}

func (m *Memory) Origin() string { return m.origin }

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	v, ok := m.backend.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	m.backend.data[key] = value
	m.backend.publishLocked(Change{Key: key, Value: value, Origin: m.origin})
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	if _, ok := m.backend.data[key]; !ok {
		return nil
	}
	delete(m.backend.data, key)
	m.backend.publishLocked(Change{Key: key, Deleted: true, Origin: m.origin})
	return nil
}

func (m *Memory) Watch(ctx context.Context, key string) (<-chan Change, error) {
	w := newMemoryWatcher(key, m.origin)

	m.backend.mu.Lock()
	m.backend.watchers[w] = struct{}{}
	m.backend.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.backend.mu.Lock()
		delete(m.backend.watchers, w)
		m.backend.mu.Unlock()
		w.stop()
	}()
	go w.pump()

	return w.out, nil
}

func (m *Memory) Close() error { return nil }

func (b *MemoryBackend) publishLocked(c Change) {
	for w := range b.watchers {
		if w.key == c.Key && w.origin != c.Origin {
			w.push(c)
		}
	}
}

// memoryWatcher queues changes so publishers never block on a slow reader
// and delivery order matches write order.
type memoryWatcher struct {
	key    string
	origin string

	mu      sync.Mutex
	queue   []Change
	stopped bool
	signal  chan struct{}
	out     chan Change
}

func newMemoryWatcher(key, origin string) *memoryWatcher {
	return &memoryWatcher{
		key:    key,
		origin: origin,
		signal: make(chan struct{}, 1),
		out:    make(chan Change),
	}
}

func (w *memoryWatcher) push(c Change) {
	w.mu.Lock()
	w.queue = append(w.queue, c)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) pump() {
	defer close(w.out)
	for range w.signal {
		for {
			w.mu.Lock()
			if w.stopped {
				w.mu.Unlock()
				return
			}
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			c := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()

			if !w.send(c) {
				return
			}
		}
	}
}

// send blocks until the reader takes c or the watcher is stopped.
func (w *memoryWatcher) send(c Change) bool {
	for {
		select {
		case w.out <- c:
			return true
		case <-w.signal:
			w.mu.Lock()
			stopped := w.stopped
			w.mu.Unlock()
			if stopped {
				return false
			}
		}
	}
}
