// Package observable is the subscription bus shared by every store: a value
// plus change notification, with activate/deactivate hooks fired when the
// subscriber count moves between zero and one.
//
// Each Set stamps the value with a strictly increasing version. A
// subscription remembers the last version it delivered and drops anything
// not newer, so a listener never observes an older state after a newer one
// even when Sets race on different goroutines.
package observable

import (
	"sync"
)

// Listener receives a published value and its version.
type Listener[T any] func(v T, version uint64)

// Lifecycle is implemented by stores that hold resources only while
// someone is watching (storage watchers, background loads).
type Lifecycle interface {
	Activate()
	Deactivate()
}

// Value is a concurrency-safe observable container. The zero value is not
// usable; construct with New.
type Value[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	subs    map[uint64]*subscription[T]
	nextID  uint64

	// lifeMu serializes Activate/Deactivate so hooks never interleave.
	lifeMu    sync.Mutex
	lifecycle Lifecycle
	active    bool
}

type subscription[T any] struct {
	mu        sync.Mutex
	last      uint64
	delivered bool
	fn        Listener[T]
	done      bool
}

// New creates a Value holding initial at version 0.
func New[T any](initial T) *Value[T] {
	return &Value[T]{value: initial, subs: make(map[uint64]*subscription[T])}
}

// SetLifecycle installs the activate/deactivate hooks. It must be called
// before the first Subscribe.
func (o *Value[T]) SetLifecycle(l Lifecycle) {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	o.lifecycle = l
}

// Get returns the current value and its version.
func (o *Value[T]) Get() (T, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value, o.version
}

// Load returns the current value.
func (o *Value[T]) Load() T {
	v, _ := o.Get()
	return v
}

// Set replaces the value in one assignment and notifies subscribers.
// It returns the new version.
func (o *Value[T]) Set(v T) uint64 {
	o.mu.Lock()
	o.version++
	o.value = v
	ver := o.version
	subs := o.snapshotLocked()
	o.mu.Unlock()

	for _, s := range subs {
		s.deliver(v, ver)
	}
	return ver
}

// Update applies fn to the current value under the lock and publishes the
// result. fn must not call back into o.
func (o *Value[T]) Update(fn func(T) T) (T, uint64) {
	o.mu.Lock()
	v := fn(o.value)
	o.version++
	o.value = v
	ver := o.version
	subs := o.snapshotLocked()
	o.mu.Unlock()

	for _, s := range subs {
		s.deliver(v, ver)
	}
	return v, ver
}

func (o *Value[T]) snapshotLocked() []*subscription[T] {
	subs := make([]*subscription[T], 0, len(o.subs))
	for _, s := range o.subs {
		subs = append(subs, s)
	}
	return subs
}

// Subscribe registers fn and immediately delivers the current value to it.
// Listeners run synchronously on the publishing goroutine and must not Set
// the Value they observe.
// The first subscriber activates the lifecycle hooks. The returned function
// unsubscribes; calling it more than once is a no-op.
func (o *Value[T]) Subscribe(fn Listener[T]) (unsubscribe func()) {
	s := &subscription[T]{fn: fn}

	o.lifeMu.Lock()
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = s
	first := len(o.subs) == 1
	v, ver := o.value, o.version
	o.mu.Unlock()

	if first && !o.active {
		o.active = true
		if o.lifecycle != nil {
			o.lifecycle.Activate()
		}
	}
	o.lifeMu.Unlock()

	s.deliverInitial(o, v, ver)

	var once sync.Once
	return func() {
		once.Do(func() { o.unsubscribe(id, s) })
	}
}

func (o *Value[T]) unsubscribe(id uint64, s *subscription[T]) {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()

	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()

	o.mu.Lock()
	delete(o.subs, id)
	last := len(o.subs) == 0
	o.mu.Unlock()

	if last && o.active {
		o.active = false
		if o.lifecycle != nil {
			o.lifecycle.Deactivate()
		}
	}
}

// Subscribers returns the current subscriber count.
func (o *Value[T]) Subscribers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}

// Active reports whether the lifecycle is currently activated.
func (o *Value[T]) Active() bool {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	return o.active
}

// deliverInitial sends the newest value known to the subscriber. Activate
// may already have published newer versions by the time we get here.
func (s *subscription[T]) deliverInitial(o *Value[T], v T, ver uint64) {
	cur, curVer := o.Get()
	if curVer > ver {
		v, ver = cur, curVer
	}
	s.deliver(v, ver)
}

func (s *subscription[T]) deliver(v T, ver uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || (s.delivered && ver <= s.last) {
		return
	}
	s.last, s.delivered = ver, true
	s.fn(v, ver)
}
