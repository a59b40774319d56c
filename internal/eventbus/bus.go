// Package eventbus is the in-process publish/subscribe channel used for
// lifecycle signaling and custom resource events.
//
// Handler sets are unordered: there is no guaranteed ordering between
// handlers of the same event, only joint completion. Emit waits for every
// handler and fails as a whole if any handler fails.
package eventbus

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Handler receives one event emission.
type Handler func(ctx context.Context, payload any) error

// Bus is a process-local event bus. The zero value is not usable; call New.
type Bus struct {
	mu       sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler for the named event and returns a cancel
// function that removes it. Cancel is idempotent.
func (b *Bus) Subscribe(name string, h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	set, ok := b.handlers[name]
	if !ok {
		set = make(map[int]Handler)
		b.handlers[name] = set
	}
	set[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[name], id)
	}
}

// Once registers a handler that deregisters itself after its first firing.
func (b *Bus) Once(name string, h Handler) (cancel func()) {
	var once sync.Once
	var remove func()
	remove = b.Subscribe(name, func(ctx context.Context, payload any) error {
		var err error
		fired := false
		once.Do(func() {
			fired = true
			err = h(ctx, payload)
		})
		if fired {
			remove()
		}
		return err
	})
	return remove
}

// Emit invokes every handler currently subscribed to the event and awaits
// them jointly. If any handler fails the emission as a whole fails with
// the first error observed.
func (b *Bus) Emit(ctx context.Context, name string, payload any) error {
	b.mu.Lock()
	snapshot := make([]Handler, 0, len(b.handlers[name]))
	for _, h := range b.handlers[name] {
		snapshot = append(snapshot, h)
	}
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range snapshot {
		h := h
		g.Go(func() error {
			return h(gctx, payload)
		})
	}
	return g.Wait()
}

// HandlerCount reports the number of handlers currently subscribed to the
// event. Intended for tests and introspection.
func (b *Bus) HandlerCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[name])
}
