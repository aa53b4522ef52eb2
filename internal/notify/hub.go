// Package notify fans state-change notifications out to any number of
// subscribers without the publisher knowing who they are.
package notify

import "sync"

const defaultBuffer = 64

// Hub fans out values of type T from one publisher to N listeners.
type Hub[T any] struct {
	mu        sync.RWMutex
	listeners map[*Listener[T]]struct{}
	buffer    int
}

// Listener receives published values on C until it is unsubscribed.
type Listener[T any] struct {
	C    chan T
	done chan struct{}
}

// Done is closed once the listener has been unsubscribed.
func (l *Listener[T]) Done() <-chan struct{} {
	return l.done
}

// NewHub creates a hub whose listeners buffer up to buffer values.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub[T]{
		listeners: make(map[*Listener[T]]struct{}),
		buffer:    buffer,
	}
}

// Subscribe registers a new listener.
func (h *Hub[T]) Subscribe() *Listener[T] {
	l := &Listener[T]{
		C:    make(chan T, h.buffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	h.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Safe to call twice.
func (h *Hub[T]) Unsubscribe(l *Listener[T]) {
	h.mu.Lock()
	_, ok := h.listeners[l]
	delete(h.listeners, l)
	h.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// ListenerCount returns the number of active listeners.
func (h *Hub[T]) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Publish delivers v to every listener. A listener whose buffer is full
// misses the value rather than blocking the publisher.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.listeners {
		select {
		case l.C <- v:
		default:
		}
	}
}

// Close unsubscribes every listener.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	listeners := h.listeners
	h.listeners = make(map[*Listener[T]]struct{})
	h.mu.Unlock()
	for l := range listeners {
		close(l.done)
	}
}
