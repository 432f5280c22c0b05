package store

import (
	"log/slog"
	"sync"
	"time"
)

// Notifier fans change events out to subscribers. Store implementations
// embed it. Handlers run on their own goroutine; a panicking handler is
// logged and does not affect the others.
type Notifier struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]func(ChangeEvent)
	logger   *slog.Logger
}

// NewNotifier creates a Notifier that logs handler panics to logger.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{handlers: make(map[int]func(ChangeEvent)), logger: logger}
}

// Subscribe implements Store.Subscribe.
func (n *Notifier) Subscribe(handler func(ChangeEvent)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	n.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.handlers, id)
			n.mu.Unlock()
		})
	}
}

// Notify delivers an event to every subscriber.
func (n *Notifier) Notify(origin Origin) {
	ev := ChangeEvent{Origin: origin, At: time.Now()}

	n.mu.RLock()
	handlers := make([]func(ChangeEvent), 0, len(n.handlers))
	for _, h := range n.handlers {
		handlers = append(handlers, h)
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		go func(h func(ChangeEvent)) {
			defer func() {
				if r := recover(); r != nil {
					n.logger.Error("change subscriber panicked", slog.Any("panic", r))
				}
			}()
			h(ev)
		}(h)
	}
}
