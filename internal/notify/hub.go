package notify

import (
	"runtime/debug"
	"sync"

	logx "taskman/pkg/logx"
)

// Hub fans notifications out to registered observers.
type Hub[S any] struct {
	mu  sync.RWMutex
	seq uint64
	obs []hubEntry[S]
	log logx.Logger
}

type hubEntry[S any] struct {
	id uint64
	o  Observer[S]
}

func NewHub[S any](log logx.Logger) *Hub[S] {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub[S]{log: log}
}

// Subscribe registers o and returns a func that removes it.
func (h *Hub[S]) Subscribe(o Observer[S]) (unsubscribe func()) {
	if o == nil {
		return func() {}
	}
	h.mu.Lock()
	h.seq++
	id := h.seq
	h.obs = append(h.obs, hubEntry[S]{id: id, o: o})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, e := range h.obs {
				if e.id == id {
					// Copy so an Emit holding the old slice is unaffected.
					next := make([]hubEntry[S], 0, len(h.obs)-1)
					next = append(next, h.obs[:i]...)
					h.obs = append(next, h.obs[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of observers.
func (h *Hub[S]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.obs)
}

// Emit delivers ns in order to every observer registered at call time.
// A panicking observer is logged and skipped; the rest still get the event.
func (h *Hub[S]) Emit(ns ...Notification[S]) {
	if len(ns) == 0 {
		return
	}
	h.mu.RLock()
	obs := h.obs
	h.mu.RUnlock()

	for _, n := range ns {
		for _, e := range obs {
			h.deliver(e.o, n)
		}
	}
}

func (h *Hub[S]) deliver(o Observer[S], n Notification[S]) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("observer panicked",
				logx.String("kind", n.Kind.String()),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	o.Notify(n)
}
