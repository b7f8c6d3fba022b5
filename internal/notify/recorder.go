package notify

import (
	"context"
	"sync"
)

// Recorder keeps every notification it sees. It is safe for concurrent use.
type Recorder[S any] struct {
	mu      sync.Mutex
	items   []Notification[S]
	changed chan struct{}
}

func NewRecorder[S any]() *Recorder[S] {
	return &Recorder[S]{changed: make(chan struct{})}
}

func (r *Recorder[S]) Notify(n Notification[S]) {
	r.mu.Lock()
	r.items = append(r.items, n)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

// All returns a copy of everything recorded so far.
func (r *Recorder[S]) All() []Notification[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification[S](nil), r.items...)
}

// OfKind returns the recorded notifications of kind k.
func (r *Recorder[S]) OfKind(k Kind) []Notification[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification[S]
	for _, n := range r.items {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

func (r *Recorder[S]) Count(k Kind) int { return len(r.OfKind(k)) }

func (r *Recorder[S]) Reset() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}

// WaitFor blocks until at least n notifications of kind k were recorded or ctx ends.
func (r *Recorder[S]) WaitFor(ctx context.Context, k Kind, n int) bool {
	for {
		r.mu.Lock()
		got := 0
		for _, it := range r.items {
			if it.Kind == k {
				got++
			}
		}
		ch := r.changed
		r.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}
