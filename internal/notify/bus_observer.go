package notify

import (
	"time"

	"taskman/internal/eventbus"
)

// Payload is the bus-friendly form of a notification. It carries no pointers
// into scheduler-owned tasks.
type Payload struct {
	Kind        string    `json:"kind"`
	Source      string    `json:"source,omitempty"`
	Message     string    `json:"message,omitempty"`
	Task        string    `json:"task,omitempty"`
	Recurrence  string    `json:"recurrence,omitempty"`
	NextRunAt   time.Time `json:"next_run_at,omitzero"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// BusObserver republishes notifications on an event bus. Publish never
// blocks, so slow bus subscribers cannot stall the scheduler.
type BusObserver[S any] struct {
	bus   eventbus.Bus
	label Labeler[S]
}

func NewBusObserver[S any](bus eventbus.Bus, label Labeler[S]) *BusObserver[S] {
	return &BusObserver[S]{bus: bus, label: label}
}

func (o *BusObserver[S]) Notify(n Notification[S]) {
	if o == nil || o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: n.Kind.String(), Time: n.At, Data: ToPayload(n, o.label)})
}

// ToPayload flattens n.
func ToPayload[S any](n Notification[S], l Labeler[S]) Payload {
	p := Payload{
		Kind:        n.Kind.String(),
		Source:      n.Source,
		Message:     n.Message,
		Task:        label(l, n.Task),
		NextRunAt:   n.NextRunAt,
		ExecutionID: n.ExecutionID,
	}
	if n.Task != nil {
		p.Recurrence = n.Task.Recurrence().String()
	}
	if n.Outcome != nil {
		p.Outcome = n.Outcome.String()
	}
	if n.Err != nil {
		p.Error = n.Err.Error()
	}
	return p
}
