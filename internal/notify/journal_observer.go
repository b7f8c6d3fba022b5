package notify

import (
	"context"
	"time"

	"taskman/internal/storage"
	logx "taskman/pkg/logx"
)

const journalWriteTimeout = 2 * time.Second

// JournalObserver appends finished executions to a storage.Store.
//
// ExecutionFinished is emitted from worker goroutines, so the write happens
// there and never inside a scheduler update.
type JournalObserver[S any] struct {
	store storage.Store
	label Labeler[S]
	log   logx.Logger
}

func NewJournalObserver[S any](store storage.Store, label Labeler[S], log logx.Logger) *JournalObserver[S] {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &JournalObserver[S]{store: store, label: label, log: log}
}

func (o *JournalObserver[S]) Notify(n Notification[S]) {
	if o == nil || o.store == nil || n.Kind != ExecutionFinished {
		return
	}
	p := ToPayload(n, o.label)
	e := storage.Execution{
		ID:         n.ExecutionID,
		Task:       p.Task,
		Recurrence: p.Recurrence,
		Outcome:    p.Outcome,
		Error:      p.Error,
		StartedAt:  n.StartedAt,
		FinishedAt: n.At,
		NextRunAt:  n.NextRunAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := o.store.AppendExecution(ctx, e); err != nil {
		o.log.Warn("journal append failed", logx.String("execution_id", e.ID), logx.Err(err))
	}
}
