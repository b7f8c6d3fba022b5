package scheduler

import "time"

func (s *Scheduler[S]) Snapshot() Snapshot {
	s.mu.Lock()
	scheduled := make([]Entry, 0, s.due.len())
	for _, e := range s.due.entries {
		scheduled = append(scheduled, Entry{
			At:         e.at,
			Task:       s.entryLabel(e),
			Recurrence: e.task.Recurrence().String(),
			Active:     e.task.IsActive(),
		})
	}
	running := make([]Running, 0, len(s.inflight))
	for _, ex := range s.inflight {
		running = append(running, Running{ID: ex.id, Task: ex.name, Dispatched: ex.dispatched, Done: ex.done.Load()})
	}
	initialized := s.scope != nil && s.scope.Err() == nil
	s.mu.Unlock()

	snap := Snapshot{
		Initialized:            initialized,
		Updating:               s.updating.Load(),
		MaxRunningTasksAllowed: s.MaxRunningTasksAllowed(),
		Cycles:                 s.cycles.Load(),
		Dispatched:             s.dispatched.Load(),
		Scheduled:              scheduled,
		Running:                running,
	}
	if ns := s.lastUpdate.Load(); ns != 0 {
		snap.LastUpdate = time.Unix(0, ns)
	}
	return snap
}

func (s *Scheduler[S]) entryLabel(e dueEntry[S]) string {
	if s.label == nil {
		return ""
	}
	return s.label(e.task.State)
}
