package scheduler

import (
	"slices"
	"time"

	"taskman/internal/task"
)

type dueEntry[S any] struct {
	at   time.Time
	task *task.Task[S]
}

// dueTable is a slice kept sorted by time with unique keys.
type dueTable[S any] struct {
	entries []dueEntry[S]
}

func (d *dueTable[S]) search(at time.Time) (int, bool) {
	return slices.BinarySearchFunc(d.entries, at, func(e dueEntry[S], t time.Time) int {
		return e.at.Compare(t)
	})
}

// insert adds t at at unless the key is taken.
func (d *dueTable[S]) insert(at time.Time, t *task.Task[S]) bool {
	i, found := d.search(at)
	if found {
		return false
	}
	d.entries = slices.Insert(d.entries, i, dueEntry[S]{at: at, task: t})
	return true
}

func (d *dueTable[S]) peek() (dueEntry[S], bool) {
	if len(d.entries) == 0 {
		return dueEntry[S]{}, false
	}
	return d.entries[0], true
}

// remove deletes the entry at at, if present.
func (d *dueTable[S]) remove(at time.Time) bool {
	i, found := d.search(at)
	if !found {
		return false
	}
	d.entries = slices.Delete(d.entries, i, i+1)
	return true
}

// due returns a copy of the entries with at <= now, in order.
func (d *dueTable[S]) due(now time.Time) []dueEntry[S] {
	n, found := d.search(now)
	if found {
		n++
	}
	return slices.Clone(d.entries[:n])
}

func (d *dueTable[S]) len() int { return len(d.entries) }

func (d *dueTable[S]) clear() { d.entries = nil }
