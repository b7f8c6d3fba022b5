// Package scheduler holds tasks keyed by their next run time and dispatches
// due ones to a worker pool.
//
// Nothing in here waits on a timer. A driver calls Update on a steady cadence;
// each call reclaims finished executions, enforces the running-task cap,
// submits due tasks and reschedules them through their recurrence policy.
//
// Locking: one mutex guards the due table, the in-flight set and the
// cancellation scope, Update included. An atomic "updating" flag rejects
// overlapping Update calls and any mutator issued while a cycle runs, without
// blocking the caller. Notifications are collected under the lock and handed
// to observers after it is released, so observers may call back into the
// scheduler; while a cycle is still delivering, such calls are rejected as
// busy like any other.
package scheduler
