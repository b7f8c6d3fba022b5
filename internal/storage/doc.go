// Package storage keeps the execution journal: one record per finished task
// execution.
//
// The journal is write-mostly. It is never read back into the scheduler, so a
// restart always starts from the configured task list.
package storage
