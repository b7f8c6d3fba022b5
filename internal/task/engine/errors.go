package engine

import "errors"

var (
	ErrDisabled  = errors.New("worker pool disabled")
	ErrStopped   = errors.New("worker pool stopped")
	ErrStopping  = errors.New("worker pool stopping")
	ErrQueueFull = errors.New("worker pool queue full")
	ErrNoRun     = errors.New("job has no Run func")
)
