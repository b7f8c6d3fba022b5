package task

import "errors"

var (
	ErrInvalidInterval = errors.New("task: minutes between runs must be > 0")
	ErrNoAction        = errors.New("task: action is nil")
	ErrNoRecurrence    = errors.New("task: recurrence is nil")
)
