package task

import "errors"

// ErrPanic wraps a value recovered from a panicking task or timer action.
// Use errors.Is(task.Err(), ErrPanic) to tell panics from returned errors.
var ErrPanic = errors.New("task: action panicked")
