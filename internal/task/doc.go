// Package task provides the cooperative task and timer scheduler driven by
// the host's frame loop.
//
// The Scheduler is single-threaded: its queue, running set and timer list are
// only touched by the goroutine that calls Frame (and PushTask, PushTimer,
// the status queries and the Clear/Wait helpers). Each admitted Task runs its
// action on its own goroutine; the termination callback always runs back on
// the frame goroutine, inside Poll.
//
// Per frame:
//   - poll running tasks, run termination callbacks, prune terminated tasks
//   - advance every timer against the time step
//   - prune expired timers
//   - admit queued tasks (FIFO) until the running set is full
package task
