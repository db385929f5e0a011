package task

import "errors"

var (
	// ErrTerminated is returned when operating on a terminated task.
	ErrTerminated = errors.New("task terminated")

	// ErrFinished is returned when starting a task that has already finished.
	ErrFinished = errors.New("task finished")

	// ErrNoResponse is returned by Client when no reply arrived in time.
	ErrNoResponse = errors.New("no response from task")

	// ErrDuplicateTask is returned when adding a second task with the same name to a Group.
	ErrDuplicateTask = errors.New("task already registered")

	// errReported is the failure recorded when an ERROR is reported over the control channel.
	errReported = errors.New("failure reported over control channel")
)
