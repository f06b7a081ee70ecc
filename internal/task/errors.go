package task

import "errors"

// Common errors returned by the task package
var (
	ErrQueueClosed       = errors.New("work queue is closed")
	ErrQueueFull         = errors.New("work queue is full")
	ErrNilWorkItem       = errors.New("work item must not be nil")
	ErrNilAction         = errors.New("action must not be nil")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrTaskNotFound      = errors.New("task not found")
	ErrAlreadyRunning    = errors.New("dispatcher is already running")
	ErrUnknownDependency = errors.New("no provider registered for dependency")
	ErrScopeClosed       = errors.New("execution scope is closed")
)
