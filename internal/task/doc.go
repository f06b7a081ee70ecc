// Package task manages background job queuing, dispatch, and lifecycle.
// Callers hand a function to the Manager and get a Task handle back at once;
// a single Dispatcher goroutine later drains the WorkQueue in submission order
// and runs each job, so request handling is never blocked by the work itself.
package task
