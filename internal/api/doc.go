// Package api exposes the task registry, queue statistics and archived
// history over HTTP. Handlers translate requests into task.Manager and
// archive calls and never run job bodies themselves.
package api
