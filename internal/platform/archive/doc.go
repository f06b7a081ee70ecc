// Package archive keeps a history of tasks that reached a terminal state.
//
// Rows live in a single task_history table whose schema is applied from
// embedded goose migrations, on PostgreSQL (pgx) or SQLite (modernc).
// The Recorder subscribes to the event bus and writes each settled task,
// retrying transient failures behind a circuit breaker so that a struggling
// database cannot stall event delivery for long.
//
// Only finished history is stored. Pending work is never persisted, so
// queued jobs do not survive a restart.
package archive
