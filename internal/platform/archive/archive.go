package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/phrazzld/taskq/internal/config"
	"github.com/phrazzld/taskq/internal/platform/logger"
	"github.com/phrazzld/taskq/internal/redact"
	"github.com/phrazzld/taskq/internal/task"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Supported database drivers.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Entry is one archived terminal task.
type Entry struct {
	ID         string          `json:"id"`
	Status     task.Status     `json:"status"`
	Progress   float64         `json:"progress"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Store reads and writes task history in a SQL database.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the database described by cfg and applies any pending
// migrations.
func Open(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	if driver == DriverSQLite {
		// A single connection keeps writes serialized and lets ":memory:" work.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to archive database: %s", redact.Error(err))
	}

	s := &Store{
		db:     db,
		driver: driver,
		logger: logger.With("component", "task_archive", "driver", driver),
	}

	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	dialect := goose.DialectSQLite3
	if s.driver == DriverPostgres {
		dialect = goose.DialectPostgres
	}

	provider, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply archive migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Info("applied archive migration",
			"version", r.Source.Version,
			"duration", r.Duration)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts the snapshot of a terminal task. Recording the same task
// twice keeps the latest snapshot.
func (s *Store) Record(ctx context.Context, snap task.Snapshot) error {
	log := logger.FromContext(ctx)

	if !snap.Status.IsTerminal() || snap.FinishedAt == nil {
		return fmt.Errorf("%w: task %s is %s", ErrNotTerminal, snap.ID, snap.Status)
	}

	var result sql.NullString
	if snap.Result != nil {
		data, err := json.Marshal(snap.Result)
		if err != nil {
			log.Warn("task result is not JSON-encodable, archiving without it",
				"task_id", snap.ID,
				"result_type", fmt.Sprintf("%T", snap.Result))
		} else {
			result = sql.NullString{String: string(data), Valid: true}
		}
	}

	var startedAt sql.NullInt64
	if snap.StartedAt != nil {
		startedAt = sql.NullInt64{Int64: snap.StartedAt.UnixMilli(), Valid: true}
	}

	query := s.rebind(`
		INSERT INTO task_history
			(id, status, progress, result, error_message, created_at, started_at, finished_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			result = excluded.result,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			recorded_at = excluded.recorded_at
	`)

	_, err := s.db.ExecContext(ctx, query,
		snap.ID,
		string(snap.Status),
		snap.Progress,
		result,
		redact.String(snap.Error),
		snap.CreatedAt.UnixMilli(),
		startedAt,
		snap.FinishedAt.UnixMilli(),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		log.Error("failed to archive task",
			"task_id", snap.ID,
			"status", snap.Status,
			"error", redact.Error(err))
		return fmt.Errorf("failed to archive task %s: %w", snap.ID, err)
	}
	return nil
}

// Get returns the archived entry for id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	query := s.rebind(`
		SELECT id, status, progress, result, error_message, created_at, started_at, finished_at, recorded_at
		FROM task_history
		WHERE id = ?
	`)

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archived task %s: %w", id, err)
	}
	return e, nil
}

// List returns up to limit entries, most recently finished first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := s.rebind(`
		SELECT id, status, progress, result, error_message, created_at, started_at, finished_at, recorded_at
		FROM task_history
		ORDER BY finished_at DESC, id
		LIMIT ?
	`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archived task: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate archived tasks: %w", err)
	}
	return entries, nil
}

// Purge deletes entries that finished before cutoff and returns how many
// were removed.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.rebind(`DELETE FROM task_history WHERE finished_at < ?`)

	res, err := s.db.ExecContext(ctx, query, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge archived tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged tasks: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged archived tasks", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// RunPurger deletes entries older than retention every interval until ctx is
// done. It returns immediately when either duration is not positive.
func (s *Store) RunPurger(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		s.logger.Debug("archive purger disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.Purge(ctx, now.Add(-retention)); err != nil && ctx.Err() == nil {
				s.logger.Warn("archive purge failed", redact.Attr(err))
			}
		}
	}
}

// DefaultListLimit caps List when no positive limit is given.
const DefaultListLimit = 100

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e          Entry
		status     string
		result     sql.NullString
		createdAt  int64
		startedAt  sql.NullInt64
		finishedAt int64
		recordedAt int64
	)
	if err := row.Scan(&e.ID, &status, &e.Progress, &result, &e.Error,
		&createdAt, &startedAt, &finishedAt, &recordedAt); err != nil {
		return nil, err
	}

	e.Status = task.Status(status)
	if result.Valid {
		e.Result = json.RawMessage(result.String)
	}
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	if startedAt.Valid {
		started := time.UnixMilli(startedAt.Int64).UTC()
		e.StartedAt = &started
	}
	e.FinishedAt = time.UnixMilli(finishedAt).UTC()
	e.RecordedAt = time.UnixMilli(recordedAt).UTC()
	return &e, nil
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
