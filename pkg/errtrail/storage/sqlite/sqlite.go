// Package sqlite persists the offline error queue, user context, and
// settings in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/errtrail/errtrail/pkg/errtrail"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Options tune the store. Zero values get sensible defaults.
type Options struct {
	// MaxQueue bounds the error queue. Oldest items are evicted when an
	// insert would exceed it.
	MaxQueue int

	BusyTimeout time.Duration
}

// Store implements errtrail.Storage on a SQLite file.
type Store struct {
	db       *sql.DB
	maxQueue int
}

// Open creates or opens the database at path and applies migrations.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if opts.MaxQueue <= 0 {
		opts.MaxQueue = errtrail.DefaultQueueSize
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, maxQueue: opts.MaxQueue}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// QueueError stores an undelivered event. When the queue is full the oldest
// rows are evicted first so the new item always fits.
func (s *Store) QueueError(ctx context.Context, item errtrail.QueueItem) error {
	eventJSON, err := json.Marshal(item.Event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM error_queue`).Scan(&count); err != nil {
		return err
	}
	if excess := count - s.maxQueue + 1; excess > 0 {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM error_queue WHERE id IN (
			   SELECT id FROM error_queue ORDER BY enqueued_at ASC LIMIT ?)`,
			excess,
		)
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO error_queue(id, event, provider, retry_count, enqueued_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   event=excluded.event, provider=excluded.provider,
		   retry_count=excluded.retry_count, enqueued_at=excluded.enqueued_at`,
		item.ID, string(eventJSON), item.Provider, item.RetryCount, item.EnqueuedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ErrorQueue returns all queued items in FIFO order.
func (s *Store) ErrorQueue(ctx context.Context) ([]errtrail.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event, provider, retry_count, enqueued_at
		 FROM error_queue ORDER BY enqueued_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []errtrail.QueueItem
	for rows.Next() {
		var (
			item      errtrail.QueueItem
			eventJSON string
			ms        int64
		)
		if err := rows.Scan(&item.ID, &eventJSON, &item.Provider, &item.RetryCount, &ms); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(eventJSON), &item.Event); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", item.ID, err)
		}
		item.EnqueuedAt = time.UnixMilli(ms)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) RemoveFromQueue(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM error_queue WHERE id = ?`, id)
	return err
}

func (s *Store) UpdateRetryCount(ctx context.Context, id string, retryCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE error_queue SET retry_count = ? WHERE id = ?`, retryCount, id)
	return err
}

func (s *Store) UpdateMetrics(ctx context.Context, m errtrail.MetricsSnapshot) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metrics(id, data, updated_at) VALUES(1,?,?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		string(b), time.Now().UnixMilli())
	return err
}

// Metrics returns the last persisted counter snapshot, zero when none.
func (s *Store) Metrics(ctx context.Context) (errtrail.MetricsSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM metrics WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return errtrail.MetricsSnapshot{}, nil
	}
	if err != nil {
		return errtrail.MetricsSnapshot{}, err
	}
	var m errtrail.MetricsSnapshot
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return errtrail.MetricsSnapshot{}, err
	}
	return m, nil
}

func (s *Store) SaveUserContext(ctx context.Context, u *errtrail.User) error {
	if u == nil {
		return s.ClearUserContext(ctx)
	}
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_context(id, data) VALUES(1,?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data`,
		string(b))
	return err
}

func (s *Store) UserContext(ctx context.Context) (*errtrail.User, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM user_context WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var u errtrail.User
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ClearUserContext(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_context WHERE id = 1`)
	return err
}

func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) SaveSettings(ctx context.Context, settings map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for k, v := range settings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settings(key, value) VALUES(?,?)
			 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, k, v)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
