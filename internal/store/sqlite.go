package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps endpoints in a SQLite database. A single open connection
// serializes every transaction, which makes append+trim atomic per endpoint.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, opts: buildOptions(opts)}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS endpoints (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS requests (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		endpoint_id TEXT NOT NULL,
		record BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_endpoint_id ON requests(endpoint_id, seq);
	CREATE INDEX IF NOT EXISTS idx_endpoints_expires_at ON endpoints(expires_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, id string) (*Endpoint, error) {
	now := s.opts.now()
	expiresAt := now.Add(s.opts.ttl)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exp int64
		err := tx.QueryRowContext(ctx, "SELECT expires_at FROM endpoints WHERE id = ?", id).Scan(&exp)
		switch {
		case err == nil && now.Before(fromNanos(exp)):
			return ErrExists
		case err == nil:
			// Expired but not yet reaped: the id is free again.
			if err := deleteEndpoint(ctx, tx, id); err != nil {
				return err
			}
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO endpoints (id, created_at, expires_at) VALUES (?, ?, ?)",
			id, now.UnixNano(), expiresAt.UnixNano())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", id, err)
	}
	return &Endpoint{ID: id, CreatedAt: now, ExpiresAt: expiresAt, Requests: []*CapturedRequest{}}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Endpoint, error) {
	var e *Endpoint
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		e, err = s.liveEndpoint(ctx, tx, id)
		if err != nil {
			return err
		}
		e.Requests, err = getRequests(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return e, nil
}

func (s *SQLiteStore) Append(ctx context.Context, id string, req *CapturedRequest) (int, error) {
	record, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("append %s: encode record: %w", id, err)
	}

	var evicted int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.liveEndpoint(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO requests (id, endpoint_id, record) VALUES (?, ?, ?)",
			req.ID, id, record); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			DELETE FROM requests
			WHERE endpoint_id = ? AND seq NOT IN (
				SELECT seq FROM requests WHERE endpoint_id = ? ORDER BY seq DESC LIMIT ?
			)
		`, id, id, s.opts.capacity)
		if err != nil {
			return err
		}
		evicted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", id, err)
	}
	return int(evicted), nil
}

func (s *SQLiteStore) Clear(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.liveEndpoint(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM requests WHERE endpoint_id = ?", id)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, lerr := s.liveEndpoint(ctx, tx, id)
		if lerr != nil && !errors.Is(lerr, ErrNotFound) {
			return lerr
		}
		if err := deleteEndpoint(ctx, tx, id); err != nil {
			return err
		}
		return lerr
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Reap(ctx context.Context) ([]string, error) {
	now := s.opts.now().UnixNano()
	var reaped []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT id FROM endpoints WHERE expires_at <= ?", now)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			reaped = append(reaped, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range reaped {
			if err := deleteEndpoint(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reap: %w", err)
	}
	return reaped, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM endpoints").Scan(&n); err != nil {
		return 0, fmt.Errorf("count endpoints: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// liveEndpoint loads the endpoint row, treating expired rows as absent.
func (s *SQLiteStore) liveEndpoint(ctx context.Context, tx *sql.Tx, id string) (*Endpoint, error) {
	var created, expires int64
	err := tx.QueryRowContext(ctx, "SELECT created_at, expires_at FROM endpoints WHERE id = ?", id).
		Scan(&created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e := &Endpoint{ID: id, CreatedAt: fromNanos(created), ExpiresAt: fromNanos(expires)}
	if e.Expired(s.opts.now()) {
		return nil, ErrNotFound
	}
	return e, nil
}

func getRequests(ctx context.Context, tx *sql.Tx, endpointID string) ([]*CapturedRequest, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT record FROM requests
		WHERE endpoint_id = ?
		ORDER BY seq DESC
	`, endpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := []*CapturedRequest{}
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var r CapturedRequest
		if err := json.Unmarshal(record, &r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		reqs = append(reqs, &r)
	}
	return reqs, rows.Err()
}

func deleteEndpoint(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM requests WHERE endpoint_id = ?", id); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM endpoints WHERE id = ?", id)
	return err
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
