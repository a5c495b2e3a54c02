package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/client/storage/migrations"
	"github.com/dmitrijs2005/deskclient/internal/dbx"
	"github.com/dmitrijs2005/deskclient/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// changeLogRetention is how many change rows are kept behind the newest.
const changeLogRetention = 1000

// SQLite persists values in the metadata table and appends every write to
// metadata_changes. Several processes sharing one database file see each
// other's writes by polling the change log.
type SQLite struct {
	db           *sql.DB
	origin       string
	pollInterval time.Duration
	log          logging.Logger
	ownsDB       bool
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// OpenSQLite opens (creating if needed) the database at dsn, migrates it and
// returns a Storage that owns the connection.
func OpenSQLite(ctx context.Context, dsn string, opts ...Option) (*SQLite, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := NewSQLite(db, opts...)
	s.ownsDB = true
	return s, nil
}

// withPragmas makes concurrent handles on one file wait for each other
// instead of failing with SQLITE_BUSY.
func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// NewSQLite wraps an already migrated database. Close does not close db.
func NewSQLite(db *sql.DB, opts ...Option) *SQLite {
	o := buildOptions(opts)
	return &SQLite{db: db, origin: o.origin, pollInterval: o.pollInterval, log: o.logger}
}

func (s *SQLite) Origin() string { return s.origin }

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return string(value), true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	id, err := dbx.InTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, []byte(value)); err != nil {
			return 0, err
		}
		return s.appendChange(ctx, tx, Change{Key: key, Value: value, Origin: s.origin})
	})
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	s.log.Debug(ctx, "metadata written", "key", key, "change", id)
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	id, err := dbx.InTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, nil
		}
		return s.appendChange(ctx, tx, Change{Key: key, Deleted: true, Origin: s.origin})
	})
	if err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	if id != 0 {
		s.log.Debug(ctx, "metadata deleted", "key", key, "change", id)
	}
	return nil
}

// appendChange records c in the change log, trims rows older than the
// retention window and returns the new change id.
func (s *SQLite) appendChange(ctx context.Context, tx dbx.DBTX, c Change) (int64, error) {
	var value any
	if !c.Deleted {
		value = []byte(c.Value)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO metadata_changes (key, value, deleted, origin) VALUES (?, ?, ?, ?)`,
		c.Key, value, c.Deleted, c.Origin)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM metadata_changes WHERE id <= ?`, id-changeLogRetention); err != nil {
		return 0, err
	}
	return id, nil
}

// Watch polls the change log for foreign writes to key, starting after the
// newest change present when Watch was called.
func (s *SQLite) Watch(ctx context.Context, key string) (<-chan Change, error) {
	var cursor int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM metadata_changes`).Scan(&cursor); err != nil {
		return nil, fmt.Errorf("failed to read change cursor: %w", err)
	}

	out := make(chan Change)
	go func() {
		defer close(out)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				changes, next, err := s.changesSince(ctx, key, cursor)
				if err != nil {
					if ctx.Err() == nil {
						s.log.Warn(ctx, "storage poll failed", "key", key, "error", err)
					}
					continue
				}
				cursor = next
				for _, c := range changes {
					select {
					case out <- c:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (s *SQLite) changesSince(ctx context.Context, key string, cursor int64) ([]Change, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, value, deleted, origin FROM metadata_changes WHERE key = ? AND id > ? ORDER BY id`,
		key, cursor)
	if err != nil {
		return nil, cursor, err
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var (
			id      int64
			value   []byte
			deleted bool
			origin  string
		)
		if err := rows.Scan(&id, &value, &deleted, &origin); err != nil {
			return nil, cursor, err
		}
		cursor = id
		if origin == s.origin {
			continue
		}
		changes = append(changes, Change{Key: key, Value: string(value), Deleted: deleted, Origin: origin})
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, err
	}
	return changes, cursor, nil
}

// Close releases the database when OpenSQLite created it.
func (s *SQLite) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
