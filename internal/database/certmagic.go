package database

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/caddyserver/certmagic"
)

var (
	// lockLease bounds how long a crashed holder can block others
	lockLease = 5 * time.Minute

	lockPollInterval = time.Second
)

// SQLCertStorage implements certmagic.Storage on top of the analytics database,
// so ACME accounts and certificates survive restarts without extra files
type SQLCertStorage struct {
	db *sql.DB
}

var _ certmagic.Storage = (*SQLCertStorage)(nil)

// NewSQLCertStorage creates a new SQLCertStorage instance
func NewSQLCertStorage(db *sql.DB) *SQLCertStorage {
	return &SQLCertStorage{db: db}
}

// Store saves data to the database
func (s *SQLCertStorage) Store(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	return err
}

// Load retrieves data from the database
func (s *SQLCertStorage) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM certificates WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fs.ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete removes a key, or every key below it when key is a directory prefix
func (s *SQLCertStorage) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM certificates WHERE key = ? OR key LIKE ? ESCAPE '\\'",
		key, escapeLike(strings.TrimSuffix(key, "/"))+"/%")
	return err
}

// Exists checks if a key exists
func (s *SQLCertStorage) Exists(ctx context.Context, key string) bool {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM certificates WHERE key = ?", key).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// List returns keys under prefix. Non-recursive listings return only the
// immediate children, with nested keys collapsed to their first segment.
func (s *SQLCertStorage) List(ctx context.Context, prefix string, recursive bool) ([]string, error) {
	dir := strings.TrimSuffix(prefix, "/")
	pattern := escapeLike(dir) + "/%"
	if dir == "" {
		pattern = "%"
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM certificates WHERE key LIKE ? ESCAPE '\\' ORDER BY key", pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	seen := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}

		if !recursive {
			rel := key
			if dir != "" {
				rel = strings.TrimPrefix(key, dir+"/")
			}
			if idx := strings.Index(rel, "/"); idx != -1 {
				key = strings.TrimSuffix(key, rel) + rel[:idx]
			}
		}

		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fs.ErrNotExist
	}
	return keys, nil
}

// Stat returns information about a key
func (s *SQLCertStorage) Stat(ctx context.Context, key string) (certmagic.KeyInfo, error) {
	var size, updated int64

	err := s.db.QueryRowContext(ctx,
		"SELECT length(value), updated_at FROM certificates WHERE key = ?", key).Scan(&size, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		// A prefix with children behaves like a directory
		var children int
		s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM certificates WHERE key LIKE ? ESCAPE '\\'",
			escapeLike(strings.TrimSuffix(key, "/"))+"/%").Scan(&children)
		if children > 0 {
			return certmagic.KeyInfo{Key: key, IsTerminal: false}, nil
		}
		return certmagic.KeyInfo{}, fs.ErrNotExist
	}
	if err != nil {
		return certmagic.KeyInfo{}, err
	}

	return certmagic.KeyInfo{
		Key:        key,
		Modified:   time.Unix(updated, 0),
		Size:       size,
		IsTerminal: true,
	}, nil
}

// Lock blocks until the named lock is acquired or ctx is done.
// Locks older than the lease are treated as abandoned and taken over.
func (s *SQLCertStorage) Lock(ctx context.Context, name string) error {
	for {
		acquired, err := s.tryLock(ctx, name)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (s *SQLCertStorage) tryLock(ctx context.Context, name string) (bool, error) {
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM cert_locks WHERE name = ? AND expires_at < ?", name, now.Unix()); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO cert_locks (name, expires_at) VALUES (?, ?)",
		name, now.Add(lockLease).Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Unlock releases the named lock
func (s *SQLCertStorage) Unlock(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cert_locks WHERE name = ?", name)
	return err
}

// escapeLike escapes LIKE wildcards so keys match literally
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
