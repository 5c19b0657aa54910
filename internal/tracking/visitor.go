package tracking

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

const saltSize = 32

// Hasher derives anonymous visitor IDs from a salt that rotates every UTC day.
// Salts are persisted so a restart keeps the current day's identities stable.
type Hasher struct {
	db  *sql.DB
	now func() time.Time

	mu   sync.Mutex
	day  string
	salt []byte
}

// NewHasher creates a hasher backed by the visitor_salts table
func NewHasher(db *sql.DB) *Hasher {
	return &Hasher{db: db, now: time.Now}
}

// VisitorID returns hex(blake2b-128(salt, domain, ip, user agent)) for today's salt
func (h *Hasher) VisitorID(ctx context.Context, domain, ip, userAgent string) (string, error) {
	salt, err := h.currentSalt(ctx)
	if err != nil {
		return "", err
	}

	sum, err := blake2b.New(16, nil)
	if err != nil {
		return "", err
	}
	sum.Write(salt)
	for _, part := range []string{domain, ip, userAgent} {
		sum.Write([]byte(part))
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func (h *Hasher) currentSalt(ctx context.Context) ([]byte, error) {
	day := h.now().UTC().Format("2006-01-02")

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.day == day {
		return h.salt, nil
	}

	fresh := make([]byte, saltSize)
	if _, err := rand.Read(fresh); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// Another process may have created today's salt first; keep whichever won
	if _, err := h.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO visitor_salts (day, salt) VALUES (?, ?)", day, fresh); err != nil {
		return nil, fmt.Errorf("failed to store salt: %w", err)
	}

	var salt []byte
	if err := h.db.QueryRowContext(ctx,
		"SELECT salt FROM visitor_salts WHERE day = ?", day).Scan(&salt); err != nil {
		return nil, fmt.Errorf("failed to load salt: %w", err)
	}

	h.day = day
	h.salt = salt
	return salt, nil
}

// PurgeSalts deletes salts older than yesterday so old visitor IDs cannot be recomputed
func (h *Hasher) PurgeSalts(ctx context.Context) (int64, error) {
	cutoff := h.now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	res, err := h.db.ExecContext(ctx, "DELETE FROM visitor_salts WHERE day < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge salts: %w", err)
	}
	return res.RowsAffected()
}
