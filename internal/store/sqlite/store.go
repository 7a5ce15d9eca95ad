// Package sqlite is a file-backed store for hosts without an OS keychain.
// Settings are stored in the clear; credentials are sealed with AES-GCM and
// bound to their key.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/aussiebroadwan/hostedauth/pkg/cryptox"
	_ "modernc.org/sqlite"
)

// Store is the sqlite database holding settings and sealed credentials.
type Store struct {
	db     *sql.DB
	sealer *cryptox.Sealer
}

// DSN returns the connection string for the database file in dir.
func DSN(dir string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", filepath.Join(dir, "hostedauth.db"))
}

// NewStore opens the database at dsn. sealer may be nil when only Settings
// is used; Credentials then reports store.ErrUnavailable.
func NewStore(dsn string, sealer *cryptox.Sealer) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// A single connection serialises writers; sqlite would otherwise
	// answer concurrent writes with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, sealer: sealer}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Settings returns the plain settings table.
func (s *Store) Settings() *Settings { return &Settings{db: s.db} }

// Credentials returns the sealed credentials table.
func (s *Store) Credentials() *Credentials { return &Credentials{db: s.db, sealer: s.sealer} }
