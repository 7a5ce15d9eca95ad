package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/hostedauth/internal/store"
	"github.com/aussiebroadwan/hostedauth/pkg/cryptox"
)

var _ store.Credentials = (*Credentials)(nil)

// Credentials implements store.Credentials over the credentials table.
// store.Credentials carries no context, so queries run under their own
// short deadline.
type Credentials struct {
	db     *sql.DB
	sealer *cryptox.Sealer
}

const credentialsQueryTimeout = 5 * time.Second

func (r *Credentials) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), credentialsQueryTimeout)
}

func (r *Credentials) Save(key, value string) error {
	if r.sealer == nil {
		return fmt.Errorf("%w: no sealing key", store.ErrUnavailable)
	}

	sealed, err := r.sealer.Seal([]byte(value), []byte(key))
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrEncoding, err)
	}

	ctx, cancel := r.ctx()
	defer cancel()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO credentials (key, sealed, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET sealed = excluded.sealed, updated_at = excluded.updated_at`,
		key, sealed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

func (r *Credentials) Get(key string) (string, bool, error) {
	if r.sealer == nil {
		return "", false, fmt.Errorf("%w: no sealing key", store.ErrUnavailable)
	}

	ctx, cancel := r.ctx()
	defer cancel()

	var sealed []byte
	err := r.db.QueryRowContext(ctx, `SELECT sealed FROM credentials WHERE key = ?`, key).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	plaintext, err := r.sealer.Open(sealed, []byte(key))
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", store.ErrEncoding, err)
	}
	return string(plaintext), true, nil
}

func (r *Credentials) Delete(key string) error {
	ctx, cancel := r.ctx()
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

func (r *Credentials) Clear() error {
	ctx, cancel := r.ctx()
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}
