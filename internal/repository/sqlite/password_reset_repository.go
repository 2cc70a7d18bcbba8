package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skilllink/internal/domain"
	"skilllink/internal/repository"
)

const createPasswordResetsTable = `
CREATE TABLE IF NOT EXISTS password_resets (
	token_hash TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	used_at DATETIME NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_password_resets_user_id ON password_resets(user_id);
`

type PasswordResetRepository struct {
	db *sql.DB
}

func NewPasswordResetRepository(db *sql.DB) repository.PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

func (r *PasswordResetRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createPasswordResetsTable); err != nil {
		return fmt.Errorf("create password_resets table: %w", err)
	}
	return nil
}

func (r *PasswordResetRepository) Create(ctx context.Context, reset *domain.PasswordReset) error {
	if reset.CreatedAt.IsZero() {
		reset.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO password_resets (token_hash, user_id, expires_at, used_at, created_at)
VALUES (?, ?, ?, ?, ?)`,
		reset.TokenHash,
		reset.UserID,
		reset.ExpiresAt.UTC(),
		nullTime(reset.UsedAt),
		reset.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert password reset: %w", err)
	}
	return nil
}

func (r *PasswordResetRepository) Get(ctx context.Context, tokenHash string) (*domain.PasswordReset, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT token_hash, user_id, expires_at, used_at, created_at
FROM password_resets
WHERE token_hash = ?`,
		tokenHash,
	)

	var (
		reset  domain.PasswordReset
		usedAt sql.NullTime
	)
	if err := row.Scan(&reset.TokenHash, &reset.UserID, &reset.ExpiresAt, &usedAt, &reset.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("password reset %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan password reset: %w", err)
	}
	if usedAt.Valid {
		t := usedAt.Time
		reset.UsedAt = &t
	}
	return &reset, nil
}

func (r *PasswordResetRepository) Consume(ctx context.Context, tokenHash string, usedAt time.Time, passwordHash string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin password reset: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var userID string
	err = tx.QueryRowContext(ctx, `
UPDATE password_resets
SET used_at = ?
WHERE token_hash = ? AND used_at IS NULL
RETURNING user_id`,
		usedAt.UTC(),
		tokenHash,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("unused password reset %w", repository.ErrNotFound)
		}
		return fmt.Errorf("mark password reset used: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE users SET password_hash=?, updated_at=? WHERE id=?`,
		passwordHash, usedAt.UTC(), userID)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user password rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update user password: user %w", repository.ErrNotFound)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit password reset: %w", err)
	}
	return nil
}

func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM password_resets WHERE expires_at < ? OR used_at IS NOT NULL`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired password resets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("password reset rows affected: %w", err)
	}
	return n, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
