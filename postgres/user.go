package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/phbpx/leadadmin"
	"github.com/phbpx/leadadmin/auth"
)

type UserStore struct {
	db *sql.DB
}

var _ auth.UserStore = (*UserStore)(nil)

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (us *UserStore) Create(ctx context.Context, u auth.User) error {
	query := `
	INSERT INTO users (
		id, email, password_hash, confirmed_at, created_at
	) VALUES (
		$1, $2, $3, $4, $5
	)`

	_, err := us.db.ExecContext(ctx, query,
		u.ID,
		u.Email,
		u.PasswordHash,
		u.ConfirmedAt,
		u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return leadadmin.ErrDuplicatedUser
		}
		return err
	}
	return nil
}

func (us *UserStore) GetByEmail(ctx context.Context, email string) (auth.User, error) {
	query := `
	SELECT id, email, password_hash, confirmed_at, created_at
	FROM users
	WHERE email = $1`

	var (
		u           auth.User
		confirmedAt sql.NullTime
	)
	err := us.db.QueryRowContext(ctx, query, email).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&confirmedAt,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrUserNotFound
		}
		return auth.User{}, err
	}

	if confirmedAt.Valid {
		t := confirmedAt.Time
		u.ConfirmedAt = &t
	}
	return u, nil
}

func (us *UserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := us.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (us *UserStore) Confirm(ctx context.Context, id string, at time.Time) error {
	res, err := us.db.ExecContext(ctx, `UPDATE users SET confirmed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}
