package repo

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"incidentline/internal/domain"
)

var userColumns = []string{"id", "email", "password_hash", "role", "created_at", "updated_at"}

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var (
		u                    domain.User
		role                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return u, ErrNotFound
		}
		return u, err
	}
	u.Role = domain.Role(role)
	var err error
	if u.CreatedAt, err = ParseTime(createdAt); err != nil {
		return u, err
	}
	if u.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return u, err
	}
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.exec(ctx, tx, r.stmt().Insert("users").Columns(userColumns...).Values(
		u.ID, strings.ToLower(u.Email), u.PasswordHash, string(u.Role), FormatTime(u.CreatedAt), FormatTime(u.UpdatedAt),
	))
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row, err := r.queryRow(ctx, nil, r.stmt().Select(userColumns...).From("users").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.User{}, err
	}
	return scanUser(row)
}

// GetUserByEmail matches case-insensitively; emails are stored lower-cased.
func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row, err := r.queryRow(ctx, nil, r.stmt().Select(userColumns...).From("users").
		Where(sq.Eq{"email": strings.ToLower(strings.TrimSpace(email))}))
	if err != nil {
		return domain.User{}, err
	}
	return scanUser(row)
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.query(ctx, nil, r.stmt().Select(userColumns...).From("users").OrderBy("email"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) CountUsers(ctx context.Context) (int, error) {
	return r.count(ctx, nil, r.stmt().Select("COUNT(*)").From("users"))
}
