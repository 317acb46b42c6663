package repo

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"incidentline/internal/domain"
)

var shareLinkColumns = []string{"id", "incident_id", "token", "expires_at", "created_by", "created_at"}

func scanShareLink(row interface{ Scan(...any) error }) (domain.ShareLink, error) {
	var (
		l                    domain.ShareLink
		expiresAt, createdAt string
	)
	if err := row.Scan(&l.ID, &l.IncidentID, &l.Token, &expiresAt, &l.CreatedBy, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return l, ErrNotFound
		}
		return l, err
	}
	var err error
	if l.ExpiresAt, err = ParseTime(expiresAt); err != nil {
		return l, err
	}
	if l.CreatedAt, err = ParseTime(createdAt); err != nil {
		return l, err
	}
	return l, nil
}

func (r Repo) InsertShareLink(ctx context.Context, tx *sql.Tx, l domain.ShareLink) error {
	_, err := r.exec(ctx, tx, r.stmt().Insert("share_links").Columns(shareLinkColumns...).
		Values(l.ID, l.IncidentID, l.Token, FormatTime(l.ExpiresAt), l.CreatedBy, FormatTime(l.CreatedAt)))
	return err
}

func (r Repo) GetShareLinkByToken(ctx context.Context, tx *sql.Tx, token string) (domain.ShareLink, error) {
	row, err := r.queryRow(ctx, tx, r.stmt().Select(shareLinkColumns...).From("share_links").Where(sq.Eq{"token": token}))
	if err != nil {
		return domain.ShareLink{}, err
	}
	return scanShareLink(row)
}

func (r Repo) ListShareLinks(ctx context.Context, incidentID string) ([]domain.ShareLink, error) {
	rows, err := r.query(ctx, nil, r.stmt().Select(shareLinkColumns...).From("share_links").
		Where(sq.Eq{"incident_id": incidentID}).OrderBy("created_at DESC", "id DESC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ShareLink{}
	for rows.Next() {
		l, err := scanShareLink(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) DeleteShareLink(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(ctx, tx, r.stmt().Delete("share_links").Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// DeleteExpiredShareLinks removes links that lapsed strictly before cutoff.
func (r Repo) DeleteExpiredShareLinks(ctx context.Context, tx *sql.Tx, cutoff time.Time) (int64, error) {
	res, err := r.exec(ctx, tx, r.stmt().Delete("share_links").Where(sq.Lt{"expires_at": FormatTime(cutoff)}))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
