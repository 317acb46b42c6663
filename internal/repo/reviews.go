package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"incidentline/internal/domain"
)

func (r Repo) InsertReview(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	var comment any
	if rv.Comment != nil {
		comment = nullable(*rv.Comment)
	}
	_, err := r.exec(ctx, tx, r.stmt().Insert("reviews").
		Columns("id", "incident_id", "status", "comment", "reviewed_by", "reviewed_at").
		Values(rv.ID, rv.IncidentID, string(rv.Status), comment, rv.ReviewedBy, FormatTime(rv.ReviewedAt)))
	return err
}

// ListReviews returns the incident's reviews, newest first.
func (r Repo) ListReviews(ctx context.Context, tx *sql.Tx, incidentID string) ([]domain.Review, error) {
	rows, err := r.query(ctx, tx, r.stmt().
		Select("r.id", "r.incident_id", "r.status", "r.comment", "r.reviewed_by", "u.email", "r.reviewed_at").
		From("reviews r").Join("users u ON u.id = r.reviewed_by").
		Where(sq.Eq{"r.incident_id": incidentID}).
		OrderBy("r.reviewed_at DESC", "r.id DESC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Review{}
	for rows.Next() {
		var (
			rv         domain.Review
			status     string
			comment    sql.NullString
			reviewedAt string
		)
		if err := rows.Scan(&rv.ID, &rv.IncidentID, &status, &comment, &rv.ReviewedBy, &rv.Reviewer.Email, &reviewedAt); err != nil {
			return nil, err
		}
		rv.Status = domain.Status(status)
		rv.Comment = optionalString(comment)
		rv.Reviewer.ID = rv.ReviewedBy
		if rv.ReviewedAt, err = ParseTime(reviewedAt); err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

func (r Repo) CountReviewsBy(ctx context.Context, userID string) (int, error) {
	return r.count(ctx, nil, r.stmt().Select("COUNT(*)").From("reviews").Where(sq.Eq{"reviewed_by": userID}))
}
