package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"incidentline/internal/domain"
)

func (r Repo) InsertTimelineEvent(ctx context.Context, tx *sql.Tx, ev domain.TimelineEvent) error {
	_, err := r.exec(ctx, tx, r.stmt().Insert("timeline_events").
		Columns("id", "incident_id", "content", "created_by", "created_at").
		Values(ev.ID, ev.IncidentID, ev.Content, ev.CreatedBy, FormatTime(ev.CreatedAt)))
	return err
}

// ListTimeline returns the incident's timeline, oldest first.
func (r Repo) ListTimeline(ctx context.Context, tx *sql.Tx, incidentID string) ([]domain.TimelineEvent, error) {
	rows, err := r.query(ctx, tx, r.stmt().
		Select("t.id", "t.incident_id", "t.content", "t.created_by", "u.email", "t.created_at").
		From("timeline_events t").Join("users u ON u.id = t.created_by").
		Where(sq.Eq{"t.incident_id": incidentID}).
		OrderBy("t.created_at ASC", "t.id ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.TimelineEvent{}
	for rows.Next() {
		var (
			ev        domain.TimelineEvent
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.Content, &ev.CreatedBy, &ev.Creator.Email, &createdAt); err != nil {
			return nil, err
		}
		ev.Creator.ID = ev.CreatedBy
		if ev.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (r Repo) CountTimelineBy(ctx context.Context, userID string) (int, error) {
	return r.count(ctx, nil, r.stmt().Select("COUNT(*)").From("timeline_events").Where(sq.Eq{"created_by": userID}))
}
