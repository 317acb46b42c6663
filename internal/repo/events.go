package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"incidentline/internal/domain"
)

var eventColumns = []string{"id", "ts", "type", "entity_kind", "entity_id", "actor_id", "payload_json"}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var (
			evt      domain.Event
			ts       string
			entityID sql.NullString
		)
		if err := rows.Scan(&evt.ID, &ts, &evt.Type, &evt.EntityKind, &entityID, &evt.ActorID, &evt.Payload); err != nil {
			return nil, err
		}
		evt.EntityID = entityID.String
		var err error
		if evt.TS, err = ParseTime(ts); err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first, optionally filtered by type and
// entity.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityID string) ([]domain.Event, error) {
	b := r.stmt().Select(eventColumns...).From("events").OrderBy("id DESC").Limit(uint64(limit))
	if evtType != "" {
		b = b.Where(sq.Eq{"type": evtType})
	}
	if entityID != "" {
		b = b.Where(sq.Eq{"entity_id": entityID})
	}
	rows, err := r.query(ctx, nil, b)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with an id greater than afterID, oldest first.
// Event ids are time-ordered so this is a stable cursor.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID string) ([]domain.Event, error) {
	b := r.stmt().Select(eventColumns...).From("events").OrderBy("id ASC").Limit(uint64(limit))
	if afterID != "" {
		b = b.Where(sq.Gt{"id": afterID})
	}
	rows, err := r.query(ctx, nil, b)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (string, error) {
	row, err := r.queryRow(ctx, nil, r.stmt().Select("COALESCE(MAX(id), '')").From("events"))
	if err != nil {
		return "", err
	}
	var id string
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}
