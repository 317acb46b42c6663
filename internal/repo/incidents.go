package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"incidentline/internal/domain"
)

// IncidentFilters narrows incident listings. Zero values do not filter.
type IncidentFilters struct {
	Search    string
	Severity  domain.Severity
	Status    domain.Status
	Tags      []string
	From      *time.Time
	To        *time.Time
	CreatedBy string
	Limit     int
	Offset    int
}

var incidentColumns = []string{
	"i.id", "i.title", "i.severity", "i.status", "i.created_by", "u.email", "i.created_at", "i.updated_at",
	"(SELECT COUNT(*) FROM timeline_events tc WHERE tc.incident_id = i.id) AS timeline_count",
	"(SELECT COUNT(*) FROM reviews rc WHERE rc.incident_id = i.id) AS review_count",
}

func (r Repo) selectIncidents() sq.SelectBuilder {
	return r.stmt().Select(incidentColumns...).From("incidents i").Join("users u ON u.id = i.created_by")
}

func scanIncident(row interface{ Scan(...any) error }) (domain.Incident, error) {
	var (
		inc                  domain.Incident
		severity, status     string
		createdAt, updatedAt string
	)
	err := row.Scan(&inc.ID, &inc.Title, &severity, &status, &inc.CreatedBy, &inc.Creator.Email,
		&createdAt, &updatedAt, &inc.TimelineCount, &inc.ReviewCount)
	if err == sql.ErrNoRows {
		return inc, ErrNotFound
	}
	if err != nil {
		return inc, err
	}
	inc.Severity = domain.Severity(severity)
	inc.Status = domain.Status(status)
	inc.Creator.ID = inc.CreatedBy
	if inc.CreatedAt, err = ParseTime(createdAt); err != nil {
		return inc, err
	}
	if inc.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return inc, err
	}
	inc.Tags = []string{}
	return inc, nil
}

func (r Repo) InsertIncident(ctx context.Context, tx *sql.Tx, inc domain.Incident) error {
	if _, err := r.exec(ctx, tx, r.stmt().Insert("incidents").
		Columns("id", "title", "severity", "status", "created_by", "created_at", "updated_at").
		Values(inc.ID, inc.Title, string(inc.Severity), string(inc.Status), inc.CreatedBy,
			FormatTime(inc.CreatedAt), FormatTime(inc.UpdatedAt))); err != nil {
		return err
	}
	return r.insertTags(ctx, tx, inc.ID, inc.Tags)
}

func (r Repo) insertTags(ctx context.Context, tx *sql.Tx, incidentID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	b := r.stmt().Insert("incident_tags").Columns("incident_id", "tag", "position")
	for i, tag := range tags {
		b = b.Values(incidentID, tag, i)
	}
	_, err := r.exec(ctx, tx, b)
	return err
}

func (r Repo) GetIncident(ctx context.Context, tx *sql.Tx, id string) (domain.Incident, error) {
	row, err := r.queryRow(ctx, tx, r.selectIncidents().Where(sq.Eq{"i.id": id}))
	if err != nil {
		return domain.Incident{}, err
	}
	inc, err := scanIncident(row)
	if err != nil {
		return inc, err
	}
	tags, err := r.loadTags(ctx, tx, []string{id})
	if err != nil {
		return inc, err
	}
	if t, ok := tags[id]; ok {
		inc.Tags = t
	}
	return inc, nil
}

// UpdateIncidentFields rewrites title, severity and tags. Status is never
// touched here.
func (r Repo) UpdateIncidentFields(ctx context.Context, tx *sql.Tx, inc domain.Incident) error {
	res, err := r.exec(ctx, tx, r.stmt().Update("incidents").
		Set("title", inc.Title).
		Set("severity", string(inc.Severity)).
		Set("updated_at", FormatTime(inc.UpdatedAt)).
		Where(sq.Eq{"id": inc.ID}))
	if err != nil {
		return err
	}
	if err := affectedOrNotFound(res); err != nil {
		return err
	}
	if _, err := r.exec(ctx, tx, r.stmt().Delete("incident_tags").Where(sq.Eq{"incident_id": inc.ID})); err != nil {
		return err
	}
	return r.insertTags(ctx, tx, inc.ID, inc.Tags)
}

// CompareAndSetStatus moves the incident from one status to another and
// reports false when the stored status no longer equals from.
func (r Repo) CompareAndSetStatus(ctx context.Context, tx *sql.Tx, id string, from, to domain.Status, at time.Time) (bool, error) {
	res, err := r.exec(ctx, tx, r.stmt().Update("incidents").
		Set("status", string(to)).
		Set("updated_at", FormatTime(at)).
		Where(sq.Eq{"id": id, "status": string(from)}))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteIncident removes the incident and every dependent row. Children are
// deleted explicitly so the cascade does not depend on driver pragmas.
func (r Repo) DeleteIncident(ctx context.Context, tx *sql.Tx, id string) error {
	for _, table := range []string{"share_links", "reviews", "timeline_events", "incident_tags"} {
		if _, err := r.exec(ctx, tx, r.stmt().Delete(table).Where(sq.Eq{"incident_id": id})); err != nil {
			return err
		}
	}
	res, err := r.exec(ctx, tx, r.stmt().Delete("incidents").Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func applyIncidentFilters(b sq.SelectBuilder, f IncidentFilters) sq.SelectBuilder {
	if s := strings.TrimSpace(f.Search); s != "" {
		lowered := strings.ToLower(s)
		pattern := "%" + escapeLike(lowered) + "%"
		b = b.Where(sq.Or{
			sq.Expr(`LOWER(i.title) LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`EXISTS (SELECT 1 FROM incident_tags st WHERE st.incident_id = i.id AND LOWER(st.tag) = ?)`, lowered),
			sq.Expr(`EXISTS (SELECT 1 FROM timeline_events se WHERE se.incident_id = i.id AND LOWER(se.content) LIKE ? ESCAPE '\')`, pattern),
		})
	}
	if f.Severity != "" {
		b = b.Where(sq.Eq{"i.severity": string(f.Severity)})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"i.status": string(f.Status)})
	}
	if len(f.Tags) > 0 {
		args := make([]any, len(f.Tags))
		for i, tag := range f.Tags {
			args[i] = tag
		}
		b = b.Where(sq.Expr(
			"EXISTS (SELECT 1 FROM incident_tags ft WHERE ft.incident_id = i.id AND ft.tag IN ("+sq.Placeholders(len(f.Tags))+"))",
			args...))
	}
	if f.From != nil {
		b = b.Where(sq.GtOrEq{"i.created_at": FormatTime(*f.From)})
	}
	if f.To != nil {
		b = b.Where(sq.LtOrEq{"i.created_at": FormatTime(*f.To)})
	}
	if f.CreatedBy != "" {
		b = b.Where(sq.Eq{"i.created_by": f.CreatedBy})
	}
	return b
}

// ListIncidents returns matching incidents, newest first.
func (r Repo) ListIncidents(ctx context.Context, f IncidentFilters) ([]domain.Incident, error) {
	b := applyIncidentFilters(r.selectIncidents(), f).OrderBy("i.created_at DESC", "i.id DESC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	rows, err := r.query(ctx, nil, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Incident{}
	ids := []string{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inc)
		ids = append(ids, inc.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	tags, err := r.loadTags(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		if t, ok := tags[res[i].ID]; ok {
			res[i].Tags = t
		}
	}
	return res, nil
}

func (r Repo) CountIncidents(ctx context.Context, f IncidentFilters) (int, error) {
	return r.count(ctx, nil, applyIncidentFilters(r.stmt().Select("COUNT(*)").From("incidents i"), f))
}

func (r Repo) loadTags(ctx context.Context, tx *sql.Tx, ids []string) (map[string][]string, error) {
	res := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	rows, err := r.query(ctx, tx, r.stmt().Select("incident_id", "tag").From("incident_tags").
		Where(sq.Eq{"incident_id": ids}).OrderBy("incident_id", "position"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, err
		}
		res[id] = append(res[id], tag)
	}
	return res, rows.Err()
}
