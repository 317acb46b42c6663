package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"incidentline/internal/db"
	"incidentline/internal/repo"
)

const (
	IncidentCreated = "incident.created"
	IncidentUpdated = "incident.updated"
	IncidentDeleted = "incident.deleted"
	TimelineAdded   = "timeline.added"
	ReviewSubmitted = "review.submitted"
	ShareCreated    = "share.created"
	ShareRevoked    = "share.revoked"
	SharePurged     = "share.purged"
	UserCreated     = "user.created"
)

// appendLockKey names the postgres advisory lock that serializes event
// appends. SQLite needs none: _txlock=immediate already serializes writers.
const appendLockKey int64 = 0x696e636c6e657674

// Writer appends audit events inside the caller's transaction.
//
// Event ids are UUIDv7 and readers page with id > cursor, so ids must become
// visible in id order. Append is the last write of every mutation; on postgres
// it takes a transaction-scoped advisory lock before minting the id, which
// holds until commit, so a later id can never commit ahead of an earlier one.
type Writer struct {
	Driver string
	Now    func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if stmt := lockStatement(w.Driver); stmt != "" {
		if _, err := tx.ExecContext(ctx, stmt, appendLockKey); err != nil {
			return fmt.Errorf("lock event log: %w", err)
		}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	query, args, err := db.StatementBuilder(w.Driver).Insert("events").
		Columns("id", "ts", "type", "entity_kind", "entity_id", "actor_id", "payload_json").
		Values(id.String(), repo.FormatTime(w.Now()), evtType, entityKind, nullable(entityID), actorID, string(data)).
		ToSql()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func lockStatement(driver string) string {
	if driver == db.DriverPostgres {
		return "SELECT pg_advisory_xact_lock($1)"
	}
	return ""
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
