package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one audit fact to the append-only log.
func (w Writer) Append(ctx context.Context, evtType, orgID, entityKind, entityID, actorID, correlationID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,org_id,entity_kind,entity_id,actor_id,correlation_id,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, evtType, nullable(orgID), entityKind, nullable(entityID), actorID, nullable(correlationID), string(data))
	return err
}

// Publish is the fire-and-forget form used after mutations: a failed append
// is logged and never fails the write that triggered it.
func (w Writer) Publish(ctx context.Context, evtType, orgID, entityKind, entityID, actorID, correlationID string, payload EventPayload) {
	if err := w.Append(ctx, evtType, orgID, entityKind, entityID, actorID, correlationID, payload); err != nil {
		log.Printf("events: append %s for %s/%s failed: %v", evtType, entityKind, entityID, err)
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
