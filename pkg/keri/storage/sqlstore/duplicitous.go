// Copyright 2025 Certen Protocol

package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/certen/keri-core/pkg/keri/event"
)

// DuplicitousRepository implements processor.DuplicitousStore over Postgres,
// adding the queryable secondary index (by prefix, by time seen) the
// KV-backed table in pkg/keri/storage can't offer without a full scan.
type DuplicitousRepository struct {
	client *Client
}

// NewDuplicitousRepository constructs a repository over an open Client.
func NewDuplicitousRepository(client *Client) *DuplicitousRepository {
	return &DuplicitousRepository{client: client}
}

// RecordDuplicitous implements processor.DuplicitousStore.
func (r *DuplicitousRepository) RecordDuplicitous(prefix string, sn uint64, se *event.SignedEvent, raw []byte) error {
	eventJSON, err := json.Marshal(se)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal duplicitous event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = r.client.db.ExecContext(ctx, `
		INSERT INTO keri_duplicitous_events (prefix, sn, said, event_json, raw, seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (prefix, sn, said) DO NOTHING`,
		prefix, int64(sn), se.Event.SAID, eventJSON, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlstore: record duplicitous event: %w", err)
	}
	return nil
}

// DuplicitousRecord is one forensic row: the fork the KEL owner never
// intended to be accepted, kept for audit rather than replay.
type DuplicitousRecord struct {
	Prefix string
	SN     uint64
	SAID   string
	Event  *event.SignedEvent
	Raw    []byte
	SeenAt time.Time
}

// ListForPrefix returns every duplicitous event recorded for prefix, ordered
// by sn then first-seen time — the audit query the KV table has no
// efficient path for.
func (r *DuplicitousRepository) ListForPrefix(ctx context.Context, prefix string) ([]DuplicitousRecord, error) {
	rows, err := r.client.db.QueryContext(ctx, `
		SELECT sn, said, event_json, raw, seen_at
		FROM keri_duplicitous_events
		WHERE prefix = $1
		ORDER BY sn, seen_at`, prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list duplicitous events for %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []DuplicitousRecord
	for rows.Next() {
		var rec DuplicitousRecord
		var sn int64
		var eventJSON []byte
		if err := rows.Scan(&sn, &rec.SAID, &eventJSON, &rec.Raw, &rec.SeenAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan duplicitous event: %w", err)
		}
		rec.Prefix = prefix
		rec.SN = uint64(sn)
		var se event.SignedEvent
		if err := json.Unmarshal(eventJSON, &se); err != nil {
			return nil, fmt.Errorf("sqlstore: decode duplicitous event: %w", err)
		}
		rec.Event = &se
		out = append(out, rec)
	}
	return out, rows.Err()
}
