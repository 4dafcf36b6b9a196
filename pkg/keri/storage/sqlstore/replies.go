// Copyright 2025 Certen Protocol

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/certen/keri-core/pkg/keri/reply"
)

// ReplyRepository implements reply.Store over Postgres: the accepted-reply
// table spec §6.3 describes as needing per-signer, per-identifier lookups
// ("what is the latest KSN this node holds for prefix X from signer Y").
type ReplyRepository struct {
	client *Client
}

// NewReplyRepository constructs a repository over an open Client.
func NewReplyRepository(client *Client) *ReplyRepository {
	return &ReplyRepository{client: client}
}

// Get implements reply.Store.
func (r *ReplyRepository) Get(prefix, signerPrefix string) (*reply.SignedReply, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ksnJSON []byte
	err := r.client.db.QueryRowContext(ctx, `
		SELECT ksn_json FROM keri_accepted_replies
		WHERE prefix = $1 AND signer_prefix = $2`, prefix, signerPrefix).Scan(&ksnJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlstore: load reply for %s/%s: %w", prefix, signerPrefix, err)
	}

	var sr reply.SignedReply
	if err := json.Unmarshal(ksnJSON, &sr); err != nil {
		return nil, false, fmt.Errorf("sqlstore: decode reply for %s/%s: %w", prefix, signerPrefix, err)
	}
	return &sr, true, nil
}

// Put implements reply.Store.
func (r *ReplyRepository) Put(prefix, signerPrefix string, sr *reply.SignedReply, raw []byte) error {
	srJSON, err := json.Marshal(sr)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal reply: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = r.client.db.ExecContext(ctx, `
		INSERT INTO keri_accepted_replies (prefix, signer_prefix, ksn_json, raw, accepted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (prefix, signer_prefix)
		DO UPDATE SET ksn_json = EXCLUDED.ksn_json, raw = EXCLUDED.raw, accepted_at = EXCLUDED.accepted_at`,
		prefix, signerPrefix, srJSON, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlstore: put reply for %s/%s: %w", prefix, signerPrefix, err)
	}
	return nil
}
