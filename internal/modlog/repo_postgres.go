package modlog

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo persists entries in modlog_entries:
//
//	modlog_entries(id PK, hub_id, type, actor_id, author_id, message_id,
//	               channel_id, call_id, reason, created_at)
//
// INSERT-only; no update or delete statements exist in this file on purpose.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Entry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO modlog_entries (id, hub_id, type, actor_id, author_id, message_id, channel_id, call_id, reason, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10)`,
		e.ID, e.HubID, e.Type, e.ActorID, e.AuthorID, e.MessageID, e.ChannelID, e.CallID, e.Reason, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append modlog entry: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByHub(ctx context.Context, hubID string, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, hub_id, type, COALESCE(actor_id, ''), COALESCE(author_id, ''),
		        COALESCE(message_id, ''), COALESCE(channel_id, ''), COALESCE(call_id, ''),
		        COALESCE(reason, ''), created_at
		 FROM modlog_entries
		 WHERE hub_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		hubID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(&e.ID, &e.HubID, &e.Type, &e.ActorID, &e.AuthorID,
			&e.MessageID, &e.ChannelID, &e.CallID, &e.Reason, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
