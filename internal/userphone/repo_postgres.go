package userphone

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"interchat/pkg/utils"
)

// PostgresRepo persists calls across three tables:
//
//	calls(call_id PK, status, flagged, created_at, ended_at)
//	call_participants(call_id FK, channel_id, guild_id, webhook_url, users JSONB)
//	call_messages(id bigserial, call_id FK, author_id, author_username, content, attachment_url, created_at)
//
// call_messages is append-only. The participant users column stores the
// serialized user set (sorted JSON array).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateCall(ctx context.Context, call *ActiveCall) error {
	if call == nil || call.ID == "" {
		return ErrInvalidArgument
	}

	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO calls (call_id, status, flagged, created_at) VALUES ($1, $2, $3, $4)`,
			call.ID, call.Status, call.Flagged, call.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert call: %w", err)
		}
		for _, p := range call.Participants {
			users, err := json.Marshal(p.Users)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO call_participants (call_id, channel_id, guild_id, webhook_url, users)
				 VALUES ($1, $2, $3, $4, $5)`,
				call.ID, p.ChannelID, p.GuildID, p.WebhookURL, users,
			)
			if err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRepo) GetCall(ctx context.Context, callID string) (*ActiveCall, error) {
	call := &ActiveCall{}
	var endedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT call_id, status, flagged, created_at, ended_at FROM calls WHERE call_id = $1`,
		callID,
	).Scan(&call.ID, &call.Status, &call.Flagged, &call.CreatedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		call.EndedAt = &t
	}

	if err := r.loadParticipants(ctx, call); err != nil {
		return nil, err
	}
	if err := r.loadMessages(ctx, call); err != nil {
		return nil, err
	}
	return call, nil
}

func (r *PostgresRepo) FindOngoingByChannel(ctx context.Context, channelID string) (*ActiveCall, error) {
	var callID string
	err := r.db.QueryRowContext(ctx,
		`SELECT c.call_id FROM calls c
		 JOIN call_participants p ON p.call_id = c.call_id
		 WHERE p.channel_id = $1 AND c.status = $2
		 ORDER BY c.created_at DESC LIMIT 1`,
		channelID, CallStatusOngoing,
	).Scan(&callID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetCall(ctx, callID)
}

func (r *PostgresRepo) EndCall(ctx context.Context, callID string, endedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE calls SET status = $1, ended_at = COALESCE(ended_at, $2) WHERE call_id = $3`,
		CallStatusEnded, endedAt, callID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (r *PostgresRepo) AppendMessage(ctx context.Context, callID, channelID string, msg CallMessage) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO call_messages (call_id, author_id, author_username, content, attachment_url, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			callID, msg.AuthorID, msg.AuthorUsername, msg.Content, msg.AttachmentURL, msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		// Merge the author into the participant's user set via JSONB.
		// Re-serializing in SQL keeps the array sorted and deduplicated.
		_, err = tx.ExecContext(ctx,
			`UPDATE call_participants
			 SET users = (
			   SELECT COALESCE(jsonb_agg(DISTINCT u ORDER BY u), '[]'::jsonb)
			   FROM jsonb_array_elements_text(users || to_jsonb(ARRAY[$1::text])) AS t(u)
			 )
			 WHERE call_id = $2 AND channel_id = $3`,
			msg.AuthorID, callID, channelID,
		)
		if err != nil {
			return fmt.Errorf("update participant users: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepo) SetFlagged(ctx context.Context, callID string, flagged bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE calls SET flagged = $1 WHERE call_id = $2`, flagged, callID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (r *PostgresRepo) ListCallsBetween(ctx context.Context, from, to time.Time) ([]*ActiveCall, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT call_id FROM calls WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*ActiveCall, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetCall(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *PostgresRepo) PurgeEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var purged int
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM calls
			 WHERE status = $1 AND flagged = FALSE AND ended_at IS NOT NULL AND ended_at < $2`,
			CallStatusEnded, cutoff,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		purged = int(n)
		// Participants and messages cascade via FK ON DELETE CASCADE.
		return nil
	})
	return purged, err
}

func (r *PostgresRepo) loadParticipants(ctx context.Context, call *ActiveCall) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT channel_id, guild_id, webhook_url, users FROM call_participants WHERE call_id = $1`,
		call.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		p := &CallParticipant{}
		var users []byte
		if err := rows.Scan(&p.ChannelID, &p.GuildID, &p.WebhookURL, &users); err != nil {
			return err
		}
		if err := json.Unmarshal(users, &p.Users); err != nil {
			return err
		}
		call.Participants = append(call.Participants, p)
	}
	return rows.Err()
}

func (r *PostgresRepo) loadMessages(ctx context.Context, call *ActiveCall) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT author_id, author_username, content, COALESCE(attachment_url, ''), created_at
		 FROM call_messages WHERE call_id = $1 ORDER BY id`,
		call.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var m CallMessage
		if err := rows.Scan(&m.AuthorID, &m.AuthorUsername, &m.Content, &m.AttachmentURL, &m.Timestamp); err != nil {
			return err
		}
		call.Messages = append(call.Messages, m)
	}
	return rows.Err()
}
