package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresConnections persists hubs and their channel memberships:
//
//	hubs(hub_id PK, name, owner_id, private, created_at)
//	hub_connections(connection_id PK, hub_id FK, channel_id UNIQUE, guild_id,
//	                webhook_url, parent_id, connected, embed_color,
//	                created_at, last_active)
//
// One connection per channel: a channel cannot mirror two hubs at once.
type PostgresConnections struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresConnections(db *sql.DB) *PostgresConnections {
	return &PostgresConnections{db: db, clock: time.Now}
}

const connectionColumns = `connection_id, hub_id, channel_id, guild_id, webhook_url,
	COALESCE(parent_id, ''), connected, COALESCE(embed_color, ''), created_at, last_active`

func scanConnection(row interface{ Scan(...any) error }) (*Connection, error) {
	var c Connection
	err := row.Scan(&c.ID, &c.HubID, &c.ChannelID, &c.GuildID, &c.WebhookURL,
		&c.ParentID, &c.Connected, &c.EmbedColor, &c.CreatedAt, &c.LastActive)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresConnections) ConnectedByHub(ctx context.Context, hubID string) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+`
		 FROM hub_connections
		 WHERE hub_id = $1 AND connected
		 ORDER BY created_at`,
		hubID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresConnections) FindByChannel(ctx context.Context, channelID string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM hub_connections WHERE channel_id = $1`,
		channelID,
	)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find connection: %w", err)
	}
	return c, nil
}

func (s *PostgresConnections) Upsert(ctx context.Context, conn *Connection) error {
	if conn == nil || conn.ChannelID == "" || conn.HubID == "" {
		return ErrInvalidArgument
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hub_connections (connection_id, hub_id, channel_id, guild_id, webhook_url,
		                              parent_id, connected, embed_color, created_at, last_active)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10)
		 ON CONFLICT (channel_id) DO UPDATE SET
		   hub_id = EXCLUDED.hub_id,
		   webhook_url = EXCLUDED.webhook_url,
		   parent_id = EXCLUDED.parent_id,
		   connected = EXCLUDED.connected,
		   embed_color = EXCLUDED.embed_color,
		   last_active = EXCLUDED.last_active`,
		conn.ID, conn.HubID, conn.ChannelID, conn.GuildID, conn.WebhookURL,
		conn.ParentID, conn.Connected, conn.EmbedColor, conn.CreatedAt, conn.LastActive,
	)
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

func (s *PostgresConnections) SetConnected(ctx context.Context, channelID string, connected bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE hub_connections SET connected = $1 WHERE channel_id = $2`,
		connected, channelID,
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

func (s *PostgresConnections) TouchActive(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hub_connections SET last_active = $1 WHERE channel_id = $2`,
		s.clock(), channelID,
	)
	return err
}
