package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"interchat/internal/gateway"
)

// DeletionLogger records who removed a broadcast message. Satisfied by the
// modlog service; nil disables moderation logging.
type DeletionLogger interface {
	RecordDeletion(ctx context.Context, hubID, messageID, actorID, authorID string)
}

// auditWindow is how far back the audit-log heuristic looks when deciding
// who deleted a message.
const auditWindow = 15 * time.Second

// Pipeline fans hub messages out to every connected channel and propagates
// edits and deletions across the resulting broadcast set.
type Pipeline struct {
	conns ConnectionStore
	maps  MappingStore
	gw    gateway.Gateway

	// audit resolves deleters; dellog records them. Both optional.
	audit  gateway.AuditSource
	dellog DeletionLogger

	clock func() time.Time
	log   *slog.Logger
}

func NewPipeline(conns ConnectionStore, maps MappingStore, gw gateway.Gateway, audit gateway.AuditSource, dellog DeletionLogger, log *slog.Logger) *Pipeline {
	return &Pipeline{
		conns:  conns,
		maps:   maps,
		gw:     gw,
		audit:  audit,
		dellog: dellog,
		clock:  time.Now,
		log:    log,
	}
}

// SendToHub delivers the message to every connected channel in the hub
// except its origin, records the broadcast set, and returns it.
//
// Fan-out is resilient per recipient: a gone webhook deactivates that one
// connection and the rest still receive the message. Failed recipients
// simply have no entry in the mapping.
func (p *Pipeline) SendToHub(ctx context.Context, msg OutboundMessage) (*Mapping, error) {
	if msg.HubID == "" || msg.OriginID == "" {
		return nil, ErrInvalidArgument
	}

	targets, err := p.conns.ConnectedByHub(ctx, msg.HubID)
	if err != nil {
		return nil, err
	}

	payload := gateway.Payload{
		Content:       msg.Content,
		Username:      msg.AuthorUsername,
		AvatarURL:     msg.AvatarURL,
		AttachmentURL: msg.AttachmentURL,
	}

	var (
		mu     sync.Mutex
		copies []Copy
		wg     sync.WaitGroup
	)
	for _, conn := range targets {
		if conn.ChannelID == msg.OriginChannel {
			continue
		}
		wg.Add(1)
		go func(conn Connection) {
			defer wg.Done()
			out := payload
			if conn.ParentID != "" {
				out.ThreadID = conn.ChannelID
			}
			sent, err := p.gw.Send(ctx, conn.WebhookURL, out)
			if err != nil {
				p.handleSendFailure(ctx, conn, err)
				return
			}
			mu.Lock()
			copies = append(copies, Copy{ChannelID: conn.ChannelID, MessageID: sent.ID, ThreadID: out.ThreadID})
			mu.Unlock()
		}(conn)
	}
	wg.Wait()

	m := &Mapping{
		HubID:         msg.HubID,
		OriginID:      msg.OriginID,
		OriginChannel: msg.OriginChannel,
		AuthorID:      msg.AuthorID,
		Copies:        copies,
	}
	if err := p.maps.SaveMapping(ctx, m); err != nil {
		// Copies are already delivered; losing the mapping only costs
		// future propagation for this one message.
		p.log.Error("broadcast mapping save failed", "origin_id", msg.OriginID, "err", err)
	}
	if err := p.conns.TouchActive(ctx, msg.OriginChannel); err != nil {
		p.log.Warn("connection activity bump failed", "channel_id", msg.OriginChannel, "err", err)
	}

	p.log.Info("hub message broadcast",
		"hub_id", msg.HubID,
		"origin_id", msg.OriginID,
		"delivered", len(copies),
		"targets", len(targets),
	)
	return m, nil
}

// EditMessage applies an edit made to any copy (or the original) to every
// other copy in the broadcast set.
func (p *Pipeline) EditMessage(ctx context.Context, messageID, newContent string) error {
	m, err := p.resolveMapping(ctx, messageID)
	if err != nil || m == nil {
		return err
	}

	for _, c := range m.Copies {
		if c.MessageID == messageID {
			continue
		}
		conn, err := p.conns.FindByChannel(ctx, c.ChannelID)
		if err != nil {
			continue
		}
		payload := gateway.Payload{Content: newContent, ThreadID: c.ThreadID}
		if err := p.gw.EditMessage(ctx, conn.WebhookURL, c.MessageID, payload); err != nil {
			p.propagationFailure(ctx, *conn, "edit", err)
		}
	}
	return nil
}

// DeleteMessage removes every copy in the broadcast set and records the
// deletion in the moderation log. channelID is where the deletion was
// observed; the actor is resolved via the audit heuristic there, falling
// back to the author self-deleting.
func (p *Pipeline) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	m, err := p.resolveMapping(ctx, messageID)
	if err != nil || m == nil {
		return err
	}

	for _, c := range m.Copies {
		if c.MessageID == messageID {
			continue
		}
		conn, err := p.conns.FindByChannel(ctx, c.ChannelID)
		if err != nil {
			continue
		}
		if err := p.gw.DeleteMessage(ctx, conn.WebhookURL, c.MessageID, c.ThreadID); err != nil {
			p.propagationFailure(ctx, *conn, "delete", err)
		}
	}

	p.recordDeletion(ctx, m, channelID, messageID)

	if err := p.maps.DeleteMapping(ctx, m.OriginID); err != nil {
		p.log.Warn("broadcast mapping delete failed", "origin_id", m.OriginID, "err", err)
	}
	return nil
}

// Connect registers (or replaces) a channel's hub membership.
func (p *Pipeline) Connect(ctx context.Context, hubID, channelID, guildID, webhookURL, parentID string) (*Connection, error) {
	if hubID == "" || channelID == "" || webhookURL == "" {
		return nil, ErrInvalidArgument
	}
	now := p.clock()
	conn := &Connection{
		ID:         uuid.NewString(),
		HubID:      hubID,
		ChannelID:  channelID,
		GuildID:    guildID,
		WebhookURL: webhookURL,
		ParentID:   parentID,
		Connected:  true,
		CreatedAt:  now,
		LastActive: now,
	}
	if err := p.conns.Upsert(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Disconnect gates the channel out of fan-out without deleting its record.
func (p *Pipeline) Disconnect(ctx context.Context, channelID string) error {
	return p.conns.SetConnected(ctx, channelID, false)
}

// resolveMapping accepts either an original message id or any copy's id.
func (p *Pipeline) resolveMapping(ctx context.Context, messageID string) (*Mapping, error) {
	m, err := p.maps.GetMapping(ctx, messageID)
	if err != nil || m != nil {
		return m, err
	}
	originID, err := p.maps.ResolveOrigin(ctx, messageID)
	if err != nil || originID == "" {
		return nil, err
	}
	return p.maps.GetMapping(ctx, originID)
}

func (p *Pipeline) handleSendFailure(ctx context.Context, conn Connection, err error) {
	if errors.Is(err, gateway.ErrWebhookGone) {
		p.log.Warn("webhook gone, deactivating connection",
			"hub_id", conn.HubID, "channel_id", conn.ChannelID)
		if offErr := p.conns.SetConnected(ctx, conn.ChannelID, false); offErr != nil {
			p.log.Error("connection deactivation failed", "channel_id", conn.ChannelID, "err", offErr)
		}
		return
	}
	p.log.Error("broadcast send failed", "channel_id", conn.ChannelID, "err", err)
}

func (p *Pipeline) propagationFailure(ctx context.Context, conn Connection, op string, err error) {
	if errors.Is(err, gateway.ErrWebhookGone) {
		p.handleSendFailure(ctx, conn, err)
		return
	}
	p.log.Warn("broadcast propagation failed", "op", op, "channel_id", conn.ChannelID, "err", err)
}

func (p *Pipeline) recordDeletion(ctx context.Context, m *Mapping, channelID, messageID string) {
	if p.dellog == nil {
		return
	}
	actorID := m.AuthorID
	if p.audit != nil {
		conn, err := p.conns.FindByChannel(ctx, channelID)
		if err == nil {
			if actor, ok := p.audit.RecentDeleter(ctx, conn.GuildID, channelID, m.AuthorID, auditWindow); ok {
				actorID = actor
			}
		}
	}
	p.dellog.RecordDeletion(ctx, m.HubID, messageID, actorID, m.AuthorID)
}
