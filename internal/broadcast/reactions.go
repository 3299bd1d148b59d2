package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"interchat/internal/gateway"
)

// ErrEmojiLimit marks a reaction with a new emoji on a message already at
// the distinct-emoji cap. Existing emoji still accept further reactors.
var ErrEmojiLimit = errors.New("broadcast: emoji limit reached")

// ErrThrottled marks a reaction dropped by the per-user cooldown.
var ErrThrottled = errors.New("broadcast: reaction throttled")

// Reactions maintains the per-message reaction map and re-renders it as
// button components on every broadcast copy.
type Reactions struct {
	maps     MappingStore
	conns    ConnectionStore
	throttle Throttle
	gw       gateway.Gateway

	// maxEmoji caps distinct emoji per message (platform component limit).
	maxEmoji int
	log      *slog.Logger
}

func NewReactions(maps MappingStore, conns ConnectionStore, throttle Throttle, gw gateway.Gateway, maxEmoji int, log *slog.Logger) *Reactions {
	if maxEmoji <= 0 {
		maxEmoji = 25
	}
	return &Reactions{
		maps:     maps,
		conns:    conns,
		throttle: throttle,
		gw:       gw,
		maxEmoji: maxEmoji,
		log:      log,
	}
}

// StoreReactions overwrites the persisted reaction map for a message.
func (r *Reactions) StoreReactions(ctx context.Context, originID string, m ReactionMap) error {
	return r.maps.SaveReactions(ctx, originID, m)
}

// UpdateReactions applies one reaction add or removal observed on any
// broadcast copy, then pushes the re-rendered button row to every copy.
//
// Idempotent per (user, emoji): re-adding an existing reaction changes
// nothing and skips the fan-out.
func (r *Reactions) UpdateReactions(ctx context.Context, copyMessageID, emoji, userID string, add bool) error {
	if copyMessageID == "" || emoji == "" || userID == "" {
		return ErrInvalidArgument
	}

	m, err := r.resolveMapping(ctx, copyMessageID)
	if err != nil {
		return err
	}
	if m == nil {
		return nil // not a broadcast message, nothing to relay
	}

	ok, err := r.throttle.Allow(ctx, m.OriginID, userID)
	if err != nil {
		return fmt.Errorf("reaction throttle: %w", err)
	}
	if !ok {
		return ErrThrottled
	}

	rmap, err := r.maps.GetReactions(ctx, m.OriginID)
	if err != nil {
		return err
	}

	var changed bool
	if add {
		if _, exists := rmap[emoji]; !exists && len(rmap) >= r.maxEmoji {
			return ErrEmojiLimit
		}
		changed = rmap.Add(emoji, userID)
	} else {
		changed = rmap.Remove(emoji, userID)
	}
	if !changed {
		return nil
	}

	if err := r.maps.SaveReactions(ctx, m.OriginID, rmap); err != nil {
		return err
	}
	r.render(ctx, m, rmap)
	return nil
}

// render pushes the reaction buttons onto every broadcast copy.
// Best-effort per copy; a failed edit costs that one copy a stale button.
func (r *Reactions) render(ctx context.Context, m *Mapping, rmap ReactionMap) {
	buttons := RenderButtons(m.OriginID, rmap)
	if buttons == nil {
		// Last reaction removed: push an explicit empty row to strip
		// the stale buttons from every copy.
		buttons = []gateway.Button{}
	}
	for _, c := range m.Copies {
		conn, err := r.conns.FindByChannel(ctx, c.ChannelID)
		if err != nil {
			continue
		}
		payload := gateway.Payload{ThreadID: c.ThreadID, Buttons: buttons}
		if err := r.gw.EditMessage(ctx, conn.WebhookURL, c.MessageID, payload); err != nil {
			r.log.Warn("reaction render failed", "channel_id", c.ChannelID, "err", err)
		}
	}
}

func (r *Reactions) resolveMapping(ctx context.Context, messageID string) (*Mapping, error) {
	m, err := r.maps.GetMapping(ctx, messageID)
	if err != nil || m != nil {
		return m, err
	}
	originID, err := r.maps.ResolveOrigin(ctx, messageID)
	if err != nil || originID == "" {
		return nil, err
	}
	return r.maps.GetMapping(ctx, originID)
}

// RenderButtons shapes a reaction map as at most two buttons: the top
// emoji with its count, and a "+N more" aggregate when other emoji exist.
func RenderButtons(originID string, r ReactionMap) []gateway.Button {
	top, count := r.Top()
	if count == 0 {
		return nil
	}

	buttons := []gateway.Button{{
		Label:    fmt.Sprintf("%s %d", top, count),
		CustomID: "reaction:" + originID + ":" + top,
	}}
	if rest := len(r) - 1; rest > 0 {
		buttons = append(buttons, gateway.Button{
			Label:    fmt.Sprintf("+%d more", rest),
			CustomID: "reaction_all:" + originID,
		})
	}
	return buttons
}
