// Package bot connects the chat platform to the chatter variants: inbound
// events become message records, replies go back out as segments.
package bot

import (
	"context"
	"log/slog"

	"github.com/kumoagent/kumo/internal/chatter"
	"github.com/kumoagent/kumo/internal/host"
	"github.com/kumoagent/kumo/internal/store"
	"github.com/kumoagent/kumo/pkg/models"
)

// Bot routes events and replies. It owns no conversation logic itself.
type Bot struct {
	registry *chatter.Registry
	platform host.Host
	log      *store.Store
	memes    map[string]string
	logger   *slog.Logger
}

// New creates the bot. The store may be nil in tests; persistence failures
// never block replies either way.
func New(registry *chatter.Registry, platform host.Host, log *store.Store, memes map[string]string, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		registry: registry,
		platform: platform,
		log:      log,
		memes:    memes,
		logger:   logger.With("component", "bot"),
	}
}

// HandleEvent processes one inbound platform event end to end.
func (b *Bot) HandleEvent(ctx context.Context, ev host.Event) {
	rec, err := host.RecordFromEvent(ev)
	if err != nil {
		b.logger.Warn("unhandled event", "error", err)
		return
	}
	if rec.Content == "" {
		b.logger.Debug("empty message ignored", "conversation", rec.Key.String())
		return
	}

	b.persistMessage(ctx, rec)

	// Every message feeds short-term memory; replies are a separate
	// decision. Appending here and again inside Respond is safe because
	// appends deduplicate by message id.
	if mem, ok := b.registry.MemoryFor(rec.Key.Class); ok {
		mem.Append(ctx, rec)
	}

	if !b.shouldRespond(rec) {
		return
	}

	c, ok := b.registry.ForClass(rec.Key.Class)
	if !ok {
		b.logger.Warn("no variant for class", "class", rec.Key.Class)
		return
	}

	result, err := c.Respond(ctx, rec)
	if err != nil {
		b.logger.Error("respond failed",
			"conversation", rec.Key.String(),
			"error", err)
		return
	}

	segments := b.buildSegments(result)
	if len(segments) == 0 {
		return
	}

	if err := b.send(ctx, rec.Key, segments); err != nil {
		b.logger.Error("send failed",
			"conversation", rec.Key.String(),
			"error", err)
		return
	}

	if result.Text != "" {
		b.persistReply(ctx, rec.Key, rec.ID, result.Text)
	}
}

// shouldRespond applies the reply policy: private messages always get a
// reply, group messages only when the bot is mentioned.
func (b *Bot) shouldRespond(rec models.MessageRecord) bool {
	if rec.Key.Class == models.ClassPrivate {
		return true
	}
	return rec.MentionID != 0
}

// DeliverReminder sends a fired reminder into its conversation, phrased by
// the group variant when available.
func (b *Bot) DeliverReminder(ctx context.Context, key models.ConversationKey, content string) {
	text := content
	if g, ok := b.registry.Group(); ok && key.Class == models.ClassGroup {
		text = g.Remind(ctx, key, content)
	}
	if err := b.send(ctx, key, []host.Segment{host.TextSegment(text)}); err != nil {
		b.logger.Error("reminder delivery failed",
			"conversation", key.String(),
			"error", err)
	}
}

func (b *Bot) buildSegments(result chatter.Result) []host.Segment {
	var segments []host.Segment
	for _, tag := range result.Memes {
		file, ok := b.memes[tag]
		if !ok {
			b.logger.Debug("unknown meme tag", "tag", tag)
			continue
		}
		segments = append(segments, host.ImageSegment(file))
	}
	if result.Text != "" {
		segments = append(segments, host.TextSegment(result.Text))
	}
	return segments
}

func (b *Bot) send(ctx context.Context, key models.ConversationKey, segments []host.Segment) error {
	if key.Class == models.ClassGroup {
		return b.platform.SendGroupMessage(ctx, key.ID, segments)
	}
	return b.platform.SendPrivateMessage(ctx, key.ID, segments)
}

func (b *Bot) persistMessage(ctx context.Context, rec models.MessageRecord) {
	if b.log == nil {
		return
	}
	if err := b.log.InsertMessage(ctx, rec); err != nil {
		b.logger.Error("message persistence failed",
			"conversation", rec.Key.String(),
			"error", err)
	}
}

func (b *Bot) persistReply(ctx context.Context, key models.ConversationKey, id int64, reply string) {
	if b.log == nil {
		return
	}
	if err := b.log.InsertReply(ctx, key, id, reply); err != nil {
		b.logger.Error("reply persistence failed",
			"conversation", key.String(),
			"error", err)
	}
}
