package bot

import (
	"context"
	"time"

	"github.com/xaenox/wcf-bot/internal/events"
	"github.com/xaenox/wcf-bot/internal/history"
	"github.com/xaenox/wcf-bot/internal/matcher"
	"github.com/xaenox/wcf-bot/internal/models"
	"github.com/xaenox/wcf-bot/internal/storage"
	"go.uber.org/zap"
)

// Bot wires decoding, storage, matching, context and reply dispatch for a
// single gateway subscription. Events are processed one at a time.
type Bot struct {
	store      storage.MessageLog
	decoder    *events.Decoder
	matcher    *matcher.Matcher
	history    *history.Builder
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func New(store storage.MessageLog, m *matcher.Matcher, h *history.Builder, d *Dispatcher, logger *zap.Logger) *Bot {
	return &Bot{
		store:      store,
		decoder:    events.NewDecoder(time.Now),
		matcher:    m,
		history:    h,
		dispatcher: d,
		logger:     logger,
	}
}

// Start runs the connection supervisor over source until ctx is cancelled.
func (b *Bot) Start(ctx context.Context, source EventSource, opts ...SupervisorOption) error {
	return NewSupervisor(source, b.HandleLine, b.logger, opts...).Run(ctx)
}

// HandleLine decodes one stream line and processes the event it carries.
func (b *Bot) HandleLine(ctx context.Context, line string) {
	frame := b.decoder.Decode(line)
	switch frame.Kind {
	case events.Message:
		b.HandleEvent(ctx, frame.Event)
	case events.Heartbeat:
		b.logger.Debug("Received non-message event", zap.String("payload", truncate(frame.Payload, 200)))
	case events.Malformed:
		b.logger.Warn("Failed to decode event",
			zap.Error(frame.Err),
			zap.String("payload", truncate(frame.Payload, 100)))
	}
}

// HandleEvent stores ev and answers it when it is a command for the bot.
// Nothing in here stops the caller's loop.
func (b *Bot) HandleEvent(ctx context.Context, ev *models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic while handling event",
				zap.Any("panic", r),
				zap.String("event_id", ev.ID.String()))
		}
	}()

	pos, err := b.store.Append(ev)
	if err != nil {
		b.logger.Warn("Failed to save message", zap.Error(err), zap.String("event_id", ev.ID.String()))
	}

	match := b.matcher.Match(ev)
	if !match.Matched {
		return
	}
	b.logger.Info("Handling command",
		zap.String("room", ev.RoomID),
		zap.String("sender", ev.Sender),
		zap.String("prefix", match.Prefix),
		zap.String("mode", string(match.Mode)),
		zap.Time("sent_at", ev.Time()))

	turns := b.history.Before(pos, ev.RoomID, 0)
	if err := b.dispatcher.Dispatch(ctx, match, ev, turns); err != nil {
		b.logger.Debug("Dispatch ended with error", zap.Error(err))
	}
}

// Simulate runs one synthetic command through the pipeline. Used by test mode.
func (b *Bot) Simulate(ctx context.Context, roomID string) *models.Event {
	if roomID == "" {
		roomID = "test_group_id"
	}
	prefix := matcher.DefaultCommands[0].Prefix
	if cmds := b.matcher.Commands(); len(cmds) > 0 {
		prefix = cmds[0].Prefix
	}
	now := time.Now()
	ev := &models.Event{
		ID:        models.OpaqueID("12345"),
		Type:      models.TextMessage,
		Sender:    "wxid_test_sender",
		Content:   prefix + " 你好，这是一条测试消息",
		RoomID:    roomID,
		Timestamp: now.Unix(),
		Datetime:  now.Format(models.DatetimeLayout),
	}
	b.HandleEvent(ctx, ev)
	return ev
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
