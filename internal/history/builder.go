// Package history turns recent room traffic into conversation context.
package history

import (
	"fmt"
	"time"

	"github.com/xaenox/wcf-bot/internal/models"
)

// DefaultWindow is how far back Recent looks when no window is given.
const DefaultWindow = 5 * time.Minute

// Source is the part of the message log the builder reads.
type Source interface {
	Len() int
	Newest(before int, fn func(ev *models.Event) bool)
}

// Stripper removes command prefixes from message text.
type Stripper interface {
	Strip(content string) string
}

type Builder struct {
	source   Source
	stripper Stripper
	window   time.Duration
	selfID   string
	now      func() time.Time
}

type Option func(*Builder)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.window = d
		}
	}
}

// WithSelf tags messages sent by selfID as assistant turns.
func WithSelf(selfID string) Option {
	return func(b *Builder) { b.selfID = selfID }
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBuilder(source Source, stripper Stripper, opts ...Option) *Builder {
	b := &Builder{
		source:   source,
		stripper: stripper,
		window:   DefaultWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Window returns the default window of the builder.
func (b *Builder) Window() time.Duration {
	return b.window
}

// Recent returns the room's text messages of the last window, oldest first.
// A zero window uses the builder default.
func (b *Builder) Recent(roomID string, window time.Duration) []models.ConversationTurn {
	return b.Before(b.source.Len(), roomID, window)
}

// Before is Recent restricted to events stored at positions < pos, so the
// message being answered is not echoed back as its own context.
//
// The scan walks newest to oldest and stops at the first in-room event older
// than the cutoff. Out-of-order timestamps further back are not visited.
func (b *Builder) Before(pos int, roomID string, window time.Duration) []models.ConversationTurn {
	if window <= 0 {
		window = b.window
	}
	cutoff := b.now().Add(-window).Unix()

	var picked []*models.Event
	b.source.Newest(pos, func(ev *models.Event) bool {
		if ev.RoomID != roomID {
			return true
		}
		if ev.Timestamp < cutoff {
			return false
		}
		if ev.IsText() {
			picked = append(picked, ev)
		}
		return true
	})

	turns := make([]models.ConversationTurn, 0, len(picked))
	for i := len(picked) - 1; i >= 0; i-- {
		turns = append(turns, b.turn(picked[i]))
	}
	return turns
}

func (b *Builder) turn(ev *models.Event) models.ConversationTurn {
	content := ev.Content
	if b.stripper != nil {
		content = b.stripper.Strip(content)
	}
	if b.selfID != "" && ev.Sender == b.selfID {
		return models.ConversationTurn{Role: models.RoleAssistant, Content: content}
	}
	return models.ConversationTurn{
		Role:    models.RoleUser,
		Content: fmt.Sprintf("%s: %s", ev.Sender, content),
	}
}
