package matcher

import (
	"strings"

	"github.com/xaenox/wcf-bot/internal/models"
)

// Command maps a message prefix to the prompt mode it selects.
type Command struct {
	Prefix string
	Mode   models.Mode
}

// DefaultCommands is the prefix table used when none is configured.
var DefaultCommands = []Command{
	{Prefix: "#真实", Mode: models.ModeZS},
	{Prefix: "#毒舌", Mode: models.ModeDS},
}

// Matcher decides whether an event is a command addressed to the bot.
type Matcher struct {
	rooms    map[string]struct{}
	commands []Command
}

// New builds a Matcher. An empty rooms list lets every room through; a nil
// commands table falls back to DefaultCommands.
func New(rooms []string, commands []Command) *Matcher {
	m := &Matcher{rooms: make(map[string]struct{}, len(rooms))}
	for _, r := range rooms {
		if r = strings.TrimSpace(r); r != "" {
			m.rooms[r] = struct{}{}
		}
	}
	if commands == nil {
		commands = DefaultCommands
	}
	for _, c := range commands {
		if c.Prefix == "" {
			continue
		}
		if c.Mode == "" {
			c.Mode = models.ModeNormal
		}
		m.commands = append(m.commands, c)
	}
	return m
}

// Commands returns the effective prefix table.
func (m *Matcher) Commands() []Command {
	return append([]Command(nil), m.commands...)
}

// RoomAllowed reports whether roomID passes the room filter.
func (m *Matcher) RoomAllowed(roomID string) bool {
	if roomID == "" {
		return false
	}
	if len(m.rooms) == 0 {
		return true
	}
	_, ok := m.rooms[roomID]
	return ok
}

// Match applies the type, room and prefix rules in order.
func (m *Matcher) Match(ev *models.Event) models.MatchResult {
	if ev == nil || !ev.IsText() {
		return models.MatchResult{}
	}
	if !m.RoomAllowed(ev.RoomID) {
		return models.MatchResult{}
	}
	cmd, ok := m.lookup(ev.Content)
	if !ok {
		return models.MatchResult{}
	}
	return models.MatchResult{
		Matched: true,
		Prefix:  cmd.Prefix,
		Mode:    cmd.Mode,
		Content: m.Strip(ev.Content),
	}
}

func (m *Matcher) lookup(content string) (Command, bool) {
	for _, c := range m.commands {
		if strings.HasPrefix(content, c.Prefix) {
			return c, true
		}
	}
	return Command{}, false
}

// Strip removes leading command prefixes and surrounding whitespace.
// Repeated leading prefixes are all removed ("#真实 #真实 x" becomes "x"), so
// applying Strip to its own output is a no-op. Removing only the first one
// would leave a prefix behind for the next call to strip.
func (m *Matcher) Strip(content string) string {
	out := strings.TrimSpace(content)
	for {
		cmd, ok := m.lookup(out)
		if !ok {
			return out
		}
		out = strings.TrimSpace(strings.Replace(out, cmd.Prefix, "", 1))
	}
}
