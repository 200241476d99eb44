package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/xaenox/wcf-bot/internal/matcher"
	"github.com/xaenox/wcf-bot/internal/models"
	"github.com/xaenox/wcf-bot/internal/storage"
)

var now = time.Unix(1_700_000_000, 0)

func clock() time.Time { return now }

func seed(t *testing.T, evs ...*models.Event) *storage.MessageStore {
	t.Helper()
	s := storage.NewMemoryStorage()
	for _, ev := range evs {
		if _, err := s.Append(ev); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	return s
}

func msg(room, sender, content string, ago time.Duration) *models.Event {
	return &models.Event{
		Type:      models.TextMessage,
		RoomID:    room,
		Sender:    sender,
		Content:   content,
		Timestamp: now.Add(-ago).Unix(),
	}
}

func TestRecentFiltersAndOrders(t *testing.T) {
	t.Parallel()

	image := msg("G1", "U3", "[image]", 30*time.Second)
	image.Type = 3
	s := seed(t,
		msg("G1", "U1", "too old", 10*time.Minute),
		msg("G1", "U1", "#真实 第一", 4*time.Minute),
		msg("G2", "U9", "other room", 3*time.Minute),
		msg("G1", "U2", "第二", 2*time.Minute),
		image,
		msg("G1", "U1", "#毒舌 第三", 10*time.Second),
	)
	b := NewBuilder(s, matcher.New(nil, nil), WithClock(clock))

	got := b.Recent("G1", 0)
	want := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "U1: 第一"},
		{Role: models.RoleUser, Content: "U2: 第二"},
		{Role: models.RoleUser, Content: "U1: 第三"},
	}
	if len(got) != len(want) {
		t.Fatalf("Recent() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Recent()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	narrow := b.Recent("G1", 2*time.Minute+time.Second)
	if len(narrow) != 2 || narrow[0].Content != "U2: 第二" {
		t.Fatalf("Recent(2m) = %+v", narrow)
	}
}

func TestRecentStopsAtFirstOldInRoomEvent(t *testing.T) {
	t.Parallel()

	s := seed(t,
		msg("G1", "U1", "recent but behind an old one", time.Minute),
		msg("G1", "U1", "old", time.Hour),
		msg("G2", "U1", "ancient other room", 24*time.Hour),
		msg("G1", "U2", "fresh", 5*time.Second),
	)
	b := NewBuilder(s, nil, WithClock(clock))
	got := b.Recent("G1", 0)
	if len(got) != 1 || got[0].Content != "U2: fresh" {
		t.Fatalf("Recent() = %+v, want only the fresh message", got)
	}
}

func TestBeforeExcludesCurrentMessage(t *testing.T) {
	t.Parallel()

	s := seed(t, msg("G1", "U1", "earlier", time.Minute))
	pos, err := s.Append(msg("G1", "U2", "#真实 now", 0))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	b := NewBuilder(s, matcher.New(nil, nil), WithClock(clock))
	got := b.Before(pos, "G1", 0)
	if len(got) != 1 || got[0].Content != "U1: earlier" {
		t.Fatalf("Before() = %+v", got)
	}
}

func TestSelfMessagesBecomeAssistantTurns(t *testing.T) {
	t.Parallel()

	s := seed(t,
		msg("G1", "U1", "#真实 问题", time.Minute),
		msg("G1", "wxid_bot", "@U1 回答", 50*time.Second),
	)
	b := NewBuilder(s, matcher.New(nil, nil), WithClock(clock), WithSelf("wxid_bot"))
	got := b.Recent("G1", 0)
	if len(got) != 2 {
		t.Fatalf("Recent() = %+v", got)
	}
	if got[1].Role != models.RoleAssistant || got[1].Content != "@U1 回答" {
		t.Fatalf("self turn = %+v", got[1])
	}
}

func TestRecentWindowMonotonic(t *testing.T) {
	t.Parallel()

	var evs []*models.Event
	rooms := []string{"G1", "G2"}
	for i := 0; i < 40; i++ {
		evs = append(evs, msg(rooms[i%2], "U", fmt.Sprintf("m%02d", i), time.Duration(40-i)*15*time.Second))
	}
	b := NewBuilder(seed(t, evs...), nil, WithClock(clock))

	windows := []time.Duration{time.Minute, 2 * time.Minute, 5 * time.Minute, 20 * time.Minute}
	for i := 1; i < len(windows); i++ {
		small := b.Recent("G1", windows[i-1])
		large := b.Recent("G1", windows[i])
		if !isSubsequence(small, large) {
			t.Fatalf("Recent(%s) = %v is not a subsequence of Recent(%s) = %v", windows[i-1], small, windows[i], large)
		}
	}
}

func isSubsequence(small, large []models.ConversationTurn) bool {
	j := 0
	for _, turn := range large {
		if j < len(small) && small[j] == turn {
			j++
		}
	}
	return j == len(small)
}
