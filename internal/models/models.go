package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// TextMessage is the gateway type code for plain text chat messages.
const TextMessage = 1

// DatetimeLayout is the layout of Event.Datetime.
const DatetimeLayout = "2006-01-02 15:04:05"

// Event is one inbound chat message observed on the gateway stream.
type Event struct {
	ID        OpaqueID `json:"id"`
	Type      int      `json:"type"`
	Sender    string   `json:"sender"`
	Content   string   `json:"content"`
	RoomID    string   `json:"roomid,omitempty"`
	Timestamp int64    `json:"timestamp"`
	Datetime  string   `json:"datetime"`
}

// IsText reports whether the event carries a plain text message.
func (e *Event) IsText() bool {
	return e.Type == TextMessage
}

// Time returns the event timestamp as a time.Time.
func (e *Event) Time() time.Time {
	return time.Unix(e.Timestamp, 0)
}

// OpaqueID keeps an identifier exactly as the gateway sent it, number or string.
type OpaqueID json.RawMessage

func (id OpaqueID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return id, nil
}

func (id *OpaqueID) UnmarshalJSON(data []byte) error {
	*id = append((*id)[0:0], bytes.TrimSpace(data)...)
	return nil
}

func (id OpaqueID) String() string {
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}

// Mode selects the system prompt used for a chat completion.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeDS     Mode = "ds"
	ModeZS     Mode = "zs"
)

// ParseMode maps a configured mode name to a Mode. Unknown names fall back to ModeNormal.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeDS:
		return ModeDS
	case ModeZS:
		return ModeZS
	default:
		return ModeNormal
	}
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one entry of the history handed to the chat model.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MatchResult describes whether an event addresses the bot.
type MatchResult struct {
	Matched bool   `json:"matched"`
	Prefix  string `json:"prefix"`
	Mode    Mode   `json:"mode"`
	// Content is the message text with the matched prefix removed.
	Content string `json:"-"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RequestLog is one audited chat-completion attempt.
type RequestLog struct {
	Timestamp  string `json:"timestamp"`
	Message    string `json:"message"`
	Model      string `json:"model"`
	PromptType Mode   `json:"prompt_type"`
	History    bool   `json:"history"`
	Status     string `json:"status"`
	Response   string `json:"response"`
}
