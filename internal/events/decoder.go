package events

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/wcf-bot/internal/models"
)

const dataPrefix = "data: "

// Kind classifies one line read from the gateway stream.
type Kind int

const (
	// Ignored lines carry nothing: blanks, comments and non-data fields.
	Ignored Kind = iota
	// Message lines decode to a fully qualified Event.
	Message
	// Heartbeat lines parse but lack required message fields.
	Heartbeat
	// Malformed lines carry a data payload that is not valid JSON.
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Message:
		return "message"
	case Heartbeat:
		return "heartbeat"
	case Malformed:
		return "malformed"
	default:
		return "ignored"
	}
}

var requiredFields = []string{"id", "type", "sender", "content"}

// Frame is the decoded form of one stream line.
type Frame struct {
	Kind  Kind
	Event *models.Event
	// Payload is the data after the framing prefix, kept for logging.
	Payload string
	Err     error
}

// Decoder turns framed stream lines into events.
type Decoder struct {
	now func() time.Time
}

func NewDecoder(now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{now: now}
}

// Decode classifies a single line. Events missing a timestamp or datetime are
// stamped with the ingestion time. Loosely typed fields never make a parsed
// object malformed.
func (d *Decoder) Decode(line string) Frame {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return Frame{Kind: Ignored}
	}
	payload := line[len(dataPrefix):]
	if strings.TrimSpace(payload) == "" {
		return Frame{Kind: Ignored}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		// Valid JSON that is not an object (e.g. "ping") is a keepalive.
		if json.Valid([]byte(payload)) {
			return Frame{Kind: Heartbeat, Payload: payload}
		}
		return Frame{Kind: Malformed, Payload: payload, Err: err}
	}
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			return Frame{Kind: Heartbeat, Payload: payload}
		}
	}

	ev := models.Event{
		ID:       models.OpaqueID(fields["id"]),
		Type:     typeCode(fields["type"]),
		Sender:   text(fields["sender"]),
		Content:  text(fields["content"]),
		RoomID:   text(fields["roomid"]),
		Datetime: text(fields["datetime"]),
	}

	now := d.now()
	if ts, ok := number(fields["timestamp"]); ok && ts > 0 {
		ev.Timestamp = int64(ts)
	} else {
		ev.Timestamp = now.Unix()
	}
	if ev.Datetime == "" {
		ev.Datetime = now.Format(models.DatetimeLayout)
	}
	return Frame{Kind: Message, Event: &ev, Payload: payload}
}

// typeCode reads an integral JSON number. Anything else becomes 0, which no
// command accepts.
func typeCode(raw json.RawMessage) int {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || f != math.Trunc(f) {
		return 0
	}
	return int(f)
}

// number reads a JSON number or a numeric string.
func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

// text reads a JSON string. null is empty; other values keep their JSON text.
func text(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}
