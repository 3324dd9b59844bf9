// Package host adapts the OneBot v11 chat platform: inbound events over a
// websocket, outbound API calls correlated by echo id.
package host

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kumoagent/kumo/pkg/models"
)

// Host is the outbound surface the bot uses.
type Host interface {
	// SendGroupMessage delivers segments to a group conversation.
	SendGroupMessage(ctx context.Context, groupID int64, segments []Segment) error

	// SendPrivateMessage delivers segments to a user.
	SendPrivateMessage(ctx context.Context, userID int64, segments []Segment) error

	// UserInfo fetches a user's platform profile.
	UserInfo(ctx context.Context, userID int64) (models.UserProfile, error)
}

// Event is an inbound platform event. Only post_type "message" events are
// dispatched to the bot; everything else is logged and dropped.
type Event struct {
	PostType    string           `json:"post_type"`
	MessageType string           `json:"message_type"`
	MessageID   int64            `json:"message_id"`
	SelfID      int64            `json:"self_id"`
	UserID      int64            `json:"user_id"`
	GroupID     int64            `json:"group_id"`
	RawMessage  string           `json:"raw_message"`
	Message     []MessageSegment `json:"message"`
	Sender      Sender           `json:"sender"`
	Time        int64            `json:"time"`
}

// Sender is the message author as reported by the platform.
type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Sex      string `json:"sex"`
	Age      int    `json:"age"`
}

// MessageSegment is one inbound message part.
type MessageSegment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Segment is one outbound message part.
type Segment struct {
	// Type is "text" or "image".
	Type string

	// Content is the text, or the image file reference.
	Content string
}

// TextSegment builds a plain text segment.
func TextSegment(text string) Segment {
	return Segment{Type: "text", Content: text}
}

// ImageSegment builds an image segment from a file reference or URL.
func ImageSegment(file string) Segment {
	return Segment{Type: "image", Content: file}
}

// RecordFromEvent flattens a message event into a message record. Non-text
// segments become bracketed placeholders; an at-mention of the bot itself
// sets MentionID instead of appearing in the content.
func RecordFromEvent(ev Event) (models.MessageRecord, error) {
	var key models.ConversationKey
	switch ev.MessageType {
	case "group":
		key = models.GroupKey(ev.GroupID)
	case "private":
		key = models.PrivateKey(ev.UserID)
	default:
		return models.MessageRecord{}, fmt.Errorf("unsupported message type %q", ev.MessageType)
	}

	rec := models.MessageRecord{
		ID:       ev.MessageID,
		Key:      key,
		SenderID: ev.UserID,
		SentAt:   time.Unix(ev.Time, 0),
	}

	var sb strings.Builder
	for _, seg := range ev.Message {
		switch seg.Type {
		case "text":
			if text, ok := seg.Data["text"].(string); ok {
				sb.WriteString(text)
			}
		case "at":
			target := segmentInt(seg.Data, "qq")
			if target != 0 && target == ev.SelfID {
				rec.MentionID = target
				continue
			}
			fmt.Fprintf(&sb, "@%d", target)
		case "image":
			sb.WriteString("[image]")
		case "record":
			sb.WriteString("[voice]")
		case "face":
			sb.WriteString("[face]")
		default:
			fmt.Fprintf(&sb, "[%s]", seg.Type)
		}
	}
	rec.Content = strings.TrimSpace(sb.String())

	if rec.Content == "" && ev.RawMessage != "" {
		rec.Content = strings.TrimSpace(ev.RawMessage)
	}
	return rec, nil
}

// segmentInt reads a numeric field that the platform may encode as a JSON
// number or a string.
func segmentInt(data map[string]any, field string) int64 {
	switch v := data[field].(type) {
	case float64:
		return int64(v)
	case string:
		var n int64
		fmt.Sscanf(v, "%d", &n)
		return n
	default:
		return 0
	}
}
