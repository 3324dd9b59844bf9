package host

import (
	"testing"

	"github.com/kumoagent/kumo/pkg/models"
)

func baseEvent() Event {
	return Event{
		PostType:    "message",
		MessageType: "group",
		MessageID:   1001,
		SelfID:      555,
		UserID:      123456789,
		GroupID:     42,
		Time:        1748772000,
	}
}

func TestRecordFromEventGroupText(t *testing.T) {
	ev := baseEvent()
	ev.Message = []MessageSegment{
		{Type: "text", Data: map[string]any{"text": "hello everyone"}},
	}

	rec, err := RecordFromEvent(ev)
	if err != nil {
		t.Fatalf("RecordFromEvent() error = %v", err)
	}
	if rec.Key != models.GroupKey(42) {
		t.Errorf("Key = %v", rec.Key)
	}
	if rec.ID != 1001 || rec.SenderID != 123456789 {
		t.Errorf("rec = %+v", rec)
	}
	if rec.Content != "hello everyone" {
		t.Errorf("Content = %q", rec.Content)
	}
}

func TestRecordFromEventPrivateKey(t *testing.T) {
	ev := baseEvent()
	ev.MessageType = "private"
	ev.Message = []MessageSegment{
		{Type: "text", Data: map[string]any{"text": "hi"}},
	}

	rec, err := RecordFromEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Key != models.PrivateKey(123456789) {
		t.Errorf("Key = %v", rec.Key)
	}
}

func TestRecordFromEventSelfMention(t *testing.T) {
	ev := baseEvent()
	ev.Message = []MessageSegment{
		{Type: "at", Data: map[string]any{"qq": float64(555)}},
		{Type: "text", Data: map[string]any{"text": " what's the weather"}},
	}

	rec, err := RecordFromEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	if rec.MentionID != 555 {
		t.Errorf("MentionID = %d, want 555", rec.MentionID)
	}
	if rec.Content != "what's the weather" {
		t.Errorf("Content = %q, mention should not appear", rec.Content)
	}
}

func TestRecordFromEventOtherMention(t *testing.T) {
	ev := baseEvent()
	ev.Message = []MessageSegment{
		{Type: "at", Data: map[string]any{"qq": "777"}},
		{Type: "text", Data: map[string]any{"text": " hi"}},
	}

	rec, err := RecordFromEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	if rec.MentionID != 0 {
		t.Errorf("MentionID = %d, want 0", rec.MentionID)
	}
	if rec.Content != "@777 hi" {
		t.Errorf("Content = %q", rec.Content)
	}
}

func TestRecordFromEventPlaceholders(t *testing.T) {
	ev := baseEvent()
	ev.Message = []MessageSegment{
		{Type: "image", Data: map[string]any{"file": "a.png"}},
		{Type: "record", Data: map[string]any{}},
		{Type: "face", Data: map[string]any{"id": "14"}},
		{Type: "video", Data: map[string]any{}},
	}

	rec, err := RecordFromEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Content != "[image][voice][face][video]" {
		t.Errorf("Content = %q", rec.Content)
	}
}

func TestRecordFromEventFallsBackToRaw(t *testing.T) {
	ev := baseEvent()
	ev.RawMessage = "raw body"

	rec, err := RecordFromEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Content != "raw body" {
		t.Errorf("Content = %q", rec.Content)
	}
}

func TestRecordFromEventUnsupportedType(t *testing.T) {
	ev := baseEvent()
	ev.MessageType = "channel"
	if _, err := RecordFromEvent(ev); err == nil {
		t.Error("expected error for unsupported message type")
	}
}

func TestWireSegments(t *testing.T) {
	wire := wireSegments([]Segment{
		TextSegment("hello"),
		ImageSegment("meme.png"),
	})
	if len(wire) != 2 {
		t.Fatalf("len = %d", len(wire))
	}
	if wire[0]["type"] != "text" {
		t.Errorf("wire[0] = %v", wire[0])
	}
	data := wire[1]["data"].(map[string]any)
	if wire[1]["type"] != "image" || data["file"] != "meme.png" {
		t.Errorf("wire[1] = %v", wire[1])
	}
}
