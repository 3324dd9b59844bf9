package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/kumoagent/kumo/internal/chatter"
	"github.com/kumoagent/kumo/internal/host"
	"github.com/kumoagent/kumo/internal/retry"
	"github.com/kumoagent/kumo/internal/store"
	"github.com/kumoagent/kumo/internal/tools"
	"github.com/kumoagent/kumo/pkg/models"
)

type fixedClient struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (c *fixedClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: c.reply,
			},
		}},
	}, nil
}

type fakePlatform struct {
	mu       sync.Mutex
	groups   map[int64][][]host.Segment
	privates map[int64][][]host.Segment
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		groups:   make(map[int64][][]host.Segment),
		privates: make(map[int64][][]host.Segment),
	}
}

func (f *fakePlatform) SendGroupMessage(ctx context.Context, groupID int64, segments []host.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[groupID] = append(f.groups[groupID], segments)
	return nil
}

func (f *fakePlatform) SendPrivateMessage(ctx context.Context, userID int64, segments []host.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.privates[userID] = append(f.privates[userID], segments)
	return nil
}

func (f *fakePlatform) UserInfo(ctx context.Context, userID int64) (models.UserProfile, error) {
	return models.UserProfile{UserID: userID, Nickname: "tester"}, nil
}

func testRegistry(t *testing.T, client chatter.CompletionClient) *chatter.Registry {
	t.Helper()
	dir := t.TempDir()
	for _, tag := range []string{"group", "private"} {
		content := fmt.Sprintf("activate: true\nmodel: gpt-4o-mini\ndefault_reply: \"mm.\"\nmessage_cache_len: 10\ncustom_system_prompt: \"%s kumo\"\n", tag)
		if err := os.WriteFile(filepath.Join(dir, tag+".yaml"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	deps := chatter.Deps{
		Client: client,
		Locals: tools.NewRegistry(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Retry:  retry.Config{MaxAttempts: 2, Delay: time.Millisecond},
	}
	return chatter.NewRegistry(dir, deps, nil, nil, nil)
}

func groupEvent(id int64, content string, mention bool) host.Event {
	segs := []host.MessageSegment{}
	if mention {
		segs = append(segs, host.MessageSegment{Type: "at", Data: map[string]any{"qq": float64(555)}})
	}
	segs = append(segs, host.MessageSegment{Type: "text", Data: map[string]any{"text": content}})
	return host.Event{
		PostType:    "message",
		MessageType: "group",
		MessageID:   id,
		SelfID:      555,
		UserID:      123456789,
		GroupID:     42,
		Message:     segs,
		Time:        time.Now().Unix(),
	}
}

func TestHandleEventGroupMentionReplies(t *testing.T) {
	client := &fixedClient{reply: "hello group"}
	platform := newFakePlatform()
	b := New(testRegistry(t, client), platform, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	b.HandleEvent(context.Background(), groupEvent(1, "hi kumo", true))

	sent := platform.groups[42]
	if len(sent) != 1 {
		t.Fatalf("group sends = %d, want 1", len(sent))
	}
	if sent[0][0].Content != "hello group" {
		t.Errorf("sent = %+v", sent[0])
	}
}

func TestHandleEventGroupWithoutMentionStaysSilent(t *testing.T) {
	client := &fixedClient{reply: "should not be sent"}
	platform := newFakePlatform()
	registry := testRegistry(t, client)
	b := New(registry, platform, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	b.HandleEvent(context.Background(), groupEvent(1, "just chatting", false))

	if len(platform.groups[42]) != 0 {
		t.Error("bot should not reply without a mention")
	}
	if client.calls != 0 {
		t.Errorf("inference calls = %d, want 0", client.calls)
	}
	// The message still lands in short-term memory for context.
	mem, _ := registry.MemoryFor(models.ClassGroup)
	if len(mem.History(models.GroupKey(42))) != 1 {
		t.Error("unaddressed group message should still be remembered")
	}
}

func TestHandleEventPrivateAlwaysReplies(t *testing.T) {
	client := &fixedClient{reply: "hello you"}
	platform := newFakePlatform()
	b := New(testRegistry(t, client), platform, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	b.HandleEvent(context.Background(), host.Event{
		PostType:    "message",
		MessageType: "private",
		MessageID:   7,
		SelfID:      555,
		UserID:      99,
		Message: []host.MessageSegment{
			{Type: "text", Data: map[string]any{"text": "hey"}},
		},
		Time: time.Now().Unix(),
	})

	if len(platform.privates[99]) != 1 {
		t.Fatalf("private sends = %d, want 1", len(platform.privates[99]))
	}
}

func TestHandleEventEmptyContentIgnored(t *testing.T) {
	client := &fixedClient{reply: "x"}
	platform := newFakePlatform()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	b := New(testRegistry(t, client), platform, db, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ev := groupEvent(1, "", true)
	ev.Message = nil
	b.HandleEvent(context.Background(), ev)

	if client.calls != 0 {
		t.Error("empty message should not reach inference")
	}
	msgs, err := db.Messages(context.Background(), models.GroupKey(42), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Error("empty message should not be persisted")
	}
}

func TestHandleEventPersistsMessageAndReply(t *testing.T) {
	client := &fixedClient{reply: "persisted reply"}
	platform := newFakePlatform()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	b := New(testRegistry(t, client), platform, db, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	b.HandleEvent(context.Background(), groupEvent(3, "hello", true))

	msgs, err := db.Messages(context.Background(), models.GroupKey(42), 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("persisted messages = %d, %v", len(msgs), err)
	}
	replies, err := db.Replies(context.Background(), models.GroupKey(42))
	if err != nil {
		t.Fatal(err)
	}
	if replies[3] != "persisted reply" {
		t.Errorf("persisted reply = %q", replies[3])
	}
}

func TestBuildSegmentsWithMemes(t *testing.T) {
	b := New(testRegistry(t, &fixedClient{}), newFakePlatform(), nil,
		map[string]string{"happy": "/memes/happy.png"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	segs := b.buildSegments(chatter.Result{
		Text:  "nice!",
		Memes: []string{"happy", "unknown"},
	})
	if len(segs) != 2 {
		t.Fatalf("segments = %+v", segs)
	}
	if segs[0].Type != "image" || segs[0].Content != "/memes/happy.png" {
		t.Errorf("segs[0] = %+v", segs[0])
	}
	if segs[1].Type != "text" || segs[1].Content != "nice!" {
		t.Errorf("segs[1] = %+v", segs[1])
	}
}

func TestDeliverReminder(t *testing.T) {
	client := &fixedClient{reply: "don't forget the tea!"}
	platform := newFakePlatform()
	b := New(testRegistry(t, client), platform, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	b.DeliverReminder(context.Background(), models.GroupKey(42), "tea")

	sent := platform.groups[42]
	if len(sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(sent))
	}
	if sent[0][0].Content != "don't forget the tea!" {
		t.Errorf("reminder text = %q", sent[0][0].Content)
	}
}

func TestLoadMemes(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"happy.png", "sad.JPG", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	memes := LoadMemes(dir)
	if len(memes) != 2 {
		t.Fatalf("memes = %v", memes)
	}
	if memes["happy"] == "" || memes["sad"] == "" {
		t.Errorf("memes = %v", memes)
	}
	if _, ok := memes["notes"]; ok {
		t.Error("non-image file should be ignored")
	}

	if got := LoadMemes(""); len(got) != 0 {
		t.Error("empty root should disable memes")
	}
	if got := LoadMemes("/nonexistent"); len(got) != 0 {
		t.Error("missing root should disable memes")
	}
}
