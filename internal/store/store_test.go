package store

import (
	"context"
	"testing"
	"time"

	"github.com/kumoagent/kumo/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(key models.ConversationKey, id int64, content string) models.MessageRecord {
	return models.MessageRecord{
		ID:       id,
		Key:      key,
		SenderID: 900000001,
		Content:  content,
		SentAt:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute),
	}
}

func TestInsertAndLoadMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := models.GroupKey(100)

	for _, id := range []int64{3, 1, 2} {
		if err := s.InsertMessage(ctx, msg(key, id, "m")); err != nil {
			t.Fatalf("InsertMessage() error = %v", err)
		}
	}

	got, err := s.Messages(ctx, key, 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []int64{1, 2, 3} {
		if got[i].ID != want {
			t.Errorf("got[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}
}

func TestInsertMessageIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := models.PrivateKey(5)

	rec := msg(key, 1, "first")
	if err := s.InsertMessage(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Content = "second"
	if err := s.InsertMessage(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Messages(ctx, key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "first" {
		t.Errorf("messages = %+v, want single original", got)
	}
}

func TestMessagesLimitReturnsNewest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := models.GroupKey(2)

	for id := int64(1); id <= 5; id++ {
		if err := s.InsertMessage(ctx, msg(key, id, "m")); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Messages(ctx, key, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 5 {
		t.Errorf("limited messages = %+v, want ids 4,5 in order", got)
	}
}

func TestRepliesFirstWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := models.GroupKey(1)

	if err := s.InsertReply(ctx, key, 7, "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertReply(ctx, key, 7, "second"); err != nil {
		t.Fatal(err)
	}

	replies, err := s.Replies(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if replies[7] != "first" {
		t.Errorf("replies[7] = %q, want first", replies[7])
	}
}

func TestConversations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMessage(ctx, msg(models.GroupKey(1), 1, "a")); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertMessage(ctx, msg(models.GroupKey(1), 2, "b")); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertMessage(ctx, msg(models.PrivateKey(9), 3, "c")); err != nil {
		t.Fatal(err)
	}

	keys, err := s.Conversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2", len(keys))
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := models.UserProfile{
		UserID:      42,
		Nickname:    "kumo-fan",
		Sex:         "female",
		Age:         28,
		Bio:         "likes tea",
		Location:    "osaka",
		RefreshedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("UpsertProfile() error = %v", err)
	}

	got, ok, err := s.Profile(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("Profile() = %v, %v", ok, err)
	}
	if got.Nickname != "kumo-fan" || got.Age != 28 {
		t.Errorf("profile = %+v", got)
	}

	p.Nickname = "renamed"
	if err := s.UpsertProfile(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, _, err = s.Profile(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if got.Nickname != "renamed" {
		t.Errorf("nickname after upsert = %q", got.Nickname)
	}

	all, err := s.Profiles(ctx)
	if err != nil || len(all) != 1 {
		t.Errorf("Profiles() = %d, %v", len(all), err)
	}
}

func TestProfileMissing(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Profile(context.Background(), 999)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if ok {
		t.Error("Profile() ok = true for missing user")
	}
}
