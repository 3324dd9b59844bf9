package chatter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/kumoagent/kumo/pkg/models"
)

// recallLimit is how many long-term documents a private reply may pull in.
const recallLimit = 5

// ProfileSource resolves user profiles from the chat platform.
type ProfileSource interface {
	UserInfo(ctx context.Context, userID int64) (models.UserProfile, error)
}

// ProfileStore persists profiles between restarts.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p models.UserProfile) error
	Profile(ctx context.Context, userID int64) (models.UserProfile, bool, error)
}

// PrivateChatter answers direct messages. It folds the sender's profile and
// recalled long-term memory into the context, and extracts meme tags from
// replies.
type PrivateChatter struct {
	*service
	profiles ProfileSource
	storage  ProfileStore
}

// NewPrivateChatter creates the private variant. Both profile dependencies
// are optional; without them replies simply omit profile context.
func NewPrivateChatter(cfg *VariantConfig, deps Deps, profiles ProfileSource, storage ProfileStore) *PrivateChatter {
	return &PrivateChatter{
		service:  newService("private", cfg, deps),
		profiles: profiles,
		storage:  storage,
	}
}

// Active reports whether the variant is enabled.
func (p *PrivateChatter) Active() bool {
	return p.cfg.Activate
}

// Respond records the message and, when active, answers it. Messages from
// the same user are serialized.
func (p *PrivateChatter) Respond(ctx context.Context, rec models.MessageRecord) (Result, error) {
	if !p.Active() {
		p.deps.Memory.Append(ctx, rec)
		return Result{Text: p.cfg.DefaultReply}, nil
	}

	unlock := p.lockConversation(rec.Key)
	defer unlock()

	p.deps.Memory.Append(ctx, rec)

	messages := p.buildContext(ctx, rec)
	result, err := p.runToolLoop(ctx, rec.Key, messages, nil)
	if err != nil {
		return Result{}, err
	}

	if result.Text != "" {
		text, memes := ExtractMemes(result.Text)
		result.Text = text
		result.Memes = memes
		p.deps.Memory.RecordReply(rec.Key, rec.ID, text)
	}
	return result, nil
}

// buildContext renders the direct conversation: system prompt with the
// sender's profile folded in, prior turns, a recall block with relevant
// long-term memories, then the current message.
func (p *PrivateChatter) buildContext(ctx context.Context, rec models.MessageRecord) []openai.ChatCompletionMessage {
	now := time.Now()
	var messages []openai.ChatCompletionMessage

	if prompt := p.cfg.SystemPrompt(map[string]string{
		"date":         now.Format("2006-01-02"),
		"time":         now.Format("15:04"),
		"sender":       rec.SenderLabel(),
		"user_profile": p.profileSummary(ctx, rec.SenderID),
	}); prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt,
		})
	}

	turns := p.deps.Memory.Turns(rec.Key)
	for _, turn := range turns {
		if turn.Record.ID == rec.ID {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: turn.Record.Content,
		})
		if turn.Reply != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Reply,
			})
		}
	}

	if docs := p.deps.Memory.Recall(ctx, rec.Key, rec.Content, recallLimit); len(docs) > 0 {
		var sb strings.Builder
		sb.WriteString("Relevant context from earlier conversations:\n")
		for _, doc := range docs {
			sb.WriteString("- ")
			sb.WriteString(doc)
			sb.WriteString("\n")
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: strings.TrimRight(sb.String(), "\n"),
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: rec.Content,
	})
	return messages
}

// profileSummary returns a one-line profile for the prompt, refreshing the
// stored profile from the platform when it has gone stale.
func (p *PrivateChatter) profileSummary(ctx context.Context, userID int64) string {
	if p.storage == nil {
		return ""
	}

	profile, found, err := p.storage.Profile(ctx, userID)
	if err != nil {
		p.logger.Error("profile lookup failed", "user", userID, "error", err)
		return ""
	}

	if (!found || profile.Stale(time.Now())) && p.profiles != nil {
		fresh, err := p.profiles.UserInfo(ctx, userID)
		if err != nil {
			p.logger.Warn("profile refresh failed", "user", userID, "error", err)
		} else {
			fresh.UserID = userID
			fresh.RefreshedAt = time.Now()
			if err := p.storage.UpsertProfile(ctx, fresh); err != nil {
				p.logger.Error("profile persist failed", "user", userID, "error", err)
			}
			profile, found = fresh, true
		}
	}

	if !found {
		return ""
	}

	var parts []string
	if profile.Nickname != "" {
		parts = append(parts, "nickname: "+profile.Nickname)
	}
	if profile.Sex != "" {
		parts = append(parts, "sex: "+profile.Sex)
	}
	if profile.Age > 0 {
		parts = append(parts, fmt.Sprintf("age: %d", profile.Age))
	}
	if profile.Location != "" {
		parts = append(parts, "location: "+profile.Location)
	}
	if profile.Bio != "" {
		parts = append(parts, "bio: "+profile.Bio)
	}
	return strings.Join(parts, ", ")
}

var memePattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// ExtractMemes pulls [tag] markers out of a reply. The returned text has
// the markers removed; the tags are returned in order of appearance.
func ExtractMemes(reply string) (string, []string) {
	var memes []string
	text := memePattern.ReplaceAllStringFunc(reply, func(match string) string {
		memes = append(memes, strings.Trim(match, "[]"))
		return ""
	})
	return strings.TrimSpace(text), memes
}
