package chatter

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/kumoagent/kumo/internal/tools"
	"github.com/kumoagent/kumo/pkg/models"
)

// GroupChatter answers in group conversations. It advertises the reminder
// tool and short-circuits to an acknowledgement when the model books one.
type GroupChatter struct {
	*service
}

// NewGroupChatter creates the group variant.
func NewGroupChatter(cfg *VariantConfig, deps Deps) *GroupChatter {
	return &GroupChatter{service: newService("group", cfg, deps)}
}

// Active reports whether the variant is enabled.
func (g *GroupChatter) Active() bool {
	return g.cfg.Activate
}

// Respond records the message and, when active, runs the tool loop to
// produce a reply. Messages handled for the same group are serialized.
func (g *GroupChatter) Respond(ctx context.Context, rec models.MessageRecord) (Result, error) {
	if !g.Active() {
		g.deps.Memory.Append(ctx, rec)
		return Result{Text: g.cfg.DefaultReply}, nil
	}

	unlock := g.lockConversation(rec.Key)
	defer unlock()

	g.deps.Memory.Append(ctx, rec)

	messages := g.buildContext(rec.Key)
	result, err := g.runToolLoop(ctx, rec.Key, messages, map[string]bool{
		tools.ReminderToolName: true,
	})
	if err != nil {
		return Result{}, err
	}

	if result.Text != "" {
		g.deps.Memory.RecordReply(rec.Key, rec.ID, result.Text)
	}
	return result, nil
}

// Remind produces the message delivered when a booked reminder fires. The
// model phrases the reminder in character; if it declines or the variant is
// inactive, the raw content is delivered as-is.
func (g *GroupChatter) Remind(ctx context.Context, key models.ConversationKey, content string) string {
	if !g.Active() {
		return content
	}

	messages := g.buildContext(key)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: "A reminder you booked earlier is due now. Remind the chat about: " + content,
	})

	msg, err := g.infer(ctx, messages, nil)
	if err != nil {
		g.logger.Error("reminder inference failed", "conversation", key.String(), "error", err)
		return content
	}
	if text := stripThink(msg.Content); text != "" {
		return text
	}
	return content
}

// buildContext renders the conversation for the model: the system prompt,
// then user and assistant turns oldest first. Group user turns carry the
// send time and sender label so the model can tell speakers apart.
func (g *GroupChatter) buildContext(key models.ConversationKey) []openai.ChatCompletionMessage {
	now := time.Now()
	var messages []openai.ChatCompletionMessage

	if prompt := g.cfg.SystemPrompt(map[string]string{
		"date": now.Format("2006-01-02"),
		"time": now.Format("15:04"),
	}); prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt,
		})
	}

	for _, turn := range g.deps.Memory.Turns(key) {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: formatGroupTurn(turn.Record),
		})
		if turn.Reply != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Reply,
			})
		}
	}
	return messages
}

func formatGroupTurn(rec models.MessageRecord) string {
	return fmt.Sprintf("%s|%s|%s",
		rec.SentAt.Format("2006-01-02 15:04:05"),
		rec.SenderLabel(),
		rec.Content)
}
