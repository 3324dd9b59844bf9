package tools

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kumoagent/kumo/internal/scheduler"
	"github.com/kumoagent/kumo/pkg/models"
)

// ReminderToolName is the function name the model calls to set a reminder.
const ReminderToolName = "reminder_schedule"

type conversationKeyType struct{}

// WithConversation attaches the originating conversation to the context so
// tools can route their side effects back to it.
func WithConversation(ctx context.Context, key models.ConversationKey) context.Context {
	return context.WithValue(ctx, conversationKeyType{}, key)
}

// ConversationFromContext returns the conversation attached by
// WithConversation, if any.
func ConversationFromContext(ctx context.Context) (models.ConversationKey, bool) {
	key, ok := ctx.Value(conversationKeyType{}).(models.ConversationKey)
	return key, ok
}

// ReminderArgs are the parsed arguments of a reminder tool call.
type ReminderArgs struct {
	Delay   time.Duration
	Content string
}

// ReminderNotify delivers a fired reminder back into its conversation.
type ReminderNotify func(ctx context.Context, key models.ConversationKey, content string)

// Reminder schedules a one-shot callback when the model asks to remind
// someone later. Identical argument payloads map to the same schedule key,
// so a repeated tool call cannot double-book the reminder.
type Reminder struct {
	sched  *scheduler.Scheduler
	notify ReminderNotify
	logger *slog.Logger
}

// NewReminder creates the reminder tool.
func NewReminder(sched *scheduler.Scheduler, notify ReminderNotify, logger *slog.Logger) *Reminder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reminder{
		sched:  sched,
		notify: notify,
		logger: logger.With("component", "reminder"),
	}
}

func (r *Reminder) Name() string { return ReminderToolName }

func (r *Reminder) Description() string {
	return "Schedule a reminder to be delivered to the current chat after a delay. " +
		"Use when a user asks to be reminded about something later."
}

func (r *Reminder) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"time": {
				"type": "string",
				"description": "Delay before the reminder fires: seconds as a number, or a duration like 5m or 1h30m"
			},
			"content": {
				"type": "string",
				"description": "What to remind the user about"
			}
		},
		"required": ["time", "content"]
	}`)
}

// Execute parses the arguments and books the reminder. The returned string is
// the acknowledgement shown to the model; argument problems come back as an
// error so the caller can surface them as a tool failure.
func (r *Reminder) Execute(ctx context.Context, args map[string]any) (string, error) {
	parsed, err := ParseReminderArgs(args)
	if err != nil {
		return "", err
	}

	key, ok := ConversationFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("no conversation attached to reminder call")
	}

	id := ReminderKey(args)
	booked := r.sched.Schedule(id, parsed.Delay, func() {
		r.logger.Info("reminder fired", "conversation", key.String(), "id", id)
		r.notify(context.Background(), key, parsed.Content)
	})
	if !booked {
		return "reminder already scheduled", nil
	}

	r.logger.Info("reminder booked",
		"conversation", key.String(),
		"id", id,
		"delay", parsed.Delay)
	return "reminder scheduled", nil
}

// ParseReminderArgs validates and converts the raw tool arguments.
func ParseReminderArgs(args map[string]any) (ReminderArgs, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return ReminderArgs{}, fmt.Errorf("reminder content is required")
	}

	var delayRaw string
	switch v := args["time"].(type) {
	case string:
		delayRaw = v
	case float64:
		delayRaw = fmt.Sprintf("%g", v)
	default:
		return ReminderArgs{}, fmt.Errorf("reminder time is required")
	}

	delay, err := scheduler.ParseDelay(delayRaw)
	if err != nil {
		return ReminderArgs{}, err
	}
	return ReminderArgs{Delay: delay, Content: content}, nil
}

// ReminderKey derives a stable schedule id from the tool call arguments by
// hashing them in sorted key order.
func ReminderKey(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := md5.New()
	for _, k := range keys {
		v, _ := json.Marshal(args[k])
		fmt.Fprintf(h, "%s=%s;", k, v)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
