// Package chatter holds the conversation services: one variant per chat
// class, each driving the model through a bounded tool-orchestration loop.
package chatter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/kumoagent/kumo/internal/memory"
	"github.com/kumoagent/kumo/internal/retry"
	"github.com/kumoagent/kumo/internal/tools"
	"github.com/kumoagent/kumo/pkg/models"
)

// maxToolIterations caps dispatch/infer rounds within one response.
const maxToolIterations = 5

// CompletionClient is the slice of the OpenAI client the chatters use.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// RemoteTools is the remote tool pool as seen by the chatters.
type RemoteTools interface {
	Execute(ctx context.Context, name string, args map[string]any) string
	Catalog() []models.ToolDescriptor
}

// Deps carries everything a chatter needs. It is assembled once at startup
// and handed to each variant.
type Deps struct {
	Client CompletionClient
	Locals *tools.Registry
	Remote RemoteTools
	Memory *memory.Store
	Logger *slog.Logger
	Retry  retry.Config
}

// Result is the outcome of handling one message.
type Result struct {
	// Text is the reply to send. Empty means stay silent.
	Text string

	// Memes are tags extracted from the reply, to be rendered as stickers.
	Memes []string

	// Reminder is set when the response was short-circuited by a
	// reminder tool call.
	Reminder bool
}

// Chatter handles messages of one conversation class.
type Chatter interface {
	// Respond processes one incoming message end to end.
	Respond(ctx context.Context, rec models.MessageRecord) (Result, error)

	// Active reports whether the variant is enabled.
	Active() bool
}

var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThink removes reasoning blocks the model may emit before its answer.
func stripThink(content string) string {
	return strings.TrimSpace(thinkPattern.ReplaceAllString(content, ""))
}

// service is the shared engine behind the variants.
type service struct {
	tag    string
	cfg    *VariantConfig
	deps   Deps
	logger *slog.Logger

	locksMu sync.Mutex
	locks   map[models.ConversationKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newService(tag string, cfg *VariantConfig, deps Deps) *service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		tag:    tag,
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "chatter", "variant", tag),
		locks:  make(map[models.ConversationKey]*keyLock),
	}
}

// lockConversation serializes message handling per conversation so replies
// land in the order messages arrived. Different conversations proceed in
// parallel.
func (s *service) lockConversation(key models.ConversationKey) func() {
	s.locksMu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &keyLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}

// infer runs one chat completion with bounded retries on transient provider
// errors. A response with no content and no tool calls comes back as an
// empty message with nil error; the caller treats it as "say nothing".
func (s *service) infer(ctx context.Context, messages []openai.ChatCompletionMessage, toolDefs []openai.Tool) (openai.ChatCompletionMessage, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Messages:    messages,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}
	if len(toolDefs) > 0 {
		req.Tools = toolDefs
	}

	resp, err := retry.DoWithValue(ctx, s.deps.Retry, func() (openai.ChatCompletionResponse, error) {
		resp, err := s.deps.Client.CreateChatCompletion(ctx, req)
		if err != nil && !isTransient(err) {
			return resp, retry.Permanent(err)
		}
		return resp, err
	})
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, nil
	}
	return resp.Choices[0].Message, nil
}

// isTransient classifies provider errors worth retrying: rate limits,
// 5xx responses, and timeouts.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"rate limit", "429",
		"500", "502", "503", "504",
		"timeout", "deadline exceeded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// toolDefs merges the local catalog with the remote one into the request
// format. Local tools shadow remote tools of the same name.
func (s *service) toolDefs() []openai.Tool {
	seen := make(map[string]bool)
	var defs []openai.Tool

	add := func(desc models.ToolDescriptor) {
		if seen[desc.Name] {
			return
		}
		seen[desc.Name] = true
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        desc.Name,
				Description: desc.Description,
				Parameters:  desc.Schema,
			},
		})
	}

	if s.deps.Locals != nil {
		for _, desc := range s.deps.Locals.Descriptors() {
			add(desc)
		}
	}
	if s.deps.Remote != nil {
		for _, desc := range s.deps.Remote.Catalog() {
			add(desc)
		}
	}
	return defs
}

// runToolLoop drives infer/dispatch rounds until the model answers in plain
// text or the iteration cap is reached. Short-circuit tool names end the
// loop immediately after their side effect runs.
func (s *service) runToolLoop(ctx context.Context, key models.ConversationKey, messages []openai.ChatCompletionMessage, shortCircuit map[string]bool) (Result, error) {
	ctx = tools.WithConversation(ctx, key)
	defs := s.toolDefs()

	for i := 0; i < maxToolIterations; i++ {
		msg, err := s.infer(ctx, messages, defs)
		if err != nil {
			return Result{}, err
		}

		if len(msg.ToolCalls) == 0 {
			return Result{Text: stripThink(msg.Content)}, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			name := call.Function.Name
			args := parseToolArgs(call.Function.Arguments)

			if shortCircuit[name] {
				s.dispatch(ctx, name, args)
				return Result{Text: s.cfg.DefaultReply, Reminder: true}, nil
			}

			output := s.dispatch(ctx, name, args)
			s.logger.Debug("tool dispatched",
				"conversation", key.String(),
				"tool", name)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	s.logger.Warn("tool iteration cap reached", "conversation", key.String())
	return Result{Text: s.cfg.DefaultReply}, nil
}

// dispatch routes one tool call. Local tools are consulted before the
// remote pool; the remote pool also supplies the not-found message.
func (s *service) dispatch(ctx context.Context, name string, args map[string]any) string {
	if s.deps.Locals != nil {
		if tool, ok := s.deps.Locals.Get(name); ok {
			out, err := tool.Execute(ctx, args)
			if err != nil {
				return fmt.Sprintf("error executing tool %s: %v", name, err)
			}
			return out
		}
	}
	if s.deps.Remote != nil {
		return s.deps.Remote.Execute(ctx, name, args)
	}
	return "no tool found with name: " + name
}

func parseToolArgs(raw string) map[string]any {
	args := make(map[string]any)
	if raw != "" {
		// Malformed arguments dispatch as empty and let the tool complain.
		_ = json.Unmarshal([]byte(raw), &args)
	}
	return args
}
