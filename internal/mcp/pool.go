package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kumoagent/kumo/pkg/models"
)

// resultPartLimit caps how many text parts of a tool result are fed back
// into the model context.
const resultPartLimit = 10

// Pool owns the sessions to all configured tool endpoints and routes tool
// calls to the session that advertises the tool.
//
// The mutex serializes connect, reconnect, and disconnect. Execute resolves
// the owning session under a read lock but does not hold it across the
// network call, so a concurrent reconnect may race an in-flight call; the
// loser sees a transport error and takes the normal retry path.
type Pool struct {
	configs      []ServerConfig
	logger       *slog.Logger
	newTransport TransportFactory

	mu       sync.RWMutex
	sessions []*Session
	byName   map[string]int
}

// NewPool creates a pool for the configured endpoints. A nil config yields a
// pool with no sessions; every lookup then reports the tool as unknown.
func NewPool(cfg *Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		configs:      cfg.ServerConfigs(),
		logger:       logger.With("component", "mcp"),
		newTransport: NewHTTPTransport,
		byName:       make(map[string]int),
	}
}

// ConnectAll opens a session to every configured endpoint and records each
// discovered tool name against its owning session. Endpoints that fail to
// connect are logged and skipped; partial connectivity is not fatal.
func (p *Pool) ConnectAll(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cfg := range p.configs {
		sess := newSession(cfg, p.newTransport, p.logger)
		if err := sess.connect(ctx); err != nil {
			p.logger.Error("failed to connect to tool endpoint",
				"endpoint", cfg.Name,
				"error", err)
			continue
		}

		idx := len(p.sessions)
		p.sessions = append(p.sessions, sess)
		for _, tool := range sess.tools {
			p.byName[tool.Name] = idx
		}
	}

	p.logger.Info("tool endpoint pool ready",
		"endpoints", len(p.sessions),
		"tools", len(p.byName))
}

// Execute invokes a remote tool and returns its result as text. Failures
// never propagate past this boundary: after one reconnect-and-retry of the
// owning endpoint, the formatted error string itself becomes the result.
func (p *Pool) Execute(ctx context.Context, name string, args map[string]any) string {
	p.mu.RLock()
	idx, ok := p.byName[name]
	var sess *Session
	if ok && idx < len(p.sessions) {
		sess = p.sessions[idx]
	}
	p.mu.RUnlock()

	if sess == nil {
		return "no tool found with name: " + name
	}

	result, err := sess.callTool(ctx, name, args)
	if err == nil {
		return formatToolResult(result)
	}

	p.markDead(idx)
	p.logger.Warn("tool call failed, attempting reconnect",
		"tool", name,
		"endpoint", sess.cfg.Name,
		"error", err)

	if !p.Reconnect(ctx, idx) {
		return fmt.Sprintf("error executing tool %s: %v", name, err)
	}

	p.mu.RLock()
	sess = p.sessions[idx]
	p.mu.RUnlock()

	result, err = sess.callTool(ctx, name, args)
	if err != nil {
		p.markDead(idx)
		return fmt.Sprintf("error executing tool %s: %v", name, err)
	}
	return formatToolResult(result)
}

// Reconnect re-establishes the session at the given index in place,
// re-running tool discovery. It returns false without side effects on the
// rest of the pool when the index is out of range or the attempt fails.
func (p *Pool) Reconnect(ctx context.Context, index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.sessions) {
		p.logger.Warn("reconnect index out of range", "index", index)
		return false
	}

	old := p.sessions[index]
	replacement := newSession(old.cfg, p.newTransport, p.logger)
	if err := replacement.connect(ctx); err != nil {
		p.logger.Error("reconnect failed",
			"endpoint", old.cfg.Name,
			"error", err)
		return false
	}

	old.close()
	p.sessions[index] = replacement

	// Drop stale names owned by this session, then register the fresh set.
	for toolName, owner := range p.byName {
		if owner == index {
			delete(p.byName, toolName)
		}
	}
	for _, tool := range replacement.tools {
		p.byName[tool.Name] = index
	}

	p.logger.Info("endpoint reconnected",
		"endpoint", old.cfg.Name,
		"tools", len(replacement.tools))
	return true
}

// Catalog returns the flattened tool catalog, de-duplicated by name with the
// last-registered descriptor winning, in session order.
func (p *Pool) Catalog() []models.ToolDescriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []models.ToolDescriptor
	index := make(map[string]int)
	for _, sess := range p.sessions {
		for _, tool := range sess.tools {
			desc := models.ToolDescriptor{
				Name:        tool.Name,
				Description: tool.Description,
				Schema:      tool.InputSchema,
			}
			if at, seen := index[tool.Name]; seen {
				out[at] = desc
				continue
			}
			index[tool.Name] = len(out)
			out = append(out, desc)
		}
	}
	return out
}

// Has reports whether a remote tool with the given name is known.
func (p *Pool) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byName[name]
	return ok
}

// Sessions returns the number of live-or-dead sessions in the pool.
func (p *Pool) Sessions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Alive reports the liveness flag of the session at index.
func (p *Pool) Alive(index int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if index < 0 || index >= len(p.sessions) {
		return false
	}
	return p.sessions[index].alive
}

// DisconnectAll releases every session. It is idempotent and safe to call
// even when ConnectAll partially failed.
func (p *Pool) DisconnectAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sess := range p.sessions {
		if err := sess.close(); err != nil {
			p.logger.Error("failed to close session",
				"endpoint", sess.cfg.Name,
				"error", err)
		}
	}
	p.sessions = nil
	p.byName = make(map[string]int)
}

func (p *Pool) markDead(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index >= 0 && index < len(p.sessions) {
		p.sessions[index].alive = false
	}
}

func formatToolResult(result *CallToolResult) string {
	parts := make([]string, 0, len(result.Content))
	for _, part := range result.Content {
		if part.Text == "" {
			continue
		}
		parts = append(parts, part.Text)
		if len(parts) >= resultPartLimit {
			break
		}
	}
	return "Tool execution result: " + strings.Join(parts, "\n")
}
