package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

const protocolVersion = "2024-11-05"

// Session is a live connection to one remote tool-serving endpoint. It is
// owned exclusively by the Pool; liveness flips to false on a detected
// transport error and is cleared only by a successful reconnect.
type Session struct {
	cfg       ServerConfig
	transport Transport
	logger    *slog.Logger

	serverInfo ServerInfo
	tools      []Tool
	alive      bool
}

func newSession(cfg ServerConfig, factory TransportFactory, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:       cfg,
		transport: factory(cfg),
		logger:    logger.With("endpoint", cfg.Name),
	}
}

// connect establishes the transport, performs the initialize handshake, and
// discovers the endpoint's tool catalog.
func (s *Session) connect(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := s.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "kumo",
			"version": "1.0.0",
		},
	})
	if err != nil {
		s.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		s.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}
	s.serverInfo = initResult.ServerInfo

	if err := s.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		s.logger.Warn("failed to send initialized notification", "error", err)
	}

	listResult, err := s.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		s.transport.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	var listed ListToolsResult
	if err := json.Unmarshal(listResult, &listed); err != nil {
		s.transport.Close()
		return fmt.Errorf("parse tool list: %w", err)
	}
	s.tools = listed.Tools
	s.alive = true

	s.logger.Info("connected to tool endpoint",
		"server", s.serverInfo.Name,
		"version", s.serverInfo.Version,
		"tools", len(s.tools))
	return nil
}

// callTool invokes a tool on this session.
func (s *Session) callTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	result, err := s.transport.Call(ctx, "tools/call", CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	var callResult CallToolResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tool result: %w", err)
	}
	return &callResult, nil
}

func (s *Session) close() error {
	s.alive = false
	return s.transport.Close()
}
