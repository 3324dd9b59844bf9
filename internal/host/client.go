package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kumoagent/kumo/pkg/models"
)

// callTimeout bounds how long an API call waits for its echoed response.
const callTimeout = 15 * time.Second

// Handler receives inbound message events.
type Handler func(ctx context.Context, ev Event)

// Client is the websocket connection to the OneBot endpoint. API responses
// are matched to requests by echo id; everything else flows to the handler.
type Client struct {
	url    string
	token  string
	logger *slog.Logger

	handler Handler

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan apiResponse

	done chan struct{}
}

type apiRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

type apiResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Echo    string          `json:"echo"`
}

// NewClient creates a disconnected client.
func NewClient(url, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:     url,
		token:   token,
		logger:  logger.With("component", "host"),
		pending: make(map[string]chan apiResponse),
		done:    make(chan struct{}),
	}
}

// OnEvent sets the inbound message handler. Must be called before Connect.
func (c *Client) OnEvent(h Handler) {
	c.handler = h
}

// Connect dials the endpoint and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	header := map[string][]string{}
	if c.token != "" {
		header["Authorization"] = []string{"Bearer " + c.token}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial host websocket: %w", err)
	}
	c.conn = conn
	c.logger.Info("connected to host", "url", c.url)

	go c.readLoop(ctx)
	return nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	close(c.done)
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Error("host read failed", "error", err)
			}
			return
		}
		c.route(ctx, payload)
	}
}

// route decides whether a frame is an API response or an event.
func (c *Client) route(ctx context.Context, payload []byte) {
	var probe struct {
		Echo     string `json:"echo"`
		PostType string `json:"post_type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		c.logger.Warn("undecodable host frame", "error", err)
		return
	}

	if probe.Echo != "" {
		var resp apiResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			c.logger.Warn("undecodable api response", "error", err)
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.Echo]
		delete(c.pending, resp.Echo)
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
		return
	}

	if probe.PostType != "message" {
		c.logger.Debug("ignoring non-message event", "post_type", probe.PostType)
		return
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.logger.Warn("undecodable message event", "error", err)
		return
	}
	if c.handler != nil {
		go c.handler(ctx, ev)
	}
}

// call sends an API request and waits for its echoed response.
func (c *Client) call(ctx context.Context, action string, params any) (json.RawMessage, error) {
	echo := uuid.New().String()
	ch := make(chan apiResponse, 1)

	c.pendingMu.Lock()
	c.pending[echo] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, echo)
		c.pendingMu.Unlock()
	}()

	c.connMu.Lock()
	conn := c.conn
	var err error
	if conn == nil {
		err = fmt.Errorf("not connected")
	} else {
		err = conn.WriteJSON(apiRequest{Action: action, Params: params, Echo: echo})
	}
	c.connMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", action, err)
	}

	select {
	case resp := <-ch:
		if resp.Status == "failed" || resp.Retcode != 0 {
			return nil, fmt.Errorf("%s failed with retcode %d", action, resp.Retcode)
		}
		return resp.Data, nil
	case <-time.After(callTimeout):
		return nil, fmt.Errorf("%s timed out", action)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wireSegments converts outbound segments to the platform format.
func wireSegments(segments []Segment) []map[string]any {
	out := make([]map[string]any, 0, len(segments))
	for _, seg := range segments {
		switch seg.Type {
		case "image":
			out = append(out, map[string]any{
				"type": "image",
				"data": map[string]any{"file": seg.Content},
			})
		default:
			out = append(out, map[string]any{
				"type": "text",
				"data": map[string]any{"text": seg.Content},
			})
		}
	}
	return out
}

// SendGroupMessage delivers segments to a group.
func (c *Client) SendGroupMessage(ctx context.Context, groupID int64, segments []Segment) error {
	_, err := c.call(ctx, "send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  wireSegments(segments),
	})
	return err
}

// SendPrivateMessage delivers segments to a user.
func (c *Client) SendPrivateMessage(ctx context.Context, userID int64, segments []Segment) error {
	_, err := c.call(ctx, "send_private_msg", map[string]any{
		"user_id": userID,
		"message": wireSegments(segments),
	})
	return err
}

// UserInfo fetches a user's platform profile.
func (c *Client) UserInfo(ctx context.Context, userID int64) (models.UserProfile, error) {
	data, err := c.call(ctx, "get_stranger_info", map[string]any{
		"user_id":  userID,
		"no_cache": true,
	})
	if err != nil {
		return models.UserProfile{}, err
	}

	var info struct {
		UserID   int64  `json:"user_id"`
		Nickname string `json:"nickname"`
		Sex      string `json:"sex"`
		Age      int    `json:"age"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return models.UserProfile{}, fmt.Errorf("parse stranger info: %w", err)
	}

	return models.UserProfile{
		UserID:      info.UserID,
		Nickname:    info.Nickname,
		Sex:         info.Sex,
		Age:         info.Age,
		RefreshedAt: time.Now(),
	}, nil
}
