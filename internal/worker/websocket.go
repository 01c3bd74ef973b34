package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Signal is a server-to-worker message.
type Signal struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Command is a worker-to-server message.
type Command struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// WebSocketClient is the signaling connection to the job server.
type WebSocketClient struct {
	url    string
	token  string
	conn   *websocket.Conn
	logger *slog.Logger
}

func NewWebSocketClient(serverURL, token string, logger *slog.Logger) *WebSocketClient {
	return &WebSocketClient{
		url:    serverURL,
		token:  token,
		logger: logger,
	}
}

func (c *WebSocketClient) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.logger.Info("signaling connected", slog.String("url", c.url))
	return nil
}

func (c *WebSocketClient) ReadSignal(ctx context.Context) (*Signal, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	var signal Signal
	if err := c.conn.ReadJSON(&signal); err != nil {
		return nil, fmt.Errorf("failed to read signal: %w", err)
	}

	c.logger.Debug("received signal", slog.String("type", signal.Type))
	return &signal, nil
}

func (c *WebSocketClient) WriteCommand(ctx context.Context, cmd *Command) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.logger.Debug("sending command", slog.String("type", cmd.Type))

	if err := c.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

func (c *WebSocketClient) Close() error {
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	return err
}
