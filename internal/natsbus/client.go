package natsbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/nats-io/nats.go"
)

const (
	maxReconnects = 10
	reconnectWait = 2 * time.Second
)

type Client struct {
	conn *nats.Conn
}

func NewClient(bus *Bus) (*Client, error) {
	return NewClientFromURL(bus.ClientURL())
}

// NewClientFromURL connects with bounded reconnect-with-backoff. When the
// reconnect budget is exhausted the connection closes for good and Healthy
// reports false; the owning agent surfaces itself as unhealthy rather than
// crashing.
func NewClientFromURL(url string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Error("nats connection closed, reconnect budget exhausted")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(subject, data)
}

// PublishACP validates and publishes an envelope to the subject implied by
// its addressing mode.
func (c *Client) PublishACP(m *acp.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return c.conn.Publish(SubjectFor(m), data)
}

func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, handler)
}

func (c *Client) Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	return c.conn.Request(subject, data, timeout)
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Healthy() bool {
	return c.conn.Status() == nats.CONNECTED
}

func (c *Client) Close() {
	c.conn.Close()
}
