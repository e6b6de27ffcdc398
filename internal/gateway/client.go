package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"clearline/internal/domain"
)

// ClientConfig configures submission client behavior.
type ClientConfig struct {
	// HandshakeTimeout is timeout for the WebSocket handshake.
	HandshakeTimeout time.Duration
	// ReadTimeout is timeout for reading a submission response.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing a submission.
	WriteTimeout time.Duration
}

// DefaultClientConfig returns default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// SubmitResult is the gateway's answer to one submission.
type SubmitResult struct {
	Applied        bool
	BundleHash     string
	PriorityOrders int
	UserOrders     int
	Reason         string
}

// Client is a node-side connection to the submission gateway. Safe for
// sequential use; submissions on one connection are ordered.
type Client struct {
	endpoint string
	node     domain.Address
	config   ClientConfig

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// Dial connects to a gateway submission endpoint as the given node.
func Dial(ctx context.Context, endpoint string, node domain.Address, config *ClientConfig) (*Client, error) {
	cfg := DefaultClientConfig()
	if config != nil {
		cfg = *config
	}
	c := &Client{endpoint: endpoint, node: node, config: cfg}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	header := http.Header{}
	header.Set(nodeHeader, c.node.String())

	conn, resp, err := dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return ErrUnauthorizedNode
		}
		return fmt.Errorf("gateway dial: %w", err)
	}
	c.conn = conn
	return nil
}

// Submit sends one bundle for an execution window and waits for the
// outcome. A rejected bundle is not an error; inspect Applied and
// Reason on the result.
func (c *Client) Submit(ctx context.Context, window uint64, bundle []byte) (*SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("gateway client closed")
	}

	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}
	if err := c.conn.WriteJSON(submitRequest{Window: window, Bundle: bundle}); err != nil {
		return nil, fmt.Errorf("submit bundle: %w", err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
		return nil, err
	}
	var resp submitResponse
	if err := c.conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("read submission outcome: %w", err)
	}
	return &SubmitResult{
		Applied:        resp.Status == domain.BundleStatusApplied,
		BundleHash:     resp.BundleHash,
		PriorityOrders: resp.PriorityOrders,
		UserOrders:     resp.UserOrders,
		Reason:         resp.Error,
	}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	deadline := time.Now().Add(c.config.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}
