package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"navcam"
	"navcam/hub"
)

// ErrNotConnected is returned by Client operations that need a live connection.
var ErrNotConnected = errors.New("proxy not connected")

const (
	defaultRetryDelay = 2 * time.Second
	handshakeTimeout  = 2 * time.Second
	clientPongWait    = 60 * time.Second
	clientPingPeriod  = 30 * time.Second
)

// Client subscribes to a Publisher and keeps the latest sample per
// controller. While disconnected every controller reads as absent.
type Client struct {
	url        string
	retryDelay time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	samples   map[int]navcam.DeviceSample
}

var _ navcam.SampleSource = (*Client)(nil)

// NewClient validates wsURL and returns an unconnected client. Call Run to
// connect. A zero retryDelay means 2s.
func NewClient(wsURL string, retryDelay time.Duration, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid websocket URL %q: scheme must be ws or wss", wsURL)
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:        u.String(),
		retryDelay: retryDelay,
		logger:     logger,
		samples:    make(map[int]navcam.DeviceSample),
	}, nil
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Sample returns the latest sample for controller. It reports false while
// disconnected or when the publisher has no device at that index.
func (c *Client) Sample(controller int) (navcam.DeviceSample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return navcam.DeviceSample{}, false
	}
	s, ok := c.samples[controller]
	if !ok {
		return navcam.DeviceSample{}, false
	}
	return s.Clone(), true
}

// Run connects and reads frames until ctx is canceled, reconnecting after
// retryDelay whenever the connection fails.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := c.connect(ctx)
		if err == nil {
			attempt = 0
			c.logger.Info("connected to sample proxy", "url", c.url)
			err = c.readLoop(ctx)
			c.disconnect()
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("sample proxy connection lost; reconnecting...", "error", err)
		} else {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			c.logger.Warn("sample proxy connection failed; retrying...", "error", err, "attempt", attempt)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	d := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := d.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.samples = make(map[int]navcam.DeviceSample)
	c.mu.Unlock()
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.samples = make(map[int]navcam.DeviceSample)
}

// readLoop reads frames until the connection fails or ctx is canceled.
func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	_ = conn.SetReadDeadline(time.Now().Add(clientPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(clientPongWait))
		return nil
	})

	// Closing the connection unblocks ReadMessage on cancel. Pings keep the
	// read deadline moving on an idle publisher.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(clientPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := c.handleMessage(message); err != nil {
			c.logger.Warn("invalid proxy frame", "error", err)
		}
	}
}

// handleMessage applies one envelope frame to the sample table.
func (c *Client) handleMessage(message []byte) error {
	var env hub.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case FrameSample:
		var f SampleFrame
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		c.mu.Lock()
		c.store(f)
		c.mu.Unlock()

	case FrameSamples:
		var f SamplesFrame
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		c.mu.Lock()
		c.samples = make(map[int]navcam.DeviceSample, len(f.Samples))
		for _, s := range f.Samples {
			c.store(s)
		}
		c.mu.Unlock()

	default:
		c.logger.Debug("ignoring proxy frame", "type", env.Type)
	}
	return nil
}

// store must be called with mu held.
func (c *Client) store(f SampleFrame) {
	if !f.Present {
		delete(c.samples, f.Controller)
		return
	}
	c.samples[f.Controller] = f.Sample
}
