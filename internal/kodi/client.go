// Package kodi talks to a Kodi instance: actions go out over the UDP event
// server, files come back through the HTTP /vfs/ endpoint.
package kodi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sekia-ai/kodiview/pkg/eventserver"
)

// KeepAliveInterval is how long the event server may go without hearing from
// the client before KeepAlive pings it. Kodi forgets idle clients after 60s.
const KeepAliveInterval = 30 * time.Second

// ActionTakeScreenshot is the built-in action that writes a screenshot file.
const ActionTakeScreenshot = "TakeScreenshot"

// ErrIncompleteRead is returned when a response body ends before its
// declared length, typically because Kodi is still writing the file.
var ErrIncompleteRead = errors.New("kodi: incomplete read")

// StatusError is returned for any non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kodi: GET %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Config holds connection settings for one Kodi host.
type Config struct {
	Host      string
	HTTPPort  int
	EventPort int
	Username  string
	Password  string
	Timeout   time.Duration
}

// Client sends event-server actions and fetches VFS files. The UDP socket is
// opened once and reused; it is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	auth   string
	logger zerolog.Logger

	mu       sync.Mutex
	conn     net.Conn
	enc      *eventserver.Encoder
	lastSent time.Time
}

// NewClient connects the UDP socket to the event server.
func NewClient(cfg Config, id eventserver.ClientID, logger zerolog.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("kodi: host is required")
	}
	if cfg.EventPort == 0 {
		cfg.EventPort = eventserver.DefaultPort
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.EventPort))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("kodi: dial event server %s: %w", addr, err)
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "kodi").Logger(),
		conn:   conn,
		enc:    eventserver.NewEncoder(conn, id),
	}
	if cfg.Username != "" && cfg.Password != "" {
		c.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.Password))
	}
	return c, nil
}

// SendAction executes a built-in action on Kodi. Delivery is not acknowledged.
func (c *Client) SendAction(action string, args ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enc.EncodeAction(action, args...); err != nil {
		return fmt.Errorf("send %s: %w", action, err)
	}
	c.lastSent = time.Now()
	c.logger.Debug().Str("action", action).Strs("args", args).Msg("action sent")
	return nil
}

// Ping sends a PING packet.
func (c *Client) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enc.EncodePing(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	c.lastSent = time.Now()
	return nil
}

// KeepAlive pings the event server whenever nothing was sent for every. It
// blocks until ctx is done. Use it when actions are sporadic, as in the MCP
// server; the capture loop sends often enough on its own.
func (c *Client) KeepAlive(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		idle := time.Since(c.lastSent)
		c.mu.Unlock()
		if idle < every {
			continue
		}
		if err := c.Ping(); err != nil {
			c.logger.Warn().Err(err).Msg("keep-alive ping failed")
		}
	}
}

// TakeScreenshot asks Kodi to write a screenshot to path on its own filesystem.
func (c *Client) TakeScreenshot(path string) error {
	return c.SendAction(ActionTakeScreenshot, path)
}

// VFSURL returns the HTTP URL serving path from Kodi's filesystem.
func (c *Client) VFSURL(path string) string {
	host := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.HTTPPort))
	return "http://" + host + "/vfs/" + quotePath(path)
}

// FetchVFS downloads path through the /vfs/ endpoint.
func (c *Client) FetchVFS(ctx context.Context, path string) ([]byte, error) {
	url := c.VFSURL(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("kodi: build request: %w", err)
	}
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kodi: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s: got %d of %d bytes: %w", ErrIncompleteRead, url, len(data), resp.ContentLength, err)
		}
		return nil, fmt.Errorf("kodi: read %s: %w", url, err)
	}
	return data, nil
}

// Close sends a best-effort BYE and releases the UDP socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enc.EncodeBye(); err != nil {
		c.logger.Debug().Err(err).Msg("bye not sent")
	}
	return c.conn.Close()
}

// quotePath percent-encodes everything except unreserved characters and '/'.
func quotePath(p string) string {
	const hex = "0123456789ABCDEF"
	buf := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		b := p[i]
		switch {
		case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9',
			b == '-', b == '.', b == '_', b == '~', b == '/':
			buf = append(buf, b)
		default:
			buf = append(buf, '%', hex[b>>4], hex[b&0x0F])
		}
	}
	return string(buf)
}
