package stt

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/infra"
)

// conn wraps *websocket.Conn with a reconnect/backoff/heartbeat shape,
// specialized to the realtime speech endpoint.
type conn struct {
	url          string
	apiKey       string
	dialTimeout  time.Duration
	writeWait    time.Duration
	maxRetries   int
	backoffBase  time.Duration
	backoffMax   time.Duration

	mu       sync.Mutex
	writeMu  sync.Mutex
	ws       *websocket.Conn
	closed   bool
	closeCh  chan struct{}
}

func newConn(model, apiKey string) *conn {
	return &conn{
		url:         fmt.Sprintf("%s?model=%s", RealtimeEndpoint, model),
		apiKey:      apiKey,
		dialTimeout: 10 * time.Second,
		writeWait:   10 * time.Second,
		maxRetries:  3,
		backoffBase: time.Second,
		backoffMax:  10 * time.Second,
		closeCh:     make(chan struct{}),
	}
}

func (c *conn) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)
	header.Set("OpenAI-Beta", RealtimeBetaHeader)

	ws, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return infra.Transient("stt.connect", fmt.Errorf("dial realtime websocket: %w", err))
	}

	c.mu.Lock()
	c.ws = ws
	c.closed = false
	c.mu.Unlock()
	return nil
}

func (c *conn) connectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.connect(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return infra.Fatal("stt.connectWithRetry", fmt.Errorf("exhausted %d attempts: %w", c.maxRetries, lastErr))
}

const jitterFactor = 0.25

func (c *conn) backoff(attempt int) time.Duration {
	base := float64(c.backoffBase) * math.Pow(2, float64(attempt-1))
	if base > float64(c.backoffMax) {
		base = float64(c.backoffMax)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(base*jitterFactor)+1))
	jitter := float64(0)
	if err == nil {
		jitter = float64(n.Int64())
	}
	return time.Duration(base + jitter)
}

func (c *conn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return infra.Transient("stt.send", fmt.Errorf("not connected"))
	}
	_ = ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := ws.WriteJSON(v); err != nil {
		return infra.Transient("stt.send", err)
	}
	return nil
}

func (c *conn) receive() ([]byte, error) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil, infra.Transient("stt.receive", fmt.Errorf("not connected"))
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, infra.Transient("stt.receive", err)
	}
	return data, nil
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}
