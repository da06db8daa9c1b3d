package ari

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/infra"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
)

// Event is one ARI Stasis event, decoded just enough to dispatch on Type and
// extract the linkedId correlation token carried in channel variables or
// snoop appArgs.
type Event struct {
	Type      string          `json:"type"`
	Channel   *EventChannel   `json:"channel,omitempty"`
	Playback  *EventPlayback  `json:"playback,omitempty"`
	Recording *EventRecording `json:"recording,omitempty"`
	Args      []string        `json:"args,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

type EventChannel struct {
	ID       string          `json:"id"`
	State    string          `json:"state"`
	Caller   *EventCaller    `json:"caller,omitempty"`
	Dialplan *EventDialplan  `json:"dialplan,omitempty"`
}

type EventCaller struct {
	Number string `json:"number"`
}

type EventDialplan struct {
	Exten string `json:"exten"`
}

type EventPlayback struct {
	ID string `json:"id"`
}

type EventRecording struct {
	Name string `json:"name"`
}

// The consumed event type constants of §6.
const (
	EventStasisStart           = "StasisStart"
	EventStasisEnd             = "StasisEnd"
	EventChannelTalkingStarted = "ChannelTalkingStarted"
	EventChannelTalkingFinished = "ChannelTalkingFinished"
	EventPlaybackFinished      = "PlaybackFinished"
	EventPlaybackStopped       = "PlaybackStopped"
	EventPlaybackFailed        = "PlaybackFailed"
	EventRecordingFinished     = "RecordingFinished"
	EventRecordingFailed       = "RecordingFailed"
	EventChannelDestroyed      = "ChannelDestroyed"
)

// LinkedID extracts the "linkedId=" token out of a StasisStart event's args,
// the channel on which a snoop or ExternalMedia channel was created with
// appArgs="linkedId=<id>,...".
func (e *Event) LinkedID() string {
	for _, a := range e.Args {
		if strings.HasPrefix(a, "linkedId=") {
			rest := strings.TrimPrefix(a, "linkedId=")
			if i := strings.Index(rest, ","); i >= 0 {
				return rest[:i]
			}
			return rest
		}
	}
	return ""
}

const (
	dialTimeoutWS       = 10 * time.Second
	retryBackoffBase    = 1 * time.Second
	retryBackoffMax     = 10 * time.Second
	maxReconnectRetries = 3
	jitterFactor        = 0.25
)

// EventStream is the reconnecting ARI Stasis event WebSocket subscriber:
// dial, exponential backoff with jitter, reconnect-with-retry.
type EventStream struct {
	wsURL    string
	conn     *websocket.Conn
	events   chan *Event
	errCh    chan error
}

// NewEventStream builds an EventStream for the ARI events WebSocket at
// ws(s)://host:port/ari/events?app=<appName>&api_key=user:pass.
func NewEventStream(baseURL, username, password, appName string) (*EventStream, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, infra.Fatal("ari.NewEventStream", fmt.Errorf("parse base url: %w", err))
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ari/events"
	q := u.Query()
	q.Set("app", appName)
	q.Set("api_key", username+":"+password)
	q.Set("subscribeAll", "true")
	u.RawQuery = q.Encode()

	return &EventStream{
		wsURL:  u.String(),
		events: make(chan *Event, 256),
		errCh:  make(chan error, 1),
	}, nil
}

// Connect dials the events WebSocket once, without retry.
func (s *EventStream) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeoutWS}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return infra.Transient("ari.Connect", fmt.Errorf("dial events websocket: %w", err))
	}
	s.conn = conn
	return nil
}

// ConnectWithRetry dials with exponential backoff plus jitter, up to
// maxReconnectRetries attempts. A failure here at process startup means the
// PBX WebSocket refuses to connect at all.
func (s *EventStream) ConnectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < maxReconnectRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt)
			logx.Warn("ari: retrying events websocket connect", "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := s.Connect(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return infra.Fatal("ari.ConnectWithRetry", fmt.Errorf("exhausted %d attempts: %w", maxReconnectRetries, lastErr))
}

func calculateBackoff(attempt int) time.Duration {
	base := float64(retryBackoffBase) * math.Pow(2, float64(attempt-1))
	if base > float64(retryBackoffMax) {
		base = float64(retryBackoffMax)
	}
	jitterRange := base * jitterFactor
	n, err := rand.Int(rand.Reader, big.NewInt(int64(jitterRange)+1))
	jitter := float64(0)
	if err == nil {
		jitter = float64(n.Int64())
	}
	return time.Duration(base + jitter)
}

// Events returns the channel of decoded events. ReceiveLoop must be running
// for this to produce anything.
func (s *EventStream) Events() <-chan *Event { return s.events }

// ReceiveLoop reads frames until ctx is cancelled or the connection errors,
// decoding each into an Event and posting it to Events(). Runs as its own
// task per §5 ("distinct tasks for ... PBX event subscription").
func (s *EventStream) ReceiveLoop(ctx context.Context) {
	defer close(s.events)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.errCh <- infra.Transient("ari.ReceiveLoop", err):
			default:
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logx.Warn("ari: dropping unparseable event", "error", err)
			continue
		}
		ev.Raw = data
		select {
		case s.events <- &ev:
		case <-ctx.Done():
			return
		}
	}
}

// Errors returns the channel on which a terminal read error is posted once.
func (s *EventStream) Errors() <-chan error { return s.errCh }

// Close closes the underlying connection.
func (s *EventStream) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
