// Package webhook implements the RUT validation webhook client: a POST of
// {text, callKey} answered by {ok, rut?, reason?}, invoked at-most-once per
// call unless a higher-priority trigger legitimately upgrades an earlier
// emission.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/infra"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
)

// TriggerKind ranks why the orchestrator is invoking the webhook now. Higher
// Rank() wins: a later, higher-ranked trigger legitimately supersedes an
// earlier, lower-ranked one for the same call (an "upgrade").
type TriggerKind string

const (
	TriggerTranscriptionCompleted TriggerKind = "transcription-completed"
	TriggerStreamStable           TriggerKind = "stream-stable"
	TriggerStreamPaused           TriggerKind = "stream-paused"
	TriggerAudioSettled           TriggerKind = "audio-settled"
	TriggerSilenceDetected        TriggerKind = "silence-detected"
	TriggerEarlyStableState       TriggerKind = "early-stable-state"
)

// triggerRank orders the trigger kinds from highest to lowest priority, so
// a later higher-priority trigger can upgrade an earlier emission for the
// same call.
var triggerRank = map[TriggerKind]int{
	TriggerTranscriptionCompleted: 5,
	TriggerStreamStable:           4,
	TriggerStreamPaused:           4,
	TriggerAudioSettled:           3,
	TriggerSilenceDetected:        2,
	TriggerEarlyStableState:       1,
}

// Rank returns t's priority; higher wins ties against an already-sent trigger.
func (t TriggerKind) Rank() int { return triggerRank[t] }

// Request is the webhook call's request body.
type Request struct {
	Text    string `json:"text"`
	CallKey string `json:"callKey"`
}

// Response is the webhook call's response body.
type Response struct {
	OK     bool   `json:"ok"`
	RUT    string `json:"rut,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Client is a single HTTP client for the RUT validation webhook endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New builds a Client posting to url with the given per-call timeout. The
// limiter caps outbound webhook calls at 5/s with a burst of 2, matching the
// pooled-transport-and-pace discipline used for outbound provider calls
// elsewhere in this codebase.
func New(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 2),
	}
}

// Invoke posts req and decodes the webhook's response. 5xx and network
// errors classify as infra.Transient (retryable); 4xx classifies as
// infra.Domain (the payload itself was rejected, retrying won't help).
func (c *Client) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, infra.Transient("webhook.Invoke", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, infra.Fatal("webhook.Invoke", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, infra.Fatal("webhook.Invoke", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, infra.Transient("webhook.Invoke", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, infra.Transient("webhook.Invoke", err)
	}

	if resp.StatusCode >= 500 {
		return Response{}, infra.Transient("webhook.Invoke", fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return Response{}, infra.Domain("webhook.Invoke", fmt.Errorf("webhook rejected payload: %d", resp.StatusCode))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, infra.Domain("webhook.Invoke", fmt.Errorf("malformed webhook response: %w", err))
	}
	return out, nil
}

// record is what Gate remembers about the last invocation for one call.
// Dedup is rank-only: two invocations with the same text and trigger rank
// are suppressed by rank comparison alone, with no separate content hash.
type record struct {
	rank int
}

// Gate enforces the at-most-once-per-call, upgrade-only-on-higher-rank
// invocation discipline on top of a Client. One Gate is shared across all
// calls; callKey scopes the dedup state per call.
type Gate struct {
	client *Client

	mu   sync.Mutex
	sent map[string]record
}

// NewGate wraps client with per-call dedup/upgrade bookkeeping.
func NewGate(client *Client) *Gate {
	return &Gate{client: client, sent: make(map[string]record)}
}

// InvokeOnce posts req under trigger's priority, unless an equal-or-higher
// ranked trigger already posted for this callKey — in which case it is a
// no-op that returns the previous response's zero value and ok=false,
// signaling "already sent, nothing to do here."
//
// A caller whose trigger outranks the previously sent one is an upgrade:
// it is allowed through even though a webhook call was already made for
// this callKey.
func (g *Gate) InvokeOnce(ctx context.Context, trigger TriggerKind, req Request) (resp Response, invoked bool, err error) {
	rank := trigger.Rank()

	g.mu.Lock()
	prev, exists := g.sent[req.CallKey]
	if exists && rank <= prev.rank {
		g.mu.Unlock()
		logx.Debug("webhook: suppressing non-upgrading invocation", "call_key", req.CallKey, "trigger", trigger)
		return Response{}, false, nil
	}
	g.sent[req.CallKey] = record{rank: rank}
	g.mu.Unlock()

	resp, err = g.client.Invoke(ctx, req)
	return resp, true, err
}

// Forget clears dedup state for a call, called when the call ends.
func (g *Gate) Forget(callKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sent, callKey)
}
