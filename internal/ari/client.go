// Package ari implements the consumed PBX control interface: a REST
// "stasis" API for channel/bridge/snoop/externalMedia operations, plus an
// event WebSocket for StasisStart/StasisEnd and friends.
//
// The REST half uses a pooled HTTP client; the WebSocket half uses a
// reconnecting-websocket transport applied to ARI's event stream.
package ari

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/infra"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
)

// Connection pooling defaults for the pooled REST client.
const (
	maxIdleConns        = 100
	maxIdleConnsPerHost = 20
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	dialTimeout         = 10 * time.Second
)

func newPooledTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
	}
}

// Client is the ARI REST client.
type Client struct {
	baseURL  string
	username string
	password string
	appName  string
	http     *http.Client
}

// NewClient builds an ARI REST client. baseURL is e.g. "http://127.0.0.1:8088".
func NewClient(baseURL, username, password, appName string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		appName:  appName,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: newPooledTransport(),
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u := c.baseURL + "/ari" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, infra.Fatal("ari.do", fmt.Errorf("marshal request body: %w", err))
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, infra.Fatal("ari.do", fmt.Errorf("build request: %w", err))
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	logx.Debug("ari: request", "method", method, "url", logx.RedactSensitiveData(u))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, infra.Transient("ari.do", fmt.Errorf("%s %s: %w", method, path, err))
	}
	return resp, nil
}

// ErrChannelNotFound is returned (as the cause of a recoverable infra.Error)
// when an operation targets a channel ARI no longer has — per §7, this is
// treated as success during hangup/stop.
var ErrChannelNotFound = fmt.Errorf("ari: channel not found")

// ErrChannelNotInStasis marks the "channel not in stasis application"
// recoverable condition from §7/§4.5.
var ErrChannelNotInStasis = fmt.Errorf("ari: channel not in stasis application")

// ErrCurrentlyRecording marks the other recoverable addChannel condition
// from §4.5.
var ErrCurrentlyRecording = fmt.Errorf("ari: currently recording")

func classifyStatus(method, path string, status int) error {
	switch status {
	case http.StatusNotFound:
		return infra.New(infra.KindTransient, "ari."+method, true, ErrChannelNotFound)
	case http.StatusConflict:
		return infra.New(infra.KindTransient, "ari."+method, true, ErrCurrentlyRecording)
	case http.StatusPreconditionFailed:
		return infra.New(infra.KindTransient, "ari."+method, true, ErrChannelNotInStasis)
	default:
		return infra.Fatal("ari."+method, fmt.Errorf("%s %s: unexpected status %d", method, path, status))
	}
}

// ChannelGet retrieves a channel's current state. Used as the Media Plane
// Controller's best-effort, telemetry-only audio-ready check (§4.5).
func (c *Client) ChannelGet(ctx context.Context, channelID string) (*ChannelState, error) {
	resp, err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("ChannelGet", "/channels/"+channelID, resp.StatusCode)
	}
	var state ChannelState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, infra.Fatal("ari.ChannelGet", err)
	}
	return &state, nil
}

// ChannelState is the subset of an ARI channel object the controller needs.
type ChannelState struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Play starts playback of a static media URI on a channel. Returns the
// playback id.
func (c *Client) Play(ctx context.Context, channelID, mediaURI string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/play", nil, map[string]string{"media": mediaURI})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", classifyStatus("Play", channelID, resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.ID, nil
}

// StopPlayback stops an in-progress playback. A 404 is treated as success.
func (c *Client) StopPlayback(ctx context.Context, playbackID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/playbacks/"+playbackID, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusNoContent {
		return classifyStatus("StopPlayback", playbackID, resp.StatusCode)
	}
	return nil
}

// Hangup ends a channel. A 404 is treated as success per §7.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusNoContent {
		return classifyStatus("Hangup", channelID, resp.StatusCode)
	}
	return nil
}

// SetTalkDetect sets TALK_DETECT(set)=on on a channel so ChannelTalkingStarted
// / ChannelTalkingFinished events are emitted for it (§6).
func (c *Client) SetTalkDetect(ctx context.Context, channelID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/variable", url.Values{
		"variable": {"TALK_DETECT(set)"},
		"value":    {"on"},
	}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return classifyStatus("SetTalkDetect", channelID, resp.StatusCode)
	}
	return nil
}

// CreateBridge creates a bridge of the given ARI type list; the capture bridge
// passes "mixing,dtmf_events" (§4.5 step 2).
func (c *Client) CreateBridge(ctx context.Context, bridgeType string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/bridges", url.Values{
		"type": {bridgeType},
	}, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("CreateBridge", "", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.ID, nil
}

// DestroyBridge destroys a bridge. A 404 is treated as success.
func (c *Client) DestroyBridge(ctx context.Context, bridgeID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/bridges/"+bridgeID, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusNoContent {
		return classifyStatus("DestroyBridge", bridgeID, resp.StatusCode)
	}
	return nil
}

// AddChannelToBridge adds channelID to bridgeID. Callers retry on the two
// recoverable errors named in §4.5 ("channel not in stasis application",
// "currently recording") with exponential backoff.
func (c *Client) AddChannelToBridge(ctx context.Context, bridgeID, channelID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/bridges/"+bridgeID+"/addChannel", url.Values{
		"channel": {channelID},
	}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return classifyStatus("AddChannelToBridge", channelID, resp.StatusCode)
	}
	return nil
}

// SnoopChannel creates an audio-tap channel on parentChannelID, per §6's
// parameter set (spy=in, whisper=none, appArgs carries linkedId).
func (c *Client) SnoopChannel(ctx context.Context, parentChannelID, linkedID string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/channels/"+parentChannelID+"/snoopChannel", url.Values{
		"app":      {c.appName},
		"appArgs":  {"linkedId=" + linkedID},
		"spy":      {"in"},
		"whisper":  {"none"},
	}, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("SnoopChannel", parentChannelID, resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.ID, nil
}

// ExternalMediaParams configures the ExternalMedia channel per §6.
type ExternalMediaParams struct {
	LinkedID        string
	ExternalHostIP  string
	ExternalPort    int
	Format          string // "ulaw"
	Direction       string // "both"
}

// ExternalMedia creates an ExternalMedia channel pointed at the engine's UDP
// endpoint, per §4.5 step 3.
func (c *Client) ExternalMedia(ctx context.Context, p ExternalMediaParams) (string, error) {
	appArgs := fmt.Sprintf("linkedId=%s,role=externalMedia,kind=stt", p.LinkedID)
	resp, err := c.do(ctx, http.MethodPost, "/channels/externalMedia", url.Values{
		"app":            {c.appName},
		"external_host":  {fmt.Sprintf("%s:%d", p.ExternalHostIP, p.ExternalPort)},
		"format":         {p.Format},
		"direction":      {p.Direction},
		"appArgs":        {appArgs},
	}, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("ExternalMedia", p.LinkedID, resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.ID, nil
}

// StopRecording stops an in-progress recording by name. A 404 is success.
func (c *Client) StopRecording(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodPost, "/recordings/live/"+name+"/stop", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusNoContent {
		return classifyStatus("StopRecording", name, resp.StatusCode)
	}
	return nil
}
