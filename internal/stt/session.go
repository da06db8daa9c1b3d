package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/infra"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
)

// TranscriptEvent classifies the two event classes of §4.4's event contract.
type TranscriptEvent struct {
	Text    string
	IsDelta bool // true: token delta (timing only); false: completed (authoritative)
}

// StreamStableReason is one of the three locally derived stream-stability
// reasons of §4.4.
type StreamStableReason string

const (
	StreamPaused   StreamStableReason = "stream-paused"
	StreamStable   StreamStableReason = "stream-stable"
	StreamComplete StreamStableReason = "stream-complete"
)

// Config carries the caller-supplied knobs for a Session.
type Config struct {
	APIKey                string
	Model                 string
	Temperature           float64
	MaxResponseTokens     int
	MinAudioInput         time.Duration
	StreamStableThreshold time.Duration
	TTSEndpoint           string
	TranscriptionEndpoint string
	DefaultVoice          string
	AllowedVoices         map[string]bool
}

// Session is a single duplex STT session for one call, per §4.4's public
// contract. Exactly one session per call; it exclusively owns its
// WebSocket (§3's ownership summary).
type Session struct {
	cfg  Config
	conn *conn

	mu                sync.Mutex
	activeResponseID  string
	lastTranscript    string
	incrementalMode   bool
	pendingAudioBytes int
	belowMinimumBuf   []byte // buffered audio not yet sent, waiting to cross MinAudioInput

	lastDeltaAt     time.Time
	streamActive    bool
	stableTimer     *time.Timer

	onPartial    func(TranscriptEvent)
	onStreamOK   func(StreamStableReason)

	ttsCache   map[string][]byte
	ttsCacheMu sync.Mutex

	done chan struct{}
}

// New builds a Session; call Connect to open the underlying WebSocket.
func New(cfg Config) *Session {
	return &Session{
		cfg:      cfg,
		conn:     newConn(cfg.Model, cfg.APIKey),
		ttsCache: make(map[string][]byte),
		done:     make(chan struct{}),
	}
}

// Connect dials the realtime WebSocket and sends the initial session config
// (§4.4's session semantics: telephony input format, 24kHz PCM16 output,
// transcription on, server turn detection off).
func (s *Session) Connect(ctx context.Context) error {
	if err := s.conn.connectWithRetry(ctx); err != nil {
		return err
	}
	go s.receiveLoop()
	return s.UpdateSession(DefaultSessionConfig(s.cfg.Temperature, s.cfg.MaxResponseTokens))
}

// Disconnect idempotently closes the session's WebSocket.
func (s *Session) Disconnect() error {
	return s.conn.close()
}

// UpdateSession sends session.update.
func (s *Session) UpdateSession(sc SessionConfig) error {
	return s.conn.send(sessionUpdateEvent{
		clientEvent: clientEvent{Type: EvSessionUpdate},
		Session:     sc,
	})
}

// StreamAudio appends raw telephony-leg PCM16 bytes with no framing. Per
// §4.4: input shorter than MinAudioInput is dropped with a warning and never
// sent; no audio is accepted while a response is active unless incremental
// mode is on.
func (s *Session) StreamAudio(pcm []byte) error {
	s.mu.Lock()
	active := s.activeResponseID != ""
	incremental := s.incrementalMode
	s.mu.Unlock()

	if active && !incremental {
		logx.Debug("stt: dropping audio while response active and incremental disabled")
		return nil
	}

	minBytes := minBytesFor(s.cfg.MinAudioInput)

	s.mu.Lock()
	s.pendingAudioBytes += len(pcm)
	if s.pendingAudioBytes < minBytes {
		// Still below the minimum: buffer locally and never send. Either a
		// later call crosses the threshold and flushes this buffer, or
		// Commit sees the shortfall and drops it with a warning.
		s.belowMinimumBuf = append(s.belowMinimumBuf, pcm...)
		s.mu.Unlock()
		return nil
	}
	toSend := pcm
	if len(s.belowMinimumBuf) > 0 {
		toSend = append(s.belowMinimumBuf, pcm...)
		s.belowMinimumBuf = nil
	}
	s.mu.Unlock()

	s.noteDeltaActivity()
	return s.conn.send(inputAudioAppendEvent{
		clientEvent: clientEvent{Type: EvInputAudioAppend},
		Audio:       base64.StdEncoding.EncodeToString(toSend),
	})
}

func minBytesFor(d time.Duration) int {
	// 16-bit samples at 24kHz telephony-leg-equivalent timing; callers pass
	// already-resampled PCM, so this is purely a duration-to-bytes floor.
	const bytesPerMs = mediaBytesPerMs
	return int(d.Milliseconds()) * bytesPerMs
}

const mediaBytesPerMs = 48 // 24kHz * 2 bytes / 1000ms

// Commit finalizes the input audio buffer. Per §4.4, a turn whose total
// input never crossed MinAudioInput is dropped with a warning and never
// committed to the provider.
func (s *Session) Commit() error {
	s.mu.Lock()
	pending := s.pendingAudioBytes
	minBytes := minBytesFor(s.cfg.MinAudioInput)
	belowMinimum := pending < minBytes
	s.pendingAudioBytes = 0
	s.belowMinimumBuf = nil
	s.mu.Unlock()

	if belowMinimum {
		logx.Warn("stt: dropping sub-minimum audio input, never sent", "bytes", pending, "min_bytes", minBytes)
		return nil
	}
	return s.conn.send(inputAudioCommitEvent{clientEvent: clientEvent{Type: EvInputAudioCommit}})
}

// ClearInput discards the pending input audio buffer.
func (s *Session) ClearInput() error {
	s.mu.Lock()
	s.pendingAudioBytes = 0
	s.belowMinimumBuf = nil
	s.mu.Unlock()
	return s.conn.send(inputAudioClearEvent{clientEvent: clientEvent{Type: EvInputAudioClear}})
}

// WaitForTranscript blocks until a completed transcript arrives or timeout
// elapses, returning the last one seen (possibly empty).
func (s *Session) WaitForTranscript(ctx context.Context, timeout time.Duration) (string, error) {
	ch := make(chan string, 1)
	prevHandler := s.onPartial
	s.mu.Lock()
	s.onPartial = func(e TranscriptEvent) {
		if prevHandler != nil {
			prevHandler(e)
		}
		if !e.IsDelta {
			select {
			case ch <- e.Text:
			default:
			}
		}
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.onPartial = prevHandler
		s.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case text := <-ch:
		return text, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CancelCurrentResponse cancels activeResponseId and clears the pending
// input buffer. Idempotent when no response is active (§4.4/§8).
func (s *Session) CancelCurrentResponse(reason string) error {
	s.mu.Lock()
	respID := s.activeResponseID
	s.mu.Unlock()

	if respID == "" {
		return nil
	}
	logx.Debug("stt: cancelling response", "response_id", respID, "reason", reason)
	if err := s.conn.send(responseCancelEvent{
		clientEvent: clientEvent{Type: EvResponseCancel},
		ResponseID:  respID,
	}); err != nil {
		return err
	}
	return s.ClearInput()
}

// EnableIncremental turns on incremental mode: audio keeps streaming even
// while a response is active.
func (s *Session) EnableIncremental() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incrementalMode = true
}

// DisableIncremental reverts to the default "no audio while active" gate.
func (s *Session) DisableIncremental() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incrementalMode = false
}

// OnPartialTranscript registers the callback invoked for both delta and
// completed transcript events.
func (s *Session) OnPartialTranscript(cb func(TranscriptEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPartial = cb
}

// OnStreamStable registers the callback invoked for stream-stability events.
func (s *Session) OnStreamStable(cb func(StreamStableReason)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStreamOK = cb
}

// noteDeltaActivity records an audio delta arrival and (re)arms the
// stream-stability timer: if StreamStableThreshold elapses with no further
// delta while a response is active, it emits stream-stable. This session
// never emits stream-paused.
func (s *Session) noteDeltaActivity() {
	s.mu.Lock()
	s.lastDeltaAt = time.Now()
	s.streamActive = true
	if s.stableTimer != nil {
		s.stableTimer.Stop()
	}
	cb := s.onStreamOK
	threshold := s.cfg.StreamStableThreshold
	s.stableTimer = time.AfterFunc(threshold, func() {
		s.mu.Lock()
		active := s.activeResponseID != ""
		s.streamActive = false
		s.mu.Unlock()
		if cb != nil && active {
			cb(StreamStable)
		}
	})
	s.mu.Unlock()
}

func (s *Session) receiveLoop() {
	defer close(s.done)
	for {
		data, err := s.conn.receive()
		if err != nil {
			if s.conn.isClosed() {
				return
			}
			logx.Warn("stt: receive error", "error", err)
			return
		}
		s.handleServerEvent(data)
	}
}

func (s *Session) handleServerEvent(data []byte) {
	ev, err := parseServerEvent(data)
	if err != nil {
		logx.Warn("stt: unparseable server event", "error", err)
		return
	}

	switch e := ev.(type) {
	case *transcriptionCompletedEvent:
		s.mu.Lock()
		s.lastTranscript = e.Transcript
		cb := s.onPartial
		streamCB := s.onStreamOK
		s.mu.Unlock()
		if cb != nil {
			cb(TranscriptEvent{Text: e.Transcript, IsDelta: false})
		}
		if streamCB != nil {
			streamCB(StreamComplete)
		}

	case *responseCreatedEvent:
		s.mu.Lock()
		s.activeResponseID = e.Response.ID
		s.mu.Unlock()

	case *responseAudioDeltaEvent:
		s.mu.Lock()
		cb := s.onPartial
		s.mu.Unlock()
		if cb != nil {
			cb(TranscriptEvent{Text: "", IsDelta: true})
		}

	case *responseDoneEvent:
		s.mu.Lock()
		if s.activeResponseID == e.Response.ID {
			s.activeResponseID = ""
		}
		s.mu.Unlock()

	case *errorEvent:
		logx.Warn("stt: server error event", "code", e.Error.Code, "message", e.Error.Message)

	case *sessionCreatedEvent:
		logx.Debug("stt: session created", "session_id", e.Session.ID)
	}
}

// SynthesizeSpeech calls the TTS HTTP endpoint for (text, voice), caching
// results by that key process-locally, per §4.4's text-to-speech side.
// Unknown voices fall back to the configured default with a warning.
func (s *Session) SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" || !s.cfg.AllowedVoices[voice] {
		logx.Warn("stt: unknown voice, falling back to default", "voice", voice)
		voice = s.cfg.DefaultVoice
	}
	key := voice + "\x00" + text

	s.ttsCacheMu.Lock()
	if cached, ok := s.ttsCache[key]; ok {
		s.ttsCacheMu.Unlock()
		return cached, nil
	}
	s.ttsCacheMu.Unlock()

	body, _ := json.Marshal(map[string]any{
		"model":            s.cfg.Model,
		"input":            text,
		"voice":            voice,
		"response_format":  "pcm",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TTSEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, infra.Fatal("stt.SynthesizeSpeech", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, infra.Transient("stt.SynthesizeSpeech", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, infra.Transient("stt.SynthesizeSpeech", fmt.Errorf("tts endpoint returned %d", resp.StatusCode))
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, infra.Transient("stt.SynthesizeSpeech", err)
	}

	s.ttsCacheMu.Lock()
	s.ttsCache[key] = pcm
	s.ttsCacheMu.Unlock()
	return pcm, nil
}
