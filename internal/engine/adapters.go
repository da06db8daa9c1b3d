package engine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/domain"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/mediacodec"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/session"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/turn"
)

// AriPlayer is the subset of *ari.Client the playerAdapter needs.
type AriPlayer interface {
	Play(ctx context.Context, channelID, mediaURI string) (string, error)
	StopPlayback(ctx context.Context, playbackID string) error
}

// playerAdapter implements turn.Player on the call's primary channel. ARI's
// Play operation is fire-and-forget over REST; playerAdapter blocks until
// the Engine Runner's event dispatcher observes the matching
// PlaybackFinished/PlaybackStopped/PlaybackFailed event, correlated by
// playback id, or until the context is cancelled (barge-in).
type playerAdapter struct {
	ari       AriPlayer
	channelID string

	mu         sync.Mutex
	playbackID string
	waiters    map[string]chan struct{}
}

var _ turn.Player = (*playerAdapter)(nil)

func newPlayerAdapter(ariClient AriPlayer, channelID string) *playerAdapter {
	return &playerAdapter{ari: ariClient, channelID: channelID, waiters: make(map[string]chan struct{})}
}

func (p *playerAdapter) Play(ctx context.Context, mediaURI string) error {
	id, err := p.ari.Play(ctx, p.channelID, mediaURI)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.playbackID = id
	p.waiters[id] = done
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.waiters, id)
		p.mu.Unlock()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *playerAdapter) Stop(ctx context.Context) error {
	p.mu.Lock()
	id := p.playbackID
	p.mu.Unlock()
	if id == "" {
		return nil
	}
	return p.ari.StopPlayback(ctx, id)
}

// NotifyFinished is called by the Engine Runner's event dispatcher when a
// PlaybackFinished/Stopped/Failed event for playbackID arrives.
func (p *playerAdapter) NotifyFinished(playbackID string) {
	p.mu.Lock()
	done, ok := p.waiters[playbackID]
	delete(p.waiters, playbackID)
	p.mu.Unlock()
	if ok {
		close(done)
	}
}

// speechSynthesizer is the subset of *stt.Session the dispatcherAdapter
// needs to stage a SAY_TEXT action as a playable sound file.
type speechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error)
}

// dispatcherAdapter implements turn.Dispatcher by calling a domain.Port and
// translating its Result into a turn.DispatchResult, threading domain state
// across calls and merging in the RUT Capture Orchestrator's verdict before
// every call once a verdict has been set.
type dispatcherAdapter struct {
	port       domain.Port
	synth      speechSynthesizer
	soundsRoot string

	mu        sync.Mutex
	state     map[string]any
	firstCall bool
	rutOK     bool
	rutValue  string
}

var _ turn.Dispatcher = (*dispatcherAdapter)(nil)

func newDispatcherAdapter(port domain.Port, synth speechSynthesizer, soundsRoot string) *dispatcherAdapter {
	return &dispatcherAdapter{port: port, synth: synth, soundsRoot: soundsRoot, firstCall: true}
}

// setRUTVerdict is called by the call actor when the RUT Capture
// Orchestrator reports an accepted webhook response (§4.7), so the next
// Dispatch call can hand the Domain Port rutValidated/rut in Ctx.State.
func (d *dispatcherAdapter) setRUTVerdict(ok bool, rut string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rutOK = ok
	d.rutValue = rut
}

func (d *dispatcherAdapter) Dispatch(ctx context.Context, call *session.Call, transcript string) (turn.DispatchResult, error) {
	d.mu.Lock()
	event := domain.EventTurn
	if d.firstCall {
		event = domain.EventInit
		d.firstCall = false
	} else if transcript == "" {
		event = domain.EventNoInput
	}

	state := make(map[string]any, len(d.state)+2)
	for k, v := range d.state {
		state[k] = v
	}
	if d.rutOK {
		state["rutValidated"] = true
		state["rut"] = d.rutValue
	}
	d.mu.Unlock()

	dctx := domain.Ctx{
		Event:      event,
		Transcript: transcript,
		SessionID:  call.LinkedID,
		ANI:        call.CallerANI,
		DNIS:       call.CalledDNIS,
		State:      state,
	}

	result, err := d.port.Handle(ctx, dctx)
	if err != nil {
		return turn.DispatchResult{}, err
	}
	result = domain.Normalize(result, func(msg string) {
		logx.Warn("engine: domain port normalization warning", "linked_id", call.LinkedID, "message", msg)
	})

	d.mu.Lock()
	d.state = result.StatePatch
	d.mu.Unlock()

	var mediaURI string
	switch result.Action {
	case domain.ActionPlayAudio:
		if result.Audio != "" {
			mediaURI = "sound:" + result.Audio
		}
	case domain.ActionSayText:
		if result.Text != "" {
			uri, err := d.stageTTS(ctx, result.Text)
			if err != nil {
				logx.Warn("engine: tts staging failed, skipping playback", "linked_id", call.LinkedID, "error", err)
			} else {
				mediaURI = uri
			}
		}
	}

	nextPhase := session.Phase(result.NextPhase)
	if nextPhase == "" {
		nextPhase = call.Phase()
	}

	return turn.DispatchResult{
		NextPhase: nextPhase,
		PromptURI: mediaURI,
		SkipInput: result.SkipInput,
		Terminate: result.ShouldHangup || result.Action == domain.ActionHangup,
	}, nil
}

// stageTTS synthesizes text, converts it to telephony-leg μ-law, wraps it in
// a WAV container, and writes it under soundsRoot so ARI can play it as a
// normal sound: reference. Files are named by content hash so repeated
// prompts (e.g. a retry line) reuse the same staged file.
func (d *dispatcherAdapter) stageTTS(ctx context.Context, text string) (string, error) {
	sum := sha1.Sum([]byte(text))
	name := "tts_" + hex.EncodeToString(sum[:8])
	path := filepath.Join(d.soundsRoot, name+".wav")

	if _, err := os.Stat(path); err == nil {
		return "sound:" + name, nil
	}

	pcm24k, err := d.synth.SynthesizeSpeech(ctx, text, "")
	if err != nil {
		return "", fmt.Errorf("synthesize speech: %w", err)
	}
	ulaw := mediacodec.STTToTelephony(pcm24k)
	wav := mediacodec.WriteULawWAV(ulaw)

	if err := os.WriteFile(path, wav, 0o600); err != nil {
		return "", fmt.Errorf("write staged prompt: %w", err)
	}
	return "sound:" + name, nil
}
