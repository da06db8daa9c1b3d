// Package engine implements the Engine Runner (C11): the process-level
// supervisor that subscribes to ARI Stasis events, spawns and tears down one
// call actor per call, and wires C4-C10 together for that call.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/mediaplane"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/rutcapture"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/stt"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/turn"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/webhook"
)

// sttBridge sits between the concrete *stt.Session and its two independent
// consumers, internal/turn's Machine and internal/rutcapture's Orchestrator,
// each of which wants its own OnPartialTranscript/OnStreamStable callback —
// a single *stt.Session only holds one of each. The bridge registers itself
// once as the Session's sole callback and fans each event out to the
// Orchestrator (always) and to whichever callback the Machine most recently
// registered (last wins, matching the Session's own single-callback model).
//
// It also implements turn.STTClient and mediaplane.STTController directly,
// so it is the one object the Engine Runner hands to both.
type sttBridge struct {
	sess *stt.Session
	rut  *rutcapture.Orchestrator

	mu          sync.Mutex
	partialCb   func(stt.TranscriptEvent)
	streamCb    func(stt.StreamStableReason)
}

var _ turn.STTClient = (*sttBridge)(nil)
var _ mediaplane.STTController = (*sttBridge)(nil)

func newSTTBridge(sess *stt.Session, rut *rutcapture.Orchestrator) *sttBridge {
	b := &sttBridge{sess: sess, rut: rut}
	sess.OnPartialTranscript(b.dispatchPartial)
	sess.OnStreamStable(b.dispatchStream)
	return b
}

func (b *sttBridge) dispatchPartial(e stt.TranscriptEvent) {
	b.rut.OnPartialDelta(context.Background(), e.Text == "")
	b.mu.Lock()
	cb := b.partialCb
	b.mu.Unlock()
	if cb != nil {
		cb(e)
	}
}

func (b *sttBridge) dispatchStream(r stt.StreamStableReason) {
	switch r {
	case stt.StreamStable:
		b.rut.NotifyStreamStable(context.Background(), webhook.TriggerStreamStable)
	case stt.StreamPaused:
		b.rut.NotifyStreamStable(context.Background(), webhook.TriggerStreamPaused)
	}
	b.mu.Lock()
	cb := b.streamCb
	b.mu.Unlock()
	if cb != nil {
		cb(r)
	}
}

func (b *sttBridge) StreamAudio(pcm []byte) error { return b.sess.StreamAudio(pcm) }
func (b *sttBridge) Commit() error                { return b.sess.Commit() }
func (b *sttBridge) ClearInput() error            { return b.sess.ClearInput() }

// WaitForTranscript also feeds the authoritative transcript to the RUT
// Capture Orchestrator's completed-event handling (§4.7 step 1-5), since
// that's the single place in the call where the committed buffer's final
// text becomes available.
func (b *sttBridge) WaitForTranscript(ctx context.Context, timeout time.Duration) (string, error) {
	text, err := b.sess.WaitForTranscript(ctx, timeout)
	if err == nil && text != "" {
		b.rut.OnCompleted(ctx, text)
	}
	return text, err
}

func (b *sttBridge) CancelCurrentResponse(reason string) error { return b.sess.CancelCurrentResponse(reason) }
func (b *sttBridge) EnableIncremental()                        { b.sess.EnableIncremental() }
func (b *sttBridge) DisableIncremental()                       { b.sess.DisableIncremental() }

func (b *sttBridge) OnPartialTranscript(cb func(stt.TranscriptEvent)) {
	b.mu.Lock()
	b.partialCb = cb
	b.mu.Unlock()
}

func (b *sttBridge) OnStreamStable(cb func(stt.StreamStableReason)) {
	b.mu.Lock()
	b.streamCb = cb
	b.mu.Unlock()
}

func (b *sttBridge) Connect(ctx context.Context) error { return b.sess.Connect(ctx) }
func (b *sttBridge) Disconnect() error                 { return b.sess.Disconnect() }
