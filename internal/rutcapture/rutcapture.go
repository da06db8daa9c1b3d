// Package rutcapture implements the RUT Capture Orchestrator (C9): it rides
// the STT client's partial/completed events while the call is in a
// LISTEN_RUT/LISTEN_OPTION/LISTEN_CONFIRMATION phase, runs the semantic
// filter over completed transcripts, and drives the validation webhook with
// a ranked-trigger, at-most-once/upgrade discipline.
package rutcapture

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/config"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/marks"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/obsv"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/rut"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/webhook"
)

// State is the capture's own small state machine.
type State string

const (
	StateEmpty     State = "EMPTY"
	StatePartial   State = "PARTIAL"
	StateValidated State = "VALIDATED"
	StateFrozen    State = "FROZEN"
)

// CaptureState is the per-call RUT Capture State.
type CaptureState struct {
	Partial       string // last completed transcript; the single source of truth
	State         State
	Confidence    int
	LastSpeechTs  int64
	CaptureFrozen bool
}

// confusionPhrases rejects completed text that is clearly off-topic chatter
// rather than an attempt at reciting a RUT, per §4.7's semantic filter.
var confusionPhrases = []string{
	"cuanto", "cuánto", "telefono", "teléfono", "direccion", "dirección", "fecha",
}

const (
	rutBodyMin = 100_000
	rutBodyMax = 99_999_999
)

// digitRunLen returns the length of the longest contiguous run of ASCII
// digits in s.
func digitRunLen(s string) int {
	best, cur := 0, 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur++
			if cur > best {
				best = cur
			}
		} else {
			cur = 0
		}
	}
	return best
}

// SemanticFilter is the pure function §4.7 describes: try C1's parser first,
// fall back to a normalized-digit-count check, and reject confusion phrases,
// too-short text, or text with no digit run of length >= 4.
func SemanticFilter(text string) (accept bool, reason string) {
	norm := strings.ToLower(strings.TrimSpace(text))
	if len(norm) < 3 {
		return false, "too_short"
	}
	for _, phrase := range confusionPhrases {
		if strings.Contains(norm, phrase) {
			return false, "confusion_phrase"
		}
	}

	result := rut.Parse(text)
	if result.Body >= rutBodyMin && result.Body <= rutBodyMax {
		return true, ""
	}

	digits := strconv.Itoa(result.Body)
	digitLen := len(digits)
	if result.Body <= 0 {
		digitLen = digitRunLen(norm)
	}
	if digitLen < 4 {
		return false, "no_digit_sequence"
	}
	if digitLen >= 7 && digitLen <= 9 {
		return true, ""
	}
	return false, "digit_count_out_of_range"
}

// HardStopper performs the "hard stop" the orchestrator triggers on the STT
// session once capture freezes: disable incremental mode, disconnect the
// session, hang up ExternalMedia, and close the UDP socket. Implemented by
// mediaplane.Controller, which owns those resources; the engine forwards to
// it.
type HardStopper interface {
	HardStop(ctx context.Context) error
}

// Result is what OnCompleted/trigger handlers report back to the Engine
// Runner for a single capture attempt.
type Result struct {
	Trigger  webhook.TriggerKind
	Accepted bool
	Reason   string
	Response webhook.Response
	Err      error
}

// Orchestrator is one call's RUT Capture Orchestrator.
type Orchestrator struct {
	linkedID string
	callKey  string
	cfg      *config.Config
	gate     *webhook.Gate
	ledger   *marks.Ledger
	hardStop HardStopper

	mu              sync.Mutex
	state           CaptureState
	emptyDeltaCount int
	debounceTimer   *time.Timer
	onResult        func(Result)

	isListenRUT func() bool // true only while the call is in phase LISTEN_RUT
}

// New builds an Orchestrator for one call. isListenRUT reports, at call
// time, whether the owning call is currently in phase LISTEN_RUT (only that
// phase freezes capture and hard-stops STT on first completed, per §4.7).
func New(linkedID, callKey string, cfg *config.Config, gate *webhook.Gate, ledger *marks.Ledger,
	hardStop HardStopper, isListenRUT func() bool) *Orchestrator {
	return &Orchestrator{
		linkedID:    linkedID,
		callKey:     callKey,
		cfg:         cfg,
		gate:        gate,
		ledger:      ledger,
		hardStop:    hardStop,
		isListenRUT: isListenRUT,
		state:       CaptureState{State: StateEmpty},
	}
}

// OnResult registers the callback invoked whenever a capture attempt
// completes (accepted, rejected, or erroring).
func (o *Orchestrator) OnResult(cb func(Result)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onResult = cb
}

func (o *Orchestrator) emit(r Result) {
	obsv.RecordRUTCapture(string(r.Trigger), r.Accepted)

	o.mu.Lock()
	cb := o.onResult
	o.mu.Unlock()
	if cb != nil {
		cb(r)
	}
}

// OnPartialDelta handles a delta (partial) event. Per §4.7: used for timing
// only, never to assemble the RUT. It updates lastSpeechTs, (re)arms the
// debounce timer that fires the audio-settled trigger, and counts
// consecutive empty deltas toward the early-stable-state trigger.
func (o *Orchestrator) OnPartialDelta(ctx context.Context, isEmpty bool) {
	o.mu.Lock()
	if o.state.CaptureFrozen {
		o.mu.Unlock()
		return
	}
	o.state.LastSpeechTs = time.Now().UnixMilli()

	if isEmpty {
		o.emptyDeltaCount++
	} else {
		o.emptyDeltaCount = 0
	}
	earlyStable := o.emptyDeltaCount >= o.cfg.EarlyStableDeltaCount

	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
	}
	o.debounceTimer = time.AfterFunc(o.cfg.WebhookDebounceMs, func() {
		o.attempt(ctx, webhook.TriggerAudioSettled)
	})
	o.mu.Unlock()

	if earlyStable {
		o.attempt(ctx, webhook.TriggerEarlyStableState)
	}
}

// NotifySilence is called by the Turn SM when no voice was detected and a
// partial (completed-so-far) buffer exists; it fires silence-detected.
func (o *Orchestrator) NotifySilence(ctx context.Context) {
	o.attempt(ctx, webhook.TriggerSilenceDetected)
}

// NotifyStreamStable is called by the STT client's stream-stability
// callback; it fires stream-stable/stream-paused.
func (o *Orchestrator) NotifyStreamStable(ctx context.Context, trigger webhook.TriggerKind) {
	o.attempt(ctx, trigger)
}

// OnCompleted handles a completed (authoritative) transcript event, per
// §4.7's 5-step completed handling.
func (o *Orchestrator) OnCompleted(ctx context.Context, text string) {
	o.mu.Lock()
	if o.state.CaptureFrozen {
		o.mu.Unlock()
		logx.Debug("rutcapture: dropping completed event, capture frozen", "linked_id", o.linkedID)
		return
	}

	freezing := o.isListenRUT != nil && o.isListenRUT()
	if freezing {
		o.state.CaptureFrozen = true
		o.state.State = StateFrozen
		if o.debounceTimer != nil {
			o.debounceTimer.Stop()
			o.debounceTimer = nil
		}
	}
	o.state.Partial = text
	if o.state.State != StateFrozen {
		o.state.State = StatePartial
	}
	o.mu.Unlock()

	if freezing {
		logx.Info("rutcapture: freezing capture, hard-stopping STT", "linked_id", o.linkedID)
		if err := o.hardStop.HardStop(ctx); err != nil {
			logx.Warn("rutcapture: hard stop failed", "linked_id", o.linkedID, "error", err)
		}
	}

	accept, reason := SemanticFilter(text)
	if !accept {
		o.emit(Result{Trigger: webhook.TriggerTranscriptionCompleted, Accepted: false, Reason: reason})
		return
	}

	o.invoke(ctx, webhook.TriggerTranscriptionCompleted, text)
}

// attempt runs the semantic filter over whatever completed transcript is on
// file (o.state.Partial) and, if it passes, invokes the webhook under
// trigger. Used by the non-authoritative triggers (audio-settled,
// silence-detected, early-stable-state, stream-stable/paused).
func (o *Orchestrator) attempt(ctx context.Context, trigger webhook.TriggerKind) {
	o.mu.Lock()
	text := o.state.Partial
	frozen := o.state.CaptureFrozen
	o.mu.Unlock()
	if frozen || text == "" {
		return
	}
	accept, reason := SemanticFilter(text)
	if !accept {
		o.emit(Result{Trigger: trigger, Accepted: false, Reason: reason})
		return
	}
	o.invoke(ctx, trigger, text)
}

func (o *Orchestrator) invoke(ctx context.Context, trigger webhook.TriggerKind, text string) {
	resp, invoked, err := o.gate.InvokeOnce(ctx, trigger, webhook.Request{Text: text, CallKey: o.callKey})
	if !invoked {
		return
	}
	if err != nil {
		o.emit(Result{Trigger: trigger, Accepted: false, Err: err})
		logx.Warn("rutcapture: webhook invocation failed", "linked_id", o.linkedID, "trigger", trigger, "error", err)
		return
	}

	o.mu.Lock()
	if resp.OK {
		o.state.State = StateValidated
	}
	o.mu.Unlock()

	o.emit(Result{Trigger: trigger, Accepted: resp.OK, Reason: resp.Reason, Response: resp})
	if resp.OK {
		logx.Info("rutcapture: webhook validated", "linked_id", o.linkedID, "rut", resp.RUT)
	} else {
		logx.Info("rutcapture: webhook rejected", "linked_id", o.linkedID, "reason", resp.Reason)
	}
}

// Snapshot returns a copy of the current capture state, for diagnostics and
// session export.
func (o *Orchestrator) Snapshot() CaptureState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}
