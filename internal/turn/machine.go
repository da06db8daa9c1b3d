package turn

import (
	"context"
	"sync"
	"time"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/config"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/marks"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/phase"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/session"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/stt"
)

// VoiceEvidenceKind is one source of "the caller is talking" evidence, per
// §4.6 step 3: either a PBX talk-detect event or the STT client noticing
// audio activity.
type VoiceEvidenceKind string

const (
	EvidenceTalkStart VoiceEvidenceKind = "talk_start"
	EvidenceTalkEnd   VoiceEvidenceKind = "talk_end"
)

// VoiceEvidence is one observation fed into the Turn SM's wait-for-voice and
// endpoint logic. The caller (the Engine Runner, wired to ARI talk-detect
// events) pushes these onto the Machine's voice channel.
type VoiceEvidence struct {
	Kind      VoiceEvidenceKind
	AtEpochMs int64
}

// STTClient is the subset of *stt.Session the Turn SM depends on.
type STTClient interface {
	StreamAudio(pcm []byte) error
	Commit() error
	ClearInput() error
	WaitForTranscript(ctx context.Context, timeout time.Duration) (string, error)
	CancelCurrentResponse(reason string) error
	EnableIncremental()
	DisableIncremental()
	OnPartialTranscript(cb func(stt.TranscriptEvent))
	OnStreamStable(cb func(stt.StreamStableReason))
}

// Player drives announcement/prompt playback on the call's main channel.
type Player interface {
	Play(ctx context.Context, mediaURI string) error
	Stop(ctx context.Context) error
}

// MediaGate ensures (or tears down) the snoop/bridge/external-media
// resources a phase requires before the Turn SM may run STT or playback in
// it, per the Phase Lifecycle Contract's Requires column.
type MediaGate interface {
	EnsureListening(ctx context.Context) error
	EnsurePlayback(ctx context.Context) error
	TeardownIfAllowed(ctx context.Context, p session.Phase) error
}

// DispatchResult is what the Domain Port (C10) returns for one turn.
type DispatchResult struct {
	NextPhase session.Phase
	PromptURI string
	SkipInput bool
	Terminate bool
}

// Dispatcher is the Domain Port contract the Turn SM calls into at step 6.
type Dispatcher interface {
	Dispatch(ctx context.Context, call *session.Call, transcript string) (DispatchResult, error)
}

// Outcome summarizes one RunTurn call for the Engine Runner's logging/metrics.
type Outcome struct {
	Phase      session.Phase
	Transcript string
	Endpoint   EndpointReason
	Silent     bool
	Terminated bool
}

// Machine is the per-call Turn State Machine (C8).
type Machine struct {
	cfg        *config.Config
	call       *session.Call
	contract   *phase.Contract
	ledger     *marks.Ledger
	stt        STTClient
	player     Player
	gate       MediaGate
	dispatcher Dispatcher
	interrupt  *InterruptionHandler

	mu          sync.Mutex
	state       State
	voiceCh     chan VoiceEvidence
	deltaCount  int
	skipInput   bool
}

// New builds a Turn SM for one call. strategy governs barge-in behavior for
// playbacks this machine drives.
func New(cfg *config.Config, call *session.Call, contract *phase.Contract, ledger *marks.Ledger,
	sttClient STTClient, player Player, gate MediaGate, dispatcher Dispatcher, strategy InterruptionStrategy) *Machine {
	return &Machine{
		cfg:        cfg,
		call:       call,
		contract:   contract,
		ledger:     ledger,
		stt:        sttClient,
		player:     player,
		gate:       gate,
		dispatcher: dispatcher,
		interrupt:  NewInterruptionHandler(strategy),
		state:      StateGreeting,
		voiceCh:    make(chan VoiceEvidence, 8),
	}
}

// NotifyVoiceEvidence is how the Engine Runner feeds ARI talk-detect events
// into this turn's wait-for-voice and endpoint logic. Non-blocking: a full
// channel drops the oldest signal rather than stalling the event dispatcher.
func (m *Machine) NotifyVoiceEvidence(ev VoiceEvidence) {
	select {
	case m.voiceCh <- ev:
	default:
		select {
		case <-m.voiceCh:
		default:
		}
		m.voiceCh <- ev
	}
}

func (m *Machine) nowMs() int64 { return time.Now().UnixMilli() }

// RunTurn executes one full turn of §4.6's algorithm: skipInput handling,
// media-plane gating, wait-for-voice, dual endpoint triggers, transcript
// fetch, Domain Port dispatch, and turn/silence accounting.
func (m *Machine) RunTurn(ctx context.Context) (Outcome, error) {
	phaseNow := m.call.Phase()

	// Step 1: skipInput handling with LISTEN_* phase override. A LISTEN_*
	// phase always waits for voice regardless of a prior skipInput request;
	// any other phase honors it.
	effectiveSkip := m.takeSkipInput() && !session.IsListenPhase(phaseNow)
	listens := session.RequiresInput(phaseNow) && !effectiveSkip

	if !listens {
		return m.dispatchAndAdvance(ctx, "", EndpointTimeout, true)
	}

	// Step 2: media-plane gating via the Phase Lifecycle Contract.
	if m.contract.IsActionAllowed(phaseNow, phase.ActionSTT) {
		if err := m.gate.EnsureListening(ctx); err != nil {
			return Outcome{}, err
		}
	}

	m.setState(StateListening)
	m.ledger.Append(marks.ListenStart, 0, m.nowMs(), nil)

	// Step 3: wait for voice evidence (talk-detect or STT activity),
	// bounded by VoiceStartTimeout.
	started, sawVoice := m.waitForVoiceStart(ctx)
	if !sawVoice {
		m.setState(StateSilentAdvance)
		return m.dispatchAndAdvance(ctx, "", EndpointTimeout, true)
	}
	m.ledger.Append(marks.TalkStart, 0, started, nil)

	// Step 4: dual endpoint triggers — silence-based and
	// stream-stability-based — whichever fires first.
	reason := m.waitForEndpoint(ctx)
	m.setState(StateRecordingDone)

	// Step 5: commit the input buffer and fetch the authoritative transcript.
	if err := m.stt.Commit(); err != nil {
		logx.Warn("turn: commit failed", "linked_id", m.call.LinkedID, "error", err)
	}
	transcript, err := m.stt.WaitForTranscript(ctx, m.cfg.TranscriptWait)
	if err != nil {
		return Outcome{}, err
	}
	if transcript == "" {
		m.ledger.Append(marks.Timeout, 0, m.nowMs(), map[string]string{"stage": "transcript"})
	} else {
		m.ledger.Append(marks.IntentFinalized, 0, m.nowMs(), nil)
	}

	return m.dispatchAndAdvance(ctx, transcript, reason, transcript == "")
}

// dispatchAndAdvance runs step 6 (Domain Port dispatch) and step 7 (turn and
// silence accounting, max-turn/max-silent-turn termination).
func (m *Machine) dispatchAndAdvance(ctx context.Context, transcript string, reason EndpointReason, silent bool) (Outcome, error) {
	m.setState(StateDispatching)

	result, err := m.dispatcher.Dispatch(ctx, m.call, transcript)
	if err != nil {
		return Outcome{}, err
	}

	turns := m.call.IncrementTurn()
	var silentStreak int
	if silent {
		silentStreak = m.call.RecordSilentTurn()
	} else {
		m.call.ResetSilence()
	}

	nextPhase := result.NextPhase
	terminate := result.Terminate
	if turns >= m.cfg.MaxTurns || silentStreak >= m.cfg.MaxSilentTurns {
		if nextPhase != session.PhaseGoodbye && nextPhase != session.PhaseEndCall {
			nextPhase = session.PhaseGoodbye
		}
		terminate = true
	}

	m.call.SetPhase(nextPhase)
	m.setSkipInput(result.SkipInput)

	if result.PromptURI != "" {
		if err := m.playWithBargeIn(ctx, result.PromptURI); err != nil {
			logx.Warn("turn: playback failed", "linked_id", m.call.LinkedID, "error", err)
		}
	}

	if err := m.gate.TeardownIfAllowed(ctx, nextPhase); err != nil {
		logx.Warn("turn: teardown check failed", "linked_id", m.call.LinkedID, "error", err)
	}

	if terminate || nextPhase == session.PhaseEndCall {
		m.setState(StateTerminating)
		m.call.Terminate()
	}

	return Outcome{
		Phase:      nextPhase,
		Transcript: transcript,
		Endpoint:   reason,
		Silent:     silent,
		Terminated: m.call.Terminated(),
	}, nil
}

// playWithBargeIn plays mediaURI while honoring the interruption strategy: a
// voice event arriving during playback that the strategy says should
// interrupt stops playback, cancels the active STT response, and returns
// immediately so the next turn can begin listening right away.
func (m *Machine) playWithBargeIn(ctx context.Context, mediaURI string) error {
	if !m.contract.IsActionAllowed(m.call.Phase(), phase.ActionPlayback) {
		return nil
	}
	if err := m.gate.EnsurePlayback(ctx); err != nil {
		return err
	}

	m.setState(StatePlaybackActive)
	m.interrupt.Reset()
	m.interrupt.SetBotSpeaking(true)
	defer m.interrupt.SetBotSpeaking(false)

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		for {
			select {
			case ev := <-m.voiceCh:
				if ev.Kind == EvidenceTalkStart && m.interrupt.ProcessVoiceEvidence() {
					_ = m.stt.CancelCurrentResponse("barge-in")
					_ = m.player.Stop(playCtx)
					cancel()
					return
				}
			case <-playCtx.Done():
				return
			}
		}
	}()

	err := m.player.Play(playCtx, mediaURI)
	cancel()
	<-watchDone
	if m.interrupt.WasInterrupted() {
		return nil
	}
	return err
}

// waitForVoiceStart blocks until voice evidence arrives or VoiceStartTimeout
// elapses, returning the epoch-ms timestamp it arrived at.
func (m *Machine) waitForVoiceStart(ctx context.Context) (atEpochMs int64, ok bool) {
	deltaCh := make(chan struct{}, 1)
	m.stt.OnPartialTranscript(func(e stt.TranscriptEvent) {
		select {
		case deltaCh <- struct{}{}:
		default:
		}
	})

	timer := time.NewTimer(m.cfg.VoiceStartTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-m.voiceCh:
			if ev.Kind == EvidenceTalkStart {
				return m.nowMs(), true
			}
		case <-deltaCh:
			return m.nowMs(), true
		case <-timer.C:
			return 0, false
		case <-ctx.Done():
			return 0, false
		}
	}
}

// waitForEndpoint implements §4.6 step 4's dual endpoint triggers: a
// silence-based trigger (no voice evidence for MinSilenceMs after the last
// TALK_END) and a stream-stability trigger (the STT client reports
// stream-stable/stream-complete). The first to fire wins; MaxUtterance is an
// unconditional ceiling.
func (m *Machine) waitForEndpoint(ctx context.Context) EndpointReason {
	streamCh := make(chan stt.StreamStableReason, 1)
	m.stt.OnStreamStable(func(r stt.StreamStableReason) {
		select {
		case streamCh <- r:
		default:
		}
	})

	silenceTimer := time.NewTimer(m.cfg.MinSilenceMs)
	defer silenceTimer.Stop()
	ceiling := time.NewTimer(m.cfg.MaxUtterance)
	defer ceiling.Stop()

	for {
		select {
		case ev := <-m.voiceCh:
			switch ev.Kind {
			case EvidenceTalkEnd:
				m.ledger.Append(marks.TalkEnd, 0, ev.AtEpochMs, nil)
				if !silenceTimer.Stop() {
					select {
					case <-silenceTimer.C:
					default:
					}
				}
				silenceTimer.Reset(m.cfg.MinSilenceMs)
			case EvidenceTalkStart:
				if !silenceTimer.Stop() {
					select {
					case <-silenceTimer.C:
					default:
					}
				}
				silenceTimer.Reset(m.cfg.MinSilenceMs)
			}
		case r := <-streamCh:
			if r == stt.StreamStable || r == stt.StreamComplete {
				return EndpointStreamStable
			}
		case <-silenceTimer.C:
			return EndpointSilence
		case <-ceiling.C:
			m.ledger.Append(marks.Timeout, 0, m.nowMs(), map[string]string{"stage": "utterance"})
			return EndpointTimeout
		case <-ctx.Done():
			return EndpointTimeout
		}
	}
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// CurrentState reports the Turn SM's current node, for diagnostics.
func (m *Machine) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setSkipInput(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipInput = v
}

func (m *Machine) takeSkipInput() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.skipInput
	m.skipInput = false
	return v
}
