package engine

import (
	"context"
	"time"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/ari"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/config"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/domain"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/marks"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/mediacodec"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/mediaplane"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/mediatap"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/obsv"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/phase"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/rutcapture"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/session"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/snoop"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/stt"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/turn"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/webhook"
)

// audioSink bridges the UDP Audio Tap to the STT bridge: each de-RTP'd
// μ-law frame is resampled to the STT leg's rate before streaming in.
type audioSink struct{ bridge *sttBridge }

func (s audioSink) WriteAudio(payload []byte) {
	_ = s.bridge.StreamAudio(mediacodec.TelephonyToSTT(payload))
}

// hardStopProxy breaks the three-way construction cycle between the STT
// bridge (needs the Orchestrator), the Orchestrator (needs a HardStopper),
// and the Media Plane Controller (needs the bridge, and is the
// HardStopper): the Orchestrator is built against the proxy, and the real
// Controller is assigned into it once it exists.
type hardStopProxy struct {
	target rutcapture.HardStopper
}

func (p *hardStopProxy) HardStop(ctx context.Context) error {
	if p.target == nil {
		return nil
	}
	return p.target.HardStop(ctx)
}

// callActor owns every C4-C10 component scoped to one call and drives its
// turn loop until the call terminates.
type callActor struct {
	call       *session.Call
	cancel     context.CancelFunc
	machine    *turn.Machine
	mediaCtrl  *mediaplane.Controller
	tap        *mediatap.Tap
	player     *playerAdapter
	dispatcher *dispatcherAdapter
	rutOrch    *rutcapture.Orchestrator
	stt        *sttBridge
}

// newCallActor wires one call's full stack: the UDP tap, the STT session,
// the Media Plane Controller, the RUT Capture Orchestrator riding the same
// STT events, and the Turn SM driving the Domain Port.
func newCallActor(cfg *config.Config, ariClient *ari.Client, snoopStore *snoop.Store, contract *phase.Contract,
	webhookGate *webhook.Gate, port domain.Port, linkedID, callerANI, calledDNIS, parentChannelID string) (*callActor, error) {

	call := session.New(linkedID, callerANI, calledDNIS, cfg.ARIApp)
	call.SetPhase(session.PhaseStartGreeting)

	tap, _, err := mediatap.Listen(cfg.ExternalMediaHost)
	if err != nil {
		return nil, err
	}

	sttSession := stt.New(stt.Config{
		APIKey:                cfg.OpenAIAPIKey,
		Model:                 "realtime",
		MinAudioInput:         cfg.MinAudioInputMs,
		StreamStableThreshold: cfg.StreamStableThreshold,
	})

	ledger := marks.New()
	proxy := &hardStopProxy{}
	rutOrch := rutcapture.New(linkedID, linkedID, cfg, webhookGate, ledger, proxy, func() bool {
		return call.Phase() == session.PhaseListenRUT
	})

	bridge := newSTTBridge(sttSession, rutOrch)
	tap.Start(context.Background(), linkedID, audioSink{bridge: bridge})

	mediaCtrl := mediaplane.New(call, parentChannelID, ariClient, snoopStore, contract, cfg, bridge, tap)
	proxy.target = mediaCtrl

	player := newPlayerAdapter(ariClient, parentChannelID)
	dispatcher := newDispatcherAdapter(port, sttSession, cfg.SoundsRoot)

	actor := &callActor{
		call:       call,
		machine:    turn.New(cfg, call, contract, ledger, bridge, player, mediaCtrl, dispatcher, turn.InterruptionDeferred),
		mediaCtrl:  mediaCtrl,
		tap:        tap,
		player:     player,
		dispatcher: dispatcher,
		rutOrch:    rutOrch,
		stt:        bridge,
	}

	rutOrch.OnResult(func(r rutcapture.Result) {
		if r.Accepted {
			dispatcher.setRUTVerdict(true, r.Response.RUT)
		}
	})

	return actor, nil
}

// run drives turns until the call terminates or ctx is cancelled.
func (a *callActor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if a.call.Terminated() {
			return
		}
		turnStart := time.Now()
		outcome, err := a.machine.RunTurn(ctx)
		if err != nil {
			logx.Warn("engine: turn failed", "linked_id", a.call.LinkedID, "error", err)
			obsv.RecordTurn("error", time.Since(turnStart))
			return
		}
		obsv.RecordTurn(string(outcome.Endpoint), time.Since(turnStart))
		if outcome.Terminated {
			return
		}
	}
}

// teardown releases every resource this call actor holds. Always permitted
// regardless of phase, per §4.5's stasis-end rule.
func (a *callActor) teardown(ctx context.Context) {
	a.rutOrch.OnResult(nil)
	if err := a.mediaCtrl.ForceTeardown(ctx); err != nil {
		logx.Warn("engine: force teardown failed", "linked_id", a.call.LinkedID, "error", err)
	}
	_ = a.tap.Close()
}
