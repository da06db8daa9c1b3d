package engine

import (
	"context"
	"sync"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/ari"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/config"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/domain"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/obsv"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/phase"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/snoop"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/turn"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/webhook"
)

// Runner is the process-level Engine Runner (C11): it owns the single ARI
// Stasis event subscription and fans each event out to the call actor it
// belongs to, by channel id (a call's own primary channel) or by the
// linkedId carried in a snoop/ExternalMedia channel's StasisStart args.
type Runner struct {
	cfg        *config.Config
	ari        *ari.Client
	snoopStore *snoop.Store
	contract   *phase.Contract
	webhookGate *webhook.Gate
	port       domain.Port

	mu    sync.Mutex
	calls map[string]*callActor // keyed by linkedId (== the call's primary channel id)
	wg    sync.WaitGroup
}

// NewRunner builds a Runner. The caller supplies the already-constructed
// shared singletons: the ARI REST client, the Snoop Contract store, the
// Phase Lifecycle Contract, the Webhook Gate, and the Domain Port.
func NewRunner(cfg *config.Config, ariClient *ari.Client, snoopStore *snoop.Store, contract *phase.Contract,
	webhookGate *webhook.Gate, port domain.Port) *Runner {
	return &Runner{
		cfg:         cfg,
		ari:         ariClient,
		snoopStore:  snoopStore,
		contract:    contract,
		webhookGate: webhookGate,
		port:        port,
		calls:       make(map[string]*callActor),
	}
}

// Run subscribes to the ARI Stasis event stream and dispatches events until
// ctx is cancelled, at which point every active call is torn down before
// returning. This is the long-running task the process entrypoint starts.
func (r *Runner) Run(ctx context.Context) error {
	stream, err := ari.NewEventStream(r.cfg.ARIURL, r.cfg.ARIUsername, r.cfg.ARIPassword, r.cfg.ARIApp)
	if err != nil {
		return err
	}
	if err := stream.ConnectWithRetry(ctx); err != nil {
		return err
	}
	defer stream.Close()

	go stream.ReceiveLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			r.teardownAll(ctx)
			return nil
		case err, ok := <-stream.Errors():
			if !ok {
				continue
			}
			logx.Warn("engine: ari event stream error, stopping", "error", err)
			r.teardownAll(ctx)
			return err
		case ev, ok := <-stream.Events():
			if !ok {
				r.teardownAll(ctx)
				return nil
			}
			r.dispatch(ctx, ev)
		}
	}
}

// dispatch routes one decoded ARI event to the call actor it concerns, per
// §6's event-to-task mapping.
func (r *Runner) dispatch(ctx context.Context, ev *ari.Event) {
	switch ev.Type {
	case ari.EventStasisStart:
		r.onStasisStart(ctx, ev)
	case ari.EventChannelTalkingStarted:
		r.withPrimaryActor(ev, func(a *callActor) {
			a.machine.NotifyVoiceEvidence(turn.VoiceEvidence{Kind: turn.EvidenceTalkStart})
		})
	case ari.EventChannelTalkingFinished:
		r.withPrimaryActor(ev, func(a *callActor) {
			a.machine.NotifyVoiceEvidence(turn.VoiceEvidence{Kind: turn.EvidenceTalkEnd})
		})
	case ari.EventPlaybackFinished, ari.EventPlaybackStopped, ari.EventPlaybackFailed:
		if ev.Playback == nil {
			return
		}
		r.withPrimaryActor(ev, func(a *callActor) {
			a.player.NotifyFinished(ev.Playback.ID)
		})
	case ari.EventStasisEnd:
		r.onStasisEnd(ctx, ev)
	}
}

// onStasisStart either spawns a new call actor (the call's own primary
// channel entering Stasis, identified by having no linkedId arg) or, for a
// snoop channel we created, notifies its owning Controller that its
// SnoopStasisStart side of the public contract has fired.
func (r *Runner) onStasisStart(ctx context.Context, ev *ari.Event) {
	if ev.Channel == nil {
		return
	}
	linkedID := ev.LinkedID()

	if linkedID != "" {
		r.mu.Lock()
		actor, ok := r.calls[linkedID]
		r.mu.Unlock()
		if !ok {
			logx.Warn("engine: stasis start for unknown linked id", "linked_id", linkedID, "channel_id", ev.Channel.ID)
			return
		}
		if err := actor.mediaCtrl.OnSnoopStasisStart(ctx); err != nil {
			logx.Warn("engine: snoop stasis start failed", "linked_id", linkedID, "error", err)
		}
		return
	}

	ani, dnis := "", ""
	if ev.Channel.Caller != nil {
		ani = ev.Channel.Caller.Number
	}
	if ev.Channel.Dialplan != nil {
		dnis = ev.Channel.Dialplan.Exten
	}

	actor, err := newCallActor(r.cfg, r.ari, r.snoopStore, r.contract, r.webhookGate, r.port,
		ev.Channel.ID, ani, dnis, ev.Channel.ID)
	if err != nil {
		logx.Warn("engine: failed to build call actor", "channel_id", ev.Channel.ID, "error", err)
		_ = r.ari.Hangup(ctx, ev.Channel.ID)
		return
	}

	r.mu.Lock()
	r.calls[ev.Channel.ID] = actor
	r.mu.Unlock()
	obsv.ActiveCalls.Inc()

	callCtx, cancel := context.WithCancel(ctx)
	actor.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		actor.run(callCtx)
		actor.teardown(context.Background())
		r.mu.Lock()
		delete(r.calls, ev.Channel.ID)
		r.mu.Unlock()
		obsv.ActiveCalls.Dec()
	}()
}

// onStasisEnd tears down the call actor owning the channel that left
// Stasis, when it is that call's primary channel. Snoop/ExternalMedia
// channels leaving Stasis are handled internally by the Media Plane
// Controller's own teardown sequence, not here.
func (r *Runner) onStasisEnd(ctx context.Context, ev *ari.Event) {
	if ev.Channel == nil {
		return
	}
	r.mu.Lock()
	actor, ok := r.calls[ev.Channel.ID]
	r.mu.Unlock()
	if !ok {
		return
	}
	actor.call.Terminate()
	if actor.cancel != nil {
		actor.cancel()
	}
}

// withPrimaryActor looks up the call actor owning ev's primary channel and,
// if found, runs fn against it.
func (r *Runner) withPrimaryActor(ev *ari.Event, fn func(*callActor)) {
	if ev.Channel == nil {
		return
	}
	r.mu.Lock()
	actor, ok := r.calls[ev.Channel.ID]
	r.mu.Unlock()
	if ok {
		fn(actor)
	}
}

// teardownAll signals every active call's context as done (cancelling its
// run loop, which then tears itself down) and waits for all of them to
// finish, for a clean process shutdown.
func (r *Runner) teardownAll(ctx context.Context) {
	r.mu.Lock()
	for _, a := range r.calls {
		a.call.Terminate()
		if a.cancel != nil {
			a.cancel()
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
}
