// Package mediaplane implements the Media Plane Controller (C7): creation,
// anchoring, and lifecycle of the snoop channel, capture bridge, and
// ExternalMedia UDP tap for one call, plus the audio-ready gate and
// teardown ordering.
package mediaplane

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/ari"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/config"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/infra"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/phase"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/session"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/snoop"
)

// AriPort is the subset of *ari.Client the controller depends on.
type AriPort interface {
	ChannelGet(ctx context.Context, channelID string) (*ari.ChannelState, error)
	CreateBridge(ctx context.Context, bridgeType string) (string, error)
	DestroyBridge(ctx context.Context, bridgeID string) error
	AddChannelToBridge(ctx context.Context, bridgeID, channelID string) error
	SnoopChannel(ctx context.Context, parentChannelID, linkedID string) (string, error)
	ExternalMedia(ctx context.Context, p ari.ExternalMediaParams) (string, error)
	Hangup(ctx context.Context, channelID string) error
}

// STTController is the subset of *stt.Session the controller needs for the
// audio-ready sequence and the hard-stop path.
type STTController interface {
	Connect(ctx context.Context) error
	Disconnect() error
	DisableIncremental()
}

// UDPCloser is the subset of *mediatap.Tap the controller needs for
// teardown; Port reports the already-bound ephemeral port to advertise to
// ExternalMedia.
type UDPCloser interface {
	Close() error
	Port() int
}

// Controller is one call's Media Plane Controller.
type Controller struct {
	call             *session.Call
	parentChannelID  string
	ari              AriPort
	store            *snoop.Store
	contract         *phase.Contract
	cfg              *config.Config
	stt              STTController
	tap              UDPCloser

	mu               sync.Mutex
	bridgeID         string
	externalMediaID  string
}

// New builds a Controller for one call. tap must already be listening
// (mediatap.Listen) so Port() is valid.
func New(call *session.Call, parentChannelID string, ariClient AriPort, store *snoop.Store,
	contract *phase.Contract, cfg *config.Config, stt STTController, tap UDPCloser) *Controller {
	return &Controller{
		call:            call,
		parentChannelID: parentChannelID,
		ari:             ariClient,
		store:           store,
		contract:        contract,
		cfg:             cfg,
		stt:             stt,
		tap:             tap,
	}
}

// EnsureSnoop implements the public contract's ensureSnoop: idempotent,
// recreating only from DESTROYED/RELEASABLE per §3's Snoop Contract
// invariant.
func (c *Controller) EnsureSnoop(ctx context.Context) (string, error) {
	existing, err := c.store.Get(ctx, c.call.LinkedID)
	if err != nil && !infra.IsNotFound(err) {
		return "", err
	}
	if err == nil && existing.State.Active() {
		return existing.SnoopID, nil
	}

	snoopID, err := c.ari.SnoopChannel(ctx, c.parentChannelID, c.call.LinkedID)
	if err != nil {
		return "", err
	}
	if _, err := c.store.Create(ctx, c.call.LinkedID, snoopID, c.parentChannelID); err != nil {
		return "", err
	}
	if _, err := c.store.Transition(ctx, c.call.LinkedID, snoop.StateCreated, snoop.StateWaitingAST, nil); err != nil {
		return "", err
	}
	return snoopID, nil
}

// OnSnoopStasisStart is called by the event dispatcher when a StasisStart
// event correlated to this linkedId arrives for the snoop channel.
func (c *Controller) OnSnoopStasisStart(ctx context.Context) error {
	_, err := c.store.Transition(ctx, c.call.LinkedID, snoop.StateWaitingAST, snoop.StateReady, nil)
	return err
}

// EnsureCaptureBridge implements ensureCaptureBridge: a mixing bridge
// holding the snoop and (later) the ExternalMedia channel.
func (c *Controller) EnsureCaptureBridge(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.bridgeID != "" {
		id := c.bridgeID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	bridgeID, err := c.ari.CreateBridge(ctx, "mixing,dtmf_events")
	if err != nil {
		return "", err
	}

	contract, err := c.store.Get(ctx, c.call.LinkedID)
	if err == nil {
		if err := c.ari.AddChannelToBridge(ctx, bridgeID, contract.SnoopID); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.bridgeID = bridgeID
	c.mu.Unlock()
	return bridgeID, nil
}

const (
	addChannelRetryBase = 100 * time.Millisecond
	addChannelRetryMax  = 800 * time.Millisecond
	addChannelMaxTries  = 15
)

// EnsureExternalMedia implements ensureExternalMedia: creates the
// ExternalMedia channel pointed at the controller's already-bound UDP
// socket, then adds it to the capture bridge with exponential-backoff
// retry for the two recoverable errors named in §4.5/§7.
func (c *Controller) EnsureExternalMedia(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.externalMediaID != "" {
		id := c.externalMediaID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	externalID, err := c.ari.ExternalMedia(ctx, ari.ExternalMediaParams{
		LinkedID:       c.call.LinkedID,
		ExternalHostIP: c.cfg.ExternalMediaHost,
		ExternalPort:   c.tap.Port(),
		Format:         "ulaw",
		Direction:      "both",
	})
	if err != nil {
		return "", err
	}

	bridgeID, err := c.EnsureCaptureBridge(ctx)
	if err != nil {
		return "", err
	}

	if err := c.addChannelWithRetry(ctx, bridgeID, externalID); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.externalMediaID = externalID
	c.mu.Unlock()
	return externalID, nil
}

func (c *Controller) addChannelWithRetry(ctx context.Context, bridgeID, channelID string) error {
	var lastErr error
	for attempt := 0; attempt < addChannelMaxTries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffFor(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := c.ari.AddChannelToBridge(ctx, bridgeID, channelID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ari.ErrChannelNotInStasis) && !errors.Is(err, ari.ErrCurrentlyRecording) {
			return err
		}
		lastErr = err
		logx.Debug("mediaplane: retrying addChannelToBridge", "attempt", attempt+1, "error", err)
	}
	return infra.Fatal("mediaplane.addChannelWithRetry", fmt.Errorf("exhausted %d attempts: %w", addChannelMaxTries, lastErr))
}

func backoffFor(attempt int) time.Duration {
	d := float64(addChannelRetryBase) * math.Pow(2, float64(attempt-1))
	if d > float64(addChannelRetryMax) {
		d = float64(addChannelRetryMax)
	}
	return time.Duration(d)
}

// WaitAudioReady implements waitAudioReady: the contract's READY state is
// authoritative; a best-effort channel query is telemetry only and must
// never cause a false negative (a query error or non-authoritative state is
// logged, not treated as failure).
func (c *Controller) WaitAudioReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		contract, err := c.store.Get(ctx, c.call.LinkedID)
		if err == nil && contract.State == snoop.StateReady {
			if state, qErr := c.ari.ChannelGet(ctx, c.parentChannelID); qErr == nil && state.State == "Down" {
				logx.Debug("mediaplane: telemetry channel query reports Down despite READY contract")
			}
			return nil
		}
		if time.Now().After(deadline) {
			return infra.Transient("mediaplane.WaitAudioReady", fmt.Errorf("snoop not READY within %s", timeout))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// EnsureListening implements turn.MediaGate: the ordering invariants 1-6 of
// §4.5 for phases that require STT.
func (c *Controller) EnsureListening(ctx context.Context) error {
	p := c.call.Phase()
	if !c.contract.IsResourceRequired(p, phase.ResourceSnoop) {
		return nil
	}

	if _, err := c.EnsureSnoop(ctx); err != nil {
		return err
	}
	if err := c.WaitAudioReady(ctx, c.cfg.AudioReadyEventTimeout); err != nil {
		logx.Warn("mediaplane: audio-ready gate did not clear before event timeout", "linked_id", c.call.LinkedID, "error", err)
	}
	if _, err := c.EnsureExternalMedia(ctx); err != nil {
		return err
	}
	return c.stt.Connect(ctx)
}

// EnsurePlayback implements turn.MediaGate for phases that only need the
// capture bridge present (e.g. a greeting with no listening yet).
func (c *Controller) EnsurePlayback(ctx context.Context) error {
	p := c.call.Phase()
	if !c.contract.IsResourceRequired(p, phase.ResourceBridge) {
		return nil
	}
	_, err := c.EnsureCaptureBridge(ctx)
	return err
}

// TeardownIfAllowed implements turn.MediaGate: consults the Phase Contract
// unless forced (stasis end), then runs the teardown order of §4.5's last
// paragraph.
func (c *Controller) TeardownIfAllowed(ctx context.Context, p session.Phase) error {
	if !c.contract.IsTeardownAllowed(p) {
		return nil
	}
	return c.teardown(ctx)
}

// ForceTeardown runs the same teardown order unconditionally, for call
// stasis end where teardown is always permitted regardless of phase.
func (c *Controller) ForceTeardown(ctx context.Context) error {
	return c.teardown(ctx)
}

func (c *Controller) teardown(ctx context.Context) error {
	_ = c.stt.Disconnect() // idempotent; also cancels any active response server-side on close

	if err := c.tap.Close(); err != nil {
		logx.Warn("mediaplane: udp tap close error", "linked_id", c.call.LinkedID, "error", err)
	}

	c.mu.Lock()
	externalID := c.externalMediaID
	bridgeID := c.bridgeID
	c.mu.Unlock()

	if externalID != "" {
		if err := c.ari.Hangup(ctx, externalID); err != nil {
			logx.Warn("mediaplane: external media hangup error", "linked_id", c.call.LinkedID, "error", err)
		}
	}
	if bridgeID != "" {
		if err := c.ari.DestroyBridge(ctx, bridgeID); err != nil {
			logx.Warn("mediaplane: bridge destroy error", "linked_id", c.call.LinkedID, "error", err)
		}
	}

	if _, err := c.store.Release(ctx, c.call.LinkedID); err != nil && !infra.IsNotFound(err) {
		return err
	}
	if _, err := c.store.Destroy(ctx, c.call.LinkedID); err != nil && !infra.IsNotFound(err) {
		return err
	}
	return nil
}

// HardStop implements rutcapture.HardStopper: disable incremental mode,
// disconnect the STT session, hang up ExternalMedia, and close the UDP
// socket, marking STT as re-initializable for a later LISTEN_RUT re-entry.
func (c *Controller) HardStop(ctx context.Context) error {
	c.stt.DisableIncremental()
	_ = c.stt.Disconnect()

	c.mu.Lock()
	externalID := c.externalMediaID
	c.externalMediaID = ""
	c.mu.Unlock()

	if externalID != "" {
		if err := c.ari.Hangup(ctx, externalID); err != nil {
			logx.Warn("mediaplane: hard-stop external media hangup error", "linked_id", c.call.LinkedID, "error", err)
		}
	}
	if err := c.tap.Close(); err != nil {
		logx.Warn("mediaplane: hard-stop udp tap close error", "linked_id", c.call.LinkedID, "error", err)
	}
	return nil
}
