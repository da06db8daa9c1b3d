// Package snoop implements the Snoop Contract Store (C3): a finite state
// contract for each call's audio-tap channel, persisted in Redis so that the
// engine and any PBX-event listener agree on readiness.
package snoop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/infra"
)

// State is one node of the Snoop Contract's finite state machine.
type State string

const (
	StateCreated     State = "CREATED"
	StateWaitingAST  State = "WAITING_AST"
	StateReady       State = "READY"
	StateConsumed    State = "CONSUMED"
	StateReleasable  State = "RELEASABLE"
	StateDestroyed   State = "DESTROYED"
)

// legalTransitions encodes the graph CREATED → WAITING_AST → READY →
// CONSUMED → RELEASABLE → DESTROYED.
var legalTransitions = map[State]State{
	StateCreated:    StateWaitingAST,
	StateWaitingAST: StateReady,
	StateReady:      StateConsumed,
	StateConsumed:   StateReleasable,
	StateReleasable: StateDestroyed,
}

// Contract is one call's snoop audio-tap state, persisted as JSON.
type Contract struct {
	SnoopID         string `json:"snoopId"`
	LinkedID        string `json:"linkedId"`
	ParentChannelID string `json:"parentChannelId"`
	CaptureBridgeID string `json:"captureBridgeId,omitempty"`
	ExternalMediaID string `json:"externalMediaId,omitempty"`
	State           State  `json:"state"`

	// StateTimestamps maps each state the contract has passed through to the
	// epoch-ms at which it entered that state; timestamps are monotonic in
	// insertion order.
	StateTimestamps map[State]int64 `json:"stateTimestamps"`
}

func newContract(linkedID, snoopID, parentChannelID string, now time.Time) *Contract {
	c := &Contract{
		SnoopID:         snoopID,
		LinkedID:        linkedID,
		ParentChannelID: parentChannelID,
		State:           StateCreated,
		StateTimestamps: map[State]int64{},
	}
	c.StateTimestamps[StateCreated] = now.UnixMilli()
	return c
}

// canTransition reports whether from→to is a legal step in the contract
// graph. Per §3, only DESTROYED and RELEASABLE permit a fresh create.
func canTransition(from, to State) bool {
	return legalTransitions[from] == to
}

// Active reports whether a contract in this state blocks creating a new
// one for the same call; only DESTROYED and RELEASABLE do not block.
func (s State) Active() bool {
	return s != StateDestroyed && s != StateReleasable
}

// Store is the Redis-backed Snoop Contract Store.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the default 1-hour safety-net TTL (§4.2).
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix overrides the default Redis key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

const defaultTTL = time.Hour

// New builds a Store over an existing Redis client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, ttl: defaultTTL, prefix: "voicebot"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(linkedID string) string {
	return fmt.Sprintf("%s:snoop:contract:%s", s.prefix, linkedID)
}

// Create inserts a new contract in state CREATED. It fails if an active
// (non-destroyed, non-releasable) contract already exists for the call, per
// §4.2's create policy.
func (s *Store) Create(ctx context.Context, linkedID, snoopID, parentChannelID string) (*Contract, error) {
	existing, err := s.Get(ctx, linkedID)
	if err != nil && !infra.IsNotFound(err) {
		return nil, err
	}
	if existing != nil && existing.State.Active() {
		return nil, infra.New(infra.KindFatal, "snoop.Create", false,
			fmt.Errorf("active snoop contract %s already exists for call %s in state %s", existing.SnoopID, linkedID, existing.State))
	}

	c := newContract(linkedID, snoopID, parentChannelID, time.Now())
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get loads the contract for linkedID, or an infra.NotFound error.
func (s *Store) Get(ctx context.Context, linkedID string) (*Contract, error) {
	data, err := s.client.Get(ctx, s.key(linkedID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, infra.NotFound("snoop.Get", infra.ErrNotFound)
		}
		return nil, infra.Transient("snoop.Get", err)
	}
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, infra.Fatal("snoop.Get", fmt.Errorf("unmarshal contract: %w", err))
	}
	return &c, nil
}

func (s *Store) save(ctx context.Context, c *Contract) error {
	data, err := json.Marshal(c)
	if err != nil {
		return infra.Fatal("snoop.save", fmt.Errorf("marshal contract: %w", err))
	}
	if err := s.client.Set(ctx, s.key(c.LinkedID), data, s.ttl).Err(); err != nil {
		return infra.Transient("snoop.save", err)
	}
	return nil
}

// Transition validates and applies from→to, optionally patching fields via
// patch, and persists the result. An illegal transition fails loudly (§4.2).
func (s *Store) Transition(ctx context.Context, linkedID string, from, to State, patch func(*Contract)) (*Contract, error) {
	c, err := s.Get(ctx, linkedID)
	if err != nil {
		return nil, err
	}
	if c.State != from {
		return nil, infra.New(infra.KindFatal, "snoop.Transition", false,
			fmt.Errorf("contract %s is in state %s, not expected %s", c.SnoopID, c.State, from))
	}
	if !canTransition(from, to) {
		return nil, infra.New(infra.KindFatal, "snoop.Transition", false,
			fmt.Errorf("illegal transition %s -> %s for contract %s", from, to, c.SnoopID))
	}
	c.State = to
	c.StateTimestamps[to] = time.Now().UnixMilli()
	if patch != nil {
		patch(c)
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Release transitions CONSUMED → RELEASABLE. A contract already RELEASABLE
// or DESTROYED is a no-op returning success (§8 idempotence law).
func (s *Store) Release(ctx context.Context, linkedID string) (*Contract, error) {
	c, err := s.Get(ctx, linkedID)
	if err != nil {
		return nil, err
	}
	if c.State == StateReleasable || c.State == StateDestroyed {
		return c, nil
	}
	return s.Transition(ctx, linkedID, StateConsumed, StateReleasable, nil)
}

// Destroy transitions RELEASABLE → DESTROYED. A contract already DESTROYED
// is a no-op returning success (§8's destroySnoop idempotence law).
func (s *Store) Destroy(ctx context.Context, linkedID string) (*Contract, error) {
	c, err := s.Get(ctx, linkedID)
	if err != nil {
		if infra.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if c.State == StateDestroyed {
		return c, nil
	}
	return s.Transition(ctx, linkedID, StateReleasable, StateDestroyed, nil)
}
