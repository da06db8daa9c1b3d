// Package session models the Call Session and Conversation Phase data.
package session

import (
	"sync"
	"time"
)

// Phase is a node in the conversation state machine.
type Phase string

// The closed set of phases, §3.
const (
	PhaseStartGreeting       Phase = "START_GREETING"
	PhaseListenRUT           Phase = "LISTEN_RUT"
	PhaseListenOption        Phase = "LISTEN_OPTION"
	PhaseListenConfirmation  Phase = "LISTEN_CONFIRMATION"
	PhaseWaitBody            Phase = "WAIT_BODY"
	PhaseWaitDV              Phase = "WAIT_DV"
	PhaseConfirm             Phase = "CONFIRM"
	PhaseAskSpecialty        Phase = "ASK_SPECIALTY"
	PhaseCheckAvailability   Phase = "CHECK_AVAILABILITY"
	PhaseInformAvailability  Phase = "INFORM_AVAILABILITY"
	PhaseFinalize            Phase = "FINALIZE"
	PhaseComplete            Phase = "COMPLETE"
	PhaseGoodbye             Phase = "GOODBYE"
	PhaseEndCall             Phase = "END_CALL"
	PhaseNone                Phase = "NONE"
)

// listenPhases are the phases in which the RUT Capture Orchestrator (C9)
// runs and in which the Turn SM always listens regardless of skipInput.
var listenPhases = map[Phase]bool{
	PhaseListenRUT:          true,
	PhaseListenOption:       true,
	PhaseListenConfirmation: true,
}

// IsListenPhase reports whether p is one of the LISTEN_* phases.
func IsListenPhase(p Phase) bool { return listenPhases[p] }

// RequiresInput reports whether a phase is "silent" (requiresInput==false).
// Silent phases never run the Turn SM's wait-for-voice step.
func RequiresInput(p Phase) bool {
	switch p {
	case PhaseStartGreeting, PhaseConfirm, PhaseAskSpecialty, PhaseCheckAvailability,
		PhaseInformAvailability, PhaseFinalize, PhaseComplete, PhaseGoodbye, PhaseEndCall, PhaseNone:
		return false
	default:
		return true
	}
}

// Call holds the per-call session state. Exactly one phase is active at any
// instant; transitions happen only via the Domain Port's result, applied by
// the Turn State Machine.
type Call struct {
	mu sync.RWMutex

	LinkedID   string
	CallerANI  string
	CalledDNIS string
	Domain     string
	StartedAt  time.Time

	phase              Phase
	turnCount          int
	consecutiveSilence int
	terminated         bool
}

// New creates a Call session in phase START_GREETING.
func New(linkedID, ani, dnis, domain string) *Call {
	return &Call{
		LinkedID:   linkedID,
		CallerANI:  ani,
		CalledDNIS: dnis,
		Domain:     domain,
		StartedAt:  time.Now(),
		phase:      PhaseStartGreeting,
	}
}

// Phase returns the current phase.
func (c *Call) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// SetPhase transitions the call to a new phase. The Turn State Machine calls
// this with each Domain Port result's next phase (the engine also sets the
// initial START_GREETING when it builds the call); the Call is the sole
// source of truth for the phase invariant in §3.
func (c *Call) SetPhase(p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
}

// IncrementTurn bumps the turn counter and returns the new value.
func (c *Call) IncrementTurn() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnCount++
	return c.turnCount
}

// TurnCount returns the current turn counter.
func (c *Call) TurnCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.turnCount
}

// RecordSilentTurn increments consecutiveSilence and returns the new value.
func (c *Call) RecordSilentTurn() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveSilence++
	return c.consecutiveSilence
}

// ResetSilence zeroes the consecutive-silence counter (a non-silent turn).
func (c *Call) ResetSilence() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveSilence = 0
}

// ConsecutiveSilence returns the current silent-turn streak.
func (c *Call) ConsecutiveSilence() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consecutiveSilence
}

// Terminate marks the call as finished. Idempotent.
func (c *Call) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = true
}

// Terminated reports whether the call has been marked finished.
func (c *Call) Terminated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.terminated
}
