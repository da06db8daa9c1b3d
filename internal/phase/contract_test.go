package phase

import (
	"testing"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/session"
)

func TestDefault_RepresentativeRows(t *testing.T) {
	c := Default()

	if !c.IsActionAllowed(session.PhaseStartGreeting, ActionPlayback) {
		t.Errorf("START_GREETING should allow PLAYBACK")
	}
	if c.IsActionAllowed(session.PhaseStartGreeting, ActionSTT) {
		t.Errorf("START_GREETING should deny STT")
	}
	if !c.IsResourceRequired(session.PhaseStartGreeting, ResourceBridge) {
		t.Errorf("START_GREETING should require BRIDGE")
	}

	if !c.IsActionAllowed(session.PhaseListenRUT, ActionSTT) {
		t.Errorf("LISTEN_RUT should allow STT")
	}
	if c.IsActionAllowed(session.PhaseListenRUT, ActionTeardown) {
		t.Errorf("LISTEN_RUT should deny TEARDOWN")
	}

	if !c.IsActionAllowed(session.PhaseEndCall, ActionTeardown) {
		t.Errorf("END_CALL should allow TEARDOWN")
	}
	if c.IsActionAllowed(session.PhaseEndCall, ActionPlayback) {
		t.Errorf("END_CALL should deny PLAYBACK")
	}
}

func TestIsActionAllowed_TotalTable(t *testing.T) {
	c := Default()
	// Any (phase, action) pair absent from both allow and deny must be denied.
	if c.IsActionAllowed(session.PhaseGoodbye, ActionCreateSnoop) {
		t.Errorf("unlisted action must default to denied")
	}
	if c.IsActionAllowed(session.Phase("UNKNOWN_PHASE"), ActionPlayback) {
		t.Errorf("unknown phase must default to denied for every action")
	}
}
