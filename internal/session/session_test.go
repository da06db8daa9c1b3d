package session

import "testing"

func TestNew_StartsInStartGreeting(t *testing.T) {
	c := New("call-1", "555", "100", "clinic")
	if c.Phase() != PhaseStartGreeting {
		t.Errorf("Phase() = %v, want %v", c.Phase(), PhaseStartGreeting)
	}
	if c.LinkedID != "call-1" || c.CallerANI != "555" || c.CalledDNIS != "100" || c.Domain != "clinic" {
		t.Errorf("unexpected identity fields: %+v", c)
	}
}

func TestSetPhase_Transitions(t *testing.T) {
	c := New("call-1", "", "", "")
	c.SetPhase(PhaseListenRUT)
	if c.Phase() != PhaseListenRUT {
		t.Errorf("Phase() = %v, want %v", c.Phase(), PhaseListenRUT)
	}
}

func TestIncrementTurn_CountsUpFromZero(t *testing.T) {
	c := New("call-1", "", "", "")
	if got := c.IncrementTurn(); got != 1 {
		t.Errorf("first IncrementTurn() = %d, want 1", got)
	}
	if got := c.IncrementTurn(); got != 2 {
		t.Errorf("second IncrementTurn() = %d, want 2", got)
	}
	if c.TurnCount() != 2 {
		t.Errorf("TurnCount() = %d, want 2", c.TurnCount())
	}
}

func TestRecordSilentTurn_AndResetSilence(t *testing.T) {
	c := New("call-1", "", "", "")
	c.RecordSilentTurn()
	c.RecordSilentTurn()
	if c.ConsecutiveSilence() != 2 {
		t.Errorf("ConsecutiveSilence() = %d, want 2", c.ConsecutiveSilence())
	}
	c.ResetSilence()
	if c.ConsecutiveSilence() != 0 {
		t.Errorf("ConsecutiveSilence() after reset = %d, want 0", c.ConsecutiveSilence())
	}
}

func TestTerminate_IsIdempotentAndObservable(t *testing.T) {
	c := New("call-1", "", "", "")
	if c.Terminated() {
		t.Fatal("expected a fresh call to not be terminated")
	}
	c.Terminate()
	c.Terminate()
	if !c.Terminated() {
		t.Error("expected Terminated() to be true after Terminate()")
	}
}

func TestIsListenPhase(t *testing.T) {
	for _, p := range []Phase{PhaseListenRUT, PhaseListenOption, PhaseListenConfirmation} {
		if !IsListenPhase(p) {
			t.Errorf("IsListenPhase(%v) = false, want true", p)
		}
	}
	if IsListenPhase(PhaseStartGreeting) {
		t.Error("IsListenPhase(PhaseStartGreeting) = true, want false")
	}
}

func TestRequiresInput(t *testing.T) {
	silent := []Phase{PhaseStartGreeting, PhaseConfirm, PhaseAskSpecialty, PhaseCheckAvailability,
		PhaseInformAvailability, PhaseFinalize, PhaseComplete, PhaseGoodbye, PhaseEndCall, PhaseNone}
	for _, p := range silent {
		if RequiresInput(p) {
			t.Errorf("RequiresInput(%v) = true, want false", p)
		}
	}
	listening := []Phase{PhaseListenRUT, PhaseListenOption, PhaseListenConfirmation, PhaseWaitBody, PhaseWaitDV}
	for _, p := range listening {
		if !RequiresInput(p) {
			t.Errorf("RequiresInput(%v) = false, want true", p)
		}
	}
}
