package ari

import "testing"

func TestEvent_LinkedIDExtractsFromArgs(t *testing.T) {
	e := Event{Args: []string{"other=value", "linkedId=call-123"}}
	if got := e.LinkedID(); got != "call-123" {
		t.Errorf("LinkedID() = %q, want call-123", got)
	}
}

func TestEvent_LinkedIDExtractsFromCommaJoinedArg(t *testing.T) {
	e := Event{Args: []string{"linkedId=call-456,role=externalMedia,kind=stt"}}
	if got := e.LinkedID(); got != "call-456" {
		t.Errorf("LinkedID() = %q, want call-456", got)
	}
}

func TestEvent_LinkedIDEmptyWhenAbsent(t *testing.T) {
	e := Event{Args: []string{"other=value"}}
	if got := e.LinkedID(); got != "" {
		t.Errorf("LinkedID() = %q, want empty", got)
	}
}

func TestNewEventStream_RewritesHTTPSchemeToWS(t *testing.T) {
	s, err := NewEventStream("http://localhost:8088", "user", "pass", "voicebot")
	if err != nil {
		t.Fatalf("NewEventStream: %v", err)
	}
	if len(s.wsURL) < 5 || s.wsURL[:5] != "ws://" {
		t.Errorf("wsURL = %q, want ws:// scheme", s.wsURL)
	}
}

func TestNewEventStream_RewritesHTTPSSchemeToWSS(t *testing.T) {
	s, err := NewEventStream("https://pbx.internal:8089", "user", "pass", "voicebot")
	if err != nil {
		t.Fatalf("NewEventStream: %v", err)
	}
	if len(s.wsURL) < 6 || s.wsURL[:6] != "wss://" {
		t.Errorf("wsURL = %q, want wss:// scheme", s.wsURL)
	}
}
