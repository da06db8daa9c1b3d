package stt

import (
	"testing"
	"time"
)

func newUnconnectedSession(minAudio time.Duration) *Session {
	return New(Config{
		Model:         "gpt-realtime",
		APIKey:        "test-key",
		MinAudioInput: minAudio,
	})
}

func TestStreamAudio_BelowMinimumIsNeverSent(t *testing.T) {
	s := newUnconnectedSession(180 * time.Millisecond)
	// Well under the 180ms floor (48 bytes/ms): a handful of bytes.
	if err := s.StreamAudio(make([]byte, 10)); err != nil {
		t.Fatalf("StreamAudio below minimum: %v", err)
	}
}

func TestStreamAudio_CrossingMinimumFlushesAndSends(t *testing.T) {
	s := newUnconnectedSession(10 * time.Millisecond)
	minBytes := minBytesFor(10 * time.Millisecond)
	// The underlying conn has no live websocket, so once StreamAudio
	// actually attempts a send it must surface the transport error -
	// proving the bytes were handed to conn.send rather than dropped.
	err := s.StreamAudio(make([]byte, minBytes))
	if err == nil {
		t.Fatal("expected a transport error once the minimum is crossed and send is attempted")
	}
}

func TestCommit_DropsBelowMinimumInputWithoutSending(t *testing.T) {
	s := newUnconnectedSession(180 * time.Millisecond)
	if err := s.StreamAudio(make([]byte, 10)); err != nil {
		t.Fatalf("StreamAudio: %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("expected Commit to silently drop sub-minimum input, got error: %v", err)
	}
}

func TestCommit_SendsWhenMinimumWasCrossed(t *testing.T) {
	s := newUnconnectedSession(10 * time.Millisecond)
	minBytes := minBytesFor(10 * time.Millisecond)
	_ = s.StreamAudio(make([]byte, minBytes)) // crosses the threshold; transport error expected and ignored here

	if err := s.Commit(); err == nil {
		t.Fatal("expected Commit to attempt the provider commit (and surface the transport error) once the minimum was met")
	}
}

func TestStreamAudio_AccumulatesAcrossMultipleCallsBeforeFlushing(t *testing.T) {
	s := newUnconnectedSession(100 * time.Millisecond)
	minBytes := minBytesFor(100 * time.Millisecond)

	// Two calls, each individually below the minimum, together cross it.
	half := minBytes / 2
	if err := s.StreamAudio(make([]byte, half)); err != nil {
		t.Fatalf("first StreamAudio call: %v", err)
	}
	err := s.StreamAudio(make([]byte, minBytes-half+1))
	if err == nil {
		t.Fatal("expected the combined buffer to cross the minimum and attempt a send")
	}
}
