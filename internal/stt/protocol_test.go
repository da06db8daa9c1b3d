package stt

import "testing"

func TestParseServerEvent_Dispatch(t *testing.T) {
	cases := []struct {
		name string
		json string
		want any
	}{
		{
			name: "transcription completed",
			json: `{"type":"conversation.item.input_audio_transcription.completed","item_id":"i1","transcript":"hola"}`,
		},
		{
			name: "response done",
			json: `{"type":"response.done","response":{"id":"r1","status":"completed"}}`,
		},
		{
			name: "error",
			json: `{"type":"error","error":{"message":"boom","code":"x"}}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := parseServerEvent([]byte(tc.json))
			if err != nil {
				t.Fatalf("parseServerEvent: %v", err)
			}
			if ev == nil {
				t.Fatalf("expected non-nil event")
			}
		})
	}
}

func TestParseServerEvent_TranscriptionPayload(t *testing.T) {
	ev, err := parseServerEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"catorce millones"}`))
	if err != nil {
		t.Fatalf("parseServerEvent: %v", err)
	}
	tc, ok := ev.(*transcriptionCompletedEvent)
	if !ok {
		t.Fatalf("expected *transcriptionCompletedEvent, got %T", ev)
	}
	if tc.Transcript != "catorce millones" {
		t.Errorf("transcript = %q, want %q", tc.Transcript, "catorce millones")
	}
}

func TestDefaultSessionConfig_NoServerTurnDetection(t *testing.T) {
	cfg := DefaultSessionConfig(0.7, 200)
	if cfg.TurnDetection != nil {
		t.Errorf("expected server-side turn detection disabled (nil), got %+v", cfg.TurnDetection)
	}
	if cfg.InputAudioFormat != "g711_ulaw" {
		t.Errorf("input format = %s, want g711_ulaw", cfg.InputAudioFormat)
	}
	if cfg.OutputAudioFormat != "pcm16" {
		t.Errorf("output format = %s, want pcm16", cfg.OutputAudioFormat)
	}
}
