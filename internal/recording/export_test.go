package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/config"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/marks"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/rutcapture"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/webhook"
)

func newTestOrchestrator() *rutcapture.Orchestrator {
	gate := webhook.NewGate(webhook.New("http://127.0.0.1:0", time.Second))
	return rutcapture.New("call-1", "call-1", &config.Config{}, gate, marks.New(), nil, func() bool { return false })
}

func TestExport_IncludesMarksAndCaptureSnapshot(t *testing.T) {
	ledger := marks.New()
	ledger.Append(marks.RecordingStart, 0, 1000, nil)
	ledger.Append(marks.WindowOpen, 10, 1010, nil)

	exp := Export("call-1", "ani", "dnis", ledger, newTestOrchestrator())

	if exp.Metadata.LinkedID != "call-1" {
		t.Errorf("LinkedID = %q", exp.Metadata.LinkedID)
	}
	if exp.Metadata.MarkCount != 2 {
		t.Errorf("MarkCount = %d, want 2", exp.Metadata.MarkCount)
	}
	if len(exp.Marks) != 2 {
		t.Fatalf("len(Marks) = %d, want 2", len(exp.Marks))
	}
}

func TestSessionExport_SaveAndLoadJSONRoundTrips(t *testing.T) {
	ledger := marks.New()
	ledger.Append(marks.TalkStart, 0, 1000, map[string]string{"note": "x"})

	exp := Export("call-2", "555", "100", ledger, newTestOrchestrator())

	path := filepath.Join(t.TempDir(), "call-2.json")
	if err := exp.SaveTo(path, FormatJSON); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Metadata.LinkedID != "call-2" {
		t.Errorf("loaded LinkedID = %q", loaded.Metadata.LinkedID)
	}
	if len(loaded.Marks) != 1 {
		t.Fatalf("loaded Marks = %d, want 1", len(loaded.Marks))
	}
}

func TestSessionExport_SaveToJSONLinesWritesOneRecordPerLine(t *testing.T) {
	ledger := marks.New()
	ledger.Append(marks.TalkStart, 0, 1000, nil)
	ledger.Append(marks.TalkEnd, 50, 1050, nil)

	exp := Export("call-3", "", "", ledger, newTestOrchestrator())

	path := filepath.Join(t.TempDir(), "call-3.jsonl")
	if err := exp.SaveTo(path, FormatJSONLines); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	// metadata + rut_capture + 2 marks
	if lines != 4 {
		t.Errorf("lines = %d, want 4", lines)
	}
}

func TestSessionExport_SaveToRejectsUnknownFormat(t *testing.T) {
	exp := Export("call-4", "", "", marks.New(), newTestOrchestrator())
	if err := exp.SaveTo(filepath.Join(t.TempDir(), "x"), Format("bogus")); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}
