package obsv

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg interface {
	Gather() ([]*dto.MetricFamily, error)
}, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				if m.Counter != nil {
					return m.Counter.GetValue()
				}
			}
		}
	}
	return 0
}

func labelsMatch(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) != len(want) {
		return false
	}
	for _, lp := range got {
		if want[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestRecordTurn_IncrementsCounterAndObservesDuration(t *testing.T) {
	TurnsTotal.Reset()
	RecordTurn("completed", 50*time.Millisecond)

	got := counterValue(t, TurnsTotal, "telephony_core_turns_total", map[string]string{"outcome": "completed"})
	if got != 1 {
		t.Errorf("turns_total{outcome=completed} = %v, want 1", got)
	}
}

func TestRecordWebhook_IncrementsCounterByOutcome(t *testing.T) {
	WebhookOutcomes.Reset()
	RecordWebhook("accepted", 10*time.Millisecond)
	RecordWebhook("accepted", 10*time.Millisecond)
	RecordWebhook("error", 10*time.Millisecond)

	accepted := counterValue(t, WebhookOutcomes, "telephony_core_webhook_outcomes_total", map[string]string{"outcome": "accepted"})
	if accepted != 2 {
		t.Errorf("webhook_outcomes_total{outcome=accepted} = %v, want 2", accepted)
	}
	errored := counterValue(t, WebhookOutcomes, "telephony_core_webhook_outcomes_total", map[string]string{"outcome": "error"})
	if errored != 1 {
		t.Errorf("webhook_outcomes_total{outcome=error} = %v, want 1", errored)
	}
}

func TestRecordRUTCapture_LabelsByTriggerAndAcceptance(t *testing.T) {
	RUTCaptureResults.Reset()
	RecordRUTCapture("hard_stop", true)
	RecordRUTCapture("max_turns", false)

	accepted := counterValue(t, RUTCaptureResults, "telephony_core_rut_capture_results_total",
		map[string]string{"trigger": "hard_stop", "accepted": "true"})
	if accepted != 1 {
		t.Errorf("rut_capture_results_total{trigger=hard_stop,accepted=true} = %v, want 1", accepted)
	}
}

func TestNewExporter_RegistersCollectorsWithoutPanicking(t *testing.T) {
	exp := NewExporter("127.0.0.1:0")
	if exp.Registry() == nil {
		t.Fatal("expected a non-nil registry")
	}
	if exp.Handler() == nil {
		t.Fatal("expected a non-nil handler")
	}
}

func TestExporter_ShutdownBeforeStartIsANoop(t *testing.T) {
	exp := NewExporter("127.0.0.1:0")
	if err := exp.Shutdown(nil); err != nil { //nolint:staticcheck // nil context is fine: server was never started
		t.Errorf("Shutdown before Start: %v", err)
	}
}
