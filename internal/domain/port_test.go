package domain

import "testing"

func TestNormalize_RejectsSoundPrefixedText(t *testing.T) {
	var warned string
	r := Normalize(Result{Text: "sound:greeting"}, func(msg string) { warned = msg })
	if r.Text != "" {
		t.Errorf("expected Text cleared, got %q", r.Text)
	}
	if warned == "" {
		t.Errorf("expected a warning to be logged")
	}
}

func TestNormalize_PassesThroughOrdinaryText(t *testing.T) {
	r := Normalize(Result{Text: "hola, bienvenido"}, func(string) { t.Fatalf("unexpected warning") })
	if r.Text != "hola, bienvenido" {
		t.Errorf("Text = %q, want unchanged", r.Text)
	}
}
