// Package rutintake is a reference Domain Port (C10) implementation: it
// drives the phase sequence START_GREETING -> LISTEN_RUT -> CONFIRM ->
// ASK_SPECIALTY -> CHECK_AVAILABILITY -> INFORM_AVAILABILITY -> FINALIZE ->
// GOODBYE -> END_CALL, identifying a caller by RUT and capturing a medical
// specialty before handing off to scheduling. It is intentionally
// self-contained: no database, no queue, just the state machine the Engine
// Runner drives turn by turn.
package rutintake

import (
	"context"
	"strings"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/domain"
)

// Phase name constants, kept as plain strings (rather than importing
// internal/session) so this package stays a pure Domain Port with no
// dependency on the engine's call-session representation.
const (
	phaseStartGreeting      = "START_GREETING"
	phaseListenRUT          = "LISTEN_RUT"
	phaseConfirm            = "CONFIRM"
	phaseAskSpecialty       = "ASK_SPECIALTY"
	phaseCheckAvailability  = "CHECK_AVAILABILITY"
	phaseInformAvailability = "INFORM_AVAILABILITY"
	phaseFinalize           = "FINALIZE"
	phaseGoodbye            = "GOODBYE"
	phaseEndCall            = "END_CALL"
)

// Availability is the (stubbed) scheduling lookup this reference bot
// consults in CHECK_AVAILABILITY. A real deployment would replace this with
// a call to an external scheduling system; the Domain Port contract doesn't
// change either way.
type Availability interface {
	NextSlot(specialty string) (slot string, ok bool)
}

// staticAvailability always offers the same canned slot; it exists so the
// reference bot is runnable without external wiring.
type staticAvailability struct{ slot string }

func (s staticAvailability) NextSlot(specialty string) (string, bool) { return s.slot, true }

// Bot is the reference rutintake Domain Port implementation.
type Bot struct {
	availability Availability
}

// New builds a Bot. A nil availability falls back to a static stub slot.
func New(availability Availability) *Bot {
	if availability == nil {
		availability = staticAvailability{slot: "mañana a las 10:00"}
	}
	return &Bot{availability: availability}
}

func phaseOf(state map[string]any) string {
	if state == nil {
		return ""
	}
	if p, ok := state["phase"].(string); ok {
		return p
	}
	return ""
}

func patch(fields map[string]any, nextPhase string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["phase"] = nextPhase
	return out
}

// Handle implements domain.Port.
func (b *Bot) Handle(ctx context.Context, dctx domain.Ctx) (domain.Result, error) {
	switch phaseOf(dctx.State) {
	case "":
		return domain.Result{
			Action:     domain.ActionPlayAudio,
			Audio:      "greeting",
			NextPhase:  phaseListenRUT,
			StatePatch: patch(nil, phaseListenRUT),
		}, nil

	case phaseListenRUT:
		return b.handleListenRUT(dctx)

	case phaseConfirm:
		return b.handleConfirm(dctx)

	case phaseAskSpecialty:
		return b.handleAskSpecialty(dctx)

	case phaseCheckAvailability:
		return b.handleCheckAvailability(dctx)

	case phaseInformAvailability:
		return domain.Result{
			Action:     domain.ActionPlayAudio,
			Audio:      "confirm_appointment",
			NextPhase:  phaseFinalize,
			SkipInput:  true,
			StatePatch: patch(dctx.State, phaseFinalize),
		}, nil

	case phaseFinalize:
		return domain.Result{
			Action:     domain.ActionPlayAudio,
			Audio:      "thanks",
			NextPhase:  phaseGoodbye,
			SkipInput:  true,
			StatePatch: patch(dctx.State, phaseGoodbye),
		}, nil

	case phaseGoodbye:
		return domain.Result{
			Action:       domain.ActionPlayAudio,
			Audio:        "goodbye",
			NextPhase:    phaseEndCall,
			ShouldHangup: true,
			SkipInput:    true,
			StatePatch:   patch(dctx.State, phaseEndCall),
		}, nil

	default: // END_CALL or unknown: hang up
		return domain.Result{Action: domain.ActionHangup, ShouldHangup: true}, nil
	}
}

// handleListenRUT awaits the RUT Capture Orchestrator's verdict, stored by
// the Engine Runner into dctx.State before calling Handle: "rutValidated"
// (bool) and, on success, "rut" (string).
func (b *Bot) handleListenRUT(dctx domain.Ctx) (domain.Result, error) {
	if validated, _ := dctx.State["rutValidated"].(bool); validated {
		rut, _ := dctx.State["rut"].(string)
		return domain.Result{
			Action:     domain.ActionSayText,
			Text:       "Confirmo su rut " + rut + ". ¿Es correcto?",
			NextPhase:  phaseConfirm,
			StatePatch: patch(map[string]any{"rut": rut}, phaseConfirm),
		}, nil
	}

	if dctx.Event == domain.EventNoInput {
		return domain.Result{
			Action:     domain.ActionPlayAudio,
			Audio:      "repeat_rut",
			NextPhase:  phaseListenRUT,
			StatePatch: patch(dctx.State, phaseListenRUT),
		}, nil
	}

	// Transcript arrived but the webhook hasn't validated it yet (or was
	// rejected); stay in LISTEN_RUT and let the caller try again.
	return domain.Result{
		Action:     domain.ActionWaitInput,
		NextPhase:  phaseListenRUT,
		StatePatch: patch(dctx.State, phaseListenRUT),
	}, nil
}

func (b *Bot) handleConfirm(dctx domain.Ctx) (domain.Result, error) {
	answer := strings.ToLower(strings.TrimSpace(dctx.Transcript))
	switch {
	case strings.Contains(answer, "si") || strings.Contains(answer, "sí"):
		return domain.Result{
			Action:     domain.ActionPlayAudio,
			Audio:      "ask_specialty",
			NextPhase:  phaseAskSpecialty,
			StatePatch: patch(dctx.State, phaseAskSpecialty),
		}, nil
	case strings.Contains(answer, "no"):
		return domain.Result{
			Action:     domain.ActionPlayAudio,
			Audio:      "retry_rut",
			NextPhase:  phaseListenRUT,
			StatePatch: patch(map[string]any{"rutValidated": false}, phaseListenRUT),
		}, nil
	default:
		return domain.Result{
			Action:     domain.ActionPlayAudio,
			Audio:      "confirm_retry",
			NextPhase:  phaseConfirm,
			StatePatch: patch(dctx.State, phaseConfirm),
		}, nil
	}
}

func (b *Bot) handleAskSpecialty(dctx domain.Ctx) (domain.Result, error) {
	if strings.TrimSpace(dctx.Transcript) == "" {
		return domain.Result{
			Action:     domain.ActionPlayAudio,
			Audio:      "ask_specialty_retry",
			NextPhase:  phaseAskSpecialty,
			StatePatch: patch(dctx.State, phaseAskSpecialty),
		}, nil
	}
	return domain.Result{
		Action:     domain.ActionPlayAudio,
		Audio:      "checking_availability",
		NextPhase:  phaseCheckAvailability,
		SkipInput:  true,
		StatePatch: patch(map[string]any{"specialty": dctx.Transcript}, phaseCheckAvailability),
	}, nil
}

func (b *Bot) handleCheckAvailability(dctx domain.Ctx) (domain.Result, error) {
	specialty, _ := dctx.State["specialty"].(string)
	slot, ok := b.availability.NextSlot(specialty)
	if !ok {
		return domain.Result{
			Action:     domain.ActionPlayAudio,
			Audio:      "no_availability",
			NextPhase:  phaseGoodbye,
			SkipInput:  true,
			StatePatch: patch(dctx.State, phaseGoodbye),
		}, nil
	}
	return domain.Result{
		Action:     domain.ActionSayText,
		Text:       "Tenemos disponibilidad " + slot + ".",
		NextPhase:  phaseInformAvailability,
		SkipInput:  true,
		StatePatch: patch(map[string]any{"slot": slot}, phaseInformAvailability),
	}, nil
}
