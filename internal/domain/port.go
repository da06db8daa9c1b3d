// Package domain defines the Domain Port (C10): a pure function called once
// per turn-level event that decides what the bot says or does next. The
// core ships one reference implementation, internal/domain/rutintake, but
// the port itself is business-logic agnostic.
package domain

import "context"

// EventKind is the event class a Port call is reacting to.
type EventKind string

const (
	EventInit    EventKind = "INIT"
	EventTurn    EventKind = "TURN"
	EventNoInput EventKind = "NO_INPUT"
)

// Action is what the engine should do with a Result.
type Action string

const (
	ActionPlayAudio  Action = "PLAY_AUDIO"
	ActionSayText    Action = "SAY_TEXT"
	ActionHangup     Action = "HANGUP"
	ActionWaitInput  Action = "WAIT_INPUT"
)

// Ctx is the input to one Port call.
type Ctx struct {
	Event      EventKind
	Transcript string
	SessionID  string
	ANI        string
	DNIS       string
	State      map[string]any
}

// Result is everything a Port call may ask the engine to do. Every field is
// optional; the zero value means "no opinion on this."
type Result struct {
	Action            Action
	Audio             string         // static file id, used with ActionPlayAudio
	Text              string         // TTS string, used with ActionSayText
	NextPhase         string         // empty means "stay in the current phase"
	StatePatch        map[string]any // merged into Ctx.State on the next call
	Silent            bool           // disable barge-in on the produced playback
	SkipInput         bool           // skip listening on the next turn
	EnableIncremental bool
	DisableIncremental bool
	ShouldHangup      bool
	PlaybackOnly      bool
}

// Port is the Domain Port contract: domain(ctx) -> result.
type Port interface {
	Handle(ctx context.Context, dctx Ctx) (Result, error)
}

// Normalize applies §4.8's normalization rule: a Text value starting with
// "sound:" is a misuse (static audio belongs in Audio, not Text) and is
// rejected rather than played verbatim.
func Normalize(r Result, warn func(string)) Result {
	if len(r.Text) >= len("sound:") && r.Text[:len("sound:")] == "sound:" {
		if warn != nil {
			warn("domain: Text must not carry a sound: reference, use Audio instead: " + r.Text)
		}
		r.Text = ""
	}
	return r
}
