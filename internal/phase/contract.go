// Package phase implements the Phase Lifecycle Contract (C4): a declarative
// allow/deny/require matrix indexed by phase and action.
//
// The table is loaded once at process start (from an embedded default or a
// YAML override) and queried only through pure functions thereafter.
package phase

import (
	"fmt"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/session"
	"gopkg.in/yaml.v3"
)

// Action is one member of the fixed action alphabet the contract governs.
type Action string

const (
	ActionPlayback       Action = "PLAYBACK"
	ActionSTT            Action = "STT"
	ActionCreateSnoop    Action = "CREATE_SNOOP"
	ActionCreateBridge   Action = "CREATE_BRIDGE"
	ActionTeardown       Action = "TEARDOWN"
	ActionCancelResponse Action = "CANCEL_RESPONSE"
)

// Resource is a resource a phase may require to be present.
type Resource string

const (
	ResourceSnoop  Resource = "SNOOP"
	ResourceBridge Resource = "BRIDGE"
)

// Entry is the allow/deny/requires triple for one phase.
type Entry struct {
	Allow    map[Action]bool
	Deny     map[Action]bool
	Requires map[Resource]bool
}

// Contract is the loaded, queryable Phase Lifecycle Contract.
type Contract struct {
	table map[session.Phase]Entry
}

// entrySpec is the YAML-friendly shape the default table and any override
// file are expressed in.
type entrySpec struct {
	Phase    string   `yaml:"phase"`
	Allow    []string `yaml:"allow"`
	Deny     []string `yaml:"deny"`
	Requires []string `yaml:"requires"`
}

type tableSpec struct {
	Phases []entrySpec `yaml:"phases"`
}

// Default builds the Contract from the compiled-in representative table,
// extended to cover every phase in the closed phase set so that the table
// is total.
func Default() *Contract {
	c, err := FromYAML([]byte(defaultYAML))
	if err != nil {
		// The embedded table is a compile-time constant; a parse failure here
		// is a programming error, not a runtime condition.
		panic(fmt.Sprintf("phase: invalid default contract table: %v", err))
	}
	return c
}

// FromYAML loads a contract table from YAML in the entrySpec/tableSpec shape.
// Phases absent from the document default to allowing nothing and denying
// everything (no action, TEARDOWN included, is allowed and no resource is
// required), keeping the table total.
func FromYAML(data []byte) (*Contract, error) {
	var spec tableSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("phase: parse contract table: %w", err)
	}
	table := make(map[session.Phase]Entry, len(spec.Phases))
	for _, e := range spec.Phases {
		table[session.Phase(e.Phase)] = Entry{
			Allow:    toActionSet(e.Allow),
			Deny:     toActionSet(e.Deny),
			Requires: toResourceSet(e.Requires),
		}
	}
	return &Contract{table: table}, nil
}

func toActionSet(names []string) map[Action]bool {
	out := make(map[Action]bool, len(names))
	for _, n := range names {
		out[Action(n)] = true
	}
	return out
}

func toResourceSet(names []string) map[Resource]bool {
	out := make(map[Resource]bool, len(names))
	for _, n := range names {
		out[Resource(n)] = true
	}
	return out
}

func (c *Contract) entry(p session.Phase) Entry {
	e, ok := c.table[p]
	if !ok {
		return Entry{}
	}
	return e
}

// IsActionAllowed answers purely from the table whether action is allowed in
// phase p. Per §4.3/§8: any (phase, action) pair not explicitly allowed is
// denied — the table is total by construction of this function, not just the
// loaded data.
func (c *Contract) IsActionAllowed(p session.Phase, a Action) bool {
	e := c.entry(p)
	if e.Deny[a] {
		return false
	}
	return e.Allow[a]
}

// IsResourceRequired reports whether phase p requires resource r to be
// present before its allowed actions may run.
func (c *Contract) IsResourceRequired(p session.Phase, r Resource) bool {
	return c.entry(p).Requires[r]
}

// IsTeardownAllowed reports whether TEARDOWN is allowed in phase p. Callers
// that need "teardown is always permitted at stasis end regardless of
// phase" (§4.5) bypass this check explicitly rather than special-casing it
// here, keeping the contract itself phase-pure.
func (c *Contract) IsTeardownAllowed(p session.Phase) bool {
	return c.IsActionAllowed(p, ActionTeardown)
}

// defaultYAML is the compiled-in Phase Lifecycle Contract table, covering
// the full closed set of phases.
const defaultYAML = `
phases:
  - phase: START_GREETING
    allow: [PLAYBACK, CREATE_BRIDGE, CREATE_SNOOP]
    deny: [STT, CANCEL_RESPONSE]
    requires: [BRIDGE]
  - phase: LISTEN_RUT
    allow: [STT, CREATE_SNOOP, CANCEL_RESPONSE]
    deny: [TEARDOWN]
    requires: [SNOOP, BRIDGE]
  - phase: LISTEN_OPTION
    allow: [STT, CANCEL_RESPONSE]
    deny: [TEARDOWN]
    requires: [SNOOP]
  - phase: LISTEN_CONFIRMATION
    allow: [STT, CANCEL_RESPONSE]
    deny: [TEARDOWN]
    requires: [SNOOP]
  - phase: WAIT_BODY
    allow: [PLAYBACK, STT, CANCEL_RESPONSE]
    deny: [TEARDOWN]
    requires: [SNOOP, BRIDGE]
  - phase: WAIT_DV
    allow: [PLAYBACK, STT, CANCEL_RESPONSE]
    deny: [TEARDOWN]
    requires: [SNOOP, BRIDGE]
  - phase: CONFIRM
    allow: [PLAYBACK, STT]
    deny: [TEARDOWN]
    requires: [BRIDGE]
  - phase: ASK_SPECIALTY
    allow: [PLAYBACK, STT]
    deny: [TEARDOWN]
    requires: [BRIDGE]
  - phase: CHECK_AVAILABILITY
    allow: [PLAYBACK]
    deny: [STT, TEARDOWN]
    requires: [BRIDGE]
  - phase: INFORM_AVAILABILITY
    allow: [PLAYBACK]
    deny: [STT, TEARDOWN]
    requires: [BRIDGE]
  - phase: FINALIZE
    allow: [PLAYBACK]
    deny: [STT, TEARDOWN]
    requires: [BRIDGE]
  - phase: COMPLETE
    allow: [PLAYBACK, TEARDOWN]
    deny: [STT]
    requires: []
  - phase: GOODBYE
    allow: [PLAYBACK]
    deny: [STT, CANCEL_RESPONSE]
    requires: [BRIDGE]
  - phase: END_CALL
    allow: [TEARDOWN]
    deny: [PLAYBACK, STT]
    requires: []
  - phase: NONE
    allow: []
    deny: [PLAYBACK, STT, CREATE_SNOOP, CREATE_BRIDGE, TEARDOWN, CANCEL_RESPONSE]
    requires: []
`
