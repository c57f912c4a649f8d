package ledger

import (
	"fmt"
	"strings"
)

// Action is an enforcement action attached to an alert threshold.
// The set is closed: adding an action means adding a constant here and a
// handler field in the monitor.
type Action uint8

const (
	// ActionNotify delivers a notification to the threshold's targets.
	ActionNotify Action = iota + 1

	// ActionRestrictModels limits selection to the cheaper half of candidates.
	ActionRestrictModels

	// ActionRequireApproval blocks requests that are not explicitly approved.
	ActionRequireApproval

	// ActionBlockAll blocks every request charged to the budget.
	ActionBlockAll

	// ActionAutoDowngrade makes selection ignore quality in favor of cost.
	ActionAutoDowngrade
)

var actionNames = map[Action]string{
	ActionNotify:          "notify",
	ActionRestrictModels:  "restrict-models",
	ActionRequireApproval: "require-approval",
	ActionBlockAll:        "block-all",
	ActionAutoDowngrade:   "auto-downgrade",
}

// Actions lists every action in declaration order.
func Actions() []Action {
	return []Action{ActionNotify, ActionRestrictModels, ActionRequireApproval, ActionBlockAll, ActionAutoDowngrade}
}

// ParseAction converts a wire name into an Action.
func ParseAction(s string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// String returns the wire name of the action.
func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid action %d", uint8(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ActionSet is a set of actions currently in effect for a budget.
type ActionSet map[Action]bool

// Has reports whether a is in the set. A nil set contains nothing.
func (s ActionSet) Has(a Action) bool {
	return s[a]
}

// Sorted returns the actions in declaration order.
func (s ActionSet) Sorted() []Action {
	out := make([]Action, 0, len(s))
	for _, a := range Actions() {
		if s[a] {
			out = append(out, a)
		}
	}
	return out
}
