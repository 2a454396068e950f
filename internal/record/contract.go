package record

import (
	"fmt"
	"slices"
)

// ValidTypes defines the allowed type strings for event payload fields.
// NO "float" - floats break deterministic hashing and are forbidden.
var ValidTypes = map[string]bool{
	"string": true,
	"int":    true,
	"bool":   true,
	"array":  true,
	"object": true,
}

// Pairing roles. An "open" event starts a paired span (tool_executing);
// a "close" event ends it (tool_completed).
const (
	PairingRoleOpen  = "open"
	PairingRoleClose = "close"
)

// Contract quota defaults, applied at compile time when the contract
// doesn't set them.
const (
	DefaultMaxEventsPerRun int64 = 256
	DefaultMaxRepeats      int64 = 10
)

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Contract is the compiled form of a CUE event contract. It declares the
// event vocabulary for one agent backend, the legal transitions between
// event types, the golden path through them, and the runtime quotas the
// engine enforces.
type Contract struct {
	Name            string       `json:"name"`
	Version         string       `json:"version"`
	Events          []EventSpec  `json:"events"`
	Transitions     []Transition `json:"transitions"`
	GoldenPath      []string     `json:"golden_path"`
	MaxEventsPerRun int64        `json:"max_events_per_run"`
	MaxRepeats      int64        `json:"max_repeats"`
	Principles      []Principle  `json:"principles,omitempty"`
}

// EventSpec declares one event type: its payload schema, its position in
// the run lifecycle, and its pairing constraint if any.
type EventSpec struct {
	Name     string            `json:"name"`
	Fields   map[string]string `json:"fields,omitempty"` // field name → type string
	Initial  bool              `json:"initial,omitempty"`
	Terminal bool              `json:"terminal,omitempty"`
	Pairing  *PairingSpec      `json:"pairing,omitempty"`
}

// PairingSpec links two event types that must appear as balanced pairs
// within a run, matched on a payload key.
type PairingSpec struct {
	Role        string `json:"role"`        // "open" or "close"
	Counterpart string `json:"counterpart"` // the paired event type
	Key         string `json:"key"`         // payload field carrying the pair key
}

// Transition is one legal (from → to) edge in the event graph.
type Transition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Principle is a behavioral promise the backend makes, optionally backed
// by an executable scenario.
type Principle struct {
	Description string `json:"description"`
	Scenario    string `json:"scenario,omitempty"`
}

// Validate checks EventSpec against schema rules.
// Returns all errors (not fail-fast) for better developer experience.
func (e *EventSpec) Validate() []ValidationError {
	var errs []ValidationError

	for fieldName, fieldType := range e.Fields {
		if !ValidTypes[fieldType] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("fields.%s", fieldName),
				Message: fmt.Sprintf("invalid type %q, must be one of: string, int, bool, array, object", fieldType),
			})
		}
	}

	if e.Pairing != nil {
		if e.Pairing.Role != PairingRoleOpen && e.Pairing.Role != PairingRoleClose {
			errs = append(errs, ValidationError{
				Field:   "pairing.role",
				Message: fmt.Sprintf("invalid role %q, must be \"open\" or \"close\"", e.Pairing.Role),
			})
		}
		if e.Pairing.Counterpart == "" {
			errs = append(errs, ValidationError{
				Field:   "pairing.counterpart",
				Message: "counterpart event type is required",
			})
		}
		if e.Pairing.Counterpart == e.Name {
			errs = append(errs, ValidationError{
				Field:   "pairing.counterpart",
				Message: "an event cannot pair with itself",
			})
		}
		if e.Pairing.Key == "" {
			errs = append(errs, ValidationError{
				Field:   "pairing.key",
				Message: "pairing key field is required",
			})
		}
	}

	return errs
}

// Event returns the spec for an event type, or false when the contract
// doesn't declare it.
func (c *Contract) Event(name string) (*EventSpec, bool) {
	for i := range c.Events {
		if c.Events[i].Name == name {
			return &c.Events[i], true
		}
	}
	return nil, false
}

// AllowsTransition reports whether (from → to) is a declared edge.
func (c *Contract) AllowsTransition(from, to string) bool {
	for _, t := range c.Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// InitialEvents returns the event types a run may start with.
func (c *Contract) InitialEvents() []string {
	var names []string
	for _, e := range c.Events {
		if e.Initial {
			names = append(names, e.Name)
		}
	}
	return names
}

// TerminalEvents returns the event types that end a run.
func (c *Contract) TerminalEvents() []string {
	var names []string
	for _, e := range c.Events {
		if e.Terminal {
			names = append(names, e.Name)
		}
	}
	return names
}

// canonicalObject builds the Value tree used for contract identity.
// Events and transitions are sorted so that declaration order doesn't
// change the hash; golden path and principles keep their order because
// order is their meaning.
func (c *Contract) canonicalObject() Object {
	events := make(Array, 0, len(c.Events))
	for _, name := range sortedEventNames(c.Events) {
		spec, _ := c.Event(name)
		ev := Object{
			"name":     String(spec.Name),
			"initial":  Bool(spec.Initial),
			"terminal": Bool(spec.Terminal),
		}
		fields := make(Object, len(spec.Fields))
		for f, t := range spec.Fields {
			fields[f] = String(t)
		}
		ev["fields"] = fields
		if spec.Pairing != nil {
			ev["pairing"] = Object{
				"role":        String(spec.Pairing.Role),
				"counterpart": String(spec.Pairing.Counterpart),
				"key":         String(spec.Pairing.Key),
			}
		}
		events = append(events, ev)
	}

	transitions := make(Array, 0, len(c.Transitions))
	for _, t := range sortedTransitions(c.Transitions) {
		transitions = append(transitions, Object{
			"from": String(t.From),
			"to":   String(t.To),
		})
	}

	golden := make(Array, 0, len(c.GoldenPath))
	for _, step := range c.GoldenPath {
		golden = append(golden, String(step))
	}

	principles := make(Array, 0, len(c.Principles))
	for _, p := range c.Principles {
		principles = append(principles, Object{
			"description": String(p.Description),
			"scenario":    String(p.Scenario),
		})
	}

	return Object{
		"name":               String(c.Name),
		"version":            String(c.Version),
		"events":             events,
		"transitions":        transitions,
		"golden_path":        golden,
		"max_events_per_run": Int(c.MaxEventsPerRun),
		"max_repeats":        Int(c.MaxRepeats),
		"principles":         principles,
	}
}

// Canonical returns the contract's canonical JSON form, the byte string its
// identity is computed over. Stored alongside the hash so a contract can be
// reconstructed without its CUE source.
func (c *Contract) Canonical() ([]byte, error) {
	canonical, err := MarshalCanonical(c.canonicalObject())
	if err != nil {
		return nil, fmt.Errorf("canonicalizing contract %q: %w", c.Name, err)
	}
	return canonical, nil
}

// Hash computes the contract's content-addressed identity. Two contracts
// that declare the same behavior hash identically regardless of source
// formatting or declaration order.
func (c *Contract) Hash() (string, error) {
	canonical, err := c.Canonical()
	if err != nil {
		return "", err
	}
	return ContractHash(canonical), nil
}

// MustHash is Hash that panics on error, for contracts already validated.
func (c *Contract) MustHash() string {
	h, err := c.Hash()
	if err != nil {
		panic(fmt.Sprintf("contract hash: %v", err))
	}
	return h
}

func sortedEventNames(events []EventSpec) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.Name)
	}
	slices.SortFunc(names, compareKeysRFC8785)
	return names
}

func sortedTransitions(transitions []Transition) []Transition {
	sorted := make([]Transition, len(transitions))
	copy(sorted, transitions)
	slices.SortFunc(sorted, func(a, b Transition) int {
		if a.From != b.From {
			return compareKeysRFC8785(a.From, b.From)
		}
		return compareKeysRFC8785(a.To, b.To)
	})
	return sorted
}
