// Package rules provides the declarative rule engine: condition->event
// definitions loaded from config.db and evaluated against per-opportunity
// fact records.
package rules

import "encoding/json"

// Operator identifies a leaf comparison.
type Operator string

const (
	// OpPercentGreaterThan - numeric comparison of percentage-scaled values
	OpPercentGreaterThan Operator = "percent_greater_than"
	// OpPercentLessThan - numeric comparison of percentage-scaled values
	OpPercentLessThan Operator = "percent_less_than"
	// OpMoneyGreaterThan - numeric comparison of currency values (pounds)
	OpMoneyGreaterThan Operator = "money_greater_than"
	// OpMoneyLessThan - numeric comparison of currency values (pounds)
	OpMoneyLessThan Operator = "money_less_than"
	// OpEquals - equality on string, number, or boolean facts
	OpEquals Operator = "equals"
	// OpNotEquals - negated equality
	OpNotEquals Operator = "not_equals"
	// OpIsEmpty - string fact absent or empty
	OpIsEmpty Operator = "is_empty"
	// OpNotEmpty - string fact present and non-empty
	OpNotEmpty Operator = "not_empty"
)

// Condition is the JSON shape of a node in a rule's condition tree.
// Exactly one of All, Any, or (Fact, Operator) is populated. Leaf values
// may be numbers, strings, booleans, or "{placeholder}" tokens resolved
// against settings at load time.
type Condition struct {
	All      []Condition     `json:"all,omitempty"`
	Any      []Condition     `json:"any,omitempty"`
	Fact     string          `json:"fact,omitempty"`
	Operator Operator        `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// Definition is a stored rule: a condition tree plus the event it emits
// when the conditions hold.
type Definition struct {
	ID          string
	Name        string
	Enabled     bool
	Priority    int
	Conditions  Condition
	EventType   string
	EventParams map[string]interface{}
}

// Event is emitted by a rule whose conditions held for a fact record.
// Rules are not mutually exclusive; one evaluation may fire any number
// of events and callers inspect the set by type.
type Event struct {
	Type     string                 `json:"type"`
	RuleID   string                 `json:"rule_id"`
	Priority int                    `json:"priority"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// Well-known event types consumed by the allocation strategies.
const (
	// EventUpgradePriority - promote the recommendation's priority tier
	EventUpgradePriority = "upgrade_priority"
	// EventRejectTransfer - hard filter: the transfer should not be recommended
	EventRejectTransfer = "reject_transfer"
	// EventFlagConcentration - telemetry: exposure concentration worth surfacing
	EventFlagConcentration = "flag_concentration"
)

// Fact is a flat record of named values built per candidate opportunity.
// Ephemeral: one per evaluation, never persisted. Numeric facts carry
// money values in pounds and rates in percent, matching the units rule
// authors use.
type Fact struct {
	numbers map[string]float64
	strings map[string]string
	bools   map[string]bool
}

// NewFact creates an empty fact record.
func NewFact() *Fact {
	return &Fact{
		numbers: make(map[string]float64),
		strings: make(map[string]string),
		bools:   make(map[string]bool),
	}
}

// SetNumber records a numeric fact. Returns the fact for chaining.
func (f *Fact) SetNumber(name string, value float64) *Fact {
	f.numbers[name] = value
	return f
}

// SetString records a string fact.
func (f *Fact) SetString(name, value string) *Fact {
	f.strings[name] = value
	return f
}

// SetBool records a boolean fact.
func (f *Fact) SetBool(name string, value bool) *Fact {
	f.bools[name] = value
	return f
}

// Number returns a numeric fact and whether it was set.
func (f *Fact) Number(name string) (float64, bool) {
	v, ok := f.numbers[name]
	return v, ok
}

// String returns a string fact and whether it was set.
func (f *Fact) String(name string) (string, bool) {
	v, ok := f.strings[name]
	return v, ok
}

// Bool returns a boolean fact and whether it was set.
func (f *Fact) Bool(name string) (bool, bool) {
	v, ok := f.bools[name]
	return v, ok
}
