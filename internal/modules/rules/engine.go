package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// PlaceholderResolver resolves "{token}" placeholders in rule values to
// their live configured numbers. Satisfied by settings.Repository.
type PlaceholderResolver interface {
	RequireFloat(key string) (float64, error)
}

// Engine evaluates loaded rule definitions against fact records.
// Initialize resolves placeholders once, so rule shapes are static for
// the lifetime of a run; Evaluate is a pure function of the loaded rules
// and the fact record.
type Engine struct {
	repo     *Repository
	resolver PlaceholderResolver
	rules    []compiledRule
	loaded   bool
	log      zerolog.Logger
}

// NewEngine creates a rule engine. Initialize must be called before
// Evaluate.
func NewEngine(repo *Repository, resolver PlaceholderResolver, log zerolog.Logger) *Engine {
	return &Engine{
		repo:     repo,
		resolver: resolver,
		log:      log.With().Str("module", "rules").Logger(),
	}
}

type valueKind int

const (
	valueNone valueKind = iota
	valueNumber
	valueString
	valueBool
)

type compiledCondition struct {
	all  []compiledCondition
	any  []compiledCondition
	fact string
	op   Operator
	kind valueKind
	num  float64
	str  string
	b    bool
}

type compiledRule struct {
	id        string
	name      string
	priority  int
	condition compiledCondition
	eventType string
	params    map[string]interface{}
}

// Initialize loads all enabled rule definitions and resolves their
// placeholder tokens against configuration. Called once per run, before
// any fact is evaluated. A missing placeholder value is a configuration
// error and fails the whole load.
func (e *Engine) Initialize() error {
	definitions, err := e.repo.GetEnabled()
	if err != nil {
		return fmt.Errorf("failed to load rule definitions: %w", err)
	}

	compiled := make([]compiledRule, 0, len(definitions))
	for _, def := range definitions {
		condition, err := e.compileCondition(def.Conditions)
		if err != nil {
			return fmt.Errorf("failed to compile rule %s: %w", def.ID, err)
		}

		params, err := e.resolveParams(def.EventParams)
		if err != nil {
			return fmt.Errorf("failed to resolve params for rule %s: %w", def.ID, err)
		}

		compiled = append(compiled, compiledRule{
			id:        def.ID,
			name:      def.Name,
			priority:  def.Priority,
			condition: condition,
			eventType: def.EventType,
			params:    params,
		})
	}

	e.rules = compiled
	e.loaded = true

	e.log.Info().Int("rule_count", len(compiled)).Msg("Rule engine initialized")
	return nil
}

// Evaluate runs every loaded rule's condition tree against the fact
// record and returns the events of all rules whose conditions held.
// No match means an empty slice, not an error.
func (e *Engine) Evaluate(fact *Fact) ([]Event, error) {
	if !e.loaded {
		return nil, fmt.Errorf("rule engine not initialized")
	}

	var events []Event
	for _, rule := range e.rules {
		if evalCondition(rule.condition, fact) {
			events = append(events, Event{
				Type:     rule.eventType,
				RuleID:   rule.id,
				Priority: rule.priority,
				Params:   rule.params,
			})
		}
	}

	return events, nil
}

// HasEvent reports whether the event set contains an event of the given
// type. Convenience for callers deciding upgrades or hard filters.
func HasEvent(events []Event, eventType string) bool {
	for _, ev := range events {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

func (e *Engine) compileCondition(c Condition) (compiledCondition, error) {
	switch {
	case len(c.All) > 0:
		children := make([]compiledCondition, 0, len(c.All))
		for _, child := range c.All {
			compiled, err := e.compileCondition(child)
			if err != nil {
				return compiledCondition{}, err
			}
			children = append(children, compiled)
		}
		return compiledCondition{all: children}, nil

	case len(c.Any) > 0:
		children := make([]compiledCondition, 0, len(c.Any))
		for _, child := range c.Any {
			compiled, err := e.compileCondition(child)
			if err != nil {
				return compiledCondition{}, err
			}
			children = append(children, compiled)
		}
		return compiledCondition{any: children}, nil

	case c.Fact != "":
		leaf := compiledCondition{fact: c.Fact, op: c.Operator}
		if err := e.compileValue(&leaf, c.Value); err != nil {
			return compiledCondition{}, fmt.Errorf("fact %s: %w", c.Fact, err)
		}
		return leaf, nil

	default:
		return compiledCondition{}, fmt.Errorf("condition has neither composite group nor fact")
	}
}

// compileValue parses a leaf value and resolves placeholder tokens.
// Resolution happens here, at load time, so configuration changes mid-run
// never alter rule shapes.
func (e *Engine) compileValue(leaf *compiledCondition, raw json.RawMessage) error {
	if len(raw) == 0 {
		// Emptiness operators take no value
		if leaf.op == OpIsEmpty || leaf.op == OpNotEmpty {
			leaf.kind = valueNone
			return nil
		}
		return fmt.Errorf("operator %s requires a value", leaf.op)
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("malformed value: %w", err)
	}

	switch v := value.(type) {
	case float64:
		leaf.kind = valueNumber
		leaf.num = v
	case bool:
		leaf.kind = valueBool
		leaf.b = v
	case string:
		if token, ok := placeholderToken(v); ok {
			resolved, err := e.resolver.RequireFloat(token)
			if err != nil {
				return fmt.Errorf("placeholder {%s}: %w", token, err)
			}
			leaf.kind = valueNumber
			leaf.num = resolved
			return nil
		}
		leaf.kind = valueString
		leaf.str = v
	default:
		return fmt.Errorf("unsupported value type %T", value)
	}

	return nil
}

func (e *Engine) resolveParams(params map[string]interface{}) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(params))
	for key, value := range params {
		if s, ok := value.(string); ok {
			if token, isToken := placeholderToken(s); isToken {
				num, err := e.resolver.RequireFloat(token)
				if err != nil {
					return nil, fmt.Errorf("placeholder {%s}: %w", token, err)
				}
				resolved[key] = num
				continue
			}
		}
		resolved[key] = value
	}
	return resolved, nil
}

func placeholderToken(s string) (string, bool) {
	if len(s) > 2 && strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s[1 : len(s)-1], true
	}
	return "", false
}

func evalCondition(c compiledCondition, fact *Fact) bool {
	switch {
	case len(c.all) > 0:
		for _, child := range c.all {
			if !evalCondition(child, fact) {
				return false
			}
		}
		return true

	case len(c.any) > 0:
		for _, child := range c.any {
			if evalCondition(child, fact) {
				return true
			}
		}
		return false

	default:
		return evalLeaf(c, fact)
	}
}

func evalLeaf(c compiledCondition, fact *Fact) bool {
	switch c.op {
	case OpPercentGreaterThan, OpMoneyGreaterThan:
		v, ok := fact.Number(c.fact)
		return ok && c.kind == valueNumber && v > c.num

	case OpPercentLessThan, OpMoneyLessThan:
		v, ok := fact.Number(c.fact)
		return ok && c.kind == valueNumber && v < c.num

	case OpEquals:
		return leafEquals(c, fact)

	case OpNotEquals:
		// A missing fact is "not equal" only if the fact exists in some
		// form; an entirely unset fact never matches.
		if !factPresent(c, fact) {
			return false
		}
		return !leafEquals(c, fact)

	case OpIsEmpty:
		v, ok := fact.String(c.fact)
		return !ok || v == ""

	case OpNotEmpty:
		v, ok := fact.String(c.fact)
		return ok && v != ""

	default:
		return false
	}
}

func factPresent(c compiledCondition, fact *Fact) bool {
	switch c.kind {
	case valueNumber:
		_, ok := fact.Number(c.fact)
		return ok
	case valueString:
		_, ok := fact.String(c.fact)
		return ok
	case valueBool:
		_, ok := fact.Bool(c.fact)
		return ok
	}
	return false
}

func leafEquals(c compiledCondition, fact *Fact) bool {
	switch c.kind {
	case valueNumber:
		v, ok := fact.Number(c.fact)
		return ok && v == c.num
	case valueString:
		v, ok := fact.String(c.fact)
		return ok && v == c.str
	case valueBool:
		v, ok := fact.Bool(c.fact)
		return ok && v == c.b
	}
	return false
}
