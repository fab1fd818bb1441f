package rules

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Event types a rule may emit.
const (
	EventIntercept = "INTERCEPT_QUOTE"
	EventInvalid   = "INVALID_QUOTE_REQUEST"
)

// Rule is a condition tree and the event emitted when it holds.
type Rule struct {
	Name       string    `yaml:"name,omitempty" json:"name,omitempty"`
	Priority   int       `yaml:"priority,omitempty" json:"priority,omitempty"`
	Conditions Condition `yaml:"conditions" json:"conditions"`
	Event      Event     `yaml:"event" json:"event"`
}

// Condition is either a combinator (All, Any, Not) or a leaf comparison.
//
// A leaf reads Fact, optionally narrowed by Path, and compares it to Value
// with Operator. The "json-path" fact reads params.fact narrowed by params.path.
type Condition struct {
	All []Condition `yaml:"all,omitempty" json:"all,omitempty"`
	Any []Condition `yaml:"any,omitempty" json:"any,omitempty"`
	Not *Condition  `yaml:"not,omitempty" json:"not,omitempty"`

	Fact     string         `yaml:"fact,omitempty" json:"fact,omitempty"`
	Path     string         `yaml:"path,omitempty" json:"path,omitempty"`
	Params   map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Operator string         `yaml:"operator,omitempty" json:"operator,omitempty"`
	Value    any            `yaml:"value,omitempty" json:"value,omitempty"`
}

// Event is produced when a rule's conditions hold.
type Event struct {
	Type   string         `yaml:"type" json:"type"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Load reads rules from a YAML or JSON file.
func Load(path string) ([]Rule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes and validates a rule document. JSON is accepted as YAML.
func Parse(b []byte) ([]Rule, error) {
	var rules []Rule
	if err := yaml.Unmarshal(b, &rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i, r := range rules {
		if r.Event.Type == "" {
			return nil, fmt.Errorf("rule %d: event type is required", i)
		}
		if err := r.Conditions.validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	return rules, nil
}

func (c Condition) validate() error {
	n := 0
	if c.All != nil {
		n++
	}
	if c.Any != nil {
		n++
	}
	if c.Not != nil {
		n++
	}
	if c.Fact != "" {
		n++
	}
	if n != 1 {
		return fmt.Errorf("condition must be exactly one of all, any, not or a fact comparison")
	}
	for _, sub := range append(c.All, c.Any...) {
		if err := sub.validate(); err != nil {
			return err
		}
	}
	if c.Not != nil {
		return c.Not.validate()
	}
	if c.Fact != "" {
		if _, ok := operators[c.Operator]; !ok {
			return fmt.Errorf("unknown operator %q", c.Operator)
		}
		if c.Fact == jsonPathFact {
			if f, _ := c.Params["fact"].(string); f == "" {
				return fmt.Errorf("json-path fact requires params.fact")
			}
		}
	}
	return nil
}
