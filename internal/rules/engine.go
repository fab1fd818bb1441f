package rules

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/internal/metrics"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
)

// Engine evaluates a fixed rule set. A nil or empty Engine emits no events.
type Engine struct {
	rules  []Rule
	logger *zap.Logger
}

func NewEngine(rules []Rule, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{rules: rules, logger: logger.Named("rules")}
}

func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// Evaluate returns the events of every rule whose conditions hold, in priority order.
func (e *Engine) Evaluate(facts Facts) []Event {
	if e == nil {
		return nil
	}
	var events []Event
	for _, r := range e.rules {
		if r.Conditions.eval(facts) {
			events = append(events, r.Event)
			metrics.IncRuleEvent(r.Event.Type)
			e.logger.Debug("rules.matched",
				zap.String("rule", r.Name),
				zap.String("event", r.Event.Type),
				zap.String("operation", facts.Operation))
		}
	}
	return events
}

func (c Condition) eval(f Facts) bool {
	switch {
	case c.All != nil:
		for _, sub := range c.All {
			if !sub.eval(f) {
				return false
			}
		}
		return true
	case c.Any != nil:
		for _, sub := range c.Any {
			if sub.eval(f) {
				return true
			}
		}
		return false
	case c.Not != nil:
		return !c.Not.eval(f)
	}
	op, ok := operators[c.Operator]
	if !ok {
		return false
	}
	fact, _ := f.resolve(c)
	return op(fact, f.value(c))
}

// Outcome is the result of interpreting rule events: the headers and payload to continue with.
type Outcome struct {
	Rerouted bool
	Headers  fspiop.Headers
	Payload  []byte
}

// Interpret applies rule events to a request. A returned error terminates processing.
//
// Precedence: no events continue unchanged; any unknown event type is fatal;
// the first INVALID_QUOTE_REQUEST rejects the request; more than one
// INTERCEPT_QUOTE is fatal; a single INTERCEPT_QUOTE rewrites the destination
// and merges additionalHeaders while the payload stays untouched.
func Interpret(events []Event, headers fspiop.Headers, payload []byte) (Outcome, error) {
	out := Outcome{Headers: headers, Payload: payload}
	if len(events) == 0 {
		return out, nil
	}

	var invalid, intercept []Event
	for _, ev := range events {
		switch ev.Type {
		case EventInvalid:
			invalid = append(invalid, ev)
		case EventIntercept:
			intercept = append(intercept, ev)
		default:
			return out, fspiop.NewRuleConfiguration(fmt.Sprintf("Unhandled event returned by rules engine: %s", ev.Type))
		}
	}

	if len(invalid) > 0 {
		code, _ := invalid[0].Params["FSPIOPError"].(string)
		msg, _ := invalid[0].Params["message"].(string)
		return out, fspiop.NewRuleRejection(code, msg)
	}

	if len(intercept) > 1 {
		return out, fspiop.NewRuleConfiguration("Multiple intercept events returned by rules engine")
	}
	if len(intercept) == 1 {
		params := intercept[0].Params
		target, _ := params["rerouteToFsp"].(string)
		if target == "" {
			return out, fspiop.NewRuleConfiguration("Intercept event is missing rerouteToFsp")
		}
		h := headers.Clone()
		if extra, ok := normalize(params["additionalHeaders"]).(map[string]any); ok {
			for k, v := range extra {
				h.Set(k, fmt.Sprint(v))
			}
		}
		h.Set(fspiop.HeaderDestination, target)
		// A rerouted request no longer matches its signature.
		h.Del(fspiop.HeaderSignature)
		out.Headers = h
		out.Rerouted = true
	}
	return out, nil
}
