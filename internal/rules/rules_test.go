package rules

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

func facts(payload string) Facts {
	return Facts{
		Operation: "quoteRequest",
		Payer:     &model.Participant{Name: "dfspa", IsActive: true, Currencies: []string{"XOF"}},
		Payee:     &model.Participant{Name: "dfspb", IsActive: true, Currencies: []string{"USD"}},
		Payload:   json.RawMessage(payload),
		Headers:   map[string]string{"FSPIOP-Source": "dfspa", "FSPIOP-Destination": "dfspb"},
	}
}

// ─── Loading ─────────────────────────────────────────────────────────────────

func TestLoad_File(t *testing.T) {
	rules, err := Load(filepath.Join("testdata", "rules.yaml"))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "reject-large-amounts", rules[0].Name, "higher priority first")
}

func TestParse_JSON(t *testing.T) {
	rules, err := Parse([]byte(`[{"conditions":{"all":[{"fact":"headers","path":"fspiop-source","operator":"equal","value":"dfspa"}]},"event":{"type":"INTERCEPT_QUOTE","params":{"rerouteToFsp":"proxyb"}}}]`))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Len(t, NewEngine(rules, nil).Evaluate(facts(`{}`)), 1)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown operator":  `[{"conditions":{"fact":"payload","operator":"like","value":1},"event":{"type":"X"}}]`,
		"no event":          `[{"conditions":{"fact":"payload","operator":"equal","value":1},"event":{}}]`,
		"mixed condition":   `[{"conditions":{"not":{"fact":"payload","operator":"equal"},"fact":"payload","operator":"equal"},"event":{"type":"X"}}]`,
		"json-path no fact": `[{"conditions":{"fact":"json-path","operator":"equal","params":{}},"event":{"type":"X"}}]`,
		"not yaml":          `{{{`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

// ─── Evaluation ──────────────────────────────────────────────────────────────

func TestEvaluate(t *testing.T) {
	rules, err := Load(filepath.Join("testdata", "rules.yaml"))
	require.NoError(t, err)
	e := NewEngine(rules, nil)

	events := e.Evaluate(facts(`{"amount":{"amount":"100","currency":"XOF"}}`))
	require.Len(t, events, 1)
	assert.Equal(t, EventIntercept, events[0].Type)

	events = e.Evaluate(facts(`{"amount":{"amount":"20000.50","currency":"XOF"}}`))
	require.Len(t, events, 2)
	assert.Equal(t, EventInvalid, events[0].Type)

	assert.Empty(t, e.Evaluate(facts(`{"amount":{"amount":"5","currency":"USD"}}`)))
}

func TestEvaluate_NilEngine(t *testing.T) {
	var e *Engine
	assert.Nil(t, e.Evaluate(facts(`{}`)))
	assert.Equal(t, 0, e.Len())
}

func TestOperators(t *testing.T) {
	f := facts(`{"amount":{"amount":"10.50","currency":"USD"},"tags":["a","b"],"n":3,"obj":{"x":1,"y":[1,2]}}`)
	cases := []struct {
		cond Condition
		want bool
	}{
		{Condition{Fact: "payload", Path: "n", Operator: "equal", Value: 3}, true},
		{Condition{Fact: "payload", Path: "n", Operator: "equal", Value: "3"}, false},
		{Condition{Fact: "payload", Path: "n", Operator: "notEqual", Value: 4}, true},
		{Condition{Fact: "payload", Path: "amount.currency", Operator: "in", Value: []any{"EUR", "USD"}}, true},
		{Condition{Fact: "payload", Path: "amount.currency", Operator: "notIn", Value: []any{"EUR"}}, true},
		{Condition{Fact: "payload", Path: "tags", Operator: "contains", Value: "b"}, true},
		{Condition{Fact: "payload", Path: "tags", Operator: "doesNotContain", Value: "c"}, true},
		{Condition{Fact: "payload", Path: "amount.amount", Operator: "lessThan", Value: 11}, true},
		{Condition{Fact: "payload", Path: "amount.amount", Operator: "lessThanInclusive", Value: "10.5"}, true},
		{Condition{Fact: "payload", Path: "amount.amount", Operator: "greaterThan", Value: 10.5}, false},
		{Condition{Fact: "payload", Path: "amount.amount", Operator: "greaterThanInclusive", Value: 10.5}, true},
		{Condition{Fact: "payload", Path: "amount.currency", Operator: "greaterThan", Value: 1}, false},
		{Condition{Fact: "payload", Path: "obj", Operator: "deepEqual", Value: map[string]any{"x": 1, "y": []any{1, 2}}}, true},
		{Condition{Fact: "payload", Path: "obj", Operator: "notDeepEqual", Value: map[string]any{"x": 1}}, true},
		{Condition{Fact: "payload", Path: "missing", Operator: "equal", Value: nil}, true},
		{Condition{Fact: "payload", Path: "missing", Operator: "notIn", Value: []any{"x"}}, true},
		{Condition{Fact: "headers", Path: "$.fspiop-source", Operator: "equal", Value: "dfspa"}, true},
		{Condition{Fact: "operation", Operator: "equal", Value: "quoteRequest"}, true},
		{Condition{Fact: "payer", Path: "currencies", Operator: "contains", Value: "XOF"}, true},
		{Condition{Fact: "json-path", Params: map[string]any{"fact": "payee", "path": "$.name"}, Operator: "equal", Value: "dfspb"}, true},
		{Condition{Fact: "payload", Path: "amount.currency", Operator: "equal",
			Value: map[string]any{"fact": "payee", "path": "currencies.0"}}, true},
		{Condition{Not: &Condition{Fact: "payload", Path: "n", Operator: "equal", Value: 3}}, false},
		{Condition{Any: []Condition{
			{Fact: "payload", Path: "n", Operator: "equal", Value: 1},
			{Fact: "payload", Path: "n", Operator: "equal", Value: 3},
		}}, true},
	}
	for i, tc := range cases {
		assert.Equal(t, tc.want, tc.cond.eval(f), "case %d: %s", i, tc.cond.Operator)
	}
}

// ─── Interpretation ──────────────────────────────────────────────────────────

func headers() fspiop.Headers {
	return fspiop.NewHeaders(map[string]string{
		"FSPIOP-Source":      "dfspa",
		"FSPIOP-Destination": "dfspb",
		"FSPIOP-Signature":   "sig",
	})
}

func TestInterpret_NoEvents(t *testing.T) {
	h := headers()
	out, err := Interpret(nil, h, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, out.Rerouted)
	assert.Equal(t, h, out.Headers)
}

func TestInterpret_UnknownTypeIsFatal(t *testing.T) {
	events := []Event{
		{Type: EventIntercept, Params: map[string]any{"rerouteToFsp": "x"}},
		{Type: "SOMETHING_ELSE"},
	}
	_, err := Interpret(events, headers(), nil)
	require.Error(t, err)
	assert.True(t, fspiop.IsKind(err, fspiop.KindRuleConfiguration))
}

func TestInterpret_InvalidWinsOverIntercept(t *testing.T) {
	events := []Event{
		{Type: EventIntercept, Params: map[string]any{"rerouteToFsp": "x"}},
		{Type: EventInvalid, Params: map[string]any{"FSPIOPError": "PAYEE_UNSUPPORTED_CURRENCY", "message": "first"}},
		{Type: EventInvalid, Params: map[string]any{"FSPIOPError": "PAYER_ERROR", "message": "second"}},
	}
	_, err := Interpret(events, headers(), nil)
	var fe *fspiop.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fspiop.PayeeUnsupportedCurrency, fe.Code)
	assert.Equal(t, "first", fe.Message)
}

func TestInterpret_MultipleInterceptsFatal(t *testing.T) {
	events := []Event{
		{Type: EventIntercept, Params: map[string]any{"rerouteToFsp": "x"}},
		{Type: EventIntercept, Params: map[string]any{"rerouteToFsp": "y"}},
	}
	_, err := Interpret(events, headers(), nil)
	assert.True(t, fspiop.IsKind(err, fspiop.KindRuleConfiguration))
}

func TestInterpret_SingleIntercept(t *testing.T) {
	h := headers()
	payload := []byte(`{"quoteId":"Q1"}`)
	events := []Event{{Type: EventIntercept, Params: map[string]any{
		"rerouteToFsp":      "proxyb",
		"additionalHeaders": map[string]any{"X-Fxpiop-Proxy": "proxyb", "x-count": 2},
	}}}

	out, err := Interpret(events, h, payload)
	require.NoError(t, err)
	assert.True(t, out.Rerouted)
	assert.Equal(t, "proxyb", out.Headers.Destination())
	assert.Equal(t, "proxyb", out.Headers.Get("x-fxpiop-proxy"))
	assert.Equal(t, "2", out.Headers.Get("x-count"))
	assert.False(t, out.Headers.Has(fspiop.HeaderSignature))
	assert.Equal(t, payload, out.Payload)
	assert.Equal(t, "dfspb", h.Destination(), "input headers untouched")
}

func TestInterpret_InterceptWithoutTarget(t *testing.T) {
	_, err := Interpret([]Event{{Type: EventIntercept}}, headers(), nil)
	assert.True(t, fspiop.IsKind(err, fspiop.KindRuleConfiguration))
}
