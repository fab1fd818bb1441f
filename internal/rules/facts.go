package rules

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

const jsonPathFact = "json-path"

// Facts are the inputs a rule may read.
type Facts struct {
	Operation string
	Payer     *model.Participant
	Payee     *model.Participant
	Payload   json.RawMessage
	Headers   map[string]string
}

// document renders a named top-level fact as JSON.
func (f Facts) document(name string) ([]byte, bool) {
	switch name {
	case "payload":
		return f.Payload, len(f.Payload) > 0
	case "headers":
		lower := make(map[string]string, len(f.Headers))
		for k, v := range f.Headers {
			lower[strings.ToLower(k)] = v
		}
		b, _ := json.Marshal(lower)
		return b, true
	case "payer":
		return participantDoc(f.Payer)
	case "payee":
		return participantDoc(f.Payee)
	case "operation":
		b, _ := json.Marshal(f.Operation)
		return b, true
	}
	return nil, false
}

func participantDoc(p *model.Participant) ([]byte, bool) {
	if p == nil {
		return nil, false
	}
	b, _ := json.Marshal(p)
	return b, true
}

// Extract resolves fact narrowed by path. Paths use gjson syntax; a leading
// "$." or "$" is accepted for compatibility with JSONPath-style rules.
// Missing facts and paths resolve to (nil, false).
func (f Facts) Extract(fact, path string) (any, bool) {
	doc, ok := f.document(fact)
	if !ok {
		return nil, false
	}
	path = strings.TrimPrefix(strings.TrimPrefix(path, "$"), ".")
	var res gjson.Result
	if path == "" {
		res = gjson.ParseBytes(doc)
	} else {
		res = gjson.GetBytes(doc, path)
	}
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

func (f Facts) resolve(c Condition) (any, bool) {
	if c.Fact == jsonPathFact {
		fact, _ := c.Params["fact"].(string)
		path, _ := c.Params["path"].(string)
		return f.Extract(fact, path)
	}
	return f.Extract(c.Fact, c.Path)
}

// value returns the comparison operand, resolving {fact, path} references.
func (f Facts) value(c Condition) any {
	if ref, ok := c.Value.(map[string]any); ok {
		if fact, ok := ref["fact"].(string); ok {
			path, _ := ref["path"].(string)
			v, _ := f.Extract(fact, path)
			return v
		}
	}
	return c.Value
}
