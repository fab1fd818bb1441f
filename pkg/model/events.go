package model

import (
	"encoding/json"
	"time"
)

// Event types carried on the transport.
const (
	TypeQuote     = "quote"
	TypeBulkQuote = "bulkquote"
	TypeFxQuote   = "fxquote"
)

// Event actions. Error callbacks arrive as ActionPut with an errorInformation payload.
const (
	ActionPost = "post"
	ActionPut  = "put"
	ActionGet  = "get"
)

// Event is an inbound unit of work, produced by the ingress from an FSPIOP
// request or callback and delivered to the router by the transport.
type Event struct {
	ID              string            `json:"id"`
	RequestID       string            `json:"requestId"`
	Type            string            `json:"type"`
	Action          string            `json:"action"`
	Headers         map[string]string `json:"headers"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	OriginalPayload json.RawMessage   `json:"originalPayload,omitempty"`
	URIParams       map[string]string `json:"uriParams,omitempty"`
	SpanContext     map[string]string `json:"spanContext,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// Message pairs an event with the topic it was received on.
type Message struct {
	Topic string
	Value Event
}

// IsError reports whether the payload is an FSPIOP error callback.
func (e Event) IsError() bool {
	if len(e.Payload) == 0 {
		return false
	}
	var body struct {
		ErrorInformation json.RawMessage `json:"errorInformation"`
	}
	if err := json.Unmarshal(e.Payload, &body); err != nil {
		return false
	}
	return len(body.ErrorInformation) > 0 && string(body.ErrorInformation) != "null"
}

// Body returns the original payload when present, otherwise the payload.
func (e Event) Body() json.RawMessage {
	if len(e.OriginalPayload) > 0 {
		return e.OriginalPayload
	}
	return e.Payload
}
