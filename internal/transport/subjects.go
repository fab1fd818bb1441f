package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/Checker-Finance/quoting-switch/internal/router"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

var (
	eventTypes = []string{model.TypeQuote, model.TypeBulkQuote, model.TypeFxQuote}
	actions    = []string{model.ActionPost, model.ActionPut, model.ActionGet}
)

// Subject returns the subject or queue name for an event: {prefix}.{type}.{action}.
func Subject(prefix, eventType, action string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, eventType, action)
}

// Subjects lists every subject the switch consumes.
func Subjects(prefix string) []string {
	out := make([]string, 0, len(eventTypes)*len(actions))
	for _, t := range eventTypes {
		for _, a := range actions {
			out = append(out, Subject(prefix, t, a))
		}
	}
	return out
}

// parseSubject splits {prefix}.{type}.{action}, rejecting anything outside the
// consumed subject space.
func parseSubject(prefix, subject string) (eventType, action string, err error) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return "", "", fmt.Errorf("subject %s is not under %s", subject, prefix)
	}
	parts := strings.Split(rest, ".")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("subject %s: no type/action", subject)
	}
	if !slices.Contains(eventTypes, parts[0]) {
		return "", "", fmt.Errorf("subject %s: unknown type %q", subject, parts[0])
	}
	if !slices.Contains(actions, parts[1]) {
		return "", "", fmt.Errorf("subject %s: unknown action %q", subject, parts[1])
	}
	return parts[0], parts[1], nil
}

// decodeEvent unmarshals a transport message. Type and action missing from the
// body are taken from the subject.
func decodeEvent(prefix, subject string, data []byte) (model.Message, error) {
	eventType, action, err := parseSubject(prefix, subject)
	if err != nil {
		return model.Message{}, fmt.Errorf("decode event: %w", err)
	}
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Message{}, fmt.Errorf("decode event on %s: %w", subject, err)
	}
	if ev.Type == "" {
		ev.Type = eventType
	}
	if ev.Action == "" {
		ev.Action = action
	}
	return model.Message{Topic: subject, Value: ev}, nil
}

// BatchRouter is the router side of a consumer.
type BatchRouter interface {
	RouteBatch(ctx context.Context, batch []router.Delivery) error
}
