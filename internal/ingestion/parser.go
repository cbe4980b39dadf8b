package ingestion

import (
	"fmt"
	"strings"

	"HookLedger/internal/event"
)

// Commands arrive on hook.cmd.<pool>.<EventType>. The pool ID may itself
// contain dots, so the type is always the last token.
const commandPrefix = "hook.cmd."

// CommandSubject returns the subject a producer publishes evt's type on.
func CommandSubject(poolID string, et event.EventType) string {
	return commandPrefix + poolID + "." + et.String()
}

// ResolveEventType extracts the event type name from a command subject.
func ResolveEventType(subject string) (string, error) {
	rest, ok := strings.CutPrefix(subject, commandPrefix)
	if !ok {
		return "", fmt.Errorf("subject %q is not a command subject", subject)
	}
	i := strings.LastIndexByte(rest, '.')
	if i <= 0 || i == len(rest)-1 {
		return "", fmt.Errorf("subject %q has no pool or type", subject)
	}
	return rest[i+1:], nil
}

// ParseRawEvent converts a raw message into a typed, validated operation.
// The wire format is the operation's JSON form (snake_case fields). The
// pool in the subject must match the payload.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	eventType, err := ResolveEventType(raw.Subject)
	if err != nil {
		return nil, err
	}
	evt, err := event.Decode(eventType, raw.Data)
	if err != nil {
		return nil, err
	}
	if want := CommandSubject(evt.PoolID(), evt.EventType()); want != raw.Subject {
		return nil, fmt.Errorf("subject %q does not match payload pool %q: %w",
			raw.Subject, evt.PoolID(), event.ErrMalformed)
	}
	return evt, nil
}
