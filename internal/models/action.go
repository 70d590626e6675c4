package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ActionKind is the semantic category of a deferred mutation.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
	ActionSync   ActionKind = "sync"
)

// Valid reports whether k is one of the known kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionCreate, ActionUpdate, ActionDelete, ActionSync:
		return true
	}
	return false
}

// ParseActionKind converts a string to an ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown action kind %q", s)
	}
	return k, nil
}

// PendingAction is a mutating call waiting to be delivered to the backend.
type PendingAction struct {
	ID         string            `json:"id"`
	Kind       ActionKind        `json:"kind"`
	Endpoint   string            `json:"endpoint"`
	Payload    Value             `json:"payload"`
	CreatedAt  time.Time         `json:"created_at"`
	RetryCount int               `json:"retry_count"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Clone returns a copy that shares no mutable state with a.
func (a PendingAction) Clone() PendingAction {
	out := a
	if a.Headers != nil {
		out.Headers = make(map[string]string, len(a.Headers))
		for k, v := range a.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// EncodePendingAction serializes an action for the persistent store.
func EncodePendingAction(a PendingAction) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode pending action %s: %w", a.ID, err)
	}
	return string(b), nil
}

// DecodePendingAction parses a stored action and checks its required fields.
func DecodePendingAction(s string) (PendingAction, error) {
	var a PendingAction
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return PendingAction{}, fmt.Errorf("decode pending action: %w", err)
	}
	if a.ID == "" {
		return PendingAction{}, fmt.Errorf("decode pending action: missing id")
	}
	if !a.Kind.Valid() {
		return PendingAction{}, fmt.Errorf("decode pending action %s: unknown kind %q", a.ID, a.Kind)
	}
	if a.RetryCount < 0 {
		return PendingAction{}, fmt.Errorf("decode pending action %s: negative retry count", a.ID)
	}
	return a, nil
}

// DroppedAction records an action evicted after exhausting its retries.
type DroppedAction struct {
	Action    PendingAction `json:"action"`
	Reason    string        `json:"reason"`
	DroppedAt time.Time     `json:"dropped_at"`
}
