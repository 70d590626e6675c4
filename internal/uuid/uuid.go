// Package uuid provides identifier generation for queued actions and
// subscriptions.
package uuid

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// actionIDRegex matches <unix-millis>-<kind>-<8 hex>.
var actionIDRegex = regexp.MustCompile(`^\d+-[a-z]+-[0-9a-f]{8}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewActionID builds a pending action id from the enqueue time and kind.
// The random suffix keeps ids unique when several actions of the same kind
// are enqueued within one millisecond.
func NewActionID(kind string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%d-%s-%s", at.UnixMilli(), strings.ToLower(kind), suffix)
}

// IsValidActionID checks the action id format.
func IsValidActionID(id string) bool {
	return actionIDRegex.MatchString(id)
}
