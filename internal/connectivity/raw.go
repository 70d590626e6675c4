// Package connectivity tracks network reachability and broadcasts changes.
package connectivity

import (
	"strings"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
)

// Raw is an unmapped probe result such as "wifi" or "none".
type Raw string

const (
	RawWiFi     Raw = "wifi"
	RawMobile   Raw = "mobile"
	RawEthernet Raw = "ethernet"
	RawNone     Raw = "none"
)

// StateFor maps a raw probe result to exactly one state. Anything that is
// neither a known network nor "none" is Limited.
func StateFor(raw Raw) models.ConnectivityState {
	switch Raw(strings.ToLower(strings.TrimSpace(string(raw)))) {
	case RawWiFi, RawMobile, RawEthernet:
		return models.StateOnline
	case RawNone:
		return models.StateOffline
	default:
		return models.StateLimited
	}
}
