package models

// ConnectivityState is the current belief about network reachability.
type ConnectivityState string

const (
	StateOnline  ConnectivityState = "online"
	StateOffline ConnectivityState = "offline"
	StateLimited ConnectivityState = "limited"
)

// IsOnline reports whether s is StateOnline.
func (s ConnectivityState) IsOnline() bool {
	return s == StateOnline
}
