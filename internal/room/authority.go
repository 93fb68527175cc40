package room

// ControlMode governs which participants may issue playback commands.
type ControlMode string

const (
	ControlModeEveryone ControlMode = "everyone"  // any attached participant controls playback
	ControlModeHostOnly ControlMode = "host-only" // only the host controls; others observe
)

// ValidControlMode reports whether s is a recognized control mode.
func ValidControlMode(s string) bool {
	switch ControlMode(s) {
	case ControlModeEveryone, ControlModeHostOnly:
		return true
	}
	return false
}

// CanControl decides whether the given participant may issue state-changing
// commands under the room's policy. It is consulted on every inbound command,
// not just at handshake, because the mode can change mid-session.
func CanControl(mode ControlMode, hostID, userID int64) bool {
	if mode == ControlModeHostOnly {
		return userID == hostID
	}
	return true
}
