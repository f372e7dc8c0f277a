package bridge

import (
	"time"

	"github.com/0x6d61/webtrufflehog/internal/channel"
)

// State is the connectedness of the bridge to the host.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns a human-readable name for the state.
func (s State) String() string {
	names := [...]string{"disconnected", "connecting", "connected"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// transitions is the complete set of legal state changes.
var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is one live channel instance. It is owned by the Manager and
// never mutated outside the Manager's transition methods.
type Session struct {
	ID       string
	OpenedAt time.Time

	channel   channel.Channel
	heartbeat *heartbeat

	// lost is set when the channel reported a disconnect, even if that
	// happened before the session was attached.
	lost bool
}
