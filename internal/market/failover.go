package market

import "fmt"

// FeedState models the streaming feed's connectivity lifecycle.
type FeedState int

const (
	StateConnected FeedState = iota
	StateReconnecting
	StateFallbackPolling
)

func (s FeedState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFallbackPolling:
		return "fallback_polling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FailoverState tracks the reconnect counter alongside the state. Transitions
// are pure so the one-way fallback trip is testable without network I/O.
type FailoverState struct {
	State   FeedState
	Attempt int
}

// OnConnected resets the reconnect counter. Fallback is sticky for the
// process lifetime: a late successful connect does not leave fallback.
func (s FailoverState) OnConnected() FailoverState {
	if s.State == StateFallbackPolling {
		return s
	}
	return FailoverState{State: StateConnected, Attempt: 0}
}

// OnDisconnected counts a failed attempt and trips to fallback polling once
// maxAttempts consecutive failures accumulate.
func (s FailoverState) OnDisconnected(maxAttempts int) FailoverState {
	if s.State == StateFallbackPolling {
		return s
	}
	next := FailoverState{State: StateReconnecting, Attempt: s.Attempt + 1}
	if maxAttempts > 0 && next.Attempt >= maxAttempts {
		next.State = StateFallbackPolling
	}
	return next
}
