package capture

import "fmt"

// State 浏览器会话状态
type State int

const (
	StateUninitialized State = iota
	StateLaunching
	StateReady
	StateNavigating
	StateCaptured
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateLaunching:     "launching",
	StateReady:         "ready",
	StateNavigating:    "navigating",
	StateCaptured:      "captured",
	StateClosed:        "closed",
	StateFailed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// canTransition 状态只能前进：失败可以从任意活动状态进入，任何非 Closed 状态都能进入 Closed。
func canTransition(from, to State) bool {
	switch to {
	case StateClosed:
		return from != StateClosed
	case StateFailed:
		return from != StateClosed && from != StateUninitialized
	case StateLaunching:
		return from == StateUninitialized
	case StateReady:
		return from == StateLaunching
	case StateNavigating:
		return from == StateReady
	case StateCaptured:
		return from == StateNavigating
	}
	return false
}
