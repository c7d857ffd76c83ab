package client

import "fmt"

// State is a step of a single transfer.
type State int

const (
	StateInit State = iota
	StateProbe
	StateSkip
	StateTransfer
	StateRetry
	StateVerify
	StateDone
	StateFailed
)

var stateNames = [...]string{"INIT", "PROBE", "SKIP", "TRANSFER", "RETRY", "VERIFY", "DONE", "FAILED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Transition is reported to Options.OnState on every state change.
type Transition struct {
	Op      string
	Target  string
	From    State
	To      State
	Attempt int
	Err     error
}

var transitions = map[State][]State{
	StateInit:     {StateProbe, StateFailed},
	StateProbe:    {StateSkip, StateTransfer, StateFailed},
	StateSkip:     {StateDone},
	StateTransfer: {StateRetry, StateVerify, StateFailed},
	StateRetry:    {StateTransfer, StateFailed},
	StateVerify:   {StateDone, StateFailed},
}

type machine struct {
	op, target string
	state      State
	attempt    int
	notify     func(Transition)
}

func newMachine(op, target string, notify func(Transition)) *machine {
	return &machine{op: op, target: target, state: StateInit, notify: notify}
}

// to moves to next. An edge missing from the transition table is a bug in
// the caller, not a runtime condition.
func (m *machine) to(next State, err error) {
	allowed := false
	for _, s := range transitions[m.state] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		panic(fmt.Sprintf("client: invalid transfer transition %s -> %s", m.state, next))
	}
	if next == StateTransfer {
		m.attempt++
	}
	prev := m.state
	m.state = next
	if m.notify != nil {
		m.notify(Transition{Op: m.op, Target: m.target, From: prev, To: next, Attempt: m.attempt, Err: err})
	}
}

// fail moves to FAILED from any non-terminal state and returns err.
func (m *machine) fail(err error) error {
	if m.state != StateDone && m.state != StateFailed {
		m.to(StateFailed, err)
	}
	return err
}
