package gate

import "time"

// Reach is what a probe or test learned about one adapter.
type Reach int32

const (
	ReachUnknown Reach = iota
	ReachOK
	ReachDown
)

func (r Reach) String() string {
	switch r {
	case ReachOK:
		return "reachable"
	case ReachDown:
		return "unreachable"
	}
	return "unknown"
}

// Events are optional status callbacks for a UI or daemon log. Any
// field may be nil. Callbacks run on gate goroutines and must return
// quickly.
type Events struct {
	TriggerStarted func(correlationID string)
	TriggerEnded   func(correlationID, adapter string, elapsed time.Duration, err *NetworkError)
	Reachability   func(adapter string, r Reach)
	BrokerState    func(state string)
}

func (ev *Events) triggerStarted(id string) {
	if ev != nil && ev.TriggerStarted != nil {
		ev.TriggerStarted(id)
	}
}

func (ev *Events) triggerEnded(id, adapter string, elapsed time.Duration, err *NetworkError) {
	if ev != nil && ev.TriggerEnded != nil {
		ev.TriggerEnded(id, adapter, elapsed, err)
	}
}

func (ev *Events) reachability(adapter string, r Reach) {
	if ev != nil && ev.Reachability != nil {
		ev.Reachability(adapter, r)
	}
}

func (ev *Events) brokerState(state string) {
	if ev != nil && ev.BrokerState != nil {
		ev.BrokerState(state)
	}
}
