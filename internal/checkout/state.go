package checkout

import "fmt"

// State tracks a checkout through intent creation, payment and order linkage.
type State int

// Checkout states in the order a successful checkout passes through them.
// StateLinked and StateFailed are terminal.
const (
	StateNone State = iota
	StateIntentCreated
	StateGatewaySessionOpen
	StatePaymentCallbackReceived
	StateOrdersCreating
	StateLinked
	StateFailed
)

var stateNames = map[State]string{
	StateNone:                    "NONE",
	StateIntentCreated:           "INTENT_CREATED",
	StateGatewaySessionOpen:      "GATEWAY_SESSION_OPEN",
	StatePaymentCallbackReceived: "PAYMENT_CALLBACK_RECEIVED",
	StateOrdersCreating:          "ORDERS_CREATING",
	StateLinked:                  "LINKED",
	StateFailed:                  "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseState converts a stored state label back into a State.
func ParseState(value string) (State, error) {
	for st, name := range stateNames {
		if name == value {
			return st, nil
		}
	}
	return StateNone, fmt.Errorf("checkout: unknown state %q", value)
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateLinked || s == StateFailed
}

var transitions = map[State][]State{
	StateNone:                    {StateIntentCreated},
	StateIntentCreated:           {StateGatewaySessionOpen, StateFailed},
	StateGatewaySessionOpen:      {StatePaymentCallbackReceived, StateFailed},
	StatePaymentCallbackReceived: {StateOrdersCreating, StateFailed},
	StateOrdersCreating:          {StateLinked, StateFailed},
}

// CanTransition reports whether moving from one state to another is allowed.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
