package domain

// EventPositionSignal is the event name the dispatcher publishes on.
const EventPositionSignal = "position.signal"

// Signal tells the order manager which records of a ticker need work. Both
// flags are set when an OPEN position receives a bracket adjustment.
type Signal struct {
	Ticker             string `json:"ticker"`
	OpenPosition       bool   `json:"open_position"`
	DispatchedPosition bool   `json:"dispatched_position"`
}
