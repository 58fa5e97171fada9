package core

import "time"

// FloodPolicy is the threshold applied to a named flood event.
type FloodPolicy struct {
	Threshold int
	Window    time.Duration
}

// FloodDecision is the outcome of checking an identifier against a policy.
type FloodDecision struct {
	Event         string        `json:"event"`
	Identifier    string        `json:"identifier"`
	Allowed       bool          `json:"allowed"`
	Threshold     int           `json:"threshold"`
	Window        time.Duration `json:"-"`
	WindowSeconds int64         `json:"window_seconds"`
}
