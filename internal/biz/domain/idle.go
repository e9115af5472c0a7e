package domain

import "time"

// IdleState is the state of the idle re-engagement countdown
type IdleState string

const (
	IdleArmed   IdleState = "armed"
	IdleFiring  IdleState = "firing"
	IdleStopped IdleState = "stopped"
)

// IdleSnapshot is a read-only view of the idle countdown
type IdleSnapshot struct {
	State           IdleState `json:"state"`
	EndTime         time.Time `json:"end_time"`
	UnansweredCount int       `json:"unanswered_count"`
}

// Remaining returns the time left before the countdown fires
func (s IdleSnapshot) Remaining(now time.Time) time.Duration {
	if s.State != IdleArmed || s.EndTime.Before(now) {
		return 0
	}
	return s.EndTime.Sub(now)
}
