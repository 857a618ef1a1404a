package rail

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusScheduled  Status = "Scheduled"
	StatusRunning    Status = "Running"
	StatusDelayed    Status = "Delayed"
	StatusAtStation  Status = "AtStation"
	StatusTerminated Status = "Terminated"
	StatusCancelled  Status = "Cancelled"
)

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusRunning, StatusDelayed, StatusAtStation, StatusCancelled},
	StatusRunning:    {StatusDelayed, StatusAtStation, StatusTerminated, StatusCancelled},
	StatusDelayed:    {StatusRunning, StatusAtStation, StatusTerminated, StatusCancelled},
	StatusAtStation:  {StatusRunning, StatusDelayed, StatusTerminated, StatusCancelled},
	StatusTerminated: nil,
	StatusCancelled:  nil,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool { return s == StatusTerminated || s == StatusCancelled }

// Active reports whether a train in this status is on the network.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusDelayed || s == StatusAtStation
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	st := Status(v)
	if !st.Valid() {
		return Validationf("unknown status %q", v)
	}
	*s = st
	return nil
}

// CanTransition reports whether from may move to to. Staying put is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return from.Valid()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return Validationf("unknown status %q", to)
	}
	if !CanTransition(from, to) {
		return Validationf("status transition %s -> %s not allowed", from, to)
	}
	return nil
}

// ApplyDelay derives the status implied by a new delay value. Only the
// Running/Delayed pair reacts; every other status is returned unchanged.
func ApplyDelay(s Status, delayMinutes int32) Status {
	switch {
	case s == StatusRunning && delayMinutes > 0:
		return StatusDelayed
	case s == StatusDelayed && delayMinutes <= 0:
		return StatusRunning
	}
	return s
}

// NextUpdatedAt returns a timestamp strictly after prev, truncated to the
// microsecond precision of the record store.
func NextUpdatedAt(now, prev time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	floor := prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	if now.Before(floor) {
		return floor
	}
	return now
}
