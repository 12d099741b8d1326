package prospects

import "fmt"

// Status is the prospect lifecycle state. Transitions advance monotonically;
// the only backward move is completed report dispatch retrying out of pending.
type Status string

const (
	StatusNewInquiry Status = "new_inquiry"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusQualified  Status = "qualified"
	StatusConverted  Status = "converted_to_customer"
)

var statusTransitions = map[Status]map[Status]struct{}{
	StatusNewInquiry: {
		StatusPending:   {},
		StatusCompleted: {}, // org-level report reuse skips dispatch entirely
	},
	StatusPending: {
		StatusProcessing: {},
		StatusCompleted:  {},
	},
	StatusProcessing: {
		StatusCompleted: {},
		StatusPending:   {}, // failed generation falls back to a retryable state
	},
	StatusCompleted: {
		StatusQualified: {},
		StatusConverted: {},
	},
	StatusQualified: {
		StatusConverted: {},
	},
	StatusConverted: {},
}

func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	_, ok := statusTransitions[s]
	return s, ok
}

func (s Status) CanTransition(to Status) bool {
	next, ok := statusTransitions[s]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Transition validates a status change centrally so call sites do not
// re-derive legality inline.
func Transition(from, to Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal prospect status transition %s -> %s", from, to)
	}
	return nil
}
