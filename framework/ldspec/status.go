package ldspec

// Status is the final outcome of a case. It is computed from the case's recorded state and
// never stored.
type Status int

const (
	StatusPassed Status = iota
	StatusFailed
	StatusErrored
	StatusSkipped
	StatusIncomplete
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "error"
	case StatusSkipped:
		return "skipped"
	case StatusIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// Slot identifies where a failure happened relative to the case it is attached to.
type Slot string

const (
	SlotCase       Slot = "case"
	SlotBeforeEach Slot = "before_each"
	SlotAfterEach  Slot = "after_each"
	SlotBeforeAll  Slot = "before_all"
	SlotAfterAll   Slot = "after_all"
)

func (s Slot) String() string { return string(s) + " error" }

// ParseSlot converts the wire name of a slot back to a Slot.
func ParseSlot(s string) (Slot, bool) {
	switch Slot(s) {
	case SlotCase, SlotBeforeEach, SlotAfterEach, SlotBeforeAll, SlotAfterAll:
		return Slot(s), true
	}
	return "", false
}
