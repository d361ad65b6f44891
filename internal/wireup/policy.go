package wireup

import "fmt"

// Policy decides what happens to parameter slots after a transform fires.
type Policy int

const (
	// LatestValue keeps every slot, so any later update re-fires with the
	// latest value of every other input.
	LatestValue Policy = iota
	// ClearAfterFire empties the slots, so the next firing needs a fresh
	// value for every input.
	ClearAfterFire
)

const (
	PolicyLatestValue    = "latest-value"
	PolicyClearAfterFire = "clear-after-fire"
)

func (p Policy) String() string {
	switch p {
	case LatestValue:
		return PolicyLatestValue
	case ClearAfterFire:
		return PolicyClearAfterFire
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration value to a Policy. Empty selects LatestValue.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", PolicyLatestValue:
		return LatestValue, nil
	case PolicyClearAfterFire:
		return ClearAfterFire, nil
	default:
		return 0, fmt.Errorf("unknown firing policy %q", s)
	}
}
