package fsm

import "fmt"

// Policy decides how undeclared (state, input) pairs are treated.
type Policy uint8

const (
	// Lenient treats undeclared pairs as no-ops.
	Lenient Policy = iota

	// Exhaustive requires a rule or explicit ignore for every pair.
	Exhaustive
)

// String returns the policy name.
func (p Policy) String() string {
	if p == Exhaustive {
		return "exhaustive"
	}
	return "lenient"
}

// ParsePolicy parses "lenient" or "exhaustive". The empty string is Lenient.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "lenient":
		return Lenient, nil
	case "exhaustive":
		return Exhaustive, nil
	}
	return Lenient, fmt.Errorf("unknown policy %q (expected lenient or exhaustive)", s)
}
