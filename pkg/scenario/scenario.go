// Package scenario defines response selection strategies and manager-wide
// scenario overrides.
package scenario

import "fmt"

// Strategy controls how an endpoint rotates through multiple responses.
type Strategy string

const (
	// StrategySequential cycles responses in declaration order, wrapping
	// around after the last one. This is the default.
	StrategySequential Strategy = "sequential"

	// StrategyRandom picks a response uniformly at random on each request.
	StrategyRandom Strategy = "random"
)

// ForceError is the manager-wide override that makes every endpoint serve its
// highest error status instead of the normal selection.
const ForceError = "force-error"

// Parse returns the strategy named by s, defaulting to sequential for the
// empty string.
func Parse(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategySequential, nil
	case StrategySequential, StrategyRandom:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown response strategy %q", s)
	}
}

// Valid reports whether s is a recognized strategy.
func (s Strategy) Valid() bool {
	return s == StrategySequential || s == StrategyRandom
}
