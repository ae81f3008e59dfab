package enums

import (
	"fmt"
	"strings"
)

// Lane is one of the two parallel interest tracks a user opts into
// independently.
type Lane string

const (
	LanePals  Lane = "pals"
	LaneMatch Lane = "match"
)

func ParseLane(input string) (Lane, error) {
	switch Lane(strings.ToLower(strings.TrimSpace(input))) {
	case LanePals:
		return LanePals, nil
	case LaneMatch:
		return LaneMatch, nil
	default:
		return "", fmt.Errorf("unknown lane: %q", input)
	}
}

// Other returns the opposite lane.
func (l Lane) Other() Lane {
	if l == LanePals {
		return LaneMatch
	}
	return LanePals
}

func (l Lane) Valid() bool {
	return l == LanePals || l == LaneMatch
}
