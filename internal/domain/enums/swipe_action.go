package enums

import (
	"fmt"
	"strings"
)

type SwipeAction string

const (
	SwipeActionPass   SwipeAction = "pass"
	SwipeActionReject SwipeAction = "reject"
	SwipeActionAccept SwipeAction = "accept"
)

func (a SwipeAction) Valid() bool {
	return a == SwipeActionPass || a == SwipeActionReject || a == SwipeActionAccept
}

func ParseSwipeAction(input string) (SwipeAction, error) {
	switch SwipeAction(strings.ToLower(strings.TrimSpace(input))) {
	case SwipeActionPass:
		return SwipeActionPass, nil
	case SwipeActionReject:
		return SwipeActionReject, nil
	case SwipeActionAccept:
		return SwipeActionAccept, nil
	default:
		return "", fmt.Errorf("unknown swipe action: %q", input)
	}
}
