package enums

import (
	"fmt"
	"strings"
)

type ConsumableKind string

const (
	ConsumableBoost      ConsumableKind = "boost"
	ConsumableCompliment ConsumableKind = "compliment"
)

func (k ConsumableKind) Valid() bool {
	return k == ConsumableBoost || k == ConsumableCompliment
}

func ParseConsumableKind(input string) (ConsumableKind, error) {
	switch ConsumableKind(strings.ToLower(strings.TrimSpace(input))) {
	case ConsumableBoost:
		return ConsumableBoost, nil
	case ConsumableCompliment:
		return ConsumableCompliment, nil
	default:
		return "", fmt.Errorf("unknown consumable kind: %q", input)
	}
}
