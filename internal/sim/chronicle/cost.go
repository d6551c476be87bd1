package chronicle

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// CostFunc measures how much of the context budget a piece of text uses.
type CostFunc func(text string) int

func CharCost(text string) int { return utf8.RuneCountInString(text) }

func WordCost(text string) int { return len(strings.Fields(text)) }

// TokenEstimate approximates model tokens at four characters each.
func TokenEstimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func CostByName(name string) (CostFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "tokens":
		return TokenEstimate, nil
	case "chars":
		return CharCost, nil
	case "words":
		return WordCost, nil
	default:
		return nil, fmt.Errorf("unknown cost unit %q", name)
	}
}
