package search

import (
	"fmt"
	"strings"
)

// DetailLevel selects how much payload each result carries.
type DetailLevel string

const (
	// LevelName returns server and tool names only.
	LevelName DetailLevel = "name"

	// LevelSummary adds the one-line description.
	LevelSummary DetailLevel = "summary"

	// LevelFull adds the tool source and a call hint.
	LevelFull DetailLevel = "full"
)

// ParseDetailLevel parses s case-insensitively. An empty string is
// LevelSummary.
func ParseDetailLevel(s string) (DetailLevel, error) {
	switch DetailLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "", LevelSummary:
		return LevelSummary, nil
	case LevelName:
		return LevelName, nil
	case LevelFull:
		return LevelFull, nil
	default:
		return "", fmt.Errorf("%w: %q (want name, summary or full)", ErrInvalidDetailLevel, s)
	}
}

// Valid reports whether l is one of the three known levels.
func (l DetailLevel) Valid() bool {
	return l == LevelName || l == LevelSummary || l == LevelFull
}
