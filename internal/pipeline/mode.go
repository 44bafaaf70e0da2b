package pipeline

import (
	"fmt"
	"strings"
)

// Mode selects how analyses turn into production chains.
type Mode string

const (
	// ModeCorpus accumulates analyses and produces from ripe clusters.
	ModeCorpus Mode = "corpus"
	// ModeDirect produces one chain per relevant signal.
	ModeDirect Mode = "direct"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeCorpus, "":
		return ModeCorpus, nil
	case ModeDirect:
		return ModeDirect, nil
	default:
		return "", fmt.Errorf("pipeline: unknown mode %q", s)
	}
}
