package models

import (
	"fmt"
	"strings"
)

// MigrationPhase selects how much of the dialler pipeline is switched on.
// Phases are cumulative: generation includes scoring, live includes generation
type MigrationPhase int

const (
	PhaseScoring MigrationPhase = iota + 1
	PhaseGeneration
	PhaseLive
)

func ParseMigrationPhase(s string) (MigrationPhase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scoring":
		return PhaseScoring, nil
	case "generation":
		return PhaseGeneration, nil
	case "live", "":
		return PhaseLive, nil
	default:
		return 0, fmt.Errorf("unknown migration phase %q", s)
	}
}

func (p MigrationPhase) String() string {
	switch p {
	case PhaseScoring:
		return "scoring"
	case PhaseGeneration:
		return "generation"
	case PhaseLive:
		return "live"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p MigrationPhase) GeneratesQueues() bool { return p >= PhaseGeneration }

func (p MigrationPhase) ServesAgents() bool { return p >= PhaseLive }
