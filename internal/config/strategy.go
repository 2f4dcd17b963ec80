package config

import (
	"fmt"
	"strings"
)

// ResolutionStrategy selects the winner among items that denote the same title
type ResolutionStrategy string

const (
	// StrategyNewest keeps the most recently added item
	StrategyNewest ResolutionStrategy = "newest"
	// StrategyOldest keeps the earliest added item
	StrategyOldest ResolutionStrategy = "oldest"
	// StrategyPreference keeps the newest item unless the top two are within the
	// tolerance window, in which case source preference decides
	StrategyPreference ResolutionStrategy = "preference"
	// StrategyMerge combines the items field by field
	StrategyMerge ResolutionStrategy = "merge"
)

// ParseStrategy parses a strategy name, case-insensitively
func ParseStrategy(s string) (ResolutionStrategy, error) {
	strategy := ResolutionStrategy(strings.ToLower(strings.TrimSpace(s)))
	if !strategy.Valid() {
		return "", fmt.Errorf("%w: unknown resolution strategy %q", ErrConfigInvalid, s)
	}
	return strategy, nil
}

// Valid reports whether the strategy is known
func (s ResolutionStrategy) Valid() bool {
	switch s {
	case StrategyNewest, StrategyOldest, StrategyPreference, StrategyMerge:
		return true
	}
	return false
}
