package config

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError aggregates every problem found in a configuration so the
// user can fix them all in one pass.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid configuration (%d problems):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func providerList() string {
	names := make([]string, 0, len(validProviders))
	for p := range validProviders {
		names = append(names, p)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Validate checks the resolved configuration. It returns a
// *ValidationError listing every violation, or nil.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if !validProviders[c.Provider] {
		verr.add("invalid provider %q (valid: %s)", c.Provider, providerList())
	}
	for _, role := range Roles() {
		if a := c.Agents[role]; !validProviders[a.Provider] {
			verr.add("invalid provider %q for agent %q (valid: %s)", a.Provider, role, providerList())
		}
	}
	if !validRoles[c.StartAgent] {
		verr.add("invalid start_agent %q (valid: %s)", c.StartAgent, strings.Join(Roles(), ", "))
	}

	if c.Limits.MaxRounds < 1 {
		verr.add("limits.max_rounds must be at least 1, got %d", c.Limits.MaxRounds)
	}
	if c.Limits.MaxReviewCycles < 1 {
		verr.add("limits.max_review_cycles must be at least 1, got %d", c.Limits.MaxReviewCycles)
	}
	if c.Limits.PollSeconds < 1 {
		verr.add("limits.poll_seconds must be at least 1, got %d", c.Limits.PollSeconds)
	}
	if c.Handoff.ResponseTimeout < 1 {
		verr.add("handoff.response_timeout must be at least 1, got %d", c.Handoff.ResponseTimeout)
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}
