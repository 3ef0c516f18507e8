package extract

import "fmt"

// ExploreHeader marks the explore-summary block in prompts.
const ExploreHeader = "*** ORIGINAL EXPLORE SUMMARY ***"

// explorePlaceholder is sent on repeat turns instead of the full summary.
const explorePlaceholder = "(Same as initial turn -- refer to your conversation history.)"

// ExploreCache decides, per terminal, whether to send the full explore
// summary or a placeholder referring the agent back to its own history.
// Terminals persist across rounds within a run, so the full block is only
// needed on a terminal's first-ever turn. The seen set lives for the process
// lifetime and is deliberately not persisted: after a restart every terminal
// gets the full block again, which is safe (just redundant context).
//
// Not safe for concurrent use; the orchestrator is single-threaded.
type ExploreCache struct {
	summary          string
	condenseOnRepeat bool
	seen             map[string]bool
}

// NewExploreCache creates a cache around the given explore summary.
// When condenseOnRepeat is false, every call returns the full block.
func NewExploreCache(summary string, condenseOnRepeat bool) *ExploreCache {
	return &ExploreCache{
		summary:          summary,
		condenseOnRepeat: condenseOnRepeat,
		seen:             make(map[string]bool),
	}
}

// BlockFor returns the explore block to embed in a prompt for the given
// terminal: the full summary on first contact, the placeholder afterwards.
func (e *ExploreCache) BlockFor(terminalID string) string {
	if e.condenseOnRepeat && e.seen[terminalID] {
		return fmt.Sprintf("%s\n%s", ExploreHeader, explorePlaceholder)
	}
	e.seen[terminalID] = true
	return fmt.Sprintf("%s\n%s", ExploreHeader, e.summary)
}
