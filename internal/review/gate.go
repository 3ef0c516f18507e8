// Package review evaluates agent verdicts: whether a peer review counts as
// an approval, and whether a tester response reports a pass.
//
// Approval is deliberately hard to earn. A bare "REVIEW_RESULT: APPROVED"
// marker is necessary but not sufficient: the gate also enforces a minimum
// number of review cycles and, unless disabled, demands concrete evidence in
// the REVIEW_NOTES section. Each evidence pattern requires a domain keyword
// to co-occur with an assessment keyword within a bounded window, so "looks
// fine, covers everything" never passes.
package review

import (
	"regexp"

	"github.com/quintetdev/quintet/internal/extract"
)

// RoleAnalyst selects the analyst-specific evidence pattern set.
// Any other role uses the general programmer-oriented patterns.
const (
	RoleAnalyst    = "analyst"
	RoleProgrammer = "programmer"
)

var (
	approvedRe   = regexp.MustCompile(`(?im)^\s*REVIEW_RESULT:\s*APPROVED\b`)
	passResultRe = regexp.MustCompile(`(?im)^\s*RESULT:\s*PASS\b`)
)

// analystEvidencePatterns require an artifact-level judgment, traceability
// coverage, downstream impact with a concrete reference, or a concrete
// handoff step. A keyword with no accompanying verdict word does not count.
var analystEvidencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(artifact|proposal|design|tasks|spec)\w*\s.{0,30}(verified|missing|incomplete|correct|present|created|updated)`),
	regexp.MustCompile(`(?i)(P[1-4]|traceability|phase)\w*\s.{0,30}(coverage|gap|confirmed|traced|missing|complete)`),
	regexp.MustCompile(`(?i)(downstream|contract)\w*\s.{0,40}(\w+\.\w{2,4}|module|service|component|endpoint)`),
	regexp.MustCompile(`(?i)(handoff|action\s?item)\w*\s.{0,30}(\d+\s*(action|step|item|concrete)|includes|contains|lists)`),
}

// generalEvidencePatterns cover implementation reviews: change scope,
// validation activity, risk assessment, and defect discussion.
var generalEvidencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)implementation|code|task|change|diff|file`),
	regexp.MustCompile(`(?i)validation|test|command|run|not_run|pytest|conda`),
	regexp.MustCompile(`(?i)risk|regression|quality|coverage|evidence`),
	regexp.MustCompile(`(?i)fix|issue|defect|gap|failure`),
}

// ApprovedMarker reports whether the text carries the APPROVED verdict
// marker, independent of the gate's stricter conditions. The orchestrator
// uses this to log when an approval was ignored by the strict gate.
func ApprovedMarker(reviewText string) bool {
	return approvedRe.MatchString(reviewText)
}

// TestPassed reports whether a tester response declares RESULT: PASS.
func TestPassed(testText string) bool {
	return passResultRe.MatchString(testText)
}

// Gate decides whether a review response clears the approval bar.
type Gate struct {
	// MinCycles is the minimum review cycle number before any approval is
	// honored, guarding against rubber-stamp approval on cycle 1.
	MinCycles int
	// RequireEvidence demands evidence-pattern hits in REVIEW_NOTES.
	RequireEvidence bool
	// MinEvidenceMatches is how many distinct patterns must hit.
	MinEvidenceMatches int
}

// Approved evaluates a review response. Every condition is necessary, none
// sufficient on its own: the APPROVED marker must be present, the cycle
// floor must be met, and (unless evidence is disabled) at least
// MinEvidenceMatches role-specific patterns must hit within the
// REVIEW_NOTES section. Text outside that section never counts.
func (g Gate) Approved(reviewText string, cycle int, role string) bool {
	if !ApprovedMarker(reviewText) {
		return false
	}
	if cycle < g.MinCycles {
		return false
	}
	if !g.RequireEvidence {
		return true
	}

	notes := extract.Section(reviewText, `^\s*REVIEW_NOTES:`, "")
	if isBlank(notes) {
		return false
	}

	patterns := generalEvidencePatterns
	if role == RoleAnalyst {
		patterns = analystEvidencePatterns
	}
	hits := 0
	for _, p := range patterns {
		if p.MatchString(notes) {
			hits++
		}
	}
	return hits >= g.MinEvidenceMatches
}

func isBlank(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}
