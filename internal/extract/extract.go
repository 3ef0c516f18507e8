// Package extract provides the text condensation functions that sit between
// agent roles. Agents emit free-form prose; downstream prompts need a bounded,
// handoff-relevant slice of it. Everything here is a pure function over text
// except ExploreCache, which tracks first-contact state per terminal for the
// lifetime of the process.
//
// Section markers are a convention, not a contract: every extractor falls
// back to head-truncation of the raw text when its markers are missing, so a
// downstream prompt is never empty just because an upstream agent ignored the
// expected format.
package extract

import (
	"regexp"
	"strings"
)

// Section returns the contiguous lines from the first line matching
// startPattern (inclusive) up to but excluding the first subsequent line
// matching stopPattern. A stopPattern of "" (or one that never matches)
// extends the section to the end of the text. Returns "" if startPattern
// never matches a line. Matching is per-line, anchored at line start,
// case-insensitive.
func Section(text, startPattern, stopPattern string) string {
	startRe, err := compileLine(startPattern)
	if err != nil {
		return ""
	}
	var stopRe *regexp.Regexp
	if stopPattern != "" {
		// An invalid stop pattern degrades to "no stop" rather than failing.
		stopRe, _ = compileLine(stopPattern)
	}

	lines := strings.Split(text, "\n")
	start := -1
	for i, line := range lines {
		if start < 0 {
			if startRe.MatchString(line) {
				start = i
			}
		} else if stopRe != nil && stopRe.MatchString(line) {
			return strings.Join(lines[start:i], "\n")
		}
	}
	if start < 0 {
		return ""
	}
	return strings.Join(lines[start:], "\n")
}

// compileLine compiles a pattern for case-insensitive matching anchored at
// the start of a single line. The group keeps a top-level alternation in
// pattern under the anchor.
func compileLine(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)^(?:" + pattern + ")")
}

// headLines returns at most max leading lines of text.
func headLines(text string, max int) string {
	lines := strings.Split(text, "\n")
	if len(lines) > max {
		lines = lines[:max]
	}
	return strings.Join(lines, "\n")
}

// blank reports whether the joined lines contain no non-whitespace content.
func blank(s string) bool {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", "")) == ""
}

// Condenser applies the configured line budgets to the cross-role text flows.
// The zero value disables everything; construct via the config package.
type Condenser struct {
	// ReviewFeedback enables condensation of review notes and test evidence.
	// When false, ReviewNotes and TestEvidence return their input unchanged.
	ReviewFeedback bool
	// MaxFeedbackLines bounds condensed review notes.
	MaxFeedbackLines int
	// MaxTestEvidenceLines bounds condensed test evidence. Deliberately
	// larger than MaxFeedbackLines: failure evidence drives the next round.
	MaxTestEvidenceLines int
	// CrossPhase enables condensation of the analyst-to-programmer and
	// programmer-to-tester handoffs. When false those pass through unchanged.
	CrossPhase bool
	// MaxCrossPhaseLines bounds cross-phase handoff blocks.
	MaxCrossPhaseLines int
}

// ReviewNotes extracts the REVIEW_NOTES: section from a review response,
// truncated to MaxFeedbackLines. If the section is blank, the first
// MaxFeedbackLines of the full text are used instead.
func (c Condenser) ReviewNotes(reviewText string) string {
	if !c.ReviewFeedback {
		return reviewText
	}
	section := Section(reviewText, `^\s*REVIEW_NOTES:`, "")
	out := headLines(section, c.MaxFeedbackLines)
	if blank(out) {
		out = headLines(reviewText, c.MaxFeedbackLines)
	}
	return out
}

// TestEvidence collects every RESULT: line plus the EVIDENCE: section from a
// tester response, truncated to MaxTestEvidenceLines, with the same
// blank-fallback as ReviewNotes.
func (c Condenser) TestEvidence(testText string) string {
	if !c.ReviewFeedback {
		return testText
	}

	resultRe := regexp.MustCompile(`(?i)^\s*RESULT:`)
	var resultLines []string
	for _, line := range strings.Split(testText, "\n") {
		if resultRe.MatchString(line) {
			resultLines = append(resultLines, line)
		}
	}

	combined := strings.Join(resultLines, "\n")
	if evidence := Section(testText, `^\s*EVIDENCE:`, ""); evidence != "" {
		combined += "\n" + evidence
	}

	out := headLines(combined, c.MaxTestEvidenceLines)
	if blank(out) {
		out = headLines(testText, c.MaxTestEvidenceLines)
	}
	return out
}

// sectionBound pairs a start anchor with the anchor that terminates it.
type sectionBound struct {
	start string
	stop  string
}

// analystSections are the handoff-relevant parts of an analyst summary.
var analystSections = []sectionBound{
	{`^\s*-?\s*OpenSpec artifacts`, `^\s*-?\s*Implementation notes`},
	{`^\s*-?\s*Implementation notes`, `^\s*-?\s*Risks`},
	{`^\s*-?\s*Risks`, `^\s*-?\s*Downstream impact`},
}

// programmerSections are the change-description parts of a programmer summary.
var programmerSections = []sectionBound{
	{`^\s*-?\s*Files changed`, `^\s*-?\s*Behavior implemented`},
	{`^\s*-?\s*Behavior implemented`, `^\s*-?\s*Known limitations`},
}

// condenseSections concatenates whichever bounded sections matched, truncated
// to MaxCrossPhaseLines, falling back to a head-truncation of the raw text
// when none matched.
func (c Condenser) condenseSections(text string, bounds []sectionBound) string {
	if !c.CrossPhase {
		return text
	}
	var sections []string
	for _, b := range bounds {
		if chunk := Section(text, b.start, b.stop); strings.TrimSpace(chunk) != "" {
			sections = append(sections, chunk)
		}
	}
	if len(sections) == 0 {
		return headLines(text, c.MaxCrossPhaseLines)
	}
	return headLines(strings.Join(sections, "\n"), c.MaxCrossPhaseLines)
}

// AnalystForProgrammer condenses an analyst summary down to the artifact
// list, implementation notes, and risks sections for the programmer prompt.
func (c Condenser) AnalystForProgrammer(analystOut string) string {
	return c.condenseSections(analystOut, analystSections)
}

// ProgrammerForTester condenses a programmer summary down to the files
// changed and behavior implemented sections for the tester prompt.
func (c Condenser) ProgrammerForTester(programmerOut string) string {
	return c.condenseSections(programmerOut, programmerSections)
}
