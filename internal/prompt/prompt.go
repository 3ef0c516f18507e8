// Package prompt builds the messages dispatched to each agent terminal.
//
// The user prompt is a single document carrying two mandatory header
// lines: the explore summary every agent receives on first contact, and
// the scenario test only the tester ever sees. Builders assemble role
// prompts from those sections, condensed upstream output, accumulated
// feedback and per-role guard lines.
package prompt

import (
	"fmt"
	"strings"

	"github.com/quintetdev/quintet/internal/errors"
	"github.com/quintetdev/quintet/internal/extract"
	"github.com/quintetdev/quintet/internal/handoff"
)

// ScenarioHeader marks the scenario test section of the user prompt. The
// explore header lives with the explore cache in package extract.
const ScenarioHeader = "*** SCENARIO TEST ***"

// repeatAnalystStub replaces the analyst handoff on repeat programmer
// cycles; the terminal already holds the full text in its history.
const repeatAnalystStub = "(Same analyst output as previous cycle -- refer to conversation history.)"

// Split divides the user prompt into its explore summary and scenario
// test. Both header lines must be present as exact lines and both
// sections must be non-blank.
func Split(text string) (explore, scenario string, err error) {
	if !hasLine(text, extract.ExploreHeader) {
		return "", "", errors.NewConfigError(
			fmt.Sprintf("prompt must include header: %s", extract.ExploreHeader), nil)
	}
	if !hasLine(text, ScenarioHeader) {
		return "", "", errors.NewConfigError(
			fmt.Sprintf("prompt must include header: %s", ScenarioHeader), nil)
	}

	explore = between(text, extract.ExploreHeader, ScenarioHeader)
	scenario = between(text, ScenarioHeader, "")

	if strings.TrimSpace(explore) == "" {
		return "", "", errors.NewConfigError("explore summary section is empty", nil)
	}
	if strings.TrimSpace(scenario) == "" {
		return "", "", errors.NewConfigError("scenario test section is empty", nil)
	}
	return explore, scenario, nil
}

func hasLine(text, want string) bool {
	for _, line := range strings.Split(text, "\n") {
		if line == want {
			return true
		}
	}
	return false
}

// between collects the lines after startHeader up to (exclusive) endHeader.
// An empty endHeader captures through the end of the text.
func between(text, startHeader, endHeader string) string {
	var out []string
	capturing := false
	for _, line := range strings.Split(text, "\n") {
		if line == startHeader {
			capturing = true
			continue
		}
		if endHeader != "" && line == endHeader {
			break
		}
		if capturing {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Builder assembles role prompts for one run.
type Builder struct {
	Explore                  *extract.ExploreCache
	Scenario                 string
	Condenser                extract.Condenser
	CondenseUpstreamOnRepeat bool
	ProjectTestCmd           string
	Files                    *handoff.Files
}

func (b *Builder) testCommandInstruction() string {
	if strings.TrimSpace(b.ProjectTestCmd) != "" {
		return "Use this project test command when validating locally: " + b.ProjectTestCmd
	}
	return "Use project-specific test command from AGENTS.md (do not assume plain pytest)."
}

// Analyst builds the system analyst prompt. Round 1 asks for a fresh
// exploration; later rounds direct the analyst at the tester's failure.
// retryContext carries the previous round's condensed programmer changes.
func (b *Builder) Analyst(terminalID string, round, cycle int, testerFeedback, retryContext, analystFeedback string) string {
	parts := []string{
		b.Explore.BlockFor(terminalID),
		"",
		fmt.Sprintf("Round: %d", round),
		fmt.Sprintf("Analyst review cycle: %d", cycle),
		"Latest tester feedback:",
		testerFeedback,
	}
	if round > 1 && retryContext != "" {
		parts = append(parts,
			"Previous round programmer changes (context only):",
			retryContext,
		)
	}
	parts = append(parts,
		"Latest peer analyst feedback:",
		analystFeedback,
		"",
		"Guard lines:",
		"system anaylist: dont do testing, dont implement code",
		"",
		"Task:",
	)
	if round > 1 {
		parts = append(parts,
			"1) Use the OpenSpec explore skill to investigate the test failure described in the tester feedback above.",
			"2) Based on your findings, use the OpenSpec fast-forward skill to update the artifacts.",
		)
	} else {
		parts = append(parts,
			"1) Explore the codebase.",
			"2) Create/update all OpenSpec artifacts using the OpenSpec fast-forward skill.",
		)
	}
	parts = append(parts,
		"3) Return ANALYST_SUMMARY exactly as profile format.",
		"4) Include mandatory sections in ANALYST_SUMMARY:",
		"   - Artifact review per file: proposal.md, design.md, tasks.md, specs/* (PASS|REVISE + evidence).",
		"   - P1-P4 traceability: map each scenario requirement to artifact sections.",
		"   - Phased delivery coverage: phase-by-phase completeness/gaps.",
		"   - Downstream contract impact: planner/API/converter/revised_document implications.",
		"   - Explicit handoff: concrete actions for programmer.",
		b.Files.Instruction(handoff.RoleAnalyst),
	)
	return strings.Join(parts, "\n")
}

// AnalystReview builds the peer analyst prompt. The reviewer's default
// stance is REVISE; the rejection criteria mirror the mandatory sections
// demanded of the analyst.
func (b *Builder) AnalystReview(terminalID, analystOut string) string {
	parts := []string{
		b.Explore.BlockFor(terminalID),
		"",
		"System analyst output to review:",
		analystOut,
		"",
		"Guard lines:",
		"peer system analyst: review only, dont do testing, dont implement code",
		"",
		"Task: Your default stance is REVISE. Only approve when ALL criteria below pass.",
		"",
		"Rejection criteria — REVISE if ANY fail:",
		"1. Scope: must reference specific file paths or module names. Reject if vague.",
		"2. OpenSpec artifacts: must list artifact filenames (proposal.md, design.md, etc). Reject if none listed.",
		"3. Implementation notes: must contain at least 3 concrete action items. Reject if vague or fewer than 3.",
		"4. Risks/assumptions: must not be 'none' or single-line without mitigation. Reject if missing or unmitigated.",
		"5. Downstream impact: must not be 'N/A' or missing. Reject if absent.",
		"",
		"Codebase verification: pick at least 2 file paths from the analyst output and verify they exist using ls. Report what you checked.",
		"",
		"Return REVIEW_RESULT: APPROVED or REVIEW_RESULT: REVISE with REVIEW_NOTES covering each criterion.",
		b.Files.Instruction(handoff.RoleAnalystReview),
	}
	return strings.Join(parts, "\n")
}

// Programmer builds the programmer prompt around the condensed analyst
// handoff. On repeat cycles the handoff collapses to a stub since the
// terminal already saw it.
func (b *Builder) Programmer(terminalID string, cycle int, analystOut, programmerFeedback string) string {
	analystBlock := b.Condenser.AnalystForProgrammer(analystOut)
	if b.CondenseUpstreamOnRepeat && cycle > 1 {
		analystBlock = repeatAnalystStub
	}

	parts := []string{
		b.Explore.BlockFor(terminalID),
		"",
		"System analyst handoff:",
		analystBlock,
		"",
		fmt.Sprintf("Programmer review cycle: %d", cycle),
		"Latest peer programmer feedback:",
		programmerFeedback,
		"",
		"Guard lines:",
		"programmer: dont do scenario test",
		"Autonomy rules: do not run destructive commands in repo paths (rm, git clean, git reset --hard, overwrite moves)",
		"Autonomy rules: do not delete tests/fixtures/**",
		"Autonomy rules: write temporary artifacts only under .tmp/ or /tmp/",
		"",
		"Task:",
		"1) Apply OpenSpec changes using openspec-apply-change skill.",
		"2) Implement required code changes.",
		"3) Return PROGRAMMER_SUMMARY exactly as profile format.",
		"4) For optional local validation, do not assume plain pytest.",
		"5) " + b.testCommandInstruction(),
		b.Files.Instruction(handoff.RoleProgrammer),
	}
	return strings.Join(parts, "\n")
}

// ProgrammerReview builds the peer programmer prompt.
func (b *Builder) ProgrammerReview(terminalID, programmerOut string) string {
	parts := []string{
		b.Explore.BlockFor(terminalID),
		"",
		"Programmer output to review:",
		programmerOut,
		"",
		"Guard lines:",
		"peer programmer: review only, dont do scenario test, dont implement code",
		"peer programmer: enforce non-destructive repo operations and no fixture deletion",
		"",
		"Task:",
		"Review implementation completeness and quality.",
		"Do not require plain pytest command.",
		b.testCommandInstruction(),
		"If no runnable command exists, report Validation run status: NOT_RUN with reason and continue review.",
		"Return REVIEW_RESULT: APPROVED or REVIEW_RESULT: REVISE with REVIEW_NOTES.",
		b.Files.Instruction(handoff.RoleProgrammerReview),
	}
	return strings.Join(parts, "\n")
}

// Tester builds the tester prompt. The tester never receives the explore
// summary; it gets the scenario test, the condensed programmer changes and
// a rigid report format.
func (b *Builder) Tester(programmerOut string) string {
	parts := []string{
		b.Files.Instruction(handoff.RoleTester),
		"",
		"Guard lines:",
		"tester: Do NOT implement code, Do NOT fix bugs, Do NOT modify any files.",
		"tester: Do NOT run git commands. Do NOT take action after reporting.",
		"tester: Your ONLY job is: run tests, observe, report PASS/FAIL, write response file, STOP.",
		"",
		ScenarioHeader,
		b.Scenario,
		"",
		"Programmer changes:",
		b.Condenser.ProgrammerForTester(programmerOut),
		"",
		"Task:",
		"1) Run tests based on SCENARIO TEST only.",
		"2) Write your result to the response file above. Use this exact format:",
		"RESULT: PASS or RESULT: FAIL",
		"EVIDENCE:",
		"- Commands run:",
		"- Criteria checked (list EVERY expected condition from the scenario):",
		"  - <criterion from prompt>: <observed value or matched content>",
		"- Failed criteria (if any):",
		"- Recommended next fix:",
		"3) STOP. Do not take any further action after writing the response file.",
	}
	return strings.Join(parts, "\n")
}
