package prompt

import (
	"strings"
	"testing"

	"github.com/quintetdev/quintet/internal/extract"
	"github.com/quintetdev/quintet/internal/handoff"
	"github.com/quintetdev/quintet/internal/logging"
)

const fullPrompt = `*** ORIGINAL EXPLORE SUMMARY ***
The service parses invoices.
Key modules live under internal/.
*** SCENARIO TEST ***
Run the importer against fixtures/basic.xml.
Expect exit code 0 and three line items.
`

func TestSplit(t *testing.T) {
	explore, scenario, err := Split(fullPrompt)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !strings.Contains(explore, "parses invoices") || strings.Contains(explore, "importer") {
		t.Errorf("explore = %q", explore)
	}
	if !strings.Contains(scenario, "fixtures/basic.xml") || strings.Contains(scenario, "parses invoices") {
		t.Errorf("scenario = %q", scenario)
	}
}

func TestSplitErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing explore header", "*** SCENARIO TEST ***\nrun it\n"},
		{"missing scenario header", "*** ORIGINAL EXPLORE SUMMARY ***\nexplore\n"},
		{"header must be a full line", "prefix *** ORIGINAL EXPLORE SUMMARY ***\nx\n*** SCENARIO TEST ***\ny\n"},
		{"empty explore section", "*** ORIGINAL EXPLORE SUMMARY ***\n\n*** SCENARIO TEST ***\nrun it\n"},
		{"empty scenario section", "*** ORIGINAL EXPLORE SUMMARY ***\nexplore\n*** SCENARIO TEST ***\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Split(tt.text); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	files := handoff.NewFiles(t.TempDir(), logging.Discard())
	if err := files.EnsureDir(); err != nil {
		t.Fatal(err)
	}
	explore, scenario, err := Split(fullPrompt)
	if err != nil {
		t.Fatal(err)
	}
	return &Builder{
		Explore:  extract.NewExploreCache(explore, true),
		Scenario: scenario,
		Condenser: extract.Condenser{
			ReviewFeedback:       true,
			MaxFeedbackLines:     30,
			MaxTestEvidenceLines: 120,
			CrossPhase:           true,
			MaxCrossPhaseLines:   40,
		},
		CondenseUpstreamOnRepeat: true,
		Files:                    files,
	}
}

func TestAnalystPromptFirstRound(t *testing.T) {
	b := newTestBuilder(t)
	got := b.Analyst("t-a", 1, 1, "None yet.", "", "None yet.")

	for _, want := range []string{
		extract.ExploreHeader,
		"parses invoices",
		"Round: 1",
		"Analyst review cycle: 1",
		"Latest tester feedback:\nNone yet.",
		"Explore the codebase.",
		"analyst_summary.md",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("analyst prompt missing %q", want)
		}
	}
	if strings.Contains(got, "Previous round programmer changes") {
		t.Error("round 1 must not carry retry context")
	}
	if strings.Contains(got, "investigate the test failure") {
		t.Error("round 1 must use the fresh exploration task")
	}
}

func TestAnalystPromptRetryRound(t *testing.T) {
	b := newTestBuilder(t)
	got := b.Analyst("t-a", 2, 1, "RESULT: FAIL\nmissing line items", "Files changed:\n- importer.go", "None yet.")

	for _, want := range []string{
		"Round: 2",
		"missing line items",
		"Previous round programmer changes (context only):\nFiles changed:\n- importer.go",
		"investigate the test failure",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("retry prompt missing %q", want)
		}
	}
}

func TestExploreCondensedPerTerminal(t *testing.T) {
	b := newTestBuilder(t)

	first := b.Analyst("t-a", 1, 1, "None yet.", "", "None yet.")
	if !strings.Contains(first, "parses invoices") {
		t.Error("first contact must carry the full explore summary")
	}
	second := b.Analyst("t-a", 1, 2, "None yet.", "", "None yet.")
	if strings.Contains(second, "parses invoices") {
		t.Error("repeat contact must not repeat the explore summary")
	}
	if !strings.Contains(second, "refer to your conversation history") {
		t.Error("repeat contact must carry the placeholder")
	}
	// A different terminal still gets the full block.
	other := b.AnalystReview("t-pa", "analyst output")
	if !strings.Contains(other, "parses invoices") {
		t.Error("new terminal must get the full explore summary")
	}
}

func TestProgrammerPromptCondensesUpstream(t *testing.T) {
	b := newTestBuilder(t)
	analystOut := `Intro chatter that should be dropped.
- OpenSpec artifacts: proposal.md, tasks.md
- Implementation notes: add parser hook
- Risks: low
- Downstream impact: importer API
Trailing chatter.`

	got := b.Programmer("t-p", 1, analystOut, "None yet.")
	if !strings.Contains(got, "OpenSpec artifacts: proposal.md") {
		t.Error("handoff must carry the artifacts section")
	}
	if strings.Contains(got, "Intro chatter") {
		t.Error("handoff must not carry text before the first section")
	}
	if !strings.Contains(got, "Programmer review cycle: 1") {
		t.Error("missing cycle line")
	}
	if !strings.Contains(got, "programmer_summary.md") {
		t.Error("missing response file instruction")
	}

	repeat := b.Programmer("t-p", 2, analystOut, "fix the hook")
	if !strings.Contains(repeat, repeatAnalystStub) {
		t.Error("repeat cycle must replace the handoff with the stub")
	}
	if strings.Contains(repeat, "OpenSpec artifacts") {
		t.Error("repeat cycle must not repeat the handoff")
	}
}

func TestReviewPromptsEmbedOutput(t *testing.T) {
	b := newTestBuilder(t)

	ar := b.AnalystReview("t-pa", "THE ANALYST OUTPUT")
	if !strings.Contains(ar, "THE ANALYST OUTPUT") || !strings.Contains(ar, "default stance is REVISE") {
		t.Errorf("analyst review prompt incomplete")
	}
	if !strings.Contains(ar, "analyst_review.md") {
		t.Error("missing response file instruction")
	}

	pr := b.ProgrammerReview("t-pp", "THE PROGRAMMER OUTPUT")
	if !strings.Contains(pr, "THE PROGRAMMER OUTPUT") || !strings.Contains(pr, "REVIEW_RESULT: APPROVED or REVIEW_RESULT: REVISE") {
		t.Errorf("programmer review prompt incomplete")
	}
	if !strings.Contains(pr, "programmer_review.md") {
		t.Error("missing response file instruction")
	}
}

func TestTesterPromptScenarioOnly(t *testing.T) {
	b := newTestBuilder(t)
	programmerOut := `- Files changed: importer.go
- Behavior implemented: parse line items
- Known limitations: none`

	got := b.Tester(programmerOut)
	if !strings.Contains(got, ScenarioHeader) || !strings.Contains(got, "fixtures/basic.xml") {
		t.Error("tester prompt must carry the scenario test")
	}
	if strings.Contains(got, extract.ExploreHeader) {
		t.Error("tester must never receive the explore summary")
	}
	if !strings.Contains(got, "Files changed: importer.go") {
		t.Error("tester prompt must carry condensed programmer changes")
	}
	if strings.Contains(got, "Known limitations") {
		t.Error("condensation must stop before known limitations")
	}
	if !strings.Contains(got, "RESULT: PASS or RESULT: FAIL") {
		t.Error("tester prompt must dictate the report format")
	}
	if !strings.Contains(got, "test_result.md") {
		t.Error("missing response file instruction")
	}
}

func TestTestCommandInstruction(t *testing.T) {
	b := newTestBuilder(t)

	got := b.Programmer("t-p", 1, "output", "None yet.")
	if !strings.Contains(got, "test command from AGENTS.md") {
		t.Error("without a project test command the AGENTS.md fallback applies")
	}

	b.ProjectTestCmd = "make check"
	got = b.ProgrammerReview("t-pp", "output")
	if !strings.Contains(got, "Use this project test command when validating locally: make check") {
		t.Error("project test command must be relayed verbatim")
	}
}
