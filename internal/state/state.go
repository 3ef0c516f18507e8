// Package state persists orchestration progress to a JSON file so an
// interrupted run can resume from the exact round and phase it stopped at.
package state

// Phase is the orchestration loop's position within a round.
type Phase string

const (
	PhaseAnalyst    Phase = "analyst"
	PhaseProgrammer Phase = "programmer"
	PhaseTester     Phase = "tester"
	PhaseDone       Phase = "done"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseAnalyst, PhaseProgrammer, PhaseTester, PhaseDone:
		return true
	}
	return false
}

// FinalStatus is the run's overall outcome.
type FinalStatus string

const (
	StatusRunning FinalStatus = "RUNNING"
	StatusPass    FinalStatus = "PASS"
	StatusFail    FinalStatus = "FAIL"
)

// NoFeedback is the canonical placeholder carried in feedback fields when
// there is nothing to relay. Prompts always interpolate a non-empty value.
const NoFeedback = "None yet."

// TerminalBinding ties an agent role to the terminal serving it. The
// provider is recorded so a resume under changed config can be flagged.
type TerminalBinding struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// Outputs holds the latest response from each handoff role.
type Outputs struct {
	Analyst          string `json:"analyst"`
	AnalystReview    string `json:"analyst_review"`
	Programmer       string `json:"programmer"`
	ProgrammerReview string `json:"programmer_review"`
	Tester           string `json:"tester"`
}

// Clear resets every output to empty.
func (o *Outputs) Clear() {
	*o = Outputs{}
}

// RunState is the complete durable snapshot of a run. It is written after
// every observable transition, so any field may be mid-phase when loaded.
type RunState struct {
	Version                int                        `json:"version"`
	UpdatedAt              string                     `json:"updated_at"`
	API                    string                     `json:"api"`
	Provider               string                     `json:"provider"`
	WorkDir                string                     `json:"wd"`
	Prompt                 string                     `json:"prompt"`
	CurrentRound           int                        `json:"current_round"`
	CurrentPhase           Phase                      `json:"current_phase"`
	FinalStatus            FinalStatus                `json:"final_status"`
	SessionName            string                     `json:"session_name"`
	Terminals              map[string]TerminalBinding `json:"terminals"`
	Feedback               string                     `json:"feedback"`
	AnalystFeedback        string                     `json:"analyst_feedback"`
	ProgrammerFeedback     string                     `json:"programmer_feedback"`
	ProgrammerRetryContext string                     `json:"programmer_context_for_retry"`
	Outputs                Outputs                    `json:"outputs"`
}

// NewRunState returns a fresh state at round 1 with placeholder feedback.
func NewRunState(api, provider, workDir, prompt string) *RunState {
	return &RunState{
		Version:            1,
		API:                api,
		Provider:           provider,
		WorkDir:            workDir,
		Prompt:             prompt,
		CurrentRound:       1,
		CurrentPhase:       PhaseAnalyst,
		FinalStatus:        StatusRunning,
		Terminals:          make(map[string]TerminalBinding),
		Feedback:           NoFeedback,
		AnalystFeedback:    NoFeedback,
		ProgrammerFeedback: NoFeedback,
	}
}
