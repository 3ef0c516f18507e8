// Package orchestrator drives the five-agent delivery loop.
//
// A round walks three phases: the system analyst plans under peer review,
// the programmer implements under peer review, and the tester runs the
// scenario test. A failed test feeds evidence back into the next round
// until the scenario passes or the round budget runs out. Every observable
// transition is persisted so a killed run resumes where it stopped.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/quintetdev/quintet/internal/config"
	"github.com/quintetdev/quintet/internal/errors"
	"github.com/quintetdev/quintet/internal/extract"
	"github.com/quintetdev/quintet/internal/handoff"
	"github.com/quintetdev/quintet/internal/logging"
	"github.com/quintetdev/quintet/internal/prompt"
	"github.com/quintetdev/quintet/internal/review"
	"github.com/quintetdev/quintet/internal/state"
	"github.com/quintetdev/quintet/internal/termsvc"
)

// upstreamPlaceholder stands in for outputs of phases skipped by a
// non-default start agent.
const upstreamPlaceholder = "(No upstream output — START_AGENT skipped this phase. " +
	"Use codebase and prompt for context.)"

// rolePhase maps a start agent to the phase its dispatch belongs to.
var rolePhase = map[string]state.Phase{
	config.RoleAnalyst:        state.PhaseAnalyst,
	config.RolePeerAnalyst:    state.PhaseAnalyst,
	config.RoleProgrammer:     state.PhaseProgrammer,
	config.RolePeerProgrammer: state.PhaseProgrammer,
	config.RoleTester:         state.PhaseTester,
}

// Orchestrator owns one run of the loop.
type Orchestrator struct {
	cfg       *config.Config
	client    *termsvc.Client
	files     *handoff.Files
	waiter    *handoff.Waiter
	builder   *prompt.Builder
	condenser extract.Condenser
	gate      review.Gate
	store     *state.Store
	st        *state.RunState
	log       *logging.Logger
	out       io.Writer

	startAtPeer bool
}

// New wires an orchestrator from resolved configuration. Prepare must be
// called before Run.
func New(cfg *config.Config, log *logging.Logger) *Orchestrator {
	client := termsvc.New(cfg.API, cfg.WorkDir)
	files := handoff.NewFiles(cfg.WorkDir, log)
	condenser := extract.Condenser{
		ReviewFeedback:       cfg.Condensation.CondenseReviewFeedback,
		MaxFeedbackLines:     cfg.Condensation.MaxFeedbackLines,
		MaxTestEvidenceLines: cfg.Condensation.MaxTestEvidenceLines,
		CrossPhase:           cfg.Condensation.CondenseCrossPhase,
		MaxCrossPhaseLines:   cfg.Condensation.MaxCrossPhaseLines,
	}
	return &Orchestrator{
		cfg:       cfg,
		client:    client,
		files:     files,
		condenser: condenser,
		waiter: handoff.NewWaiter(client, files, handoff.WaiterConfig{
			PollInterval: cfg.PollInterval(),
			IdleGrace:    cfg.IdleGrace(),
			Timeout:      cfg.ResponseTimeout(),
			Strict:       cfg.Handoff.StrictFileHandoff,
		}, log),
		gate: review.Gate{
			MinCycles:          cfg.Limits.MinReviewCyclesBeforeApproval,
			RequireEvidence:    cfg.Limits.RequireReviewEvidence,
			MinEvidenceMatches: cfg.Limits.ReviewEvidenceMinMatch,
		},
		store: state.NewStore(cfg.StateFile),
		log:   log,
		out:   os.Stdout,
	}
}

// SetOutput redirects run progress output, mainly for tests.
func (o *Orchestrator) SetOutput(w io.Writer) {
	o.out = w
}

// State exposes the current run state. Nil before Prepare.
func (o *Orchestrator) State() *state.RunState {
	return o.st
}

// Prepare resolves the prompt, validates its structure, and either resumes
// from the state file or initializes a fresh run. done reports that the
// loaded state already reached a terminal phase; Run must not be called in
// that case.
func (o *Orchestrator) Prepare(ctx context.Context) (done bool, err error) {
	resume := o.cfg.Resume
	if !resume && o.store.ShouldAutoResume() {
		o.log.Info("auto-resume: found in-progress state file", "state_file", o.store.Path())
		resume = true
	}

	promptText, err := o.resolvePrompt(resume)
	if err != nil {
		return false, err
	}
	explore, scenario, err := prompt.Split(promptText)
	if err != nil {
		return false, err
	}
	o.builder = &prompt.Builder{
		Explore:                  extract.NewExploreCache(explore, o.cfg.Condensation.CondenseExploreOnRepeat),
		Scenario:                 scenario,
		Condenser:                o.condenser,
		CondenseUpstreamOnRepeat: o.cfg.Condensation.CondenseUpstreamOnRepeat,
		ProjectTestCmd:           o.cfg.ProjectTestCmd,
		Files:                    o.files,
	}

	if err := o.files.EnsureDir(); err != nil {
		return false, err
	}

	if resume {
		if err := o.resumeRun(ctx, promptText); err != nil {
			return false, err
		}
	} else {
		if err := o.initNewRun(ctx, promptText); err != nil {
			return false, err
		}
	}

	if o.st.CurrentPhase == state.PhaseDone {
		o.log.Info("state already completed, set RESUME=0 to start a new run",
			"final_status", o.st.FinalStatus)
		return true, nil
	}
	return false, nil
}

// resolvePrompt loads the prompt from config, prompt file, or (on resume)
// the state file, and requires it to be non-blank.
func (o *Orchestrator) resolvePrompt(resume bool) (string, error) {
	promptText := o.cfg.Prompt
	if o.cfg.PromptFile != "" {
		data, err := os.ReadFile(o.cfg.PromptFile)
		if err != nil {
			return "", errors.NewConfigError(
				fmt.Sprintf("prompt file not found: %s", o.cfg.PromptFile), err)
		}
		promptText = string(data)
	}

	if strings.TrimSpace(promptText) == "" && resume {
		if st, err := o.store.Load(); err == nil && strings.TrimSpace(st.Prompt) != "" {
			promptText = st.Prompt
			o.log.Info("recovered prompt from state file for resume")
		}
	}

	if strings.TrimSpace(promptText) == "" {
		return "", errors.NewConfigError("prompt is empty, set prompt or prompt_file", nil)
	}
	return promptText, nil
}

// initNewRun creates the session and the five agent terminals. Any
// creation failure tears down whatever was already created.
func (o *Orchestrator) initNewRun(ctx context.Context, promptText string) error {
	st := state.NewRunState(o.cfg.API, o.cfg.Provider, o.cfg.WorkDir, promptText)

	var created []string
	fail := func(err error) error {
		o.log.Error("terminal creation failed", "error", err)
		for _, tid := range created {
			o.client.ExitTerminal(ctx, tid)
		}
		return err
	}

	roles := config.Roles()
	first := o.cfg.Agents[roles[0]]
	term, err := o.client.CreateSession(ctx, first.Profile, first.Provider)
	if err != nil {
		return fail(err)
	}
	st.SessionName = term.SessionName
	st.Terminals[roles[0]] = state.TerminalBinding{ID: term.ID, Provider: first.Provider}
	created = append(created, term.ID)
	o.renameTerminal(ctx, term.ID, roles[0])

	for _, role := range roles[1:] {
		a := o.cfg.Agents[role]
		term, err := o.client.CreateTerminal(ctx, st.SessionName, a.Profile, a.Provider)
		if err != nil {
			return fail(err)
		}
		st.Terminals[role] = state.TerminalBinding{ID: term.ID, Provider: a.Provider}
		created = append(created, term.ID)
		o.renameTerminal(ctx, term.ID, role)
	}

	st.CurrentPhase = rolePhase[o.cfg.StartAgent]

	// Phases skipped by the start agent get placeholder upstream output.
	switch o.cfg.StartAgent {
	case config.RoleProgrammer, config.RolePeerProgrammer, config.RoleTester:
		st.Outputs.Analyst = upstreamPlaceholder
	}
	if o.cfg.StartAgent == config.RolePeerProgrammer || o.cfg.StartAgent == config.RoleTester {
		st.Outputs.Programmer = upstreamPlaceholder
	}
	if o.cfg.StartAgent == config.RolePeerAnalyst {
		st.Outputs.Analyst = upstreamPlaceholder
	}
	if o.cfg.StartAgent == config.RolePeerAnalyst || o.cfg.StartAgent == config.RolePeerProgrammer {
		o.startAtPeer = true
	}

	o.st = st
	if err := o.store.Save(st); err != nil {
		return err
	}
	o.log.Info("initialized new run", "state_file", o.store.Path())
	o.logTerminals()
	return nil
}

// resumeRun loads the saved state and verifies every terminal still
// answers before continuing.
func (o *Orchestrator) resumeRun(ctx context.Context, promptText string) error {
	st, err := o.store.Load()
	if err != nil {
		if errors.Is(err, errors.ErrStateNotFound) {
			return errors.NewConfigError(
				fmt.Sprintf("resume requested but no state file found: %s", o.store.Path()), nil)
		}
		return err
	}
	st.Prompt = promptText
	o.st = st

	for _, role := range config.Roles() {
		b := st.Terminals[role]
		if b.ID == "" {
			return errors.NewConfigError(
				fmt.Sprintf("cannot resume: missing terminal ID for %q in state file %s", role, o.store.Path()), nil)
		}
		if _, err := o.client.Status(ctx, b.ID); err != nil {
			return errors.NewTerminalError("verify resume terminal", b.ID,
				fmt.Errorf("role %s unreachable from %s: %w", role, o.cfg.API, err))
		}
		if cur := o.cfg.Agents[role].Provider; b.Provider != "" && b.Provider != cur {
			o.log.Warn("provider mismatch on resume",
				"role", role, "state_provider", b.Provider, "config_provider", cur)
		}
	}

	o.log.Info("resuming from state file",
		"state_file", o.store.Path(), "round", st.CurrentRound, "phase", st.CurrentPhase)
	o.logTerminals()
	return nil
}

// renameTerminal labels a terminal after its role, best effort. The slash
// command is fire-and-forget; we only wait briefly for the terminal to
// settle so the next prompt does not race it.
func (o *Orchestrator) renameTerminal(ctx context.Context, terminalID, role string) {
	if err := o.client.SendInput(ctx, terminalID, fmt.Sprintf("/rename %s-%s", role, terminalID)); err != nil {
		o.log.Warn("terminal rename failed", "role", role, "error", err)
		return
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := o.client.Status(ctx, terminalID)
		if err == nil && status.Settled() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
	o.log.Warn("terminal rename did not settle", "role", role)
}

func (o *Orchestrator) logTerminals() {
	o.log.Info("session", "session_name", o.st.SessionName)
	for _, role := range config.Roles() {
		b := o.st.Terminals[role]
		o.log.Info("terminal", "role", role, "id", b.ID, "provider", b.Provider)
	}
}

func (o *Orchestrator) terminalID(role string) string {
	return o.st.Terminals[role].ID
}

// Run executes rounds until the scenario passes, the round budget is
// exhausted, or an unrecoverable error occurs. The returned status is
// PASS or FAIL; err is non-nil only for abnormal termination.
func (o *Orchestrator) Run(ctx context.Context) (state.FinalStatus, error) {
	for o.st.CurrentRound <= o.cfg.Limits.MaxRounds {
		rnd := o.st.CurrentRound
		fmt.Fprintln(o.out)
		o.log.Info("round start", "round", rnd)

		if o.st.CurrentPhase == state.PhaseAnalyst {
			if err := o.analystPhase(ctx, rnd); err != nil {
				return "", err
			}
		}

		if o.st.CurrentPhase == state.PhaseProgrammer {
			if strings.TrimSpace(o.st.Outputs.Analyst) == "" {
				o.log.Warn("missing analyst output while resuming programmer phase, falling back to analyst phase",
					"round", rnd)
				o.st.CurrentPhase = state.PhaseAnalyst
				if err := o.store.Save(o.st); err != nil {
					return "", err
				}
				continue
			}
			if err := o.programmerPhase(ctx, rnd); err != nil {
				return "", err
			}
		}

		if o.st.CurrentPhase == state.PhaseTester {
			if strings.TrimSpace(o.st.Outputs.Programmer) == "" {
				o.log.Warn("missing programmer output while resuming tester phase, falling back to programmer phase",
					"round", rnd)
				o.st.CurrentPhase = state.PhaseProgrammer
				if err := o.store.Save(o.st); err != nil {
					return "", err
				}
				continue
			}
			passed, err := o.testerPhase(ctx, rnd)
			if err != nil {
				return "", err
			}
			if passed {
				return state.StatusPass, nil
			}
		}
	}

	o.st.CurrentPhase = state.PhaseDone
	o.st.FinalStatus = state.StatusFail
	if err := o.store.Save(o.st); err != nil {
		return "", err
	}
	o.log.Info("round budget exhausted without pass", "max_rounds", o.cfg.Limits.MaxRounds)
	return state.StatusFail, nil
}

// analystPhase runs the analyst under peer review until approval or cycle
// exhaustion, then advances to the programmer phase. Exhaustion proceeds
// anyway, relaying the last review downstream.
func (o *Orchestrator) analystPhase(ctx context.Context, rnd int) error {
	log := o.log.WithRound(rnd)

	if strings.TrimSpace(o.st.AnalystFeedback) == "" {
		o.st.AnalystFeedback = state.NoFeedback
	}
	if !o.startAtPeer {
		o.st.Outputs.Analyst = ""
	}
	o.st.Outputs.AnalystReview = ""
	if err := o.store.Save(o.st); err != nil {
		return err
	}

	approved := false
	for cycle := 1; cycle <= o.cfg.Limits.MaxReviewCycles; cycle++ {
		if o.startAtPeer {
			log.Info("skipping analyst dispatch, using placeholder", "start_agent", o.cfg.StartAgent)
			o.startAtPeer = false
		} else {
			log.Info("analyst: exploring and updating artifacts", "cycle", cycle)
			msg := o.builder.Analyst(o.terminalID(config.RoleAnalyst), rnd, cycle,
				o.st.Feedback, o.st.ProgrammerRetryContext, o.st.AnalystFeedback)
			out, err := o.waiter.SendAndWait(ctx, o.terminalID(config.RoleAnalyst), handoff.RoleAnalyst, msg)
			if err != nil {
				return err
			}
			o.st.Outputs.Analyst = out
			if err := o.store.Save(o.st); err != nil {
				return err
			}
		}

		log.Info("peer analyst: reviewing analyst output", "cycle", cycle)
		reviewMsg := o.builder.AnalystReview(o.terminalID(config.RolePeerAnalyst), o.st.Outputs.Analyst)
		out, err := o.waiter.SendAndWait(ctx, o.terminalID(config.RolePeerAnalyst), handoff.RoleAnalystReview, reviewMsg)
		if err != nil {
			return err
		}
		o.st.Outputs.AnalystReview = out
		if err := o.store.Save(o.st); err != nil {
			return err
		}

		if o.gate.Approved(out, cycle, review.RoleAnalyst) {
			log.Info("peer analyst: approved", "cycle", cycle)
			approved = true
			o.st.AnalystFeedback = state.NoFeedback
			if err := o.store.Save(o.st); err != nil {
				return err
			}
			break
		}
		if review.ApprovedMarker(out) {
			log.Info("peer analyst: approval ignored by strict gate, cycle or evidence not sufficient", "cycle", cycle)
		}
		log.Info("peer analyst: revise", "cycle", cycle)
		o.st.AnalystFeedback = o.condenser.ReviewNotes(out)
		if err := o.store.Save(o.st); err != nil {
			return err
		}
	}

	if !approved {
		log.Info("analyst gate: review cycles exhausted, proceeding without approval")
		o.st.Feedback = "Peer analyst did not approve after MAX_REVIEW_CYCLES. Latest review:\n" +
			o.condenser.ReviewNotes(o.st.Outputs.AnalystReview)
		if err := o.store.Save(o.st); err != nil {
			return err
		}
	}

	o.st.CurrentPhase = state.PhaseProgrammer
	if strings.TrimSpace(o.st.ProgrammerFeedback) == "" {
		o.st.ProgrammerFeedback = state.NoFeedback
	}
	return o.store.Save(o.st)
}

// programmerPhase mirrors the analyst phase for the implementation step.
func (o *Orchestrator) programmerPhase(ctx context.Context, rnd int) error {
	log := o.log.WithRound(rnd)

	if strings.TrimSpace(o.st.ProgrammerFeedback) == "" {
		o.st.ProgrammerFeedback = state.NoFeedback
	}
	if !o.startAtPeer {
		o.st.Outputs.Programmer = ""
	}
	o.st.Outputs.ProgrammerReview = ""
	if err := o.store.Save(o.st); err != nil {
		return err
	}

	approved := false
	for cycle := 1; cycle <= o.cfg.Limits.MaxReviewCycles; cycle++ {
		if o.startAtPeer {
			log.Info("skipping programmer dispatch, using placeholder", "start_agent", o.cfg.StartAgent)
			o.startAtPeer = false
		} else {
			log.Info("programmer: applying artifacts and implementing", "cycle", cycle)
			msg := o.builder.Programmer(o.terminalID(config.RoleProgrammer), cycle,
				o.st.Outputs.Analyst, o.st.ProgrammerFeedback)
			out, err := o.waiter.SendAndWait(ctx, o.terminalID(config.RoleProgrammer), handoff.RoleProgrammer, msg)
			if err != nil {
				return err
			}
			o.st.Outputs.Programmer = out
			if err := o.store.Save(o.st); err != nil {
				return err
			}
		}

		log.Info("peer programmer: reviewing implementation", "cycle", cycle)
		reviewMsg := o.builder.ProgrammerReview(o.terminalID(config.RolePeerProgrammer), o.st.Outputs.Programmer)
		out, err := o.waiter.SendAndWait(ctx, o.terminalID(config.RolePeerProgrammer), handoff.RoleProgrammerReview, reviewMsg)
		if err != nil {
			return err
		}
		o.st.Outputs.ProgrammerReview = out
		if err := o.store.Save(o.st); err != nil {
			return err
		}

		if o.gate.Approved(out, cycle, review.RoleProgrammer) {
			log.Info("peer programmer: approved", "cycle", cycle)
			approved = true
			o.st.ProgrammerFeedback = state.NoFeedback
			if err := o.store.Save(o.st); err != nil {
				return err
			}
			break
		}
		if review.ApprovedMarker(out) {
			log.Info("peer programmer: approval ignored by strict gate, cycle or evidence not sufficient", "cycle", cycle)
		}
		log.Info("peer programmer: revise", "cycle", cycle)
		o.st.ProgrammerFeedback = o.condenser.ReviewNotes(out)
		if err := o.store.Save(o.st); err != nil {
			return err
		}
	}

	if !approved {
		log.Info("programmer gate: review cycles exhausted, proceeding without approval")
		o.st.Feedback = "Peer programmer did not approve after MAX_REVIEW_CYCLES. Latest review:\n" +
			o.condenser.ReviewNotes(o.st.Outputs.ProgrammerReview)
		if err := o.store.Save(o.st); err != nil {
			return err
		}
	}

	o.st.CurrentPhase = state.PhaseTester
	return o.store.Save(o.st)
}

// testerPhase runs the scenario test once. A pass finishes the run; a
// fail arms the next round with condensed evidence and retry context.
func (o *Orchestrator) testerPhase(ctx context.Context, rnd int) (bool, error) {
	log := o.log.WithRound(rnd)

	log.Info("tester: running scenario test")
	msg := o.builder.Tester(o.st.Outputs.Programmer)
	out, err := o.waiter.SendAndWait(ctx, o.terminalID(config.RoleTester), handoff.RoleTester, msg)
	if err != nil {
		return false, err
	}
	o.st.Outputs.Tester = out
	if err := o.store.Save(o.st); err != nil {
		return false, err
	}
	fmt.Fprintln(o.out, out)

	if review.TestPassed(out) {
		o.st.CurrentPhase = state.PhaseDone
		o.st.FinalStatus = state.StatusPass
		if err := o.store.Save(o.st); err != nil {
			return false, err
		}
		fmt.Fprintln(o.out)
		o.log.Info("final: pass")
		return true, nil
	}

	o.st.Feedback = o.condenser.TestEvidence(out)
	o.st.ProgrammerRetryContext = o.condenser.ProgrammerForTester(o.st.Outputs.Programmer)
	log.Info("tester: fail, retrying with feedback")

	o.st.CurrentRound++
	o.st.CurrentPhase = state.PhaseAnalyst
	o.st.AnalystFeedback = state.NoFeedback
	o.st.ProgrammerFeedback = state.NoFeedback
	o.st.Outputs.Clear()
	return false, o.store.Save(o.st)
}

// Cleanup persists the state (unless the caller already did) and, when
// configured, shuts the agent terminals down. Safe on a partially
// initialized orchestrator.
func (o *Orchestrator) Cleanup(save bool) {
	if save && o.st != nil {
		if err := o.store.Save(o.st); err != nil {
			o.log.Warn("state save during cleanup failed", "error", err)
		}
	}
	if !o.cfg.CleanupOnExit || o.st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, role := range config.Roles() {
		if b := o.st.Terminals[role]; b.ID != "" {
			o.client.ExitTerminal(ctx, b.ID)
		}
	}
}
