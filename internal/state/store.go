package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/quintetdev/quintet/internal/errors"
)

// Store reads and writes run state at a fixed path.
type Store struct {
	path string
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Save writes the state atomically: a temp file in the same directory is
// renamed over the target so a crash mid-write never corrupts an existing
// state file. The version and timestamp are stamped here.
func (s *Store) Save(st *RunState) error {
	st.Version = 1
	st.UpdatedAt = time.Now().UTC().Format("2006-01-02T15:04:05Z")

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewStateError("save", s.path, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.NewStateError("save", s.path, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return errors.NewStateError("save", s.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewStateError("save", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewStateError("save", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.NewStateError("save", s.path, err)
	}
	return nil
}

// rawState mirrors RunState with loosely typed fields wherever older state
// files used a different shape.
type rawState struct {
	API                    string                     `json:"api"`
	Provider               string                     `json:"provider"`
	WorkDir                string                     `json:"wd"`
	Prompt                 string                     `json:"prompt"`
	CurrentRound           json.RawMessage            `json:"current_round"`
	CurrentPhase           string                     `json:"current_phase"`
	FinalStatus            string                     `json:"final_status"`
	SessionName            string                     `json:"session_name"`
	Terminals              map[string]json.RawMessage `json:"terminals"`
	Feedback               *string                    `json:"feedback"`
	AnalystFeedback        *string                    `json:"analyst_feedback"`
	ProgrammerFeedback     *string                    `json:"programmer_feedback"`
	ProgrammerRetryContext string                     `json:"programmer_context_for_retry"`
	Outputs                Outputs                    `json:"outputs"`
}

// Load reads and normalizes the state file. Legacy files that stored
// terminals as bare ID strings are upgraded in memory, inheriting the
// state-level provider. Malformed rounds, unknown phases and missing
// status fields degrade to safe defaults instead of failing the load.
func (s *Store) Load() (*RunState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewStateError("load", s.path, errors.ErrStateNotFound)
		}
		return nil, errors.NewStateError("load", s.path, err)
	}

	var raw rawState
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewStateError("load", s.path, err)
	}

	st := &RunState{
		Version:                1,
		API:                    raw.API,
		Provider:               raw.Provider,
		WorkDir:                raw.WorkDir,
		Prompt:                 raw.Prompt,
		CurrentRound:           coerceRound(raw.CurrentRound),
		CurrentPhase:           Phase(raw.CurrentPhase),
		FinalStatus:            FinalStatus(raw.FinalStatus),
		SessionName:            raw.SessionName,
		Terminals:              make(map[string]TerminalBinding, len(raw.Terminals)),
		Feedback:               defaultFeedback(raw.Feedback),
		AnalystFeedback:        defaultFeedback(raw.AnalystFeedback),
		ProgrammerFeedback:     defaultFeedback(raw.ProgrammerFeedback),
		ProgrammerRetryContext: raw.ProgrammerRetryContext,
		Outputs:                raw.Outputs,
	}

	if !st.CurrentPhase.Valid() {
		st.CurrentPhase = PhaseAnalyst
	}
	if st.FinalStatus == "" {
		st.FinalStatus = StatusRunning
	}

	for role, v := range raw.Terminals {
		st.Terminals[role] = coerceBinding(v, raw.Provider)
	}
	return st, nil
}

// ShouldAutoResume reports whether the state file holds an in-progress
// run. Unreadable or malformed files simply mean no.
func (s *Store) ShouldAutoResume() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	var probe struct {
		FinalStatus string `json:"final_status"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return FinalStatus(probe.FinalStatus) == StatusRunning
}

func coerceRound(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 1
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(str)); err == nil {
			return n
		}
	}
	return 1
}

// coerceBinding accepts both the current object form and the legacy bare
// string form of a terminal entry.
func coerceBinding(raw json.RawMessage, stateProvider string) TerminalBinding {
	var b TerminalBinding
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil && id != "" {
		return TerminalBinding{ID: id, Provider: stateProvider}
	}
	return TerminalBinding{}
}

func defaultFeedback(p *string) string {
	if p == nil {
		return NoFeedback
	}
	return *p
}
