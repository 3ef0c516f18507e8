package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quintetdev/quintet/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), ".tmp", "loop-state.json"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	st := NewRunState("http://localhost:9889", "codex", "/work/project", "do the thing")
	st.CurrentRound = 3
	st.CurrentPhase = PhaseTester
	st.SessionName = "sess-7"
	st.Terminals["analyst"] = TerminalBinding{ID: "t-1", Provider: "codex"}
	st.Terminals["tester"] = TerminalBinding{ID: "t-5", Provider: "claude_code"}
	st.AnalystFeedback = "tighten the risks section"
	st.ProgrammerRetryContext = "Files changed:\n- a.go"
	st.Outputs.Programmer = "implemented everything"

	if err := store.Save(st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.CurrentRound != 3 || got.CurrentPhase != PhaseTester {
		t.Errorf("round/phase = %d/%q", got.CurrentRound, got.CurrentPhase)
	}
	if got.Terminals["tester"] != (TerminalBinding{ID: "t-5", Provider: "claude_code"}) {
		t.Errorf("tester binding = %+v", got.Terminals["tester"])
	}
	if got.AnalystFeedback != "tighten the risks section" {
		t.Errorf("analyst feedback = %q", got.AnalystFeedback)
	}
	if got.Outputs.Programmer != "implemented everything" {
		t.Errorf("programmer output = %q", got.Outputs.Programmer)
	}
	if got.UpdatedAt == "" || got.Version != 1 {
		t.Errorf("stamps: version=%d updated_at=%q", got.Version, got.UpdatedAt)
	}
}

func TestSaveUsesExactJSONKeys(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(NewRunState("api", "codex", "/w", "p")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"version", "updated_at", "api", "provider", "wd", "prompt",
		"current_round", "current_phase", "final_status", "session_name",
		"terminals", "feedback", "analyst_feedback", "programmer_feedback",
		"programmer_context_for_retry", "outputs",
	} {
		if _, ok := m[key]; !ok {
			t.Errorf("state file missing key %q", key)
		}
	}
	out, ok := m["outputs"].(map[string]any)
	if !ok {
		t.Fatalf("outputs = %T", m["outputs"])
	}
	for _, key := range []string{"analyst", "analyst_review", "programmer", "programmer_review", "tester"} {
		if _, ok := out[key]; !ok {
			t.Errorf("outputs missing key %q", key)
		}
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("state file should end with a newline")
	}
}

func TestLoadMissingFile(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load()
	if !errors.Is(err, errors.ErrStateNotFound) {
		t.Fatalf("error = %v, want ErrStateNotFound", err)
	}
}

func TestLoadLegacyStringTerminals(t *testing.T) {
	store := newTestStore(t)
	legacy := `{
		"provider": "q_cli",
		"session_name": "old-sess",
		"current_round": "2",
		"current_phase": "programmer",
		"terminals": {
			"analyst": "t-a",
			"programmer": {"id": "t-p", "provider": "codex"},
			"tester": ""
		}
	}`
	os.MkdirAll(filepath.Dir(store.Path()), 0o755)
	if err := os.WriteFile(store.Path(), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Bare string IDs inherit the state-level provider.
	if st.Terminals["analyst"] != (TerminalBinding{ID: "t-a", Provider: "q_cli"}) {
		t.Errorf("analyst binding = %+v", st.Terminals["analyst"])
	}
	if st.Terminals["programmer"] != (TerminalBinding{ID: "t-p", Provider: "codex"}) {
		t.Errorf("programmer binding = %+v", st.Terminals["programmer"])
	}
	if st.Terminals["tester"] != (TerminalBinding{}) {
		t.Errorf("tester binding = %+v", st.Terminals["tester"])
	}
	if st.CurrentRound != 2 {
		t.Errorf("round = %d, want 2 (coerced from string)", st.CurrentRound)
	}
	if st.CurrentPhase != PhaseProgrammer {
		t.Errorf("phase = %q", st.CurrentPhase)
	}
}

func TestLoadDefensiveDefaults(t *testing.T) {
	store := newTestStore(t)
	os.MkdirAll(filepath.Dir(store.Path()), 0o755)
	if err := os.WriteFile(store.Path(), []byte(`{
		"current_round": "not a number",
		"current_phase": "daydreaming"
	}`), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.CurrentRound != 1 {
		t.Errorf("round = %d, want 1", st.CurrentRound)
	}
	if st.CurrentPhase != PhaseAnalyst {
		t.Errorf("phase = %q, want analyst", st.CurrentPhase)
	}
	if st.FinalStatus != StatusRunning {
		t.Errorf("final status = %q, want RUNNING", st.FinalStatus)
	}
	if st.Feedback != NoFeedback || st.AnalystFeedback != NoFeedback || st.ProgrammerFeedback != NoFeedback {
		t.Errorf("feedback defaults = %q %q %q", st.Feedback, st.AnalystFeedback, st.ProgrammerFeedback)
	}
}

func TestLoadPreservesExplicitFeedback(t *testing.T) {
	store := newTestStore(t)
	os.MkdirAll(filepath.Dir(store.Path()), 0o755)
	if err := os.WriteFile(store.Path(), []byte(`{"analyst_feedback": "fix risks"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if st.AnalystFeedback != "fix risks" {
		t.Errorf("analyst feedback = %q", st.AnalystFeedback)
	}
}

func TestLoadCorruptJSON(t *testing.T) {
	store := newTestStore(t)
	os.MkdirAll(filepath.Dir(store.Path()), 0o755)
	if err := os.WriteFile(store.Path(), []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := store.Load()
	var stErr *errors.StateError
	if !errors.As(err, &stErr) {
		t.Fatalf("error = %v, want StateError", err)
	}
}

func TestShouldAutoResume(t *testing.T) {
	store := newTestStore(t)

	if store.ShouldAutoResume() {
		t.Error("missing file must not auto-resume")
	}

	st := NewRunState("api", "codex", "/w", "p")
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}
	if !store.ShouldAutoResume() {
		t.Error("RUNNING state must auto-resume")
	}

	st.FinalStatus = StatusPass
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}
	if store.ShouldAutoResume() {
		t.Error("completed state must not auto-resume")
	}

	if err := os.WriteFile(store.Path(), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if store.ShouldAutoResume() {
		t.Error("corrupt state must not auto-resume")
	}
}

func TestSaveAtomicOverwrite(t *testing.T) {
	store := newTestStore(t)
	st := NewRunState("api", "codex", "/w", "p")
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}
	st.CurrentRound = 5
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentRound != 5 {
		t.Errorf("round = %d, want 5", got.CurrentRound)
	}
	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("state dir holds %d entries, want 1", len(entries))
	}
}
