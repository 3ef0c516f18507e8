// Package config loads orchestrator configuration from an optional JSON
// file, environment variables and built-in defaults.
//
// Precedence is env > file > defaults. Empty environment variables count
// as unset. The agents section is file-only; everything else also has an
// environment name, kept stable so existing automation keeps working.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/quintetdev/quintet/internal/errors"
)

// Agent roles, in dispatch order.
const (
	RoleAnalyst        = "analyst"
	RolePeerAnalyst    = "peer_analyst"
	RoleProgrammer     = "programmer"
	RolePeerProgrammer = "peer_programmer"
	RoleTester         = "tester"
)

// Roles lists every agent role in dispatch order.
func Roles() []string {
	return []string{RoleAnalyst, RolePeerAnalyst, RoleProgrammer, RolePeerProgrammer, RoleTester}
}

// DefaultProfiles maps each role to its default agent profile name.
var DefaultProfiles = map[string]string{
	RoleAnalyst:        "system_analyst",
	RolePeerAnalyst:    "peer_system_analyst",
	RoleProgrammer:     "programmer",
	RolePeerProgrammer: "peer_programmer",
	RoleTester:         "tester",
}

var validProviders = map[string]bool{
	"codex":       true,
	"claude_code": true,
	"q_cli":       true,
	"kiro_cli":    true,
}

var validRoles = map[string]bool{
	RoleAnalyst:        true,
	RolePeerAnalyst:    true,
	RoleProgrammer:     true,
	RolePeerProgrammer: true,
	RoleTester:         true,
}

var validTopLevelKeys = map[string]bool{
	"api": true, "provider": true, "wd": true, "prompt": true,
	"prompt_file": true, "project_test_cmd": true, "agents": true,
	"limits": true, "condensation": true, "handoff": true,
	"cleanup_on_exit": true, "resume": true, "state_file": true,
	"start_agent": true,
}

// Limits bounds the retry structure of a run.
type Limits struct {
	MaxRounds                     int  `mapstructure:"max_rounds"`
	MaxReviewCycles               int  `mapstructure:"max_review_cycles"`
	MinReviewCyclesBeforeApproval int  `mapstructure:"min_review_cycles_before_approval"`
	PollSeconds                   int  `mapstructure:"poll_seconds"`
	RequireReviewEvidence         bool `mapstructure:"require_review_evidence"`
	ReviewEvidenceMinMatch        int  `mapstructure:"review_evidence_min_match"`
}

// Condensation controls how much upstream text is carried between agents.
type Condensation struct {
	CondenseCrossPhase       bool `mapstructure:"condense_cross_phase"`
	MaxCrossPhaseLines       int  `mapstructure:"max_cross_phase_lines"`
	CondenseUpstreamOnRepeat bool `mapstructure:"condense_upstream_on_repeat"`
	CondenseExploreOnRepeat  bool `mapstructure:"condense_explore_on_repeat"`
	CondenseReviewFeedback   bool `mapstructure:"condense_review_feedback"`
	MaxFeedbackLines         int  `mapstructure:"max_feedback_lines"`
	MaxTestEvidenceLines     int  `mapstructure:"max_test_evidence_lines"`
}

// Handoff controls the response file wait loop.
type Handoff struct {
	StrictFileHandoff bool `mapstructure:"strict_file_handoff"`
	IdleGraceSeconds  int  `mapstructure:"idle_grace_seconds"`
	ResponseTimeout   int  `mapstructure:"response_timeout"`
}

// Agent is a per-role provider/profile override.
type Agent struct {
	Provider string `mapstructure:"provider"`
	Profile  string `mapstructure:"profile"`
}

// Config is the fully resolved orchestrator configuration.
type Config struct {
	API            string           `mapstructure:"api"`
	Provider       string           `mapstructure:"provider"`
	WorkDir        string           `mapstructure:"wd"`
	Prompt         string           `mapstructure:"prompt"`
	PromptFile     string           `mapstructure:"prompt_file"`
	ProjectTestCmd string           `mapstructure:"project_test_cmd"`
	CleanupOnExit  bool             `mapstructure:"cleanup_on_exit"`
	Resume         bool             `mapstructure:"resume"`
	StateFile      string           `mapstructure:"state_file"`
	StartAgent     string           `mapstructure:"start_agent"`
	Limits         Limits           `mapstructure:"limits"`
	Condensation   Condensation     `mapstructure:"condensation"`
	Handoff        Handoff          `mapstructure:"handoff"`
	Agents         map[string]Agent `mapstructure:"agents"`
}

// envKey ties a dotted config key to its environment variable.
type envKey struct {
	path string
	env  string
	kind string // "string", "int" or "bool"
}

var envKeys = []envKey{
	{"api", "API", "string"},
	{"provider", "PROVIDER", "string"},
	{"wd", "WD", "string"},
	{"prompt", "PROMPT", "string"},
	{"prompt_file", "PROMPT_FILE", "string"},
	{"project_test_cmd", "PROJECT_TEST_CMD", "string"},
	{"cleanup_on_exit", "CLEANUP_ON_EXIT", "bool"},
	{"resume", "RESUME", "bool"},
	{"state_file", "STATE_FILE", "string"},
	{"start_agent", "START_AGENT", "string"},
	{"limits.max_rounds", "MAX_ROUNDS", "int"},
	{"limits.max_review_cycles", "MAX_REVIEW_CYCLES", "int"},
	{"limits.min_review_cycles_before_approval", "MIN_REVIEW_CYCLES_BEFORE_APPROVAL", "int"},
	{"limits.poll_seconds", "POLL_SECONDS", "int"},
	{"limits.require_review_evidence", "REQUIRE_REVIEW_EVIDENCE", "bool"},
	{"limits.review_evidence_min_match", "REVIEW_EVIDENCE_MIN_MATCH", "int"},
	{"condensation.condense_cross_phase", "CONDENSE_CROSS_PHASE", "bool"},
	{"condensation.max_cross_phase_lines", "MAX_CROSS_PHASE_LINES", "int"},
	{"condensation.condense_upstream_on_repeat", "CONDENSE_UPSTREAM_ON_REPEAT", "bool"},
	{"condensation.condense_explore_on_repeat", "CONDENSE_EXPLORE_ON_REPEAT", "bool"},
	{"condensation.condense_review_feedback", "CONDENSE_REVIEW_FEEDBACK", "bool"},
	{"condensation.max_feedback_lines", "MAX_FEEDBACK_LINES", "int"},
	{"condensation.max_test_evidence_lines", "MAX_TEST_EVIDENCE_LINES", "int"},
	{"handoff.strict_file_handoff", "STRICT_FILE_HANDOFF", "bool"},
	{"handoff.idle_grace_seconds", "IDLE_GRACE_SECONDS", "int"},
	{"handoff.response_timeout", "RESPONSE_TIMEOUT", "int"},
}

// setDefaults seeds a viper instance with the built-in defaults.
func setDefaults(v *viper.Viper) {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	v.SetDefault("api", "http://localhost:9889")
	v.SetDefault("provider", "codex")
	v.SetDefault("wd", wd)
	v.SetDefault("prompt", "")
	v.SetDefault("prompt_file", "")
	v.SetDefault("project_test_cmd", "")
	v.SetDefault("cleanup_on_exit", false)
	v.SetDefault("resume", false)
	v.SetDefault("state_file", "")
	v.SetDefault("start_agent", RoleAnalyst)
	v.SetDefault("limits.max_rounds", 8)
	v.SetDefault("limits.max_review_cycles", 3)
	v.SetDefault("limits.min_review_cycles_before_approval", 2)
	v.SetDefault("limits.poll_seconds", 2)
	v.SetDefault("limits.require_review_evidence", true)
	v.SetDefault("limits.review_evidence_min_match", 3)
	v.SetDefault("condensation.condense_cross_phase", true)
	v.SetDefault("condensation.max_cross_phase_lines", 40)
	v.SetDefault("condensation.condense_upstream_on_repeat", true)
	v.SetDefault("condensation.condense_explore_on_repeat", true)
	v.SetDefault("condensation.condense_review_feedback", true)
	v.SetDefault("condensation.max_feedback_lines", 30)
	v.SetDefault("condensation.max_test_evidence_lines", 120)
	v.SetDefault("handoff.strict_file_handoff", true)
	v.SetDefault("handoff.idle_grace_seconds", 30)
	v.SetDefault("handoff.response_timeout", 1800)
}

// Load resolves the configuration. path may be empty, in which case only
// environment variables and defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		raw, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(raw); err != nil {
			return nil, errors.NewConfigError("merge config file", err)
		}
	}

	if err := applyEnvOverrides(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.ErrorUnused = false
	}); err != nil {
		return nil, errors.NewConfigError("decode config", err)
	}

	cfg.finalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readConfigFile parses the JSON config file and rejects unknown top-level
// keys and unknown agent roles before viper ever sees them.
func readConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("config file %s", path), err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("invalid JSON in config file %s", path), err)
	}

	var unknown []string
	for key := range raw {
		if !validTopLevelKeys[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errors.NewConfigError(
			fmt.Sprintf("unknown config keys: %s", strings.Join(unknown, ", ")), nil)
	}

	if agents, ok := raw["agents"].(map[string]any); ok {
		var badRoles []string
		for role := range agents {
			if !validRoles[role] {
				badRoles = append(badRoles, role)
			}
		}
		if len(badRoles) > 0 {
			sort.Strings(badRoles)
			return nil, errors.NewConfigError(
				fmt.Sprintf("unknown agent roles: %s", strings.Join(badRoles, ", ")), nil)
		}
	}
	return raw, nil
}

// applyEnvOverrides sets values from the environment on top of whatever
// the file provided. An empty variable counts as unset. Booleans are true
// only for the literal "1".
func applyEnvOverrides(v *viper.Viper) error {
	for _, k := range envKeys {
		raw, ok := os.LookupEnv(k.env)
		if !ok || raw == "" {
			continue
		}
		switch k.kind {
		case "bool":
			v.Set(k.path, raw == "1")
		case "int":
			n, err := strconv.Atoi(raw)
			if err != nil {
				return errors.NewConfigError(
					fmt.Sprintf("%s must be an integer, got %q", k.env, raw), nil)
			}
			v.Set(k.path, n)
		default:
			v.Set(k.path, raw)
		}
	}
	return nil
}

// finalize fills derived values: the state file default and the complete
// per-role agent table.
func (c *Config) finalize() {
	if c.StateFile == "" {
		c.StateFile = filepath.Join(c.WorkDir, ".tmp", "quintet-loop-state.json")
	}

	resolved := make(map[string]Agent, len(validRoles))
	for _, role := range Roles() {
		a := c.Agents[role]
		if a.Provider == "" {
			a.Provider = c.Provider
		}
		if a.Profile == "" {
			a.Profile = DefaultProfiles[role]
		}
		resolved[role] = a
	}
	c.Agents = resolved
}

// PollInterval returns the handoff poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Limits.PollSeconds) * time.Second
}

// IdleGrace returns the idle grace window as a duration.
func (c *Config) IdleGrace() time.Duration {
	return time.Duration(c.Handoff.IdleGraceSeconds) * time.Second
}

// ResponseTimeout returns the response wait bound as a duration.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.Handoff.ResponseTimeout) * time.Second
}
