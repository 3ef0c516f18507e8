package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/quintetdev/quintet/internal/config"
	"github.com/quintetdev/quintet/internal/state"
	"github.com/quintetdev/quintet/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved run state",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Faint(true).Width(14)
	passStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	runStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

func statusStyle(s state.FinalStatus) lipgloss.Style {
	switch s {
	case state.StatusPass:
		return passStyle
	case state.StatusFail:
		return failStyle
	default:
		return runStyle
	}
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	st, err := state.NewStore(cfg.StateFile).Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	row := func(label, value string) {
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render(label), value)
	}

	fmt.Fprintln(out, titleStyle.Render("quintet run state"))
	row("state file", cfg.StateFile)
	row("updated", st.UpdatedAt)
	row("session", st.SessionName)
	row("status", statusStyle(st.FinalStatus).Render(string(st.FinalStatus)))
	row("round", fmt.Sprintf("%d", st.CurrentRound))
	row("phase", string(st.CurrentPhase))

	fmt.Fprintln(out)
	fmt.Fprintln(out, titleStyle.Render("terminals"))
	for _, role := range config.Roles() {
		b := st.Terminals[role]
		if b.ID == "" {
			row(role, "(unbound)")
			continue
		}
		row(role, fmt.Sprintf("%s (%s)", b.ID, b.Provider))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, titleStyle.Render("outputs"))
	row("analyst", outputSummary(st.Outputs.Analyst))
	row("analyst rev", outputSummary(st.Outputs.AnalystReview))
	row("programmer", outputSummary(st.Outputs.Programmer))
	row("program. rev", outputSummary(st.Outputs.ProgrammerReview))
	row("tester", outputSummary(st.Outputs.Tester))
	return nil
}

// outputSummary renders a stored output as "<n> lines: <first line>".
func outputSummary(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "(empty)"
	}
	lines := strings.Split(trimmed, "\n")
	first := util.TruncateString(util.FirstLine(trimmed), 60)
	return fmt.Sprintf("%d lines: %s", len(lines), first)
}
