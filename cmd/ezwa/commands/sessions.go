package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/zevanoo/baileys-ez/cmd/internal/app"
	"github.com/zevanoo/baileys-ez/orchestrator"
	"github.com/zevanoo/baileys-ez/session"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	validStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	invalidStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func sessionsCmd(cfg func() *app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and clean session directories",
	}
	cmd.AddCommand(sessionsListCmd(cfg), sessionsInfoCmd(cfg), sessionsCleanCmd(cfg), sessionsRmCmd(cfg))
	return cmd
}

func newOrchestrator(cfg *app.Config) *orchestrator.Orchestrator {
	orch, _ := app.NewOrchestrator(*cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat))
	return orch
}

func extraDirs(cfg *app.Config, flagDirs []string) []string {
	if len(flagDirs) > 0 {
		return flagDirs
	}
	return cfg.ExtraSessionDirs
}

func sessionsListCmd(cfg func() *app.Config) *cobra.Command {
	var (
		extra  []string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions under the base and extra directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cfg()
			infos := newOrchestrator(c).ListAllSessionsWithClients(cmd.Context(), extraDirs(c, extra)...)
			if asJSON {
				if infos == nil {
					infos = []session.Info{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			renderSessions(cmd.OutOrStdout(), infos)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&extra, "extra", nil, "extra session directory (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func sessionsInfoCmd(cfg func() *app.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show the status of one session under the base directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			orch := newOrchestrator(c)
			id := strings.TrimSpace(args[0])
			if !session.ValidID(id) {
				return fmt.Errorf("invalid session id %q", id)
			}
			st := orch.GetInfo(cmd.Context(), id)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render("id        "), id)
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render("path      "), orch.Path(id))
			fmt.Fprintf(out, "%s %t\n", headerStyle.Render("exists    "), st.Exists)
			fmt.Fprintf(out, "%s %t\n", headerStyle.Render("registered"), st.Registered)
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render("valid     "), validity(st.Valid, st.Reason))
			if len(st.Missing) > 0 {
				fmt.Fprintf(out, "%s %s\n", headerStyle.Render("missing   "), strings.Join(st.Missing, ", "))
			}
			return nil
		},
	}
}

func sessionsCleanCmd(cfg func() *app.Config) *cobra.Command {
	var extra []string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove invalid sessions under the base and extra directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cfg()
			n := newOrchestrator(c).CleanAllSessionsWithClients(cmd.Context(), extraDirs(c, extra)...)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d invalid session(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&extra, "extra", nil, "extra session directory (repeatable)")
	return cmd
}

func sessionsRmCmd(cfg func() *app.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete one session directory under the base directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if !session.ValidID(id) {
				return fmt.Errorf("invalid session id %q", id)
			}
			if !newOrchestrator(cfg()).Remove(cmd.Context(), id) {
				return fmt.Errorf("session %q not found", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			return nil
		},
	}
}

func validity(valid bool, reason string) string {
	if valid {
		return validStyle.Render("valid")
	}
	if reason == "" {
		reason = "invalid"
	}
	return invalidStyle.Render(reason)
}

// renderSessions prints an aligned table. Widths are measured on the plain
// text; lipgloss pads each styled cell to its column.
func renderSessions(w io.Writer, infos []session.Info) {
	if len(infos) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no sessions"))
		return
	}

	head := []string{"ID", "SOURCE", "STATUS", "PATH"}
	rows := make([][]string, 0, len(infos))
	for _, in := range infos {
		status := "valid"
		if !in.Valid {
			status = in.Reason
			if status == "" {
				status = "invalid"
			}
		}
		rows = append(rows, []string{in.ID, in.Source, status, in.Path})
	}

	widths := make([]int, len(head))
	for i, h := range head {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	cell := func(style lipgloss.Style, i int, s string) string {
		if i == len(widths)-1 {
			return style.Render(s)
		}
		return style.Width(widths[i] + 2).Render(s)
	}

	var b strings.Builder
	for i, h := range head {
		b.WriteString(cell(headerStyle, i, h))
	}
	fmt.Fprintln(w, b.String())

	for k, r := range rows {
		b.Reset()
		for i, s := range r {
			style := lipgloss.NewStyle()
			switch i {
			case 2:
				if infos[k].Valid {
					style = validStyle
				} else {
					style = invalidStyle
				}
			case 3:
				style = dimStyle
			}
			b.WriteString(cell(style, i, s))
		}
		fmt.Fprintln(w, b.String())
	}
}
