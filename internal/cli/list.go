package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"runbook/internal/runner"
)

var (
	listHeaderStyle = lipgloss.NewStyle().Bold(true)
	listNameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	listAliasStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	listFreshStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	listDescStyle   = lipgloss.NewStyle()
)

func (a *app) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the manifest's tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, workDir, err := a.loadManifest()
			if err != nil {
				return err
			}
			r, err := a.newRunner(m, workDir, runner.Options{})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTaskList(m.Names(), func(name string) (aliases []string, desc string, fresh bool) {
				t := m.Tasks[name]
				return t.Aliases, t.Desc, r.UpToDate(t)
			}))
			return nil
		},
	}
}

// renderTaskList renders the task table. The accessor indirection keeps the
// rendering testable without a manifest.
func renderTaskList(names []string, info func(name string) (aliases []string, desc string, fresh bool)) string {
	const freshMark = "up to date"

	nameWidth := lipgloss.Width("TASK")
	aliasWidth := lipgloss.Width("ALIASES")
	freshWidth := lipgloss.Width(freshMark)
	rows := make([][4]string, 0, len(names))
	for _, name := range names {
		aliases, desc, fresh := info(name)
		aliasCol := strings.Join(aliases, ", ")
		freshCol := ""
		if fresh {
			freshCol = freshMark
		}
		if w := lipgloss.Width(name); w > nameWidth {
			nameWidth = w
		}
		if w := lipgloss.Width(aliasCol); w > aliasWidth {
			aliasWidth = w
		}
		rows = append(rows, [4]string{name, aliasCol, freshCol, desc})
	}

	var b strings.Builder
	b.WriteString(listHeaderStyle.Render(pad("TASK", nameWidth)+"  "+pad("ALIASES", aliasWidth)+"  "+pad("STATUS", freshWidth)+"  DESCRIPTION") + "\n")
	for _, row := range rows {
		b.WriteString(listNameStyle.Render(pad(row[0], nameWidth)))
		b.WriteString("  ")
		b.WriteString(listAliasStyle.Render(pad(row[1], aliasWidth)))
		b.WriteString("  ")
		b.WriteString(listFreshStyle.Render(pad(row[2], freshWidth)))
		b.WriteString("  ")
		b.WriteString(listDescStyle.Render(row[3]))
		b.WriteString("\n")
	}
	return b.String()
}

// pad fills to a display width, not a byte count: task names and aliases may
// contain multi-byte or double-width runes.
func pad(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}
