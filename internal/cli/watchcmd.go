package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"runbook/internal/logx"
	"runbook/internal/runner"
	"runbook/internal/watch"
)

func (a *app) newWatchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <task>",
		Short: "Re-run a task when its sources change",
		Long: `Watch runs the task, then watches the directories spanned by its
sources and re-runs it after each change burst. The task must declare
sources. Interrupt to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, workDir, err := a.loadManifest()
			if err != nil {
				return err
			}
			targets, err := resolveTargets(m, args)
			if err != nil {
				return err
			}
			task := m.Tasks[targets[0]]
			if len(task.Sources) == 0 {
				return invalidf("task %q declares no sources to watch", task.Name)
			}

			w, err := watch.New(workDir, task.Sources, debounce, logx.WithComponent("watch"))
			if err != nil {
				return err
			}

			log := logx.WithComponent("watch")
			return w.Run(cmd.Context(), func(ctx context.Context) error {
				// A fresh runner per iteration: fingerprint memos must not
				// outlive the sources they were computed from.
				r, err := a.newRunner(m, workDir, runner.Options{
					Jobs:   a.jobs,
					Force:  a.force,
					DryRun: a.dryRun,
					Mode:   "watch",
				})
				if err != nil {
					return err
				}
				report, err := r.Run(ctx, targets)
				if err != nil {
					return err
				}
				if report.Failed() {
					return reportOutcome(report)
				}
				log.Info().Str("task", task.Name).Msg("waiting for changes")
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a re-run")
	cmd.Flags().IntVarP(&a.jobs, "jobs", "j", 1, "run independent tasks with up to N workers")
	cmd.Flags().BoolVar(&a.force, "force", false, "ignore fingerprints and always execute")
	cmd.Flags().BoolVar(&a.dryRun, "dry-run", false, "print commands without executing")
	return cmd
}
