package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"arbiter/internal/harness"
	"arbiter/internal/ir"
	"arbiter/internal/journal"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario against the engine",
		Long: `Run a YAML scenario: compile its rule manifests, build the world,
execute each step, and check expectations and final-state assertions.

Example:
  arbiter run ./scenarios/dice-allows-move.yaml
  arbiter run --journal ./arbiter.db ./scenarios/auction.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (optional)")

	return cmd
}

func runScenario(opts *RunOptions, scenarioPath string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := harness.LoadScenario(scenarioPath)
	if err != nil {
		_ = formatter.Error("E_SCENARIO", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	formatter.VerboseLog("loaded scenario %q: %d step(s), %d assertion(s)",
		s.Name, len(s.Steps), len(s.Assertions))

	res, runErr := harness.Run(s)

	// Journal whatever executed, even when the run failed partway: the
	// journal is the audit trail, not a success log.
	if opts.Journal != "" && res != nil {
		if err := journalSteps(cmd.Context(), opts.Journal, s, res); err != nil {
			_ = formatter.Error("E_JOURNAL", err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to journal results", err)
		}
		formatter.VerboseLog("journaled %d execution(s) to %s", len(res.Steps), opts.Journal)
	}

	if runErr != nil {
		_ = formatter.Error("E_RUN", runErr.Error(), nil)
		return NewExitError(ExitFailure, runErr.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(harness.Snapshot(res))
	}

	fmt.Fprintf(formatter.Writer, "✓ scenario %q passed\n", s.Name)
	for i, step := range res.Steps {
		mark := "✓"
		if !step.Success {
			mark = "✗"
		}
		fmt.Fprintf(formatter.Writer, "  %s step %d: %s\n", mark, i+1, step.Message)
	}
	return nil
}

// journalSteps records executed steps, replaying the phase transitions the
// harness applied so each entry carries the phase it actually ran in.
func journalSteps(ctx context.Context, path string, s *harness.Scenario, res *harness.Result) error {
	if ctx == nil {
		ctx = context.Background()
	}

	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	phase := ir.Phase(s.World.Phase)
	for i, stepRes := range res.Steps {
		step := s.Steps[i]
		action := ir.Action{
			Type:     ir.ActionType(step.Action),
			ActorID:  step.Actor,
			Priority: step.Priority,
			Payload:  step.Payload,
		}
		if err := j.Record(ctx, action, phase, s.World.Turn, stepRes); err != nil {
			return err
		}
		if stepRes.NextPhase != "" {
			phase = stepRes.NextPhase
		}
	}
	return nil
}
