package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"arbiter/internal/compiler"
	"arbiter/internal/rules"
)

// RuleInfo is the metadata the rules command reports per rule.
type RuleInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Category  string   `json:"category,omitempty"`
	Priority  int      `json:"priority"`
	Phases    []string `json:"phases,omitempty"`
	Actions   []string `json:"actions,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// NewRulesCommand creates the rules command.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules <manifest.cue>",
		Short: "List the rules a manifest compiles to",
		Long: `Compile a CUE rule manifest and print the resulting catalog:
rule ids, priorities, and the phases and actions each rule applies to.

Rules are listed in execution order (descending priority, ties broken by
manifest order).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(rootOpts, args[0], cmd)
		},
	}
}

func runRules(opts *RootOptions, manifestPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	defs, err := compiler.LoadFile(manifestPath)
	if err != nil {
		_ = formatter.Error("E_MANIFEST", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to compile manifest", err)
	}

	ordered := orderedByPriority(defs)

	if formatter.Format == "json" {
		infos := make([]RuleInfo, len(ordered))
		for i, d := range ordered {
			infos[i] = ruleInfo(d)
		}
		return formatter.Success(infos)
	}

	for _, d := range ordered {
		info := ruleInfo(d)
		fmt.Fprintf(formatter.Writer, "%-20s priority=%-4d phases=%v actions=%v  %s\n",
			info.ID, info.Priority, info.Phases, info.Actions, info.Name)
	}
	return nil
}

// orderedByPriority mirrors catalog ordering: descending priority, ties by
// manifest order.
func orderedByPriority(defs []*rules.Definition) []*rules.Definition {
	ordered := make([]*rules.Definition, len(defs))
	copy(ordered, defs)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Priority > ordered[j-1].Priority; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return ordered
}

func ruleInfo(d *rules.Definition) RuleInfo {
	info := RuleInfo{
		ID:        d.ID,
		Name:      d.Name,
		Category:  d.Category,
		Priority:  d.Priority,
		DependsOn: d.DependsOn,
	}
	for _, p := range d.Phases {
		info.Phases = append(info.Phases, string(p))
	}
	for _, a := range d.Actions {
		info.Actions = append(info.Actions, string(a))
	}
	return info
}
