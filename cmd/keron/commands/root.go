// Package commands implements the keron CLI surface: a thin cobra shim
// over the core pipeline function apply(source, flags) = C1 -> C2 -> C3
// -> C4 -> C5 -> (if --execute) C6. It carries no planning logic of its
// own.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, version, commit string) int {
	exitCode := 0
	root := newRootCommand(version, commit, &exitCode)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return exitCode
}

func newRootCommand(version, commit string, exitCode *int) *cobra.Command {
	root := &cobra.Command{
		Use:     "keron",
		Short:   "keron applies declarative dotfile manifests",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
	}

	root.AddCommand(newApplyCommand(exitCode))
	return root
}
