package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// gitClone shallow-clones repo at ref into dest. If ref is not a branch
// name (e.g. a tag or commit SHA) the shallow clone-by-branch fails and
// we fall back to a full clone plus checkout.
func gitClone(ctx context.Context, repo, ref, dest string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--branch", ref, "--single-branch", repo, dest)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	cmd2 := exec.CommandContext(ctx, "git", "clone", "--no-checkout", repo, dest)
	cmd2.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if _, err2 := cmd2.CombinedOutput(); err2 != nil {
		return fmt.Errorf("git clone failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	cmd3 := exec.CommandContext(ctx, "git", "-C", dest, "checkout", ref)
	if out3, err3 := cmd3.CombinedOutput(); err3 != nil {
		return fmt.Errorf("git checkout %s failed: %s: %w", ref, strings.TrimSpace(string(out3)), err3)
	}

	return nil
}
