// Package applier implements C6: executing a Plan's ops in sequence
// under --execute. It is the only pipeline stage permitted to mutate
// the filesystem or host.
package applier

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/keronhq/keron/internal/manifest"
	"github.com/keronhq/keron/internal/planner/pkgmgr"
	"github.com/keronhq/keron/internal/render"
)

// Applier executes PlanOps, mutating the filesystem and host.
type Applier struct {
	pkgmgrs *pkgmgr.Registry
	logger  zerolog.Logger
}

// New returns an Applier dispatching package operations through registry
// that logs via logger.
func New(registry *pkgmgr.Registry, logger zerolog.Logger) *Applier {
	return &Applier{pkgmgrs: registry, logger: logger}
}

// Apply executes plan's ops strictly by Seq, stopping at the first
// Failed op. Already-performed ops are never rolled back.
func (a *Applier) Apply(ctx context.Context, plan *manifest.Plan) *manifest.ApplyResult {
	result := &manifest.ApplyResult{}

	for _, op := range plan.Ops {
		select {
		case <-ctx.Done():
			a.logger.Warn().Uint64("seq", op.Seq).Msg("apply cancelled before op")
			result.Halted = true
			return result
		default:
		}

		outcome := a.applyOp(ctx, op)
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Status == manifest.OutcomeFailed {
			a.logger.Error().Uint64("seq", op.Seq).Str("reason", outcome.Reason).Msg("op failed, halting")
			result.Halted = true
			return result
		}
	}
	return result
}

func (a *Applier) applyOp(ctx context.Context, op manifest.PlanOp) manifest.ApplyOutcome {
	switch op.Classification {
	case manifest.Unchanged:
		return manifest.ApplyOutcome{Seq: op.Seq, Status: manifest.OutcomeSkipped, Reason: "already in desired state"}
	case manifest.Conflict:
		return manifest.ApplyOutcome{Seq: op.Seq, Status: manifest.OutcomeSkipped, Reason: string(op.Reason)}
	case manifest.Error:
		return manifest.ApplyOutcome{Seq: op.Seq, Status: manifest.OutcomeFailed, Reason: op.Detail}
	}

	switch op.Kind {
	case manifest.OpKindLink:
		return a.applyLink(op)
	case manifest.OpKindTemplate:
		return a.applyTemplate(op)
	case manifest.OpKindPackage:
		return a.applyPackage(ctx, op)
	case manifest.OpKindCmd:
		return a.applyCmd(ctx, op)
	}
	return manifest.ApplyOutcome{Seq: op.Seq, Status: manifest.OutcomeFailed, Reason: "unknown op kind"}
}

func (a *Applier) applyLink(op manifest.PlanOp) manifest.ApplyOutcome {
	li := op.Link
	dir := filepath.Dir(string(op.Origin))
	src := li.Src
	if !filepath.IsAbs(src) {
		src = filepath.Join(dir, src)
	}

	if op.Reason == manifest.ReasonCreateDirsAndLink {
		if err := os.MkdirAll(filepath.Dir(li.Dest), 0o755); err != nil {
			return failed(op.Seq, fmt.Sprintf("creating parent directories: %v", err))
		}
	}

	if op.Reason == manifest.ReasonReplaceWithLink {
		if err := os.RemoveAll(li.Dest); err != nil {
			return failed(op.Seq, fmt.Sprintf("removing existing entry: %v", err))
		}
	}

	if err := os.Symlink(src, li.Dest); err != nil {
		return failed(op.Seq, fmt.Sprintf("creating symlink: %v", err))
	}
	return manifest.ApplyOutcome{Seq: op.Seq, Status: manifest.OutcomeOk}
}

func (a *Applier) applyTemplate(op manifest.PlanOp) manifest.ApplyOutcome {
	ti := op.Template
	dir := filepath.Dir(string(op.Origin))
	src := ti.Src
	if !filepath.IsAbs(src) {
		src = filepath.Join(dir, src)
	}

	srcText, err := os.ReadFile(src)
	if err != nil {
		return failed(op.Seq, fmt.Sprintf("reading template source: %v", err))
	}

	rendered, err := render.Render(string(op.Origin), string(srcText), ti.Vars)
	if err != nil {
		return failed(op.Seq, fmt.Sprintf("rendering template: %v", err))
	}

	destDir := filepath.Dir(ti.Dest)
	if op.Reason == manifest.ReasonCreateFile {
		if ti.MkDirs {
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return failed(op.Seq, fmt.Sprintf("creating parent directories: %v", err))
			}
		}
	}

	if err := writeAtomic(destDir, ti.Dest, rendered); err != nil {
		return failed(op.Seq, fmt.Sprintf("writing rendered file: %v", err))
	}
	return manifest.ApplyOutcome{Seq: op.Seq, Status: manifest.OutcomeOk}
}

// writeAtomic writes data to dest via a temp file in destDir followed by
// a rename, so a crash never leaves a partially-written dest behind.
func writeAtomic(destDir, dest string, data []byte) error {
	tmp, err := os.CreateTemp(destDir, ".keron-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}

func (a *Applier) applyPackage(ctx context.Context, op manifest.PlanOp) manifest.ApplyOutcome {
	adapter, ok := a.pkgmgrs.Get(op.Manager)
	if !ok {
		return failed(op.Seq, "no adapter registered for manager "+op.Manager)
	}

	var err error
	if op.Reason == manifest.ReasonInstallPackage {
		err = adapter.Install(ctx, op.PackageName)
	} else {
		err = adapter.Remove(ctx, op.PackageName)
	}
	if err != nil {
		return failed(op.Seq, err.Error())
	}
	return manifest.ApplyOutcome{Seq: op.Seq, Status: manifest.OutcomeOk}
}

func (a *Applier) applyCmd(ctx context.Context, op manifest.PlanOp) manifest.ApplyOutcome {
	ci := op.Cmd
	cmd := exec.CommandContext(ctx, ci.Program, ci.Args...)
	cmd.Stdout, cmd.Stderr, cmd.Stdin = os.Stdout, os.Stderr, os.Stdin
	cmd.Env = os.Environ()

	if err := cmd.Run(); err != nil {
		return failed(op.Seq, fmt.Sprintf("%s: %v", ci.Program, err))
	}
	return manifest.ApplyOutcome{Seq: op.Seq, Status: manifest.OutcomeOk}
}

func failed(seq uint64, reason string) manifest.ApplyOutcome {
	return manifest.ApplyOutcome{Seq: seq, Status: manifest.OutcomeFailed, Reason: reason}
}
