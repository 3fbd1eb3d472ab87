package applier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keronhq/keron/internal/manifest"
	"github.com/keronhq/keron/internal/planner/pkgmgr"
)

func originID(dir string) manifest.ID {
	return manifest.ID(filepath.Join(dir, "keron.lua"))
}

func TestApplyLinkCreateDirsAndLink(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	srcFile := filepath.Join(srcDir, "zshrc")
	if err := os.WriteFile(srcFile, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	dest := filepath.Join(destDir, "nested", ".zshrc")

	plan := &manifest.Plan{Ops: []manifest.PlanOp{
		{
			Seq:            1,
			Origin:         originID(srcDir),
			Kind:           manifest.OpKindLink,
			Classification: manifest.Change,
			Reason:         manifest.ReasonCreateDirsAndLink,
			Link:           &manifest.LinkIntent{Src: "zshrc", Dest: dest, MkDirs: true},
		},
	}}

	a := New(pkgmgr.NewRegistry(), zerolog.Nop())
	result := a.Apply(context.Background(), plan)

	if result.Halted {
		t.Fatal("apply halted unexpectedly")
	}
	if result.Outcomes[0].Status != manifest.OutcomeOk {
		t.Fatalf("status = %v, want Ok", result.Outcomes[0].Status)
	}
	target, err := os.Readlink(dest)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != srcFile {
		t.Errorf("symlink target = %q, want %q", target, srcFile)
	}
}

func TestApplySkipsUnchangedAndConflict(t *testing.T) {
	plan := &manifest.Plan{Ops: []manifest.PlanOp{
		{Seq: 1, Kind: manifest.OpKindCmd, Classification: manifest.Unchanged},
		{Seq: 2, Kind: manifest.OpKindLink, Classification: manifest.Conflict, Reason: manifest.ReasonDestOccupied},
	}}

	a := New(pkgmgr.NewRegistry(), zerolog.Nop())
	result := a.Apply(context.Background(), plan)

	if result.Halted {
		t.Fatal("apply halted unexpectedly")
	}
	for i, outcome := range result.Outcomes {
		if outcome.Status != manifest.OutcomeSkipped {
			t.Errorf("outcome[%d].Status = %v, want Skipped", i, outcome.Status)
		}
	}
}

func TestApplyTemplateWritesAtomically(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "greeting.tmpl"), []byte("hello {{user}}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	dest := filepath.Join(destDir, "greeting.txt")

	plan := &manifest.Plan{Ops: []manifest.PlanOp{
		{
			Seq:            1,
			Origin:         originID(srcDir),
			Kind:           manifest.OpKindTemplate,
			Classification: manifest.Change,
			Reason:         manifest.ReasonCreateFile,
			Template: &manifest.TemplateIntent{
				Src:  "greeting.tmpl",
				Dest: dest,
				Vars: map[string]manifest.RenderedValue{"user": {Value: "keron"}},
			},
		},
	}}

	a := New(pkgmgr.NewRegistry(), zerolog.Nop())
	result := a.Apply(context.Background(), plan)

	if result.Outcomes[0].Status != manifest.OutcomeOk {
		t.Fatalf("status = %v, want Ok", result.Outcomes[0].Status)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello keron" {
		t.Errorf("dest content = %q, want %q", data, "hello keron")
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != filepath.Base(dest) {
			t.Errorf("stray file left behind: %s", e.Name())
		}
	}
}

func TestApplyHaltsOnFirstFailure(t *testing.T) {
	plan := &manifest.Plan{Ops: []manifest.PlanOp{
		{
			Seq:            1,
			Kind:           manifest.OpKindCmd,
			Classification: manifest.Change,
			Reason:         manifest.ReasonRunCommand,
			Cmd:            &manifest.CmdIntent{Program: "false"},
		},
		{
			Seq:            2,
			Kind:           manifest.OpKindCmd,
			Classification: manifest.Change,
			Reason:         manifest.ReasonRunCommand,
			Cmd:            &manifest.CmdIntent{Program: "true"},
		},
	}}

	a := New(pkgmgr.NewRegistry(), zerolog.Nop())
	result := a.Apply(context.Background(), plan)

	if !result.Halted {
		t.Fatal("expected apply to halt")
	}
	if len(result.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1 (second op must not run)", len(result.Outcomes))
	}
	if result.Outcomes[0].Status != manifest.OutcomeFailed {
		t.Errorf("status = %v, want Failed", result.Outcomes[0].Status)
	}
}

func TestApplyPackageDispatchesToAdapter(t *testing.T) {
	registry := pkgmgr.NewRegistry()
	installed := false
	registry.Register("fake", &recordingAdapter{onInstall: func(name string) { installed = true }})

	plan := &manifest.Plan{Ops: []manifest.PlanOp{
		{
			Seq:            1,
			Kind:           manifest.OpKindPackage,
			Classification: manifest.Change,
			Reason:         manifest.ReasonInstallPackage,
			Manager:        "fake",
			PackageName:    "jq",
		},
	}}

	a := New(registry, zerolog.Nop())
	result := a.Apply(context.Background(), plan)

	if result.Outcomes[0].Status != manifest.OutcomeOk {
		t.Fatalf("status = %v, want Ok", result.Outcomes[0].Status)
	}
	if !installed {
		t.Error("expected adapter Install to be invoked")
	}
}

type recordingAdapter struct {
	onInstall func(name string)
}

func (r *recordingAdapter) Probe(ctx context.Context, name string) (bool, error) { return false, nil }
func (r *recordingAdapter) Install(ctx context.Context, name string) error {
	if r.onInstall != nil {
		r.onInstall(name)
	}
	return nil
}
func (r *recordingAdapter) Remove(ctx context.Context, name string) error { return nil }
