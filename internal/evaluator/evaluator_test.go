package evaluator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keronhq/keron/internal/evaluator/secret"
	"github.com/keronhq/keron/internal/kerr"
	"github.com/keronhq/keron/internal/manifest"
)

func writeManifest(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestEvaluateLinkIntent(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "zsh.lua", `
link("files/zshrc", "/tmp/ex/.zshrc", {"mkdirs": True})
`)

	e := New(secret.NewRegistry(), zerolog.Nop())
	m, err := e.Evaluate(path, Known{path: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(m.Intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(m.Intents))
	}
	link := m.Intents[0].Link
	if link == nil || link.Dest != "/tmp/ex/.zshrc" || !link.MkDirs {
		t.Errorf("unexpected link intent: %+v", link)
	}
}

func TestEvaluateIntentOrderMatchesDeclaration(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "m.lua", `
cmd("echo", ["one"])
cmd("echo", ["two"])
cmd("echo", ["three"])
`)

	e := New(secret.NewRegistry(), zerolog.Nop())
	m, err := e.Evaluate(path, Known{path: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(m.Intents) != 3 {
		t.Fatalf("intents = %d, want 3", len(m.Intents))
	}
	want := []string{"one", "two", "three"}
	for i, intent := range m.Intents {
		if intent.Cmd.Args[0] != want[i] {
			t.Errorf("intent[%d] = %q, want %q", i, intent.Cmd.Args[0], want[i])
		}
	}
}

func TestEvaluateIsolation(t *testing.T) {
	dir := t.TempDir()
	pathA := writeManifest(t, dir, "a.lua", `x = 1`)
	pathB := writeManifest(t, dir, "b.lua", `cmd("echo", [str(x)] if False else ["unset"])`)

	e := New(secret.NewRegistry(), zerolog.Nop())
	if _, err := e.Evaluate(pathA, Known{pathA: true, pathB: true}); err != nil {
		t.Fatalf("Evaluate a: %v", err)
	}
	mb, err := e.Evaluate(pathB, Known{pathA: true, pathB: true})
	if err != nil {
		t.Fatalf("Evaluate b: %v", err)
	}
	if mb.Intents[0].Cmd.Args[0] != "unset" {
		t.Errorf("manifest b saw leaked state from manifest a: %+v", mb.Intents[0])
	}
}

func TestEvaluateDependsOnUnknownTarget(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "m.lua", `depends_on("missing.lua")`)

	e := New(secret.NewRegistry(), zerolog.Nop())
	_, err := e.Evaluate(path, Known{path: true})
	if err == nil {
		t.Fatal("expected error for unknown depends_on target")
	}
	ke, ok := kerr.As(err)
	if !ok || ke.Code != kerr.CodeUnknownDependency {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEvaluateDependsOnKnownTarget(t *testing.T) {
	dir := t.TempDir()
	basePath := writeManifest(t, dir, "base.lua", ``)
	path := writeManifest(t, dir, "workstation.lua", `depends_on("base.lua")`)

	e := New(secret.NewRegistry(), zerolog.Nop())
	m, err := e.Evaluate(path, Known{basePath: true, path: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(m.DependsOn) != 1 || m.DependsOn[0] != manifest.ID(basePath) {
		t.Errorf("DependsOn = %+v, want [%s]", m.DependsOn, basePath)
	}
}

func TestEvaluateMissingEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "m.lua", `
v = env("KERON_DEFINITELY_UNSET_VAR")
`)

	e := New(secret.NewRegistry(), zerolog.Nop())
	_, err := e.Evaluate(path, Known{path: true})
	if err == nil {
		t.Fatal("expected MissingEnv error")
	}
	ke, ok := kerr.As(err)
	if !ok || ke.Code != kerr.CodeMissingEnv {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEvaluateEnvTemplateVar(t *testing.T) {
	t.Setenv("KERON_TEST_USER", "keron")

	dir := t.TempDir()
	path := writeManifest(t, dir, "m.lua", `
template("hello.tmpl", "/tmp/ex/hello", {"vars": {"user": env("KERON_TEST_USER")}})
`)

	e := New(secret.NewRegistry(), zerolog.Nop())
	m, err := e.Evaluate(path, Known{path: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	rv, ok := m.Intents[0].Template.Vars["user"]
	if !ok || rv.Value != "keron" || rv.Sensitive {
		t.Errorf("vars[user] = %+v", rv)
	}
}

func TestEvaluateDestNotAbsoluteFails(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "m.lua", `link("src", "relative/path", {})`)

	e := New(secret.NewRegistry(), zerolog.Nop())
	_, err := e.Evaluate(path, Known{path: true})
	if err == nil {
		t.Fatal("expected InvalidArgument error for non-absolute dest")
	}
	ke, ok := kerr.As(err)
	if !ok || ke.Code != kerr.CodeInvalidArgument {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEvaluateLegacyPackageRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "m.lua", `package("git", {"state": "present"})`)

	e := New(secret.NewRegistry(), zerolog.Nop())
	_, err := e.Evaluate(path, Known{path: true})
	if err == nil {
		t.Fatal("expected legacy package(...) to be rejected")
	}
}

func TestEvaluatePackagesDefaultState(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "m.lua", `packages("brew", ["git", "jq"], {})`)

	e := New(secret.NewRegistry(), zerolog.Nop())
	m, err := e.Evaluate(path, Known{path: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	pkgs := m.Intents[0].Packages
	if pkgs.State != manifest.PackagePresent {
		t.Errorf("state = %q, want present", pkgs.State)
	}
	if len(pkgs.Names) != 2 || pkgs.Names[0] != "git" || pkgs.Names[1] != "jq" {
		t.Errorf("names = %+v", pkgs.Names)
	}
}
