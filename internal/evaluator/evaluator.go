// Package evaluator implements C3: running a manifest inside a
// sandboxed Starlark host, binding the fixed DSL of resource-declaration
// and value-source functions, and collecting the resulting intents.
package evaluator

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/rs/zerolog"

	"github.com/keronhq/keron/internal/evaluator/secret"
	"github.com/keronhq/keron/internal/kerr"
	"github.com/keronhq/keron/internal/manifest"
)

// Evaluator runs manifests against a fixed DSL. A single Evaluator is
// reused across an entire discovery set; each Evaluate call gets a
// fresh Starlark thread and globals so manifests never share state.
type Evaluator struct {
	secrets *secret.Registry
	logger  zerolog.Logger
}

// New returns an Evaluator backed by the given secret provider registry
// that logs via logger.
func New(secrets *secret.Registry, logger zerolog.Logger) *Evaluator {
	return &Evaluator{secrets: secrets, logger: logger}
}

// Known is the set of all discovered manifest paths, used to validate
// depends_on targets.
type Known map[string]bool

// evalState accumulates the side effects of evaluating one manifest. It
// is never shared across manifests (§8 invariant 2, evaluation
// isolation).
type evalState struct {
	id        manifest.ID
	dir       string
	known     Known
	secrets   *secret.Registry
	dependsOn []manifest.ID
	intents   []manifest.ResourceIntent
}

// Evaluate reads and executes the manifest at path, returning its
// collected dependencies and intents.
func (e *Evaluator) Evaluate(path string, known Known) (*manifest.Manifest, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.New(kerr.ClassEvaluation, "failed to read manifest", err).
			WithCode(kerr.CodeRuntimeError).
			WithManifest(path)
	}

	state := &evalState{
		id:      manifest.ID(path),
		dir:     filepath.Dir(path),
		known:   known,
		secrets: e.secrets,
	}

	thread := &starlark.Thread{
		Name:  path,
		Print: func(_ *starlark.Thread, _ string) {},
	}

	predeclared := starlark.StringDict{
		"struct":      starlarkstruct.Default,
		"depends_on":  starlark.NewBuiltin("depends_on", state.builtinDependsOn),
		"link":        starlark.NewBuiltin("link", state.builtinLink),
		"template":    starlark.NewBuiltin("template", state.builtinTemplate),
		"packages":    starlark.NewBuiltin("packages", state.builtinPackages),
		"package":     starlark.NewBuiltin("package", state.builtinPackageLegacy),
		"cmd":         starlark.NewBuiltin("cmd", state.builtinCmd),
		"env":         starlark.NewBuiltin("env", state.builtinEnv),
		"secret":      starlark.NewBuiltin("secret", state.builtinSecret),
		"is_macos":    starlark.NewBuiltin("is_macos", state.builtinIsMacos),
		"is_linux":    starlark.NewBuiltin("is_linux", state.builtinIsLinux),
		"is_windows":  starlark.NewBuiltin("is_windows", state.builtinIsWindows),
	}

	_, err = starlark.ExecFile(thread, path, source, predeclared)
	if err != nil {
		evalErr := classifyEvalError(path, err)
		e.logger.Debug().Str("path", path).Err(evalErr).Msg("manifest evaluation failed")
		return nil, evalErr
	}

	e.logger.Debug().Str("path", path).Int("intents", len(state.intents)).Msg("manifest evaluated")
	return &manifest.Manifest{
		ID:         state.id,
		SourceText: source,
		DependsOn:  state.dependsOn,
		Intents:    state.intents,
	}, nil
}

// classifyEvalError distinguishes a parse-time syntax error from a
// runtime failure so callers get the right kerr.Code.
func classifyEvalError(path string, err error) error {
	if _, ok := err.(*syntax.Error); ok {
		return kerr.New(kerr.ClassEvaluation, "syntax error", err).
			WithCode(kerr.CodeSyntaxError).
			WithManifest(path)
	}
	if evalErr, ok := err.(*starlark.EvalError); ok {
		if ke, ok := kerr.As(evalErr.Unwrap()); ok {
			return ke
		}
		return kerr.New(kerr.ClassEvaluation, "runtime error", evalErr).
			WithCode(kerr.CodeRuntimeError).
			WithManifest(path).
			WithDetail("backtrace", evalErr.Backtrace())
	}
	return kerr.New(kerr.ClassEvaluation, "runtime error", err).
		WithCode(kerr.CodeRuntimeError).
		WithManifest(path)
}

func (s *evalState) builtinDependsOn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}

	target := filepath.Clean(filepath.Join(s.dir, path))
	if !s.known[target] {
		return nil, kerr.New(kerr.ClassGraph, "depends_on target is not a discovered manifest", nil).
			WithCode(kerr.CodeUnknownDependency).
			WithManifest(string(s.id)).
			WithDetail("target", target)
	}

	s.dependsOn = append(s.dependsOn, manifest.ID(target))
	return starlark.None, nil
}

func (s *evalState) builtinLink(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src, dest string
	var optsDict *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "src", &src, "dest", &dest, "opts?", &optsDict); err != nil {
		return nil, err
	}

	opts := linkOpts{Dest: dest}
	if optsDict != nil {
		opts.MkDirs, _ = dictBool(optsDict, "mkdirs", false)
		opts.Force, _ = dictBool(optsDict, "force", false)
	}
	if err := validate.Struct(opts); err != nil {
		return nil, invalidArgument(s.id, "link", err)
	}

	s.intents = append(s.intents, manifest.ResourceIntent{
		Kind:   manifest.KindLink,
		Origin: s.id,
		Link: &manifest.LinkIntent{
			Src:    src,
			Dest:   dest,
			MkDirs: opts.MkDirs,
			Force:  opts.Force,
		},
	})
	return starlark.None, nil
}

func (s *evalState) builtinTemplate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src, dest string
	var optsDict *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "src", &src, "dest", &dest, "opts?", &optsDict); err != nil {
		return nil, err
	}

	opts := templateOpts{Dest: dest}
	vars := make(map[string]manifest.RenderedValue)
	if optsDict != nil {
		opts.MkDirs, _ = dictBool(optsDict, "mkdirs", false)
		opts.Force, _ = dictBool(optsDict, "force", false)

		if varsVal, found, _ := optsDict.Get(starlark.String("vars")); found {
			varsDict, ok := varsVal.(*starlark.Dict)
			if !ok {
				return nil, invalidArgument(s.id, "template", fmt.Errorf("opts.vars must be a dict"))
			}
			for _, item := range varsDict.Items() {
				key, ok := item[0].(starlark.String)
				if !ok {
					return nil, invalidArgument(s.id, "template", fmt.Errorf("vars keys must be strings"))
				}
				rv, err := toRenderedValue(item[1])
				if err != nil {
					return nil, invalidArgument(s.id, "template", err)
				}
				vars[string(key)] = rv
			}
		}
	}
	if err := validate.Struct(opts); err != nil {
		return nil, invalidArgument(s.id, "template", err)
	}

	s.intents = append(s.intents, manifest.ResourceIntent{
		Kind:   manifest.KindTemplate,
		Origin: s.id,
		Template: &manifest.TemplateIntent{
			Src:    src,
			Dest:   dest,
			MkDirs: opts.MkDirs,
			Force:  opts.Force,
			Vars:   vars,
		},
	})
	return starlark.None, nil
}

func (s *evalState) builtinPackages(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var manager string
	var namesVal starlark.Value
	var optsDict *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "manager", &manager, "names", &namesVal, "opts?", &optsDict); err != nil {
		return nil, err
	}

	names, err := stringList(namesVal)
	if err != nil {
		return nil, invalidArgument(s.id, "packages", err)
	}

	opts := packagesOpts{State: "present"}
	if optsDict != nil {
		if stateVal, found, _ := optsDict.Get(starlark.String("state")); found {
			stateStr, ok := stateVal.(starlark.String)
			if !ok {
				return nil, invalidArgument(s.id, "packages", fmt.Errorf("opts.state must be a string"))
			}
			opts.State = string(stateStr)
		}
	}
	if err := validate.Struct(opts); err != nil {
		return nil, invalidArgument(s.id, "packages", err)
	}

	s.intents = append(s.intents, manifest.ResourceIntent{
		Kind:   manifest.KindPackages,
		Origin: s.id,
		Packages: &manifest.PackagesIntent{
			Manager: manager,
			Names:   names,
			State:   manifest.PackageState(opts.State),
		},
	})
	return starlark.None, nil
}

// builtinPackageLegacy rejects the historical singular package(...) form
// per §9's open-question resolution: accepted only as a pointed error.
func (s *evalState) builtinPackageLegacy(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return nil, invalidArgument(s.id, "package", fmt.Errorf(
		"package(...) is not supported; use packages(manager, names, opts) instead"))
}

func (s *evalState) builtinCmd(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var program string
	var argsVal starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "program", &program, "args?", &argsVal); err != nil {
		return nil, err
	}

	var cmdArgs []string
	if argsVal != nil {
		var err error
		cmdArgs, err = stringList(argsVal)
		if err != nil {
			return nil, invalidArgument(s.id, "cmd", err)
		}
	}

	s.intents = append(s.intents, manifest.ResourceIntent{
		Kind:   manifest.KindCmd,
		Origin: s.id,
		Cmd: &manifest.CmdIntent{
			Program: program,
			Args:    cmdArgs,
		},
	})
	return starlark.None, nil
}

func (s *evalState) builtinEnv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}

	value, ok := os.LookupEnv(name)
	if !ok {
		return nil, kerr.New(kerr.ClassEvaluation, "environment variable not set", nil).
			WithCode(kerr.CodeMissingEnv).
			WithManifest(string(s.id)).
			WithDetail("name", name)
	}

	return starlarkRenderedValue{value: manifest.RenderedValue{Value: value}}, nil
}

func (s *evalState) builtinSecret(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var uri string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "uri", &uri); err != nil {
		return nil, err
	}

	value, err := s.secrets.Fetch(uri)
	if err != nil {
		return nil, kerr.New(kerr.ClassEvaluation, "secret lookup failed", err).
			WithCode(kerr.CodeSecretError).
			WithManifest(string(s.id)).
			WithDetail("uri", uri)
	}

	return starlarkRenderedValue{value: manifest.RenderedValue{Value: value, Sensitive: true}}, nil
}

func (s *evalState) builtinIsMacos(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return starlark.Bool(runtime.GOOS == "darwin"), nil
}

func (s *evalState) builtinIsLinux(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return starlark.Bool(runtime.GOOS == "linux"), nil
}

func (s *evalState) builtinIsWindows(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return starlark.Bool(runtime.GOOS == "windows"), nil
}

func dictBool(d *starlark.Dict, key string, def bool) (bool, error) {
	v, found, err := d.Get(starlark.String(key))
	if err != nil || !found {
		return def, err
	}
	b, ok := v.(starlark.Bool)
	if !ok {
		return def, fmt.Errorf("opts.%s must be a bool", key)
	}
	return bool(b), nil
}

func invalidArgument(id manifest.ID, op string, err error) error {
	return kerr.New(kerr.ClassEvaluation, "invalid argument", err).
		WithCode(kerr.CodeInvalidArgument).
		WithManifest(string(id)).
		WithOperation(op)
}
