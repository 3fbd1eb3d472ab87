// Package pkgmgr implements the package-manager adapter registry: a
// {Probe, Install, Remove} capability set dispatched by manager name
// from the DSL's packages(...) calls.
package pkgmgr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Adapter is the capability set a package manager backend implements.
type Adapter interface {
	// Probe reports whether name is currently installed.
	Probe(ctx context.Context, name string) (bool, error)
	// Install installs name, failing on non-zero exit.
	Install(ctx context.Context, name string) error
	// Remove uninstalls name, failing on non-zero exit.
	Remove(ctx context.Context, name string) error
}

// Registry dispatches packages(manager, ...) calls to a registered
// Adapter by manager name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns a registry pre-populated with the built-in
// adapters: brew, apt, dnf, yum, zypper, pacman.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	r.Register("brew", &commandAdapter{
		binary:     "brew",
		probeArgs:  func(name string) []string { return []string{"list", "--versions", name} },
		installArgs: func(name string) []string { return []string{"install", name} },
		removeArgs:  func(name string) []string { return []string{"uninstall", name} },
	})
	r.Register("apt", &commandAdapter{
		binary:      "apt-get",
		probeBinary: "dpkg-query",
		probeArgs:   func(name string) []string { return []string{"-W", "-f=${Status}", name} },
		installArgs: func(name string) []string { return []string{"install", "-y", name} },
		removeArgs:  func(name string) []string { return []string{"remove", "-y", name} },
	})
	r.Register("dnf", &commandAdapter{
		binary:      "dnf",
		probeBinary: "rpm",
		probeArgs:   func(name string) []string { return []string{"-q", name} },
		installArgs: func(name string) []string { return []string{"install", "-y", name} },
		removeArgs:  func(name string) []string { return []string{"remove", "-y", name} },
	})
	r.Register("yum", &commandAdapter{
		binary:      "yum",
		probeBinary: "rpm",
		probeArgs:   func(name string) []string { return []string{"-q", name} },
		installArgs: func(name string) []string { return []string{"install", "-y", name} },
		removeArgs:  func(name string) []string { return []string{"remove", "-y", name} },
	})
	r.Register("zypper", &commandAdapter{
		binary:      "zypper",
		probeBinary: "rpm",
		probeArgs:   func(name string) []string { return []string{"-q", name} },
		installArgs: func(name string) []string { return []string{"install", "-y", name} },
		removeArgs:  func(name string) []string { return []string{"remove", "-y", name} },
	})
	r.Register("pacman", &commandAdapter{
		binary:      "pacman",
		probeBinary: "pacman",
		probeArgs:   func(name string) []string { return []string{"-Q", name} },
		installArgs: func(name string) []string { return []string{"-S", "--noconfirm", name} },
		removeArgs:  func(name string) []string { return []string{"-R", "--noconfirm", name} },
	})
	return r
}

// Register adds or replaces the adapter for manager.
func (r *Registry) Register(manager string, a Adapter) {
	r.adapters[manager] = a
}

// Get returns the adapter registered for manager.
func (r *Registry) Get(manager string) (Adapter, bool) {
	a, ok := r.adapters[manager]
	return a, ok
}

// commandAdapter is a generic Adapter backed by shelling out to a
// binary with a fixed argument template, grounded on the teacher's
// micro_runner package handler's command tables.
type commandAdapter struct {
	binary      string
	probeBinary string // defaults to binary when empty

	probeArgs   func(name string) []string
	installArgs func(name string) []string
	removeArgs  func(name string) []string
}

func (c *commandAdapter) resolveBinary() string {
	if c.probeBinary != "" {
		return c.probeBinary
	}
	return c.binary
}

// Available reports whether the manager's binary is on PATH.
func (c *commandAdapter) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

func (c *commandAdapter) Probe(ctx context.Context, name string) (bool, error) {
	if !c.Available() {
		return false, fmt.Errorf("package manager binary %q not found", c.binary)
	}
	cmd := exec.CommandContext(ctx, c.resolveBinary(), c.probeArgs(name)...)
	if err := cmd.Run(); err != nil {
		return false, nil
	}
	return true, nil
}

func (c *commandAdapter) Install(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, c.binary, c.installArgs(name)...)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", c.binary, c.installArgs(name), err)
	}
	return nil
}

func (c *commandAdapter) Remove(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, c.binary, c.removeArgs(name)...)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", c.binary, c.removeArgs(name), err)
	}
	return nil
}
