// Package secret implements the secret(uri) value source: a registry of
// providers dispatched by URI scheme, each a thin {Fetch} capability.
package secret

import (
	"fmt"
	"net/url"
	"os/exec"
	"strings"
)

// Provider fetches a single secret value for a provider-specific path.
type Provider interface {
	// Fetch returns the secret value for path (the URI with the scheme
	// and "://" stripped).
	Fetch(path string) (string, error)
}

// Registry dispatches secret(uri) calls to a Provider by URI scheme.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns a registry pre-populated with the built-in
// providers (currently just "pp", Proton Pass).
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register("pp", &ProtonPassProvider{})
	return r
}

// Register adds or replaces the provider for scheme.
func (r *Registry) Register(scheme string, p Provider) {
	r.providers[scheme] = p
}

// Fetch parses uri and dispatches to the registered provider for its
// scheme.
func (r *Registry) Fetch(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid secret uri %q: %w", uri, err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("secret uri %q has no scheme", uri)
	}

	provider, ok := r.providers[parsed.Scheme]
	if !ok {
		return "", fmt.Errorf("no secret provider registered for scheme %q", parsed.Scheme)
	}

	path := strings.TrimPrefix(uri, parsed.Scheme+"://")
	return provider.Fetch(path)
}

// ProtonPassProvider resolves secrets by shelling out to an external
// pass-cli binary, expecting a single-line secret on stdout.
type ProtonPassProvider struct {
	// Binary overrides the resolved binary name, for tests.
	Binary string
}

func (p *ProtonPassProvider) Fetch(path string) (string, error) {
	bin := p.Binary
	if bin == "" {
		bin = "pass-cli"
	}

	if _, err := exec.LookPath(bin); err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", bin, err)
	}

	cmd := exec.Command(bin, "get", path)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s get %s: %w", bin, path, err)
	}

	return strings.TrimSpace(strings.SplitN(string(output), "\n", 2)[0]), nil
}
