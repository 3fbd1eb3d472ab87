package pkgmgr

import (
	"os"

	"gopkg.in/yaml.v3"
)

// extensionFile is the shape of a user-declared adapter registration
// file, e.g. ~/.config/keron/managers.yaml. New providers are added by
// registering an adapter, not by modifying the core (spec §9).
type extensionFile struct {
	Managers []struct {
		Name    string   `yaml:"name"`
		Binary  string   `yaml:"binary"`
		Probe   []string `yaml:"probe"`
		Install []string `yaml:"install"`
		Remove  []string `yaml:"remove"`
	} `yaml:"managers"`
}

// LoadExtensions reads a YAML file declaring additional package-manager
// adapters and registers them on r. A missing file is not an error;
// callers only call this when the user configured a path.
func (r *Registry) LoadExtensions(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file extensionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}

	for _, m := range file.Managers {
		probeArgs, installArgs, removeArgs := m.Probe, m.Install, m.Remove
		r.Register(m.Name, &commandAdapter{
			binary:      m.Binary,
			probeArgs:   templatedArgs(probeArgs),
			installArgs: templatedArgs(installArgs),
			removeArgs:  templatedArgs(removeArgs),
		})
	}
	return nil
}

// templatedArgs builds an args func from a static template, substituting
// the literal placeholder "{name}" with the package name at call time.
func templatedArgs(template []string) func(name string) []string {
	return func(name string) []string {
		out := make([]string, len(template))
		for i, arg := range template {
			if arg == "{name}" {
				out[i] = name
			} else {
				out[i] = arg
			}
		}
		return out
	}
}
