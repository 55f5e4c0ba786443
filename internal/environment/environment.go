// Package environment resolves named variable bundles for injection into
// task containers and masks secret values out of captured logs.
package environment

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment is a named bundle of variables. Values of keys listed in
// SecretKeys must never appear in captured text.
type Environment struct {
	Name       string
	Values     map[string]string
	SecretKeys []string
}

type fileEntry struct {
	Values  map[string]string `yaml:"values"`
	Secrets []string          `yaml:"secrets"`
}

// Provider loads environments from a YAML file of the form:
//
//	one:
//	  values:
//	    number: "123"
//	    word: hello
//	  secrets: [word]
type Provider struct {
	filename     string
	environments map[string]*Environment
}

// NewProvider creates a provider for the given file. Call Update before use.
func NewProvider(filename string) *Provider {
	return &Provider{
		filename:     filename,
		environments: make(map[string]*Environment),
	}
}

// Update reloads environment definitions from the backing file.
func (p *Provider) Update() error {
	data, err := os.ReadFile(p.filename)
	if err != nil {
		return fmt.Errorf("failed to read environments file: %w", err)
	}

	var raw map[string]fileEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse environments file %s: %w", p.filename, err)
	}

	envs := make(map[string]*Environment, len(raw))
	for name, entry := range raw {
		envs[name] = &Environment{
			Name:       name,
			Values:     entry.Values,
			SecretKeys: entry.Secrets,
		}
	}
	p.environments = envs
	return nil
}

// GetEnvironment returns the named environment.
func (p *Provider) GetEnvironment(name string) (*Environment, error) {
	env, ok := p.environments[name]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", name)
	}
	return env, nil
}

// EnvironmentNames returns the sorted names of all loaded environments.
func (p *Provider) EnvironmentNames() []string {
	names := make([]string, 0, len(p.environments))
	for name := range p.environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaskVariables replaces every occurrence of a secret value in text with
// a **ENVNAME/VARNAME** placeholder. Non-secret values pass through.
func (p *Provider) MaskVariables(text string) string {
	for _, env := range p.environments {
		for _, key := range env.SecretKeys {
			value, ok := env.Values[key]
			if !ok || value == "" {
				continue
			}
			placeholder := fmt.Sprintf("**%s/%s**",
				strings.ToUpper(env.Name), strings.ToUpper(key))
			text = strings.ReplaceAll(text, value, placeholder)
		}
	}
	return text
}
