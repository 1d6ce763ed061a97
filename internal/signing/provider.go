package signing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Provider is the per-provider signing policy. Whether a session counts
// as complete only once every signer has signed varies by provider: some
// gateways report per-signer completion, some only a session status.
// That asymmetry is configuration, not code.
type Provider struct {
	Name              string   `yaml:"name"`
	RequiresAllSigned bool     `yaml:"requires_all_signed"`
	BlockedURLParts   []string `yaml:"blocked_url_substrings"`
}

var defaultBlockedURLParts = []string{"localhost", "127.0.0.1", "/mock/"}

// DefaultProviders returns the built-in provider profiles used when no
// profile file is configured.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		"firma": {
			Name:              "firma",
			RequiresAllSigned: true,
			BlockedURLParts:   defaultBlockedURLParts,
		},
		"inkless": {
			Name:              "inkless",
			RequiresAllSigned: false,
			BlockedURLParts:   defaultBlockedURLParts,
		},
	}
}

// LoadProviders reads provider profiles from a YAML file. Profiles
// missing blocked URL substrings inherit the defaults; the guard against
// development endpoints is never silently disabled.
func LoadProviders(path string) (map[string]Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider profiles: %w", err)
	}
	var file struct {
		Providers []Provider `yaml:"providers"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse provider profiles: %w", err)
	}
	if len(file.Providers) == 0 {
		return nil, fmt.Errorf("provider profiles %s: no providers defined", path)
	}
	providers := make(map[string]Provider, len(file.Providers))
	for _, p := range file.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider profiles %s: provider with empty name", path)
		}
		if len(p.BlockedURLParts) == 0 {
			p.BlockedURLParts = defaultBlockedURLParts
		}
		providers[p.Name] = p
	}
	return providers, nil
}
