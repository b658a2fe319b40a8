// Package ruleset restricts which target hosts the proxy will forward to.
package ruleset

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// HostRules is an optional allowlist of proxyable hosts. An empty rule set
// allows every host.
type HostRules struct {
	exact     map[string]struct{}
	wildcards []string
}

type rulesFile struct {
	AllowedHosts []string `yaml:"allowed_hosts"`
}

// AllowAll returns a rule set that permits every host.
func AllowAll() *HostRules {
	return &HostRules{}
}

// Load reads an allowlist from a YAML file. Entries are either exact hosts
// ("api.example.com", optionally with a port) or wildcard suffixes
// ("*.example.com").
func Load(path string) (*HostRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading host rules: %w", err)
	}

	return Parse(data)
}

// Parse builds a rule set from YAML content.
func Parse(data []byte) (*HostRules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing host rules: %w", err)
	}

	r := &HostRules{exact: make(map[string]struct{}, len(f.AllowedHosts))}
	for _, h := range f.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}

		if suffix, ok := strings.CutPrefix(h, "*."); ok {
			r.wildcards = append(r.wildcards, "."+suffix)
			continue
		}
		r.exact[h] = struct{}{}
	}

	log.Info().Int("exact", len(r.exact)).Int("wildcard", len(r.wildcards)).
		Msg("host rules loaded")

	return r, nil
}

// Allows reports whether the given host (as it appears in the target URL
// authority) may be proxied to.
func (r *HostRules) Allows(host string) bool {
	if len(r.exact) == 0 && len(r.wildcards) == 0 {
		return true
	}

	host = strings.ToLower(host)
	if _, ok := r.exact[host]; ok {
		return true
	}

	// wildcard entries match subdomains regardless of port
	bare, _, _ := strings.Cut(host, ":")
	for _, suffix := range r.wildcards {
		if strings.HasSuffix(bare, suffix) {
			return true
		}
	}

	return false
}
