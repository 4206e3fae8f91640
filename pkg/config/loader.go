package config

import (
	"fmt"
	"io"
	"os"

	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"gopkg.in/yaml.v3"
)

// File is the top-level discovery document: a list of server definitions
// plus defaults applied to entries that omit them.
type File struct {
	Defaults Defaults       `yaml:"defaults,omitempty"`
	Servers  []ServerConfig `yaml:"servers"`
}

// Defaults are applied to servers that leave the matching field zero.
type Defaults struct {
	CacheTTL Duration `yaml:"cache_ttl,omitempty"`
	Priority int      `yaml:"priority,omitempty"`
	Weight   int      `yaml:"weight,omitempty"`
}

// Load reads the YAML discovery file at path and returns validated configs.
func Load(path string) ([]ServerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mcperrors.ConfigurationError(fmt.Sprintf("open %q: %v", path, err))
	}
	defer f.Close()

	servers, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return servers, nil
}

// LoadFromReader decodes a YAML discovery document from r and validates the
// result. Useful in tests where configs are built from string literals.
func LoadFromReader(r io.Reader) ([]ServerConfig, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, mcperrors.ConfigurationError(fmt.Sprintf("decode yaml: %v", err))
	}

	if len(file.Servers) == 0 {
		return nil, mcperrors.ConfigurationError("no servers defined")
	}

	seen := make(map[string]bool, len(file.Servers))
	for i := range file.Servers {
		sc := &file.Servers[i]
		applyDefaults(sc, file.Defaults)
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		if seen[sc.Name] {
			return nil, mcperrors.ConfigurationError(
				fmt.Sprintf("duplicate server name %q", sc.Name))
		}
		seen[sc.Name] = true
	}
	return file.Servers, nil
}

func applyDefaults(sc *ServerConfig, d Defaults) {
	if sc.CacheTTL == 0 {
		sc.CacheTTL = d.CacheTTL
	}
	if sc.Priority == 0 {
		sc.Priority = d.Priority
	}
	if sc.Weight == 0 {
		sc.Weight = d.Weight
	}
}
