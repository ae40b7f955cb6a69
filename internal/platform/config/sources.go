package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/pscheid92/sensorbridge/internal/domain"
	"gopkg.in/yaml.v3"
)

// SupportedSchemes lists the endpoint URL schemes a source may use.
var SupportedSchemes = []string{"nats", "redis", "rediss", "mqtt"}

type sourcesFile struct {
	Sources []sourceEntry `yaml:"sources"`
}

type sourceEntry struct {
	ID          string `yaml:"id"`
	Endpoint    string `yaml:"endpoint"`
	Format      string `yaml:"format"`
	Placeholder any    `yaml:"placeholder"`
	Schema      string `yaml:"schema"`
}

// SourceSpecs returns the configured sources in order. SOURCES_FILE, when set,
// takes precedence over SOURCES.
func (c *Config) SourceSpecs() ([]domain.SourceSpec, error) {
	var (
		specs []domain.SourceSpec
		err   error
	)
	if c.SourcesFile != "" {
		specs, err = loadSourcesFile(c.SourcesFile)
	} else {
		specs, err = ParseSources(c.Sources)
	}
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, errors.New("at least one source must be configured")
	}

	seen := make(map[domain.SourceID]struct{}, len(specs))
	for _, s := range specs {
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateSource, s.ID)
		}
		seen[s.ID] = struct{}{}
		if err := validateEndpoint(s.Endpoint); err != nil {
			return nil, fmt.Errorf("source %s: %w", s.ID, err)
		}
	}
	return specs, nil
}

// ParseSources parses "id=endpoint[;format=msgpack],..." into specs.
func ParseSources(raw string) ([]domain.SourceSpec, error) {
	var specs []domain.SourceSpec
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		parts := strings.Split(item, ";")
		id, endpoint, ok := strings.Cut(parts[0], "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(endpoint) == "" {
			return nil, fmt.Errorf("SOURCES entry %q must look like id=endpoint", item)
		}

		spec := domain.SourceSpec{
			ID:       domain.SourceID(strings.TrimSpace(id)),
			Endpoint: strings.TrimSpace(endpoint),
			Format:   domain.FormatJSON,
		}
		for _, opt := range parts[1:] {
			key, value, _ := strings.Cut(opt, "=")
			switch strings.TrimSpace(key) {
			case "format":
				f, err := domain.ParseFormat(strings.TrimSpace(value))
				if err != nil {
					return nil, fmt.Errorf("source %s: %w", spec.ID, err)
				}
				spec.Format = f
			default:
				return nil, fmt.Errorf("source %s: unknown option %q", spec.ID, key)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func loadSourcesFile(path string) ([]domain.SourceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SOURCES_FILE: %w", err)
	}

	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse SOURCES_FILE %s: %w", path, err)
	}

	specs := make([]domain.SourceSpec, 0, len(file.Sources))
	for i, e := range file.Sources {
		if e.ID == "" || e.Endpoint == "" {
			return nil, fmt.Errorf("SOURCES_FILE entry %d: id and endpoint are required", i)
		}
		format, err := domain.ParseFormat(e.Format)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", e.ID, err)
		}

		spec := domain.SourceSpec{
			ID:       domain.SourceID(e.ID),
			Endpoint: e.Endpoint,
			Format:   format,
			Schema:   e.Schema,
		}
		if e.Placeholder != nil {
			placeholder, err := json.Marshal(e.Placeholder)
			if err != nil {
				return nil, fmt.Errorf("source %s: placeholder: %w", e.ID, err)
			}
			spec.Placeholder = placeholder
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	for _, s := range SupportedSchemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("endpoint %q has no host", endpoint)
			}
			return nil
		}
	}
	return fmt.Errorf("endpoint %q: unsupported scheme %q (want one of %s)", endpoint, u.Scheme, strings.Join(SupportedSchemes, ", "))
}

// Origins splits ALLOWED_ORIGINS. Empty means any origin is accepted.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
