package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Agents []yaml.Node `yaml:"agents"`
}

// ParseSeed decodes a YAML document of the form `agents: [...]`. Fields omitted in
// the document keep their defaults.
func ParseSeed(data []byte) ([]Config, error) {
	var doc seedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	out := make([]Config, 0, len(doc.Agents))
	seen := make(map[string]struct{}, len(doc.Agents))
	for i := range doc.Agents {
		cfg := Defaults()
		if err := doc.Agents[i].Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode agent %d: %w", i, err)
		}
		cfg = Normalize(cfg)
		if cfg.ID == "" {
			return nil, fmt.Errorf("agent %d: %w", i, errors.Join(ErrInvalid, errors.New("id is required in seed files")))
		}
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("agent %q: %w", cfg.ID, err)
		}
		if _, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("agent %q: %w", cfg.ID, ErrExists)
		}
		seen[cfg.ID] = struct{}{}
		out = append(out, cfg)
	}
	return out, nil
}

// LoadSeedFile reads and parses a YAML seed file.
func LoadSeedFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// Seed writes configs into store, replacing agents that already exist.
func Seed(ctx context.Context, store Store, configs []Config) error {
	for _, cfg := range configs {
		if _, err := store.Update(ctx, cfg); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("seed agent %q: %w", cfg.ID, err)
		}
		if _, err := store.Create(ctx, cfg); err != nil {
			return fmt.Errorf("seed agent %q: %w", cfg.ID, err)
		}
	}
	return nil
}
