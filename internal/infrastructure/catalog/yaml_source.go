// Package catalog loads achievement definitions and keeps a validated,
// cached copy for the evaluator.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// YAML FILE SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// catalogFile is the on-disk layout:
//
//	achievements:
//	  - id: ach-social-butterfly
//	    name: Social Butterfly
//	    category: social
//	    points_required: 50
//	    criterion: social_butterfly
//	    is_active: true
type catalogFile struct {
	Achievements []achievement.Definition `yaml:"achievements"`
}

// FileSource reads the catalog from a YAML file on every load.
type FileSource struct {
	path     string
	registry *achievement.Registry
}

var _ achievement.CatalogSource = (*FileSource)(nil)

// NewFileSource creates a source for path. Definitions are validated against
// registry; a nil registry skips the criterion check.
func NewFileSource(path string, registry *achievement.Registry) *FileSource {
	return &FileSource{path: path, registry: registry}
}

// LoadDefinitions implements achievement.CatalogSource.
func (s *FileSource) LoadDefinitions(_ context.Context) ([]achievement.Definition, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", s.path, err)
	}
	defs, err := Parse(data, s.registry)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", s.path, err)
	}
	return defs, nil
}

// Parse decodes and validates a YAML catalog. Any invalid entry, unknown
// field or duplicate ID rejects the whole document.
func Parse(data []byte, registry *achievement.Registry) ([]achievement.Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, shared.WrapError("achievement", "Parse", shared.ErrValidation, "malformed catalog", err)
	}

	if err := Validate(file.Achievements, registry); err != nil {
		return nil, err
	}
	return file.Achievements, nil
}

// Validate checks every definition and rejects duplicate IDs.
func Validate(defs []achievement.Definition, registry *achievement.Registry) error {
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if err := def.Validate(registry); err != nil {
			return err
		}
		if _, dup := seen[def.ID]; dup {
			return shared.WrapError("achievement", "Validate", shared.ErrAlreadyExists,
				fmt.Sprintf("duplicate achievement id %s", def.ID), shared.ErrInvalidAchievement)
		}
		seen[def.ID] = struct{}{}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATIC SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// StaticSource serves a fixed list, typically achievement.DefaultDefinitions().
type StaticSource []achievement.Definition

// LoadDefinitions implements achievement.CatalogSource.
func (s StaticSource) LoadDefinitions(context.Context) ([]achievement.Definition, error) {
	out := make([]achievement.Definition, len(s))
	copy(out, s)
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SEEDING
// ══════════════════════════════════════════════════════════════════════════════

// Seeder persists a catalog into a store.
type Seeder interface {
	SeedDefinitions(ctx context.Context, defs []achievement.Definition) error
}

// Seed loads src, validates it and writes it into dst.
func Seed(ctx context.Context, src achievement.CatalogSource, dst Seeder, registry *achievement.Registry) (int, error) {
	defs, err := src.LoadDefinitions(ctx)
	if err != nil {
		return 0, err
	}
	if err := Validate(defs, registry); err != nil {
		return 0, err
	}
	if err := dst.SeedDefinitions(ctx, defs); err != nil {
		return 0, fmt.Errorf("seed catalog: %w", err)
	}
	return len(defs), nil
}
