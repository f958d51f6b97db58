package recipe

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/gpubench/gpubench/internal/hardware"
)

// RecipeFilename is the configuration file expected in every recipe dir.
const RecipeFilename = "recipe.yaml"

// Resolved is one fully resolved recipe combination: the typed Recipe, its
// auto-generated variant identifier, and the recipe directory it came from.
type Resolved struct {
	Recipe  *Recipe
	Variant string
	Dir     string
}

// Document is a parsed recipe.yaml: the base tree with matrices stripped,
// plus the matrix entries in declaration order.
type Document struct {
	Base    Tree
	Entries []MatrixEntry
}

// ParseDocument splits a recipe document into its base tree and matrix
// entries. Matrix entries keep YAML field order.
func ParseDocument(data []byte) (*Document, error) {
	var base Tree
	if err := yaml.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("malformed recipe document: %w", err)
	}
	delete(base, "matrices")

	var doc struct {
		Matrices []MatrixEntry `yaml:"matrices"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed matrices section: %w", err)
	}

	return &Document{Base: base, Entries: doc.Matrices}, nil
}

// Resolver turns recipe directories into fully resolved, validated recipe
// combinations. Resolution is per-directory: a failure in one directory
// does not affect others.
type Resolver struct {
	validate *validator.Validate
}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{validate: validator.New()}
}

// ResolveDir loads recipe.yaml from dir and returns one Resolved per matrix
// combination. A recipe without a matrices section resolves to a single
// combination using its own deploy section.
func (r *Resolver) ResolveDir(dir string) ([]Resolved, error) {
	path := filepath.Join(dir, RecipeFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if len(doc.Entries) == 0 {
		resolved, err := r.resolveOne(doc.Base, Tree{}, "", dir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return []Resolved{*resolved}, nil
	}

	var results []Resolved
	for i, entry := range doc.Entries {
		overrides, err := entry.Expand()
		if err != nil {
			return nil, fmt.Errorf("%s: matrix entry %d: %w", path, i+1, err)
		}
		for j, override := range overrides {
			resolved, err := r.resolveOne(doc.Base, override, entry.Label(j), dir)
			if err != nil {
				return nil, fmt.Errorf("%s: matrix entry %d combination %d: %w", path, i+1, j+1, err)
			}
			results = append(results, *resolved)
		}
	}
	return results, nil
}

// ResolveAll resolves every given recipe directory independently, returning
// all resolutions plus per-directory errors keyed by directory.
func (r *Resolver) ResolveAll(dirs []string) ([]Resolved, map[string]error) {
	var all []Resolved
	failures := make(map[string]error)
	for _, dir := range dirs {
		resolved, err := r.ResolveDir(dir)
		if err != nil {
			failures[dir] = err
			continue
		}
		all = append(all, resolved...)
	}
	return all, failures
}

func (r *Resolver) resolveOne(base, override Tree, label, dir string) (*Resolved, error) {
	merged := Merge(base, override)

	rec, err := FromTree(merged)
	if err != nil {
		return nil, err
	}

	if rec.Deploy.GPU == "" {
		return nil, ErrMissingDeployGPU
	}
	if err := r.validate.Struct(rec); err != nil {
		return nil, fmt.Errorf("invalid recipe: %w", err)
	}
	if err := ValidateExtraArgs(rec.LLM().ExtraArgs(), rec.LLM().Engine); err != nil {
		return nil, err
	}

	variant := hardware.ShortName(rec.Deploy.GPU)
	if label != "" {
		variant += "_" + label
	}

	return &Resolved{Recipe: rec, Variant: variant, Dir: dir}, nil
}
