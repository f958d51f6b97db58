package recipe

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeployGPUPath is the matrix field that selects the target GPU type.
// Every matrix entry must carry it.
const DeployGPUPath = "deploy.gpu"

// ErrMissingDeployGPU is returned when a matrix entry has no deploy.gpu
// field or it resolves to an empty string.
var ErrMissingDeployGPU = errors.New("matrix entry missing required deploy.gpu")

// LengthMismatchError reports list-valued matrix fields with differing
// lengths within one entry.
type LengthMismatchError struct {
	// Lengths maps each list-valued path to its length.
	Lengths map[string]int
}

func (e *LengthMismatchError) Error() string {
	paths := make([]string, 0, len(e.Lengths))
	for p := range e.Lengths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		parts = append(parts, fmt.Sprintf("%s=%d", p, e.Lengths[p]))
	}
	return "all lists in a matrix entry must have the same length, got: " + strings.Join(parts, ", ")
}

// MatrixField is one dot-path field of a matrix entry.
type MatrixField struct {
	Path  string
	Value any
}

// IsList reports whether the field holds a list of scalars.
func (f MatrixField) IsList() bool {
	_, ok := f.Value.([]any)
	return ok
}

// MatrixEntry is one row of the matrices list. Fields preserve YAML
// declaration order so expansion order and labels are stable.
type MatrixEntry struct {
	Fields []MatrixField
}

// UnmarshalYAML decodes a mapping node while keeping field order.
func (e *MatrixEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix entry must be a mapping, got %v at line %d", node.Kind, node.Line)
	}
	e.Fields = e.Fields[:0]
	for i := 0; i+1 < len(node.Content); i += 2 {
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("matrix field %q: %w", node.Content[i].Value, err)
		}
		e.Fields = append(e.Fields, MatrixField{Path: node.Content[i].Value, Value: value})
	}
	return nil
}

// combinations returns the number of parameter combinations the entry
// expands to, or an error when list lengths disagree.
func (e MatrixEntry) combinations() (int, error) {
	lengths := make(map[string]int)
	n := 1
	for _, f := range e.Fields {
		if list, ok := f.Value.([]any); ok {
			lengths[f.Path] = len(list)
			n = len(list)
		}
	}
	if len(lengths) > 1 {
		distinct := make(map[int]struct{})
		for _, l := range lengths {
			distinct[l] = struct{}{}
		}
		if len(distinct) > 1 {
			return 0, &LengthMismatchError{Lengths: lengths}
		}
	}
	return n, nil
}

// validateDeployGPU checks that deploy.gpu is present and non-empty for
// every combination.
func (e MatrixEntry) validateDeployGPU() error {
	for _, f := range e.Fields {
		if f.Path != DeployGPUPath {
			continue
		}
		switch v := f.Value.(type) {
		case string:
			if v != "" {
				return nil
			}
		case []any:
			for _, item := range v {
				s, ok := item.(string)
				if !ok || s == "" {
					return ErrMissingDeployGPU
				}
			}
			return nil
		}
		return ErrMissingDeployGPU
	}
	return ErrMissingDeployGPU
}

// Expand expands the entry into one override tree per combination using
// broadcast + zip semantics: scalar fields repeat in every combination,
// list fields contribute their i-th element to the i-th combination. The
// returned slice is in index order, which is the run order for the entry.
func (e MatrixEntry) Expand() ([]Tree, error) {
	if err := e.validateDeployGPU(); err != nil {
		return nil, err
	}
	n, err := e.combinations()
	if err != nil {
		return nil, err
	}

	overrides := make([]Tree, 0, n)
	for i := 0; i < n; i++ {
		override := Tree{}
		for _, f := range e.Fields {
			value := f.Value
			if list, ok := f.Value.([]any); ok {
				value = list[i]
			}
			override = Merge(override, PathToTree(f.Path, value))
		}
		overrides = append(overrides, override)
	}
	return overrides, nil
}

// labelAbbreviations maps well-known parameter names to the short form used
// in task identifiers. Unmapped paths fall back to their last dot segment.
var labelAbbreviations = map[string]string{
	"max_concurrency":         "c",
	"num_prompts":             "n",
	"random_input_len":        "in",
	"random_output_len":       "out",
	"max_concurrent_requests": "mcr",
	"context_length":          "ctx",
}

func abbreviate(path string) string {
	last := path
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		last = path[idx+1:]
	}
	if abbrev, ok := labelAbbreviations[last]; ok {
		return abbrev
	}
	return last
}

// Label derives the identifier suffix for combination i from the varying
// (list-valued) fields, in declared order. Deploy fields never contribute.
// A single-point entry yields an empty label.
func (e MatrixEntry) Label(i int) string {
	var parts []string
	for _, f := range e.Fields {
		list, ok := f.Value.([]any)
		if !ok || strings.HasPrefix(f.Path, "deploy.") {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s%v", abbreviate(f.Path), list[i]))
	}
	return strings.Join(parts, "_")
}
