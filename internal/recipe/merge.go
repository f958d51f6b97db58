package recipe

import "strings"

// Tree is a free-form nested configuration mapping, as decoded from YAML.
// Leaves are scalars or lists; interior nodes are nested Trees.
type Tree = map[string]any

// Merge recursively merges override into base and returns a new tree.
// When both sides hold a nested tree at a key the trees merge recursively;
// in every other case the override value wins, including a scalar replacing
// a tree or a tree replacing a scalar. Neither input is mutated.
func Merge(base, override Tree) Tree {
	result := make(Tree, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		baseTree, baseOK := result[k].(Tree)
		overrideTree, overrideOK := v.(Tree)
		if baseOK && overrideOK {
			result[k] = Merge(baseTree, overrideTree)
		} else {
			result[k] = v
		}
	}
	return result
}

// PathToTree converts a dot-separated path into a single-branch nested tree
// holding value at the leaf.
//
// PathToTree("engine.llm.max_concurrent_requests", 256) returns
// {"engine": {"llm": {"max_concurrent_requests": 256}}}.
func PathToTree(path string, value any) Tree {
	parts := strings.Split(path, ".")
	tree := Tree{parts[len(parts)-1]: value}
	for i := len(parts) - 2; i >= 0; i-- {
		tree = Tree{parts[i]: tree}
	}
	return tree
}
