package registry

import (
	"fmt"
	"sort"
	"strings"
)

// MaxTemplateDepth bounds manifest template nesting.
const MaxTemplateDepth = 32

// NodeKind tags a manifest template node.
type NodeKind int

const (
	NodeScalar NodeKind = iota
	NodeString
	NodeObject
	NodeArray
)

// Node is one element of a manifest template tree.
type Node struct {
	Kind   NodeKind
	Str    string
	Fields map[string]*Node
	Items  []*Node
}

// BuildTemplate converts a decoded JSON/YAML value into a Node tree.
// It fails with ErrTemplateTooDeep beyond MaxTemplateDepth.
func BuildTemplate(v any) (*Node, error) {
	if v == nil {
		return nil, nil
	}
	return buildNode(v, 0)
}

func buildNode(v any, depth int) (*Node, error) {
	if depth > MaxTemplateDepth {
		return nil, ErrTemplateTooDeep
	}
	switch x := v.(type) {
	case string:
		return &Node{Kind: NodeString, Str: x}, nil
	case map[string]any:
		n := &Node{Kind: NodeObject, Fields: make(map[string]*Node, len(x))}
		for k, child := range x {
			c, err := buildNode(child, depth+1)
			if err != nil {
				return nil, err
			}
			n.Fields[k] = c
		}
		return n, nil
	case map[any]any:
		n := &Node{Kind: NodeObject, Fields: make(map[string]*Node, len(x))}
		for k, child := range x {
			c, err := buildNode(child, depth+1)
			if err != nil {
				return nil, err
			}
			n.Fields[fmt.Sprint(k)] = c
		}
		return n, nil
	case []any:
		n := &Node{Kind: NodeArray, Items: make([]*Node, 0, len(x))}
		for _, child := range x {
			c, err := buildNode(child, depth+1)
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, c)
		}
		return n, nil
	default:
		return &Node{Kind: NodeScalar, Str: fmt.Sprint(x)}, nil
	}
}

// TemplatePackages walks the tree and returns every scoped npm package
// referenced by a field named "path": a value like
// "@scope/plugin-pkg/lib/index.js" yields "@scope/plugin-pkg".
// Walking stops at MaxTemplateDepth and never revisits a node.
func TemplatePackages(root *Node) []string {
	if root == nil {
		return nil
	}
	seen := map[string]bool{}
	visited := map[*Node]bool{}
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		if n == nil || depth > MaxTemplateDepth || visited[n] {
			return
		}
		visited[n] = true
		switch n.Kind {
		case NodeObject:
			keys := make([]string, 0, len(n.Fields))
			for k := range n.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				child := n.Fields[k]
				if k == "path" && child != nil && child.Kind == NodeString {
					if pkg := scopedPackage(child.Str); pkg != "" {
						seen[pkg] = true
					}
					continue
				}
				walk(child, depth+1)
			}
		case NodeArray:
			for _, child := range n.Items {
				walk(child, depth+1)
			}
		}
	}
	walk(root, 0)

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func scopedPackage(path string) string {
	if !strings.HasPrefix(path, "@") || !strings.Contains(path, "/") {
		return ""
	}
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 || parts[0] == "@" || parts[1] == "" {
		return ""
	}
	return parts[0] + "/" + parts[1]
}
