package cli

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/climateandtech/carbonara-sub000/internal/registry"
)

// resolveTool finds a tool by id or display name, case-insensitively. When
// nothing matches, the error suggests the closest ids.
func resolveTool(cat *registry.Catalog, arg string) (registry.Tool, error) {
	if t, err := cat.Get(arg); err == nil {
		return t, nil
	}
	q := strings.ToLower(strings.TrimSpace(arg))
	for _, t := range cat.Tools {
		if strings.ToLower(t.ID) == q || strings.ToLower(t.Name) == q {
			return t, nil
		}
	}
	err := fmt.Errorf("%w: %s", registry.ErrToolNotFound, arg)
	if s := suggest(cat.IDs(), arg); len(s) > 0 {
		err = fmt.Errorf("%w (did you mean %s?)", err, strings.Join(s, ", "))
	}
	return registry.Tool{}, err
}

func suggest(ids []string, arg string) []string {
	matches := fuzzy.Find(strings.ToLower(arg), ids)
	out := make([]string, 0, 3)
	for _, m := range matches {
		out = append(out, m.Str)
		if len(out) == cap(out) {
			break
		}
	}
	return out
}

// selectTools resolves args to tools; no args or "all" selects every tool.
func selectTools(cat *registry.Catalog, args []string) ([]registry.Tool, error) {
	if len(args) == 0 {
		return cat.Tools, nil
	}
	for _, a := range args {
		if strings.EqualFold(strings.TrimSpace(a), "all") {
			return cat.Tools, nil
		}
	}
	seen := map[string]bool{}
	var out []registry.Tool
	for _, a := range args {
		t, err := resolveTool(cat, a)
		if err != nil {
			return nil, err
		}
		if !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	return out, nil
}
