package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Kind separates tools shipped with the application from external ones.
type Kind string

const (
	KindBuiltin  Kind = "builtin"
	KindExternal Kind = "external"
)

// InstallKind names the package manager (or lack of one) used to install a tool.
type InstallKind string

const (
	InstallNPM    InstallKind = "npm"
	InstallPip    InstallKind = "pip"
	InstallBinary InstallKind = "binary"
	InstallNone   InstallKind = "none"
)

// PrereqType selects how a prerequisite is checked.
type PrereqType string

const (
	PrereqGeneric    PrereqType = "generic"
	PrereqPlaywright PrereqType = "playwright"
	PrereqPuppeteer  PrereqType = "puppeteer"
)

// Installation describes how to install a tool.
type Installation struct {
	Kind         InstallKind `json:"type"`
	Packages     []string    `json:"packages,omitempty"`
	Global       bool        `json:"global,omitempty"`
	Command      string      `json:"command,omitempty"`
	Instructions string      `json:"instructions,omitempty"`
}

// Prerequisite is something a tool needs at run time beyond itself.
type Prerequisite struct {
	Type              PrereqType `json:"type"`
	Name              string     `json:"name"`
	CheckCommand      string     `json:"checkCommand,omitempty"`
	ExpectedOutput    string     `json:"expectedOutput,omitempty"`
	InstallCommand    string     `json:"installCommand,omitempty"`
	SetupInstructions string     `json:"setupInstructions,omitempty"`
	// Plugin is the npm package that bundles its own browser runtime (puppeteer).
	Plugin string `json:"plugin,omitempty"`
	// Version pins a browser build (puppeteer).
	Version string `json:"version,omitempty"`
}

// Detection holds the probes and interpreter environment hints for a tool.
type Detection struct {
	Probes []string `json:"probes,omitempty"`
	// Venv is a project-relative virtualenv directory checked before global probes.
	Venv       string `json:"venv,omitempty"`
	Executable string `json:"executable,omitempty"`
	Module     string `json:"module,omitempty"`
}

// Tool is one normalized registry entry.
type Tool struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Kind             Kind           `json:"kind"`
	Command          string         `json:"command,omitempty"`
	Installation     Installation   `json:"installation"`
	Detection        Detection      `json:"detection"`
	Prerequisites    []Prerequisite `json:"prerequisites,omitempty"`
	ManifestTemplate *Node          `json:"-"`
}

// Builtin reports whether the tool ships with the application.
func (t Tool) Builtin() bool { return t.Kind == KindBuiltin }

// LocalNPM reports whether the tool is an npm package installed into the project.
func (t Tool) LocalNPM() bool {
	return t.Installation.Kind == InstallNPM && !t.Installation.Global
}

// DisplayName falls back to the id when no name was declared.
func (t Tool) DisplayName() string {
	if strings.TrimSpace(t.Name) != "" {
		return t.Name
	}
	return t.ID
}

// RequiredPackages is the declared install packages plus every package
// referenced by the manifest template, version specifiers removed.
func (t Tool) RequiredPackages() []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		p = StripVersion(p)
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, p := range t.Installation.Packages {
		add(p)
	}
	for _, p := range TemplatePackages(t.ManifestTemplate) {
		add(p)
	}
	return out
}

// StripVersion removes an npm or pip version specifier: "@scope/pkg@1.2"
// becomes "@scope/pkg", "semgrep==1.0" becomes "semgrep".
func StripVersion(pkg string) string {
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return ""
	}
	if i := strings.LastIndex(pkg, "@"); i > 0 {
		pkg = pkg[:i]
	}
	if i := strings.IndexAny(pkg, "=<>~!["); i > 0 {
		pkg = pkg[:i]
	}
	return strings.TrimSpace(pkg)
}

// Problem is a diagnostic for a manifest entry that was rejected.
type Problem struct {
	Index   int    `json:"index"`
	ToolID  string `json:"toolId,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	if p.ToolID != "" {
		return fmt.Sprintf("tools[%d] (%s): %s", p.Index, p.ToolID, p.Message)
	}
	return fmt.Sprintf("tools[%d]: %s", p.Index, p.Message)
}

// Catalog is one loaded registry snapshot. Tool ids are unique within it.
type Catalog struct {
	Source   string
	Tools    []Tool
	Problems []Problem

	index map[string]int
}

func newCatalog(source string, tools []Tool, problems []Problem) *Catalog {
	c := &Catalog{Source: source, Tools: tools, Problems: problems, index: map[string]int{}}
	for i, t := range tools {
		c.index[t.ID] = i
	}
	return c
}

// Get returns the tool with the given id.
func (c *Catalog) Get(id string) (Tool, error) {
	if c != nil {
		if i, ok := c.index[id]; ok {
			return c.Tools[i], nil
		}
	}
	return Tool{}, &NotFoundError{ID: id}
}

// IDs returns every tool id, sorted.
func (c *Catalog) IDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Tools))
	for _, t := range c.Tools {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Tools)
}
