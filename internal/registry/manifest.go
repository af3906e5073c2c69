package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk registry document: { "tools": [...] }.
type Manifest struct {
	Tools []ManifestTool `json:"tools" yaml:"tools" jsonschema:"required"`
}

// ManifestTool is a tool entry as written in a manifest, before normalization.
type ManifestTool struct {
	ID               string                 `json:"id" yaml:"id" jsonschema:"required,minLength=1"`
	Name             string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Description      string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Type             string                 `json:"type,omitempty" yaml:"type,omitempty" jsonschema:"enum=builtin,enum=built-in,enum=external"`
	Command          any                    `json:"command,omitempty" yaml:"command,omitempty" jsonschema:"oneof_type=string;object,description=Flat command line or an object with executable and args"`
	Installation     ManifestInstallation   `json:"installation" yaml:"installation"`
	Detection        ManifestDetection      `json:"detection,omitempty" yaml:"detection,omitempty"`
	Prerequisites    []ManifestPrerequisite `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	ManifestTemplate any                    `json:"manifestTemplate,omitempty" yaml:"manifestTemplate,omitempty" jsonschema:"type=object"`
}

// ManifestInstallation is the installation block of a manifest entry.
type ManifestInstallation struct {
	Type         string   `json:"type" yaml:"type" jsonschema:"enum=npm,enum=pip,enum=binary,enum=none,enum=built-in"`
	Package      string   `json:"package,omitempty" yaml:"package,omitempty"`
	Packages     []string `json:"packages,omitempty" yaml:"packages,omitempty"`
	Global       bool     `json:"global,omitempty" yaml:"global,omitempty"`
	Command      any      `json:"command,omitempty" yaml:"command,omitempty" jsonschema:"oneof_type=string;object"`
	Instructions string   `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// ManifestDetection is the detection block of a manifest entry.
type ManifestDetection struct {
	Method     string   `json:"method,omitempty" yaml:"method,omitempty"`
	Command    string   `json:"command,omitempty" yaml:"command,omitempty"`
	Commands   []string `json:"commands,omitempty" yaml:"commands,omitempty"`
	Venv       string   `json:"venv,omitempty" yaml:"venv,omitempty"`
	Executable string   `json:"executable,omitempty" yaml:"executable,omitempty"`
	Module     string   `json:"module,omitempty" yaml:"module,omitempty"`
}

// ManifestPrerequisite is a prerequisite as written in a manifest.
type ManifestPrerequisite struct {
	Type              string `json:"type,omitempty" yaml:"type,omitempty" jsonschema:"enum=generic,enum=playwright,enum=puppeteer"`
	Name              string `json:"name" yaml:"name"`
	CheckCommand      string `json:"checkCommand,omitempty" yaml:"checkCommand,omitempty"`
	ExpectedOutput    string `json:"expectedOutput,omitempty" yaml:"expectedOutput,omitempty"`
	InstallCommand    string `json:"installCommand,omitempty" yaml:"installCommand,omitempty"`
	SetupInstructions string `json:"setupInstructions,omitempty" yaml:"setupInstructions,omitempty"`
	Plugin            string `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Version           string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Parse decodes a manifest and normalizes its entries. YAML is used when
// name ends in .yaml or .yml, JSON otherwise. A document that cannot be
// decoded is an error; individual bad entries are reported as Problems.
func Parse(name string, data []byte) (*Catalog, error) {
	var m Manifest
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("registry: parsing %s: %w", name, err)
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("registry: parsing %s: %w", name, err)
		}
	}
	if m.Tools == nil {
		return nil, fmt.Errorf("registry: parsing %s: missing \"tools\" array", name)
	}

	tools := make([]Tool, 0, len(m.Tools))
	var problems []Problem
	seen := map[string]bool{}
	for i, raw := range m.Tools {
		t, err := normalizeTool(raw)
		if err != nil {
			problems = append(problems, Problem{Index: i, ToolID: raw.ID, Message: err.Error()})
			continue
		}
		if seen[t.ID] {
			problems = append(problems, Problem{Index: i, ToolID: t.ID, Message: "duplicate id, first entry kept"})
			continue
		}
		seen[t.ID] = true
		tools = append(tools, t)
	}
	return newCatalog(name, tools, problems), nil
}

func normalizeTool(raw ManifestTool) (Tool, error) {
	var errs []error
	t := Tool{
		ID:          strings.TrimSpace(raw.ID),
		Name:        strings.TrimSpace(raw.Name),
		Description: strings.TrimSpace(raw.Description),
	}
	if t.ID == "" {
		errs = append(errs, errors.New("missing id"))
	}

	cmd, err := flattenCommand(raw.Command)
	if err != nil {
		errs = append(errs, fmt.Errorf("command: %w", err))
	}
	t.Command = cmd

	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case "", "external":
		t.Kind = KindExternal
	case "builtin", "built-in":
		t.Kind = KindBuiltin
	default:
		errs = append(errs, fmt.Errorf("unknown tool type %q", raw.Type))
	}

	inst, err := normalizeInstallation(raw.Installation)
	if err != nil {
		errs = append(errs, err)
	}
	t.Installation = inst
	if strings.EqualFold(strings.TrimSpace(raw.Installation.Type), "built-in") {
		t.Kind = KindBuiltin
	}

	t.Detection = Detection{
		Venv:       strings.TrimSpace(raw.Detection.Venv),
		Executable: strings.TrimSpace(raw.Detection.Executable),
		Module:     strings.TrimSpace(raw.Detection.Module),
	}
	for _, p := range append([]string{raw.Detection.Command}, raw.Detection.Commands...) {
		if p = strings.TrimSpace(p); p != "" {
			t.Detection.Probes = append(t.Detection.Probes, p)
		}
	}
	if t.Kind == KindExternal && len(t.Detection.Probes) == 0 && t.Command != "" {
		t.Detection.Probes = []string{firstWord(t.Command) + " --version"}
	}

	for j, rp := range raw.Prerequisites {
		p, err := normalizePrerequisite(rp)
		if err != nil {
			errs = append(errs, fmt.Errorf("prerequisites[%d]: %w", j, err))
			continue
		}
		t.Prerequisites = append(t.Prerequisites, p)
	}

	if raw.ManifestTemplate != nil {
		node, err := BuildTemplate(raw.ManifestTemplate)
		if err != nil {
			errs = append(errs, fmt.Errorf("manifestTemplate: %w", err))
		}
		t.ManifestTemplate = node
	}

	if err := errors.Join(errs...); err != nil {
		return Tool{}, err
	}
	return t, nil
}

func normalizeInstallation(raw ManifestInstallation) (Installation, error) {
	inst := Installation{
		Global:       raw.Global,
		Instructions: strings.TrimSpace(raw.Instructions),
	}
	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case "npm":
		inst.Kind = InstallNPM
	case "pip":
		inst.Kind = InstallPip
	case "binary":
		inst.Kind = InstallBinary
	case "", "none", "built-in":
		inst.Kind = InstallNone
	default:
		return inst, fmt.Errorf("installation: unknown type %q", raw.Type)
	}
	for _, p := range append([]string{raw.Package}, raw.Packages...) {
		if p = strings.TrimSpace(p); p != "" {
			inst.Packages = append(inst.Packages, p)
		}
	}
	cmd, err := flattenCommand(raw.Command)
	if err != nil {
		return inst, fmt.Errorf("installation.command: %w", err)
	}
	inst.Command = cmd
	return inst, nil
}

func normalizePrerequisite(raw ManifestPrerequisite) (Prerequisite, error) {
	p := Prerequisite{
		Name:              strings.TrimSpace(raw.Name),
		CheckCommand:      strings.TrimSpace(raw.CheckCommand),
		ExpectedOutput:    strings.TrimSpace(raw.ExpectedOutput),
		InstallCommand:    strings.TrimSpace(raw.InstallCommand),
		SetupInstructions: strings.TrimSpace(raw.SetupInstructions),
		Plugin:            strings.TrimSpace(raw.Plugin),
		Version:           strings.TrimSpace(raw.Version),
	}
	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case "", "generic":
		p.Type = PrereqGeneric
		if p.CheckCommand == "" {
			return p, errors.New("generic prerequisite needs checkCommand")
		}
	case "playwright":
		p.Type = PrereqPlaywright
	case "puppeteer":
		p.Type = PrereqPuppeteer
	default:
		return p, fmt.Errorf("unknown prerequisite type %q", raw.Type)
	}
	if p.Name == "" {
		p.Name = string(p.Type)
	}
	return p, nil
}

// flattenCommand accepts either a command line string or an
// {executable, args} object and returns a single command line.
func flattenCommand(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(x), nil
	case map[string]any:
		return flattenStructured(x["executable"], x["args"])
	case map[any]any:
		return flattenStructured(x["executable"], x["args"])
	default:
		return "", fmt.Errorf("expected string or {executable, args}, got %T", v)
	}
}

func flattenStructured(exe, args any) (string, error) {
	name, ok := exe.(string)
	if !ok || strings.TrimSpace(name) == "" {
		return "", errors.New("structured command needs a string executable")
	}
	parts := []string{quoteArg(strings.TrimSpace(name))}
	switch a := args.(type) {
	case nil:
	case []any:
		for _, arg := range a {
			parts = append(parts, quoteArg(fmt.Sprint(arg)))
		}
	case []string:
		for _, arg := range a {
			parts = append(parts, quoteArg(arg))
		}
	default:
		return "", fmt.Errorf("args must be a list, got %T", args)
	}
	return strings.Join(parts, " "), nil
}

func quoteArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
