package tools

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/climateandtech/carbonara-sub000/internal/registry"
	"github.com/climateandtech/carbonara-sub000/internal/runner"
)

// Classify turns the outcome of one probe into a ProbeOutcome. Order
// matters: a missing program beats everything, package-listing probes are
// judged by their output, then not-found text, and anything else is
// ambiguous.
func Classify(tool registry.Tool, probe string, res runner.Result, err error) ProbeOutcome {
	out := ProbeOutcome{Probe: probe, ExitCode: res.ExitCode}
	if err == nil {
		out.Result = AllPassed
		return out
	}

	var pe *runner.ProcessError
	if !errors.As(err, &pe) {
		out.Result = AmbiguousFailure
		out.Detail = err.Error()
		return out
	}
	out.ExitCode = pe.ExitCode

	switch {
	case pe.Class == runner.ClassTimeout:
		out.Result = CommandTimeout
		out.Detail = "timed out"
	case pe.Class == runner.ClassCanceled:
		out.Result = CommandTimeout
		out.Detail = "canceled"
	case pe.MissingExecutable():
		out.Result = CommandNotFound
		out.Detail = firstLine(pe.Stderr)
	case isListingProbe(probe):
		pkg := listedPackage(probe, tool)
		if pkg != "" && strings.Contains(pe.Output(), pkg) {
			out.Result = AllPassed
			out.Detail = "package listed despite exit code"
		} else {
			out.Result = PackageAbsent
			out.Detail = "package not listed"
		}
	case pe.Class == runner.ClassNotFound:
		out.Result = CommandNotFound
		out.Detail = firstLine(pe.Stderr)
	default:
		out.Result = AmbiguousFailure
		out.Detail = firstLine(pe.Stderr)
		if out.Detail == "" {
			out.Detail = firstLine(pe.Stdout)
		}
	}
	return out
}

// listingCommands maps package managers to their "list installed" verbs.
var listingCommands = map[string][]string{
	"npm":  {"ls", "list", "ll", "la"},
	"pnpm": {"ls", "list"},
	"yarn": {"list"},
	"pip":  {"show", "list"},
	"pip3": {"show", "list"},
}

// listingArgs returns the words after the list verb, or ok=false when probe
// is not a package-listing command.
func listingArgs(probe string) (args []string, ok bool) {
	fields := strings.Fields(probe)
	if len(fields) > 0 {
		fields[0] = commandName(fields[0])
	}
	// python -m pip show x
	if len(fields) >= 3 && strings.HasPrefix(fields[0], "python") && fields[1] == "-m" {
		fields = fields[2:]
	}
	if len(fields) < 2 {
		return nil, false
	}
	verbs, known := listingCommands[fields[0]]
	if !known {
		return nil, false
	}
	for i, f := range fields[1:] {
		if strings.HasPrefix(f, "-") {
			continue
		}
		for _, v := range verbs {
			if f == v {
				return fields[i+2:], true
			}
		}
		return nil, false
	}
	return nil, false
}

// commandName strips the directory and .exe suffix, so a venv's pip is still
// recognized as pip.
func commandName(word string) string {
	word = strings.Trim(word, "'\"")
	return strings.TrimSuffix(filepath.Base(filepath.FromSlash(word)), ".exe")
}

func isListingProbe(probe string) bool {
	_, ok := listingArgs(probe)
	return ok
}

// listedPackage is the package a listing probe asks about, falling back to
// the tool's first install package.
func listedPackage(probe string, tool registry.Tool) string {
	args, _ := listingArgs(probe)
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return registry.StripVersion(a)
		}
	}
	if pkgs := tool.RequiredPackages(); len(pkgs) > 0 {
		return pkgs[0]
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
