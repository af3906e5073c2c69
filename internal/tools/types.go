package tools

import "time"

// ProbeResult classifies the live evidence for one tool.
type ProbeResult string

const (
	AllPassed        ProbeResult = "all_passed"
	CommandNotFound  ProbeResult = "command_not_found"
	PackageAbsent    ProbeResult = "package_absent"
	AmbiguousFailure ProbeResult = "ambiguous_failure"
	CommandTimeout   ProbeResult = "command_timeout"
)

// severity orders results; the worst probe decides the tool.
func (r ProbeResult) severity() int {
	switch r {
	case CommandNotFound:
		return 4
	case PackageAbsent:
		return 3
	case CommandTimeout:
		return 2
	case AmbiguousFailure:
		return 1
	default:
		return 0
	}
}

// Present reports whether the result counts as installed. An ambiguous
// failure is a soft pass.
func (r ProbeResult) Present() bool {
	return r == AllPassed || r == AmbiguousFailure
}

// Worse returns whichever of a and b is more severe.
func Worse(a, b ProbeResult) ProbeResult {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// ProbeOutcome is the classified result of one probe invocation.
type ProbeOutcome struct {
	Probe    string      `json:"probe"`
	Result   ProbeResult `json:"result"`
	ExitCode int         `json:"exitCode"`
	Detail   string      `json:"detail,omitempty"`
}

// LiveStatus is the freshly computed detection state of a tool. It is never
// persisted.
type LiveStatus struct {
	ToolID          string         `json:"toolId"`
	Result          ProbeResult    `json:"result"`
	Probes          []ProbeOutcome `json:"probes,omitempty"`
	MissingPackages []string       `json:"missingPackages,omitempty"`
	Version         string         `json:"version,omitempty"`
	// Resolved is how the tool was found when it was not a plain PATH probe
	// (virtualenv executable or interpreter module form).
	Resolved  string    `json:"resolved,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Present reports whether the live evidence says the tool is installed.
func (s LiveStatus) Present() bool { return s.Result.Present() }
