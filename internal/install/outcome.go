package install

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Status values of the final JSON line a companion CLI prints.
const (
	statusInstalled        = "installed"
	statusAlreadyInstalled = "already_installed"
	statusFailed           = "failed"
)

// statusLine is {"status": "installed" | "already_installed" | "failed", "message": "..."}.
type statusLine struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// parseStatusLine returns the trailing JSON status line of out, if any.
func parseStatusLine(out string) (statusLine, bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l == "" {
			continue
		}
		if !strings.HasPrefix(l, "{") {
			return statusLine{}, false
		}
		var s statusLine
		if err := json.Unmarshal([]byte(l), &s); err != nil {
			return statusLine{}, false
		}
		switch s.Status {
		case statusInstalled, statusAlreadyInstalled, statusFailed:
			return s, true
		}
		return statusLine{}, false
	}
	return statusLine{}, false
}

var successPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)installed successfully`),
	regexp.MustCompile(`(?i)already installed`),
	regexp.MustCompile(`Successfully installed`),
	regexp.MustCompile(`Requirement already satisfied`),
	regexp.MustCompile(`\b(added|changed) \d+ packages?\b`),
	regexp.MustCompile(`\bup to date\b`),
}

// confirmsSuccess reports whether installer output contains a known success
// phrase.
func confirmsSuccess(out string) bool {
	for _, re := range successPatterns {
		if re.MatchString(out) {
			return true
		}
	}
	return false
}
