package prereq

import (
	"errors"
	"fmt"
)

// ErrNoInstaller is returned for prerequisites without an automatic install.
var ErrNoInstaller = errors.New("prereq: no automatic installer")

// Remediation tells the caller what to offer the user after a failed install.
type Remediation string

const (
	// RemedyManual means the user should run Suggestion in a terminal.
	RemedyManual Remediation = "manual"
	// RemedyClearCacheAndRetry means ClearCacheAndRetry is likely to succeed.
	RemedyClearCacheAndRetry Remediation = "clear_cache_and_retry"
)

// InstallError is a failed prerequisite installation with a way forward.
type InstallError struct {
	Prerequisite string
	Suggestion   string
	Remediation  Remediation
	Output       string
	Err          error
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("installing %s failed", e.Prerequisite)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	switch e.Remediation {
	case RemedyClearCacheAndRetry:
		msg += " (the npx cache looks corrupted; clear it and retry)"
	case RemedyManual:
		if e.Suggestion != "" {
			msg += "; run manually: " + e.Suggestion
		}
	}
	return msg
}

func (e *InstallError) Unwrap() error { return e.Err }
