package install

import "errors"

var (
	// ErrUnsupported marks tools whose installation kind cannot run automatically.
	ErrUnsupported = errors.New("install: automatic installation not supported")

	// ErrFailed wraps every failed installation attempt.
	ErrFailed = errors.New("install: installation failed")

	// ErrNotConfirmed is used when the installer exited cleanly but printed
	// nothing that confirms success.
	ErrNotConfirmed = errors.New("install: success not confirmed by installer output")
)
