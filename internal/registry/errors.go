package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is matched by every NotFoundError.
	ErrToolNotFound = errors.New("registry: tool not found")

	// ErrNoManifest is returned by a source that has nothing to offer.
	ErrNoManifest = errors.New("registry: no manifest")

	// ErrTemplateTooDeep rejects manifest templates nested beyond MaxTemplateDepth.
	ErrTemplateTooDeep = errors.New("registry: manifest template nested too deeply")
)

// NotFoundError names the tool id that was looked up.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("registry: tool %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrToolNotFound }
