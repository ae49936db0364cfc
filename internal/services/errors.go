package services

import (
	"errors"
	"fmt"
)

var (
	// ErrCollaboratorUnavailable means a required external service has no
	// credentials configured.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrEmptyCompletion means the provider answered without any text.
	ErrEmptyCompletion = errors.New("no response generated")
)

// UpstreamError carries a non-success answer from an external API.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Body)
}
