package repository

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrUpstreamRead marks a failed read against a tenant database.
	ErrUpstreamRead = fmt.Errorf("upstream read failure: %w", errdefs.ErrUnavailable)
	// ErrUpstreamWrite marks a failed write against a tenant database.
	ErrUpstreamWrite = fmt.Errorf("upstream write failure: %w", errdefs.ErrUnavailable)
	// ErrMalformedCredential is returned when a credential payload cannot be used.
	ErrMalformedCredential = fmt.Errorf("malformed credential: %w", errdefs.ErrInvalidArgument)
	// ErrInvalidPath is returned for collection or document paths the backend cannot address.
	ErrInvalidPath = errors.New("invalid document path")
)

func readError(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrUpstreamRead, op, path, err)
}

func writeError(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrUpstreamWrite, op, path, err)
}

func credentialError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedCredential, fmt.Sprintf(format, args...))
}
