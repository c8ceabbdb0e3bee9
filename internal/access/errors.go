package access

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a directly referenced role or menu does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRepositoryUnavailable indicates a repository call failed or timed out.
	ErrRepositoryUnavailable = errors.New("repository unavailable")
	// ErrInvalidArgument indicates malformed input such as a non-positive id.
	ErrInvalidArgument = errors.New("invalid argument")
)

// unavailable tags err as an infrastructure failure unless it is already classified.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRepositoryUnavailable) {
		return fmt.Errorf("access: %s: %w", op, err)
	}
	return fmt.Errorf("access: %s: %w: %w", op, ErrRepositoryUnavailable, err)
}
