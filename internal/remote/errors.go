package remote

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the remote API returned 404 for a container
type NotFoundError struct {
	ID   string
	Hint string
}

func (e *NotFoundError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("container %s not found: %s", e.ID, e.Hint)
	}
	return fmt.Sprintf("container %s not found", e.ID)
}

// AuthenticationError indicates the remote API rejected our credentials
type AuthenticationError struct {
	URL    string
	Status int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication against %s failed with status %d", e.URL, e.Status)
}

// NetworkUnreachableError indicates no HTTP response was obtained at all:
// connection refused, timeout, DNS failure or a broken connection.
type NetworkUnreachableError struct {
	URL string
	Err error
}

func (e *NetworkUnreachableError) Error() string {
	return fmt.Sprintf("could not reach %s: %v", e.URL, e.Err)
}

func (e *NetworkUnreachableError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAuthentication reports whether err is (or wraps) an AuthenticationError
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// IsNetworkUnreachable reports whether err is (or wraps) a NetworkUnreachableError
func IsNetworkUnreachable(err error) bool {
	var ne *NetworkUnreachableError
	return errors.As(err, &ne)
}
