package session

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned for submissions that are blank after trimming.
	// Callers usually ignore it.
	ErrEmptyInput = errors.New("empty input")

	// ErrBusy is returned when a submission arrives while a reply is pending.
	ErrBusy = errors.New("a reply is already pending")

	// ErrProviderUnavailable covers network failures, timeouts and non-success
	// statuses from the reply provider.
	ErrProviderUnavailable = errors.New("reply provider unavailable")

	// ErrMalformedReply means the provider answered without usable text.
	// Providers wrap it so the session can tell the two failure kinds apart.
	ErrMalformedReply = errors.New("malformed reply")

	// ErrDisposed is returned once the session has been torn down.
	ErrDisposed = errors.New("session disposed")
)

// classify maps a provider error onto the session error taxonomy.
func classify(err error) error {
	if errors.Is(err, ErrMalformedReply) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}

// IsFailure reports whether err is a provider failure the user may retry.
func IsFailure(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrMalformedReply)
}
