/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every *ConfigurationError.
var ErrConfiguration = errors.New("invalid rate limit configuration")

// ErrStorageUnavailable is matched by every *StorageError.
var ErrStorageUnavailable = errors.New("rate limit storage unavailable")

// ConfigurationError reports a non-positive limit or window.
type ConfigurationError struct {
	Field string
	Value int64
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s must be positive, got %d", ErrConfiguration, e.Field, e.Value)
}

// Is makes errors.Is(err, ErrConfiguration) true.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Store operations used in errors and metrics.
const (
	OpIncrement = "increment"
	OpReset     = "reset"
	OpGet       = "get"
	OpPing      = "ping"
)

// StorageError wraps a failure (including a timeout) of the rate limit store.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s: %v", ErrStorageUnavailable, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %q: %v", ErrStorageUnavailable, e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorageUnavailable) true.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

func newStorageError(op, key string, err error) error {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
