// Package utils provides shared utility helpers used across starkdevnet.
// See Version for the module's semantic version.
package utils

import "fmt"

// Version is the semantic version of this utility package.
const Version = "v0.1.0"

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(fmt.Sprintf(format, args...)+": %w", err)
}
