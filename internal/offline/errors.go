// ABOUTME: Sentinel errors for the offline command store

package offline

import "errors"

// ErrCommandNotFound is returned when no stored command matches the id.
var ErrCommandNotFound = errors.New("command not found")
