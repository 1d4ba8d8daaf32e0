package pipeline

import (
	"errors"
	"fmt"
)

// ConfigError marks a run-configuration problem detected before any external
// mutation, such as an empty derived image tag or a malformed manifest
// template. It always aborts the run.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
