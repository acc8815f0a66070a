package config

import "fmt"

// ConfigError reports a malformed setting. Job is empty for process-wide settings.
type ConfigError struct {
	Job    string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Job != "" {
		return fmt.Sprintf("config: job %q: %s: %s", e.Job, e.Field, e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func newError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
