package models

import "fmt"

// ConfigurationError is a structural problem detected before any session is
// dispatched. It is fatal for the whole batch.
type ConfigurationError struct {
	Key string
	Msg string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Msg)
}
