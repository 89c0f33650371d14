package auth

import "fmt"

// ConfigurationError is returned when a required setting is missing or
// unusable when a component is constructed.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e ConfigurationError) Error() string {
	if len(e.Message) == 0 {
		return fmt.Sprintf("configuration: %s is required", e.Setting)
	}
	return fmt.Sprintf("configuration: %s: %s", e.Setting, e.Message)
}
