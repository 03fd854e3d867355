package geocontext

import (
	"errors"
	"fmt"
)

// ConfigurationError reports malformed parameters or input records. It is
// raised before any per-point work begins.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "geocontext: configuration: " + e.Reason
	}
	return fmt.Sprintf("geocontext: configuration: %s: %s", e.Field, e.Reason)
}

// InsufficientPopulationError reports that the total population of all
// locations never reaches a requested k-value for a point.
type InsufficientPopulationError struct {
	PointID   int
	K         float64
	Available float64
}

func (e *InsufficientPopulationError) Error() string {
	return fmt.Sprintf("geocontext: point %d: k=%s exceeds available population %s",
		e.PointID, FormatK(e.K), FormatK(e.Available))
}

func configErr(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsInsufficientPopulation reports whether err wraps an *InsufficientPopulationError.
func IsInsufficientPopulation(err error) bool {
	var ie *InsufficientPopulationError
	return errors.As(err, &ie)
}
