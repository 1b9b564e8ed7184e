package carconfig

import (
	"errors"
	"fmt"
)

var (
	ErrNoSource        = errors.New("no configuration source provided")
	ErrUnreadable      = errors.New("configuration source unreadable")
	ErrPersist         = errors.New("configuration could not be persisted")
	ErrMalformed       = errors.New("malformed configuration document")
	ErrNoVehicles      = errors.New("no cars defined in configuration")
	ErrDuplicateCar    = errors.New("duplicate car name")
	ErrMissingSensors  = errors.New("sensors not defined")
	ErrMissingMetadata = errors.New("metadata not defined")
	ErrInvalidSensor   = errors.New("invalid sensor definition")
	ErrInvalidMetadata = errors.New("invalid metadata")
	ErrNoActiveVehicle = errors.New("no active car")
	ErrVehicleNotFound = errors.New("car not found")
)

// ConfigError reports a configuration that could not be read, parsed,
// validated or queried. Err is one of the sentinel errors above, possibly
// wrapping an underlying cause.
type ConfigError struct {
	Car string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Car != "" {
		return fmt.Sprintf("config: car %q: %v", e.Car, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(car string, sentinel error, format string, args ...any) *ConfigError {
	if format == "" {
		return &ConfigError{Car: car, Err: sentinel}
	}
	return &ConfigError{Car: car, Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)}
}
