package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrUnsupportedModulation = errors.New("unsupported modulation")
	ErrPersistence           = errors.New("persistence failed")
	ErrExport                = errors.New("export failed")
	ErrProjectNotFound       = errors.New("project not found")
	ErrProjectExists         = errors.New("project already exists")
	ErrNoOpenProject         = errors.New("no project is open")
	ErrUnauthorized          = errors.New("unauthorized")
)

// ParameterError is a field-level validation failure the user can correct.
type ParameterError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ParameterError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid parameter %q (%v): %s", e.Field, e.Value, e.Reason)
}

func (e *ParameterError) Unwrap() error { return ErrInvalidParameter }

// InvalidParameter builds a *ParameterError.
func InvalidParameter(field string, value any, reason string) error {
	return &ParameterError{Field: field, Value: value, Reason: reason}
}

// ModulationError reports a modulation the link engine has no BER model for.
type ModulationError struct {
	Modulation string
}

func (e *ModulationError) Error() string {
	return fmt.Sprintf("unsupported modulation %q", e.Modulation)
}

func (e *ModulationError) Unwrap() error { return ErrUnsupportedModulation }

// PersistenceError wraps a failed save, load, rename or delete.
type PersistenceError struct {
	Op      string
	Project string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s project %q: %v", e.Op, e.Project, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// ExportError wraps a failed report or file generation.
type ExportError struct {
	Format string
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("export %s: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("export %s to %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() []error { return []error{ErrExport, e.Err} }

// FieldOf returns the offending field of a parameter error, or "".
func FieldOf(err error) string {
	var pe *ParameterError
	if errors.As(err, &pe) {
		return pe.Field
	}
	var me *ModulationError
	if errors.As(err, &me) {
		return "modulation"
	}
	return ""
}
