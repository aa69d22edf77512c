// Package errs holds the error taxonomy shared by every stage. Errors are raised
// at fit time and returned unmodified; callers match them with errors.As.
package errs

import "fmt"

// UnsupportedTypeError reports a column whose value type a stage cannot handle.
type UnsupportedTypeError struct {
	Column string
	Type   string
	Stage  string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: unsupported type %s for column %q", e.Stage, e.Type, e.Column)
	}
	return fmt.Sprintf("unsupported type %s for column %q", e.Type, e.Column)
}

// UnsupportedConfigurationError reports a request the chosen algorithm cannot serve.
type UnsupportedConfigurationError struct {
	Reason string
}

func (e *UnsupportedConfigurationError) Error() string {
	return "unsupported configuration: " + e.Reason
}

// UnrecognizedAlgorithmError reports an algorithm that is neither a known family
// nor exposes the generic label/features contract.
type UnrecognizedAlgorithmError struct {
	Algorithm string
}

func (e *UnrecognizedAlgorithmError) Error() string {
	return fmt.Sprintf("unrecognized algorithm: %s", e.Algorithm)
}
