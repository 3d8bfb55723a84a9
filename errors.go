package courier

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("courier: invalid envelope")
	ErrDecode            = errors.New("courier: could not decode envelope")
	ErrUnknownChannel    = errors.New("courier: unknown channel")
	ErrUnsupportedMethod = errors.New("courier: unsupported method")
	ErrSendFailed        = errors.New("courier: peer refused to send")
	ErrNoHandler         = errors.New("courier: no handler configured")
	ErrDuplicateID       = errors.New("courier: duplicate request id")
	ErrClosed            = errors.New("courier: transport closed")
	ErrRouteNotFound     = errors.New("courier: no handler for route")
	ErrInvalidCfg        = errors.New("courier: invalid options")
)

// Violation is a single field failing a validation rule.
type Violation struct {
	Field  string
	Reason string
}

func (v Violation) String() string {
	return v.Field + ": " + v.Reason
}

// ValidationError reports every rule an envelope violated.
// It matches [ErrValidation] with errors.Is.
type ValidationError struct {
	Envelope   string
	Violations []Violation
}

func (verr *ValidationError) Error() string {
	reasons := make([]string, len(verr.Violations))
	for i, v := range verr.Violations {
		reasons[i] = v.String()
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, verr.Envelope, strings.Join(reasons, "; "))
}

func (verr *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Has reports whether field is among the violations.
func (verr *ValidationError) Has(field string) bool {
	for _, v := range verr.Violations {
		if v.Field == field {
			return true
		}
	}
	return false
}
