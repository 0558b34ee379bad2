package output

import (
	"errors"
	"strings"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
)

// StructuredError is a CLI error with a machine-readable code
type StructuredError struct {
	Code            string         `json:"code" yaml:"code"`
	Message         string         `json:"message" yaml:"message"`
	Guidance        string         `json:"guidance,omitempty" yaml:"guidance,omitempty"`
	RecoveryCommand string         `json:"recovery_command,omitempty" yaml:"recovery_command,omitempty"`
	Context         map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

func (e StructuredError) Error() string {
	return e.Message
}

// Error codes. Gateway error kinds map to their upper-cased kind name.
const (
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeInvalidOutputFormat = "INVALID_OUTPUT_FORMAT"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeOperationFailed     = "OPERATION_FAILED"
)

func NewStructuredError(code, message string) StructuredError {
	return StructuredError{Code: code, Message: message}
}

func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}

func (e StructuredError) WithRecoveryCommand(cmd string) StructuredError {
	e.RecoveryCommand = cmd
	return e
}

func (e StructuredError) WithContext(key string, value any) StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// FromError converts err to a StructuredError. Gateway errors keep their kind
// as the code; anything else gets fallbackCode.
func FromError(err error, fallbackCode string) StructuredError {
	var se StructuredError
	if errors.As(err, &se) {
		return se
	}
	var ge *contracts.Error
	if errors.As(err, &ge) {
		return StructuredError{Code: strings.ToUpper(string(ge.Kind)), Message: err.Error()}
	}
	return StructuredError{Code: fallbackCode, Message: err.Error()}
}
