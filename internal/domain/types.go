package domain

import (
	"fmt"
)

// VariableType defines the type of a variable
type VariableType string

const (
	VariableTypeString  VariableType = "string"
	VariableTypeInt     VariableType = "int"
	VariableTypeFloat   VariableType = "float"
	VariableTypeBool    VariableType = "bool"
	VariableTypeObject  VariableType = "object"
	VariableTypeArray   VariableType = "array"
	VariableTypeAny     VariableType = "any"
	VariableTypeUnknown VariableType = "unknown"
)

// IsValid checks if the VariableType is valid
func (vt VariableType) IsValid() bool {
	switch vt {
	case VariableTypeString, VariableTypeInt, VariableTypeFloat, VariableTypeBool,
		VariableTypeObject, VariableTypeArray, VariableTypeAny, VariableTypeUnknown:
		return true
	default:
		return false
	}
}

// String returns string representation of VariableType
func (vt VariableType) String() string {
	return string(vt)
}

// InferType infers the VariableType from a Go value
func InferType(v interface{}) VariableType {
	if v == nil {
		return VariableTypeUnknown
	}

	switch v.(type) {
	case string:
		return VariableTypeString
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return VariableTypeInt
	case float32, float64:
		return VariableTypeFloat
	case bool:
		return VariableTypeBool
	case map[string]interface{}:
		return VariableTypeObject
	case []interface{}:
		return VariableTypeArray
	default:
		return VariableTypeAny
	}
}

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Common domain error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeInvariantViolated = "INVARIANT_VIOLATED"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeCyclicDependency  = "CYCLIC_DEPENDENCY"
	ErrCodeInvalidType       = "INVALID_TYPE"
)

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
