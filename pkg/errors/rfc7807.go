// Package errors provides RFC 7807 Problem Details for the control API.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Problem type URIs
const (
	TypeValidationError   = "https://tradeguard.dev/problems/validation-error"
	TypeNotFound          = "https://tradeguard.dev/problems/not-found"
	TypePatternNotFound   = "https://tradeguard.dev/problems/pattern-not-found"
	TypeInvalidTrade      = "https://tradeguard.dev/problems/invalid-trade"
	TypeInvalidConfig     = "https://tradeguard.dev/problems/invalid-pattern-config"
	TypeEngineUnavailable = "https://tradeguard.dev/problems/engine-unavailable"
	TypeInternalError     = "https://tradeguard.dev/problems/internal-error"
)

// Problem titles
const (
	TitleValidationError   = "Validation Error"
	TitleNotFound          = "Not Found"
	TitlePatternNotFound   = "Pattern Not Found"
	TitleInvalidTrade      = "Invalid Trade"
	TitleInvalidConfig     = "Invalid Pattern Config"
	TitleEngineUnavailable = "Engine Unavailable"
	TitleInternalError     = "Internal Server Error"
)

// ValidationError represents a validation error for RFC 7807
type ValidationError struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	TraceID  string                 `json:"trace_id,omitempty"`
	Errors   []ValidationError      `json:"errors,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	if p.Detail == "" {
		return p.Title
	}
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithValidationErrors adds validation errors to the problem details
func (p *ProblemDetails) WithValidationErrors(errs []ValidationError) *ProblemDetails {
	p.Errors = errs
	return p
}

// WithExtra adds extra fields to the problem details (they will be serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{}, 7+len(p.Extra))
	for k, v := range p.Extra {
		result[k] = v
	}
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if p.TraceID != "" {
		result["trace_id"] = p.TraceID
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}
	return json.Marshal(result)
}

// FieldErrors converts validator failures into problem field errors. Other
// errors yield nil.
func FieldErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Value:   fe.Value(),
			Message: fmt.Sprintf("failed on %q", fe.Tag()),
			Code:    fe.Tag(),
		})
	}
	return out
}

// NewProblemDetails creates a generic problem details with all fields
func NewProblemDetails(problemType, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// NewValidationError creates a validation error problem. Validator failures
// in err are expanded into field errors.
func NewValidationError(err error, instance string) *ProblemDetails {
	p := NewProblemDetails(TypeValidationError, TitleValidationError, http.StatusBadRequest, err.Error(), instance)
	return p.WithValidationErrors(FieldErrors(err))
}

// NewNotFoundError creates a not found error problem
func NewNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeNotFound, TitleNotFound, http.StatusNotFound, detail, instance)
}

// NewPatternNotFoundError reports an unregistered detector name.
func NewPatternNotFoundError(name, instance string) *ProblemDetails {
	return NewProblemDetails(TypePatternNotFound, TitlePatternNotFound, http.StatusNotFound,
		fmt.Sprintf("pattern %q is not registered", name), instance).
		WithExtra("pattern", name)
}

func NewInvalidTradeError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInvalidTrade, TitleInvalidTrade, http.StatusUnprocessableEntity, detail, instance)
}

func NewInvalidConfigError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInvalidConfig, TitleInvalidConfig, http.StatusUnprocessableEntity, detail, instance)
}

// NewEngineUnavailableError is returned while the engine is not running.
func NewEngineUnavailableError(state, instance string) *ProblemDetails {
	return NewProblemDetails(TypeEngineUnavailable, TitleEngineUnavailable, http.StatusServiceUnavailable,
		"engine is "+state, instance).
		WithExtra("state", state)
}

// NewInternalError creates an internal server error problem
func NewInternalError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInternalError, TitleInternalError, http.StatusInternalServerError, detail, instance)
}
