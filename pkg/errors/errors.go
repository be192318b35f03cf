package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict           = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrTimeout            = NewError("TIMEOUT", "operation timed out", http.StatusRequestTimeout)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
)

// Connector codes. Callers branch on Code, the message text is informational.
const (
	CodeEvidenceAlreadyRejected = "E101"
	CodeEvidenceDuplicate       = "E102"
	CodeEvidenceHigherPriority  = "E103"
	CodeLinkPartnerNotActive    = "L101"
	CodeLinkPartnerNotFound     = "L104"
	CodeNoRoutingTarget         = "R101"
	CodeTransportDispatch       = "T101"
	CodeInvalidAddressing       = "T102"
	CodeTimeoutProcessing       = "C101"
	CodeExpressionSyntax        = "X101"
	CodeInvalidPayload          = "M101"
	CodeConcurrentModification  = "M102"
)

var descriptions = map[string]string{
	CodeEvidenceAlreadyRejected: "evidence ignored, message already rejected",
	CodeEvidenceDuplicate:       "evidence ignored, max occurrence of evidence type reached",
	CodeEvidenceHigherPriority:  "evidence ignored, evidence with higher priority already present",
	CodeLinkPartnerNotActive:    "link partner is not active",
	CodeLinkPartnerNotFound:     "link partner not found",
	CodeNoRoutingTarget:         "no routing target could be resolved",
	CodeTransportDispatch:       "transport dispatch failed",
	CodeInvalidAddressing:       "message addressing invalid",
	CodeTimeoutProcessing:       "evidence timeout processing failed",
	CodeExpressionSyntax:        "expression syntax error",
	CodeInvalidPayload:          "invalid queue payload",
	CodeConcurrentModification:  "message was modified concurrently",
}

var (
	ErrLinkPartnerNotActive   = NewError(CodeLinkPartnerNotActive, descriptions[CodeLinkPartnerNotActive], http.StatusServiceUnavailable).AsRetryable()
	ErrLinkPartnerNotFound    = NewError(CodeLinkPartnerNotFound, descriptions[CodeLinkPartnerNotFound], http.StatusNotFound).AsRetryable()
	ErrNoRoutingTarget        = NewError(CodeNoRoutingTarget, descriptions[CodeNoRoutingTarget], http.StatusUnprocessableEntity).AsFatal()
	ErrTransportDispatch      = NewError(CodeTransportDispatch, descriptions[CodeTransportDispatch], http.StatusBadGateway).AsRetryable()
	ErrInvalidAddressing      = NewError(CodeInvalidAddressing, descriptions[CodeInvalidAddressing], http.StatusUnprocessableEntity).AsFatal()
	ErrTimeoutProcessing      = NewError(CodeTimeoutProcessing, descriptions[CodeTimeoutProcessing], http.StatusInternalServerError)
	ErrExpressionSyntax       = NewError(CodeExpressionSyntax, descriptions[CodeExpressionSyntax], http.StatusBadRequest).AsFatal()
	ErrInvalidPayload         = NewError(CodeInvalidPayload, descriptions[CodeInvalidPayload], http.StatusBadRequest).AsFatal()
	ErrConcurrentModification = NewError(CodeConcurrentModification, descriptions[CodeConcurrentModification], http.StatusConflict).AsRetryable()
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

// ErrorResponse is the JSON body returned by the management API on failure.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

// Describe returns the human readable description of a connector code.
func Describe(code string) string {
	return descriptions[code]
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on code so sentinel comparisons survive WithDetail copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return e.Code != ErrValidation.Code && e.Code != ErrNotFound.Code
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}

	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}

	return e.Code == ErrValidation.Code || e.Code == ErrNotFound.Code
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return e.WithDetail("message", fmt.Sprintf(format, args...))
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) WithDetails(details map[string]interface{}) *Error {
	err := *e
	err.Details = details
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

// CodeOf returns the code of the outermost *Error in the chain, or "".
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether err should be left to redelivery.
// Errors outside this package are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fatalErr FatalError
	if errors.As(err, &fatalErr) && fatalErr.IsFatal() {
		return false
	}
	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}
	return true
}

func IsNotFound(err error) bool {
	return HasCode(err, ErrNotFound.Code)
}

func IsValidation(err error) bool {
	return HasCode(err, ErrValidation.Code)
}

func IsConflict(err error) bool {
	return HasCode(err, ErrConflict.Code)
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) ErrorResponse {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := ErrorResponse{
		Error:     appErr.Error(),
		ErrorCode: appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response.Details = appErr.Details
	}

	return response
}
