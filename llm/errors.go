package llm

import (
	"fmt"
	"net/http"
)

// ErrorType classifies failures so callers can branch on the category
// instead of string-matching messages.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeProvider
	ErrorTypeRequest
	ErrorTypeResponse
	ErrorTypeAPI
	ErrorTypeRateLimit
	ErrorTypeAuthentication
	ErrorTypeInvalidInput
	ErrorTypeToolExecution
	ErrorTypeToolLoop
)

// LLMError represents an error in the llm package.
type LLMError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.TypeString(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.TypeString(), e.Message)
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

func (e *LLMError) TypeString() string {
	switch e.Type {
	case ErrorTypeProvider:
		return "ProviderError"
	case ErrorTypeRequest:
		return "RequestError"
	case ErrorTypeResponse:
		return "ResponseError"
	case ErrorTypeAPI:
		return "APIError"
	case ErrorTypeRateLimit:
		return "RateLimitError"
	case ErrorTypeAuthentication:
		return "AuthenticationError"
	case ErrorTypeInvalidInput:
		return "InvalidInputError"
	case ErrorTypeToolExecution:
		return "ToolExecutionError"
	case ErrorTypeToolLoop:
		return "ToolLoopError"
	default:
		return "UnknownError"
	}
}

// NewLLMError creates a new LLMError.
func NewLLMError(errType ErrorType, message string, err error) *LLMError {
	return &LLMError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// errorFromStatus maps a non-2xx HTTP status to the error taxonomy.
func errorFromStatus(statusCode int, body []byte) *LLMError {
	msg := fmt.Sprintf("API error: status code %d", statusCode)
	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewLLMError(ErrorTypeRateLimit, msg, nil)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewLLMError(ErrorTypeAuthentication, msg, nil)
	case statusCode >= 400 && statusCode < 500:
		return NewLLMError(ErrorTypeInvalidInput, fmt.Sprintf("%s: %s", msg, string(body)), nil)
	default:
		return NewLLMError(ErrorTypeAPI, msg, nil)
	}
}

// isRetryable reports whether an attempt-level failure is worth retrying.
// Client-side request construction errors and 4xx rejections are terminal;
// rate limits, 5xx and transport errors are not.
func isRetryable(err error) bool {
	llmErr, ok := err.(*LLMError)
	if !ok {
		return true
	}
	switch llmErr.Type {
	case ErrorTypeAuthentication, ErrorTypeInvalidInput, ErrorTypeResponse:
		return false
	default:
		return true
	}
}
