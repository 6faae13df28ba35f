package errcodes

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

const (
	CodeBadRequest          = "bad_request"
	CodeUnauthorised        = "unauthorised"
	CodeForbidden           = "forbidden"
	CodeNotFound            = "not_found"
	CodeThrottled           = "throttled"
	CodeInternalServerError = "internal_server_error"
	CodeClientError         = "client_error"
	CodeConnectionError     = "connection_error"
	CodeInvalidArgument     = "invalid_argument"
	CodeMalformedResponse   = "malformed_response"
)

// Error is a failure returned by a remote API (or raised before a request
// would have been sent, for invalid arguments). Response holds the raw error
// body and ResponseObj a best-effort JSON decoding of it.
type Error struct {
	HTTPCode    int
	Message     string
	Code        string
	Response    string
	ResponseObj map[string]interface{}
}

func (err *Error) Error() string {
	return err.Message
}

func (err *Error) String() string {
	return fmt.Sprintf("<%s; http_status=%d, msg=%q, error_response=%q>", err.Code, err.HTTPCode, err.Message, err.Response)
}

func (err *Error) As(target interface{}) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	te.HTTPCode = err.HTTPCode
	te.Message = err.Message
	te.Code = err.Code
	te.Response = err.Response
	te.ResponseObj = err.ResponseObj
	return true
}

func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.HTTPCode == err.HTTPCode &&
		te.Message == err.Message &&
		te.Code == err.Code
}

func newError(code string, httpCode int, msg, response string) *Error {
	e := &Error{
		HTTPCode: httpCode,
		Message:  msg,
		Code:     code,
		Response: response,
	}
	if response != "" {
		obj := map[string]interface{}{}
		if json.Unmarshal([]byte(response), &obj) == nil {
			e.ResponseObj = obj
		}
	}
	if e.ResponseObj == nil {
		e.ResponseObj = map[string]interface{}{}
	}
	return e
}

func BadRequest(httpCode int, msg, response string) error {
	return newError(CodeBadRequest, httpCode, msg, response)
}

func Unauthorised(msg, response string) error {
	return newError(CodeUnauthorised, http.StatusUnauthorized, msg, response)
}

func Forbidden(msg, response string) error {
	return newError(CodeForbidden, http.StatusForbidden, msg, response)
}

// NotFound is also used for `"result": "not_found"` bodies, which may arrive
// with any status code.
func NotFound(httpCode int, msg, response string) error {
	return newError(CodeNotFound, httpCode, msg, response)
}

func Throttled(msg, response string) error {
	return newError(CodeThrottled, http.StatusTooManyRequests, msg, response)
}

func InternalServerError(msg, response string) error {
	return newError(CodeInternalServerError, http.StatusInternalServerError, msg, response)
}

func ClientError(httpCode int, msg, response string) error {
	return newError(CodeClientError, httpCode, msg, response)
}

// ConnectionError wraps a transport level failure that survived every retry.
func ConnectionError(cause error) error {
	cause = errors.Cause(cause)
	return newError(CodeConnectionError, 0, fmt.Sprintf("%T %s", cause, cause), "")
}

// InvalidArgument is raised before any request is made.
func InvalidArgument(msg string) error {
	return newError(CodeInvalidArgument, 0, msg, "")
}

// MalformedResponse is returned when a successful response body does not
// match the expected record shape.
func MalformedResponse(msg, response string) error {
	return newError(CodeMalformedResponse, 0, msg, response)
}

// CodeOf returns the code of the first *Error in the chain, or "" if there is
// none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsNotFound(err error) bool        { return CodeOf(err) == CodeNotFound }
func IsForbidden(err error) bool       { return CodeOf(err) == CodeForbidden }
func IsUnauthorised(err error) bool    { return CodeOf(err) == CodeUnauthorised }
func IsThrottled(err error) bool       { return CodeOf(err) == CodeThrottled }
func IsConnectionError(err error) bool { return CodeOf(err) == CodeConnectionError }
func IsInvalidArgument(err error) bool { return CodeOf(err) == CodeInvalidArgument }
func IsMalformedResponse(err error) bool {
	return CodeOf(err) == CodeMalformedResponse
}
