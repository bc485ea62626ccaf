package response

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Response struct {
	ResponseError `json:"error,omitzero"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

//Error Codes
type ErrCode string

var (
	FAILED_REQUEST      ErrCode = "REQUEST_FAILED"
	BAD_REQUEST         ErrCode = "FAILED_TO_DECODE"
	NOT_FOUND           ErrCode = "NOT_FOUND"
	LOCKED              ErrCode = "LOCKED"
	CONFLICT            ErrCode = "CONFLICT"
	PERMISSION_DENIED   ErrCode = "PERMISSION_DENIED"
	INVALID_STATUS      ErrCode = "INVALID_STATUS"
	INVALID_KEY         ErrCode = "INVALID_KEY"
	CLOCK_UNAVAILABLE   ErrCode = "CLOCK_UNAVAILABLE"
	CATALOG_UNAVAILABLE ErrCode = "CATALOG_UNAVAILABLE"
	WRITE_CONFLICT      ErrCode = "WRITE_CONFLICT"
)

var (
	ErrBadRequest         = errors.New("bad request")
	ErrNotFound           = errors.New("resource not found")
	ErrLocked             = errors.New("resource is locked")
	ErrConflict           = errors.New("conflict")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidStatus      = errors.New("invalid attendance status")
	ErrInvalidKey         = errors.New("invalid record key")
	ErrClockUnavailable   = errors.New("server time unavailable")
	ErrCatalogUnavailable = errors.New("slot catalog unavailable")
	ErrWriteConflict      = errors.New("concurrent write conflict")
	ErrOverrideReason     = errors.New("override requires a non-empty reason")
)

// PermissionError carries the evaluator's human-readable reason to the HTTP
// boundary. "window not open yet", "window closed" and "wrong role" call for
// different corrective actions, so the reason is never collapsed into a
// generic forbidden message.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return "permission denied: " + e.Reason
}

func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}

func Denied(reason string) error {
	return &PermissionError{Reason: reason}
}

func Error(code, msg string) Response {
	return Response{
		ResponseError: ResponseError{
			Code:    code,
			Message: msg,
		},
	}
}

func ValidationError(errs validator.ValidationErrors) Response {
	var errMsg []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errMsg = append(errMsg, fmt.Sprintf("Field '%s' is required", err.Field()))
		case "min":
			errMsg = append(errMsg, fmt.Sprintf("Field '%s' must be at least %s characters long", err.Field(), err.Param()))
		case "max":
			errMsg = append(errMsg, fmt.Sprintf("Field '%s' must be at most %s characters long", err.Field(), err.Param()))
		case "oneof":
			errMsg = append(errMsg, fmt.Sprintf("Field '%s' must be one of [%s]", err.Field(), err.Param()))
		default:
			errMsg = append(errMsg, fmt.Sprintf("Field '%s' is invalid", err.Field()))
		}
	}

	return Error(string(BAD_REQUEST), strings.Join(errMsg, ", "))
}
