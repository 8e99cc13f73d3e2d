// Package apperr defines the error taxonomy shared by both services.
// Handlers map a Kind to an HTTP status; anything unclassified is treated
// as an infrastructure failure and reported with a generic message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInfrastructure Kind = iota
	KindValidation
	KindBadRequest
	KindUnauthorized
	KindPermission
	KindNotFound
	KindConflict
)

func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func BadRequestf(format string, args ...any) error {
	return &Error{Kind: KindBadRequest, Msg: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Msg: fmt.Sprintf(format, args...)}
}

func Permissionf(format string, args ...any) error {
	return &Error{Kind: KindPermission, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Infra wraps a storage or connectivity failure. The wrapped detail is for
// logs only; callers see a generic message.
func Infra(err error) error {
	return &Error{Kind: KindInfrastructure, Err: err}
}

// KindOf classifies err, defaulting to KindInfrastructure for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// Detail returns the message safe to expose for err. Infrastructure errors
// get a generic message so no SQL or connection detail leaks.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInfrastructure {
		return e.Msg
	}
	return "internal server error"
}
