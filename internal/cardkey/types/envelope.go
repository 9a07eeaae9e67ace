package types

import "net/http"

// Code is the envelope result code returned to API clients.
type Code int

const (
	CodeSuccess           Code = 0
	CodeCardError         Code = 1
	CodeAPIDisabled       Code = 2
	CodeSystemError       Code = 3
	CodeInvalidCredential Code = 4
	CodeCardDisabled      Code = 5
)

// HTTPStatus is the fixed HTTP status paired with each code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeSuccess:
		return http.StatusOK
	case CodeCardError:
		return http.StatusBadRequest
	case CodeAPIDisabled, CodeCardDisabled:
		return http.StatusForbidden
	case CodeInvalidCredential:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

type Envelope struct {
	Code    Code   `json:"code"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
