// Package kibitz provides a Go client for the kibitz chat front door.
package kibitz

import (
	"encoding/json"
	"fmt"
)

// Error represents an error from the kibitz API with the HTTP status
// code and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("kibitz: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.StatusCode == 401
	}
	return false
}

// IsRateLimited returns true if the error is a 429.
func IsRateLimited(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.StatusCode == 429
	}
	return false
}

// decodeError turns a non-200 response body into an *Error. Bodies that
// are not the standard envelope still yield a usable error.
func decodeError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code == "" {
		return &Error{StatusCode: status, Code: "unknown", Message: string(body)}
	}
	return &Error{StatusCode: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
}
