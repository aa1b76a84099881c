package moodle

import (
	"bytes"
	"errors"

	"github.com/bytedance/sonic"
)

var (
	// ErrNoPlan is returned when packaging is requested before enumeration
	ErrNoPlan = errors.New("no files enumerated for download")

	// ErrNotAuthenticated is returned by calls that need a token
	ErrNotAuthenticated = errors.New("not authenticated")
)

// APIError is a failure reported by the LMS itself. Its message is the
// LMS's own wording, suitable for showing to the user.
type APIError struct {
	Function  string `json:"-"`
	Exception string `json:"exception"`
	Code      string `json:"errorcode"`
	Message   string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return e.Exception
}

// IsInvalidToken reports whether err means the token is no longer accepted
func IsInvalidToken(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case "invalidtoken", "accessexception":
		return true
	}
	return false
}

// tokenError is the envelope of a failed login/token.php request
type tokenError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorcode"`
}

// decodeException extracts the exception envelope from a web service
// response. Successful responses yield nil.
func decodeException(function string, body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var apiErr APIError
	if err := sonic.Unmarshal(trimmed, &apiErr); err != nil {
		return nil
	}
	if apiErr.Exception == "" && apiErr.Code == "" {
		return nil
	}
	apiErr.Function = function
	return &apiErr
}
