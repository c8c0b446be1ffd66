package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stemsi/exstem-runner/internal/response"
)

// ErrUnexpectedShape is returned when a backend payload matches none of the
// response layouts the runner understands.
var ErrUnexpectedShape = errors.New("unexpected backend response shape")

// APIError is a non-success answer from the exam backend.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

// Unauthorized reports whether the backend rejected the credentials.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
