package httpclient

import (
	"fmt"
	"net/http"
)

type Error struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
	Body       []byte `json:"body"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s - %s with status %s", e.Method, e.URL, e.Status)
}

func (e *Error) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *Error) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func (e *Error) IsBadRequest() bool {
	return e.StatusCode == http.StatusBadRequest
}
