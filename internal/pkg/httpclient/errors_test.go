package httpclient

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		status      int
		rateLimited bool
		auth        bool
		badRequest  bool
	}{
		{400, false, false, true},
		{401, false, true, false},
		{403, false, true, false},
		{429, true, false, false},
		{500, false, false, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			e := &Error{StatusCode: tt.status}
			require.Equal(t, tt.rateLimited, e.IsRateLimited())
			require.Equal(t, tt.auth, e.IsAuthError())
			require.Equal(t, tt.badRequest, e.IsBadRequest())
		})
	}
}

func TestErrorUnwrapsThroughAs(t *testing.T) {
	wrapped := fmt.Errorf("call failed: %w", &Error{StatusCode: 429, Method: "POST", URL: "http://x"})

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	require.True(t, e.IsRateLimited())
}
