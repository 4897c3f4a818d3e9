package xmap

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestGetString(t *testing.T) {
	m := map[string]any{"a": "x", "b": lo.ToPtr("y"), "c": 3}

	require.Equal(t, "x", GetString(m, "a"))
	require.Equal(t, "y", GetString(m, "b"))
	require.Equal(t, "", GetString(m, "c"))
	require.Equal(t, "", GetString(m, "missing"))
	require.Equal(t, "", GetString(nil, "a"))
}

func TestGetBool(t *testing.T) {
	m := map[string]any{"a": true, "b": lo.ToPtr(false), "c": "true"}

	require.True(t, GetBool(m, "a"))
	require.False(t, GetBool(m, "b"))
	require.False(t, GetBool(m, "c"))
	require.False(t, GetBool(nil, "a"))
}

func TestGetInt64(t *testing.T) {
	m := map[string]any{"a": int64(5), "b": 7, "c": lo.ToPtr(int64(9)), "d": "11"}

	require.Equal(t, int64(5), GetInt64(m, "a"))
	require.Equal(t, int64(7), GetInt64(m, "b"))
	require.Equal(t, int64(9), GetInt64(m, "c"))
	require.Equal(t, int64(0), GetInt64(m, "d"))
}

func TestGetFloat64(t *testing.T) {
	m := map[string]any{"a": 1.5, "b": lo.ToPtr(2.5)}

	require.Equal(t, 1.5, GetFloat64(m, "a"))
	require.Equal(t, 2.5, GetFloat64(m, "b"))
	require.Equal(t, 0.0, GetFloat64(m, "missing"))
}
