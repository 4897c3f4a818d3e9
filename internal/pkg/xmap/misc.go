package xmap

import (
	"github.com/samber/lo"
)

// GetString extracts a string value from a map[string]any.
func GetString(m map[string]any, key string) string {
	if v := GetStringPtr(m, key); v != nil {
		return *v
	}

	return ""
}

// GetStringPtr extracts a *string value from a map[string]any.
func GetStringPtr(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}

	if v, ok := m[key]; ok {
		switch vv := v.(type) {
		case string:
			return lo.ToPtr(vv)
		case *string:
			return vv
		default:
			return nil
		}
	}

	return nil
}

// GetBool extracts a bool value from a map[string]any.
func GetBool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}

	if v, ok := m[key]; ok {
		switch vv := v.(type) {
		case bool:
			return vv
		case *bool:
			return vv != nil && *vv
		}
	}

	return false
}

// GetInt64 extracts an int64 value from a map[string]any.
func GetInt64(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}

	if v, ok := m[key]; ok {
		switch vv := v.(type) {
		case int64:
			return vv
		case int:
			return int64(vv)
		case *int64:
			if vv != nil {
				return *vv
			}
		}
	}

	return 0
}

// GetFloat64 extracts a float64 value from a map[string]any.
func GetFloat64(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}

	if v, ok := m[key]; ok {
		switch vv := v.(type) {
		case float64:
			return vv
		case *float64:
			if vv != nil {
				return *vv
			}
		}
	}

	return 0
}
