package vertex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertSchema(t *testing.T) {
	raw := []byte(`{
		"type": "object",
		"description": "brand report",
		"properties": {
			"brand": {"type": "string"},
			"rank": {"type": "integer"},
			"score": {"type": "number"},
			"cited": {"type": "boolean"},
			"tier": {"type": "string", "enum": ["top", "mid", 3]},
			"sources": {"type": "array", "items": {"type": "string", "format": "uri"}}
		},
		"required": ["brand", "rank"]
	}`)

	got, err := ConvertSchema(raw)
	require.NoError(t, err)

	require.Equal(t, "OBJECT", got.Type)
	require.Equal(t, "brand report", got.Description)
	require.Equal(t, []string{"brand", "rank"}, got.Required)
	require.Equal(t, "STRING", got.Properties["brand"].Type)
	require.Equal(t, "INTEGER", got.Properties["rank"].Type)
	require.Equal(t, "NUMBER", got.Properties["score"].Type)
	require.Equal(t, "BOOLEAN", got.Properties["cited"].Type)
	require.Equal(t, []string{"top", "mid", "3"}, got.Properties["tier"].Enum)
	require.Equal(t, "ARRAY", got.Properties["sources"].Type)
	require.Equal(t, "STRING", got.Properties["sources"].Items.Type)
	require.Equal(t, "uri", got.Properties["sources"].Items.Format)
}

func TestConvertSchemaUnknownTypeDegradesToString(t *testing.T) {
	got, err := ConvertSchema([]byte(`{"type": "object", "properties": {"blob": {}}}`))
	require.NoError(t, err)
	require.Equal(t, "STRING", got.Properties["blob"].Type)
}

func TestConvertSchemaMalformed(t *testing.T) {
	_, err := ConvertSchema([]byte(`{"type": 12}`))
	require.Error(t, err)
}
