package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherArgs struct {
	City string `json:"city" jsonschema:"description=City name"`
	Days int    `json:"days,omitempty"`
}

func TestGenerate(t *testing.T) {
	out, err := Generate(weatherArgs{})
	require.NoError(t, err)

	assert.Equal(t, "object", out["type"])
	// Meta fields would be rejected by providers when embedded in requests.
	assert.NotContains(t, out, "$schema")
	assert.NotContains(t, out, "$id")

	props, ok := out["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "city")
	assert.Contains(t, props, "days")

	city := props["city"].(map[string]any)
	assert.Equal(t, "string", city["type"])
	assert.Equal(t, "City name", city["description"])

	required, ok := out["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "city")
	// omitempty fields are optional.
	assert.NotContains(t, required, "days")
}

func TestMustGenerate(t *testing.T) {
	out := MustGenerate(weatherArgs{})
	assert.Equal(t, "object", out["type"])
}

func TestValidate(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"name", "age"},
		"properties": map[string]any{
			"name":   map[string]any{"type": "string"},
			"age":    map[string]any{"type": "integer"},
			"score":  map[string]any{"type": "number"},
			"active": map[string]any{"type": "boolean"},
			"color":  map[string]any{"type": "string", "enum": []any{"red", "green"}},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}

	t.Run("valid document", func(t *testing.T) {
		doc := `{"name":"Ada","age":36,"score":9.5,"active":true,"color":"red","tags":["a","b"]}`
		assert.NoError(t, Validate(doc, schema))
	})

	t.Run("missing required field", func(t *testing.T) {
		err := Validate(`{"name":"Ada"}`, schema)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "age")
	})

	t.Run("wrong type", func(t *testing.T) {
		err := Validate(`{"name":42,"age":36}`, schema)
		assert.Error(t, err)
	})

	t.Run("non-integer where integer expected", func(t *testing.T) {
		err := Validate(`{"name":"Ada","age":36.5}`, schema)
		assert.Error(t, err)
	})

	t.Run("enum violation", func(t *testing.T) {
		err := Validate(`{"name":"Ada","age":36,"color":"blue"}`, schema)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "enum")
	})

	t.Run("bad array item", func(t *testing.T) {
		err := Validate(`{"name":"Ada","age":36,"tags":["a",1]}`, schema)
		assert.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		err := Validate(`{broken`, schema)
		assert.Error(t, err)
	})
}

func TestValidateAgainstStruct(t *testing.T) {
	// The schema argument may be a Go value; it is reflected on the fly.
	assert.NoError(t, Validate(`{"city":"Paris","days":3}`, weatherArgs{}))
	assert.Error(t, Validate(`{"days":3}`, weatherArgs{}))
}
