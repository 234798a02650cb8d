package jsoncodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalString_NilMapIsEmptyObject(t *testing.T) {
	var m map[string]any
	s, err := MarshalString(m)
	require.NoError(t, err)
	assert.Equal(t, "{}", s)
}

func TestUnmarshal_NumbersDecodeAsFloat64(t *testing.T) {
	var v struct {
		Type     string         `json:"type"`
		Metadata map[string]any `json:"metadata"`
	}
	require.NoError(t, Unmarshal([]byte(`{"type":"track","metadata":{"stepSequence":3}}`), &v))
	assert.Equal(t, "track", v.Type)
	assert.Equal(t, float64(3), v.Metadata["stepSequence"])
}
