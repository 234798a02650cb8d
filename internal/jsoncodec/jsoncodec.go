// Package jsoncodec is the JSON encoder used for request bodies and stored
// metadata. It is configured to behave like encoding/json.
package jsoncodec

import "github.com/bytedance/sonic"

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// MarshalString encodes v and returns it as a string, using "{}" for nil maps.
func MarshalString(v any) (string, error) {
	if m, ok := v.(map[string]any); ok && m == nil {
		return "{}", nil
	}
	b, err := api.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
