// Package json centralizes JSON encode/decode calls so call sites don't
// reach for encoding/json directly. Kept as a thin wrapper rather than a
// dedicated codec: nothing in this tree needs faster-than-stdlib JSON.
package json

import "encoding/json"

func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return json.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
