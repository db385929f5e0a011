package wal

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Unmarshal decodes data into v keeping document numbers as json.Number.
// Plain float64 decoding would round integers above 2^53, which are common
// as document keys and counters.
func Unmarshal(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(v)
}
