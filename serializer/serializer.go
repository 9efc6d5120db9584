// Package serializer defines the value-serializer boundary the engine
// applies symmetrically to every user value: Plain (bytes passthrough)
// or JSON (validated-and-normalized).
package serializer

import (
	"encoding/json"
	"fmt"
)

// Serializer converts a value to and from its on-disk byte
// representation.
type Serializer interface {
	Serialize(value []byte) ([]byte, error)
	Deserialize(data []byte) ([]byte, error)
	Name() string
}

// ErrRejected is wrapped by a Serializer when a value fails validation.
type ErrRejected struct {
	Serializer string
	Cause      error
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("serializer(%s): value rejected: %v", e.Serializer, e.Cause)
}

func (e *ErrRejected) Unwrap() error { return e.Cause }

// Plain passes bytes through unchanged.
type Plain struct{}

func (Plain) Serialize(value []byte) ([]byte, error)  { return value, nil }
func (Plain) Deserialize(data []byte) ([]byte, error) { return data, nil }
func (Plain) Name() string                            { return "plain" }

// JSON validates that a value is well-formed JSON and re-encodes it in
// its compact form, so on-disk values are always in one canonical
// shape (whitespace normalized away).
type JSON struct{}

func (JSON) Serialize(value []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(value, &v); err != nil {
		return nil, &ErrRejected{Serializer: "json", Cause: err}
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, &ErrRejected{Serializer: "json", Cause: err}
	}
	return out, nil
}

func (JSON) Deserialize(data []byte) ([]byte, error) {
	return data, nil
}

func (JSON) Name() string { return "json" }

// ByName resolves a Serializer by its configuration name ("plain" or
// "json"). An unknown name defaults to Plain, matching the engine's
// zero-value Options.
func ByName(name string) Serializer {
	switch name {
	case "json":
		return JSON{}
	default:
		return Plain{}
	}
}
