package engine

import "errors"

// Error taxonomy surfaced to callers. Kept as package-level sentinels,
// following the const-block pattern used throughout the storage
// packages, so callers can errors.Is against a stable identity instead
// of matching strings.
var (
	ErrKeyInvalid        = errors.New("engine: key invalid")
	ErrIO                = errors.New("engine: io error")
	ErrSerializer        = errors.New("engine: value rejected by serializer")
	ErrScriptCompile     = errors.New("engine: script compile error")
	ErrScriptRuntime     = errors.New("engine: script runtime error")
	ErrScriptNotFound    = errors.New("engine: script not found")
	ErrBusy              = errors.New("engine: writer busy")
	ErrCorrupt           = errors.New("engine: hint file inconsistent with data file")
	ErrClosed            = errors.New("engine: already closed")
	ErrSecondaryIndexOff = errors.New("engine: no secondary index fields configured")
	ErrInvalidTTL        = errors.New("engine: ttl must be positive")
	ErrBatchAborted      = errors.New("engine: batch aborted before commit")
)
