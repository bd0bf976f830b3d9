package keystring

import "errors"

var (
	// ErrDecode indicates externally supplied key bytes that the safe
	// decoding path could not interpret.
	ErrDecode = errors.New("malformed key")

	// ErrVersion indicates a serialized key value with an unsupported
	// encoding version.
	ErrVersion = errors.New("unsupported key encoding version")
)
