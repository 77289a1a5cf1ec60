package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and the claims service translates them into registry errors.
//
//   - ErrNotFound: no record under the requested key
//   - ErrUnavailable: backend could not be reached
//   - ErrInvalidState: backend holds a value the store cannot decode
var (
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidState = errors.New("invalid state")
)
