package store

import "claimreg/pkg/platform/sentinel"

// ErrNotFound is returned by every backend when no claim exists under a key.
var ErrNotFound = sentinel.ErrNotFound
