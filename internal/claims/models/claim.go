package models

import (
	"claimreg/pkg/domain"
	dErrors "claimreg/pkg/domain-errors"
)

// Claim is the registry's view of a key: who owns it and the block at which
// it was created or last transferred.
type Claim struct {
	Key   domain.ClaimKey
	Owner domain.AccountID
	Block domain.BlockNumber
}

// Registry failure kinds. Each is returned as-is by the service so callers can
// match with errors.Is; the codes drive transport mapping.
var (
	ErrClaimTooLong       = dErrors.New(dErrors.CodeValidation, "claim exceeds the maximum key length")
	ErrClaimAlreadyExists = dErrors.New(dErrors.CodeConflict, "claim already exists")
	ErrClaimNotFound      = dErrors.New(dErrors.CodeNotFound, "claim not found")
	ErrNotClaimOwner      = dErrors.New(dErrors.CodeForbidden, "caller is not the claim owner")
)

// DispatchWeight is the fixed cost reported for every registry command.
const DispatchWeight uint64 = 10_000
