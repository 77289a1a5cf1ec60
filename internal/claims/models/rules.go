package models

import "claimreg/pkg/domain"

// Validation rules are pure: they look only at their arguments. The service
// evaluates them in a fixed order and stops at the first failure.

// LengthOK fails with ErrClaimTooLong when key is longer than maxKeyLength.
func LengthOK(key domain.ClaimKey, maxKeyLength int) error {
	if len(key) > maxKeyLength {
		return ErrClaimTooLong
	}
	return nil
}

// NotExists fails with ErrClaimAlreadyExists when the store already holds key.
func NotExists(exists bool) error {
	if exists {
		return ErrClaimAlreadyExists
	}
	return nil
}

// ExistsAndOwnedBy fails with ErrClaimNotFound when no record is present and
// with ErrNotClaimOwner when caller does not own it.
func ExistsAndOwnedBy(existing *Claim, caller domain.AccountID) error {
	if existing == nil {
		return ErrClaimNotFound
	}
	if existing.Owner != caller {
		return ErrNotClaimOwner
	}
	return nil
}

// CanCreate runs the create rules: length, then existence.
func CanCreate(key domain.ClaimKey, exists bool, maxKeyLength int) error {
	if err := LengthOK(key, maxKeyLength); err != nil {
		return err
	}
	return NotExists(exists)
}

// CanMutate runs the revoke/transfer rules: existence, then ownership.
func CanMutate(existing *Claim, caller domain.AccountID) error {
	return ExistsAndOwnedBy(existing, caller)
}
