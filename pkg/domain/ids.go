// Package domain holds the value types shared by the registry and its host.
//
// Values are constructed via Parse* functions at trust boundaries; direct
// conversion skips validation and is reserved for tests and stores that read
// back values they wrote.
package domain

import (
	"bytes"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"

	dErrors "claimreg/pkg/domain-errors"
)

// AccountID identifies a caller in the host's identity space.
// Ownership checks compare AccountIDs by value.
type AccountID uuid.UUID

// ParseAccountID constructs an AccountID from external input.
//
// Errors: returns CodeInvalidInput when the value is empty, malformed, or the
// nil UUID.
func ParseAccountID(s string) (AccountID, error) {
	if s == "" {
		return AccountID{}, dErrors.New(dErrors.CodeInvalidInput, "account id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return AccountID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid account id")
	}
	if u == uuid.Nil {
		return AccountID{}, dErrors.New(dErrors.CodeInvalidInput, "account id cannot be nil")
	}
	return AccountID(u), nil
}

func (a AccountID) String() string { return uuid.UUID(a).String() }

// IsNil reports whether the id is the zero value.
func (a AccountID) IsNil() bool { return uuid.UUID(a) == uuid.Nil }

// ClaimKey is an opaque content identifier, typically a hash.
// No meaning is attached beyond byte equality and length.
type ClaimKey []byte

// ParseClaimKey decodes a hex encoded claim key from external input.
// An empty key is valid; the length bound is enforced by the registry.
func ParseClaimKey(s string) (ClaimKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claim must be hex encoded")
	}
	return ClaimKey(b), nil
}

// Hex returns the lowercase hex encoding of the key.
func (k ClaimKey) Hex() string { return hex.EncodeToString(k) }

func (k ClaimKey) String() string { return "0x" + k.Hex() }

// Equal reports byte equality.
func (k ClaimKey) Equal(other ClaimKey) bool { return bytes.Equal(k, other) }

// Clone returns a copy that does not alias k.
func (k ClaimKey) Clone() ClaimKey {
	if k == nil {
		return ClaimKey{}
	}
	return append(ClaimKey(nil), k...)
}

// BlockNumber is the host's logical timestamp. It never decreases.
type BlockNumber uint64

func (b BlockNumber) String() string { return strconv.FormatUint(uint64(b), 10) }
