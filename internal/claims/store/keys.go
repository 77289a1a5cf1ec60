package store

import (
	"bytes"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"claimreg/pkg/domain"
)

const redisClaimPrefix = "claimreg:claim:"

// StorageKey derives the backend key for a claim: a 16-byte BLAKE2b digest of
// the claim followed by the claim itself. The digest spreads keys evenly
// across slots; the suffix keeps the mapping reversible.
func StorageKey(key domain.ClaimKey) []byte {
	h, err := blake2b.New(16, nil)
	if err != nil {
		// blake2b.New only fails for sizes outside 1..64 or oversized keys.
		panic(err)
	}
	_, _ = h.Write(key)
	out := h.Sum(make([]byte, 0, 16+len(key)))
	return append(out, key...)
}

// ClaimFromStorageKey recovers the claim from a StorageKey value.
func ClaimFromStorageKey(sk []byte) (domain.ClaimKey, bool) {
	if len(sk) < 16 {
		return nil, false
	}
	key := domain.ClaimKey(append([]byte(nil), sk[16:]...))
	if !bytes.Equal(StorageKey(key), sk) {
		return nil, false
	}
	return key, true
}

func redisKey(key domain.ClaimKey) string {
	return redisClaimPrefix + hex.EncodeToString(StorageKey(key))
}

