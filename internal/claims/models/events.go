package models

import "claimreg/pkg/domain"

// EventKind names a registry event on the wire and in logs.
type EventKind string

const (
	EventClaimCreated     EventKind = "claim_created"
	EventClaimRevoked     EventKind = "claim_revoked"
	EventClaimTransferred EventKind = "claim_transferred"
)

// Event is emitted after a successful mutation. Observers consume events; the
// registry never reads them back.
type Event struct {
	Kind   EventKind
	Caller domain.AccountID
	Claim  domain.ClaimKey
	// Destination is set for EventClaimTransferred only.
	Destination domain.AccountID
	Block       domain.BlockNumber
}

func ClaimCreated(caller domain.AccountID, key domain.ClaimKey, block domain.BlockNumber) Event {
	return Event{Kind: EventClaimCreated, Caller: caller, Claim: key.Clone(), Block: block}
}

func ClaimRevoked(caller domain.AccountID, key domain.ClaimKey, block domain.BlockNumber) Event {
	return Event{Kind: EventClaimRevoked, Caller: caller, Claim: key.Clone(), Block: block}
}

func ClaimTransferred(caller domain.AccountID, key domain.ClaimKey, dest domain.AccountID, block domain.BlockNumber) Event {
	return Event{Kind: EventClaimTransferred, Caller: caller, Claim: key.Clone(), Destination: dest, Block: block}
}
