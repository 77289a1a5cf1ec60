package models

import "claimreg/pkg/domain"

// Command is a request to mutate the registry. The host resolves Caller before
// a command reaches the service.
type Command interface {
	CommandName() string
	Signer() domain.AccountID
}

type CreateClaim struct {
	Caller domain.AccountID
	Claim  domain.ClaimKey
}

type RevokeClaim struct {
	Caller domain.AccountID
	Claim  domain.ClaimKey
}

type TransferClaim struct {
	Caller      domain.AccountID
	Claim       domain.ClaimKey
	Destination domain.AccountID
}

func (CreateClaim) CommandName() string   { return "create_claim" }
func (RevokeClaim) CommandName() string   { return "revoke_claim" }
func (TransferClaim) CommandName() string { return "transfer_claim" }

func (c CreateClaim) Signer() domain.AccountID   { return c.Caller }
func (c RevokeClaim) Signer() domain.AccountID   { return c.Caller }
func (c TransferClaim) Signer() domain.AccountID { return c.Caller }

// Result describes an applied command.
type Result struct {
	Command string
	Block   domain.BlockNumber
	Weight  uint64
}
