// Package host embeds the claim registry in a sequential ledger: commands are
// applied one at a time, each in its own block.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"claimreg/internal/claims/models"
	"claimreg/internal/clock"
	"claimreg/pkg/domain"
	dErrors "claimreg/pkg/domain-errors"
)

// Registry is the command surface the ledger dispatches to.
type Registry interface {
	CreateClaim(ctx context.Context, caller domain.AccountID, key domain.ClaimKey) error
	RevokeClaim(ctx context.Context, caller domain.AccountID, key domain.ClaimKey) error
	TransferClaim(ctx context.Context, caller domain.AccountID, key domain.ClaimKey, dest domain.AccountID) error
}

// Ledger is the single writer in front of the registry within one process.
// Instances sharing a durable backend rely on the store's per-key exclusion
// and on each command carrying its own dispatch block.
type Ledger struct {
	mu       sync.Mutex
	clock    clock.Sequencer
	registry Registry
	logger   *slog.Logger
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func NewLedger(seq clock.Sequencer, registry Registry, opts ...Option) *Ledger {
	l := &Ledger{clock: seq, registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Apply advances the clock by one block and dispatches cmd within it.
// The block is consumed and the weight charged even when the registry
// rejects the command; the returned Result is valid in both cases.
func (l *Ledger) Apply(ctx context.Context, cmd models.Command) (models.Result, error) {
	if cmd == nil {
		return models.Result{}, dErrors.New(dErrors.CodeBadRequest, "command is required")
	}
	if cmd.Signer().IsNil() {
		return models.Result{}, dErrors.New(dErrors.CodeUnauthorized, "command must be signed")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return models.Result{}, err
	}
	block, err := l.clock.Advance(ctx)
	if err != nil {
		return models.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to advance block")
	}
	result := models.Result{Command: cmd.CommandName(), Block: block, Weight: models.DispatchWeight}
	ctx = clock.WithDispatchBlock(ctx, block)

	switch c := cmd.(type) {
	case models.CreateClaim:
		err = l.registry.CreateClaim(ctx, c.Caller, c.Claim)
	case models.RevokeClaim:
		err = l.registry.RevokeClaim(ctx, c.Caller, c.Claim)
	case models.TransferClaim:
		err = l.registry.TransferClaim(ctx, c.Caller, c.Claim, c.Destination)
	default:
		err = dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown command %q", cmd.CommandName()))
	}
	if err != nil {
		l.logger.DebugContext(ctx, "command rejected",
			"command", result.Command,
			"block", uint64(block),
			"error", err,
		)
	}
	return result, err
}

// Current returns the last produced block.
func (l *Ledger) Current(ctx context.Context) (domain.BlockNumber, error) {
	return l.clock.Current(ctx)
}
