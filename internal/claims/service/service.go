package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"claimreg/internal/claims/metrics"
	"claimreg/internal/claims/models"
	"claimreg/internal/clock"
	"claimreg/pkg/domain"
	dErrors "claimreg/pkg/domain-errors"
	"claimreg/pkg/platform/sentinel"
	"claimreg/pkg/requestcontext"
)

// Store is the registry's key-value contract. It enforces no business rules:
// Insert overwrites and Remove of an absent key is a no-op.
type Store interface {
	Get(ctx context.Context, key domain.ClaimKey) (*models.Claim, error)
	Contains(ctx context.Context, key domain.ClaimKey) (bool, error)
	Insert(ctx context.Context, key domain.ClaimKey, owner domain.AccountID, block domain.BlockNumber) error
	Remove(ctx context.Context, key domain.ClaimKey) error
}

// StoreTx provides the atomic boundary for one command. Writes made inside fn
// are discarded when fn returns an error.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Clock supplies the host's current logical time. The service never advances it.
type Clock interface {
	Current(ctx context.Context) (domain.BlockNumber, error)
}

// EventSink records events for observers. A failing sink fails the command.
type EventSink interface {
	Emit(ctx context.Context, event models.Event) error
}

const (
	commandCreate   = "create_claim"
	commandRevoke   = "revoke_claim"
	commandTransfer = "transfer_claim"
)

var tracer = otel.Tracer("claimreg/internal/claims/service")

// Service applies registry commands. Each command validates every rule,
// then mutates the store, then emits its event, all inside one StoreTx.
type Service struct {
	store        Store
	tx           StoreTx
	clock        Clock
	maxKeyLength int
	sink         EventSink
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithEventSink sets where events go. Without one, events are dropped.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTx overrides the transaction boundary. By default the store is used
// when it implements StoreTx.
func WithTx(tx StoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

// New constructs a Service. maxKeyLength is fixed for the service lifetime.
// The store must implement StoreTx unless WithTx supplies the boundary, so a
// failing sink can always undo the write it follows.
func New(store Store, clk Clock, maxKeyLength int, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("claim store is required")
	}
	if clk == nil {
		return nil, errors.New("clock is required")
	}
	if maxKeyLength < 0 {
		return nil, errors.New("max key length must be non-negative")
	}
	s := &Service{store: store, clock: clk, maxKeyLength: maxKeyLength}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		tx, ok := store.(StoreTx)
		if !ok {
			return nil, errors.New("claim store does not support transactions; supply one with WithTx")
		}
		s.tx = tx
	}
	return s, nil
}

// MaxKeyLength returns the configured key bound.
func (s *Service) MaxKeyLength() int { return s.maxKeyLength }

// CreateClaim registers key under caller at the current block.
//
// Errors: ErrClaimTooLong, ErrClaimAlreadyExists, or CodeInternal when the
// store or sink fails.
func (s *Service) CreateClaim(ctx context.Context, caller domain.AccountID, key domain.ClaimKey) error {
	return s.run(ctx, commandCreate, caller, key, func(txCtx context.Context) (models.Event, error) {
		if err := models.LengthOK(key, s.maxKeyLength); err != nil {
			return models.Event{}, err
		}
		exists, err := s.store.Contains(txCtx, key)
		if err != nil {
			return models.Event{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check claim")
		}
		if err := models.NotExists(exists); err != nil {
			return models.Event{}, err
		}
		block, err := s.now(txCtx)
		if err != nil {
			return models.Event{}, err
		}
		if err := s.store.Insert(txCtx, key, caller, block); err != nil {
			return models.Event{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to insert claim")
		}
		return models.ClaimCreated(caller, key, block), nil
	})
}

// RevokeClaim removes key when caller owns it.
//
// Errors: ErrClaimNotFound, ErrNotClaimOwner, or CodeInternal.
func (s *Service) RevokeClaim(ctx context.Context, caller domain.AccountID, key domain.ClaimKey) error {
	return s.run(ctx, commandRevoke, caller, key, func(txCtx context.Context) (models.Event, error) {
		existing, err := s.find(txCtx, key)
		if err != nil {
			return models.Event{}, err
		}
		if err := models.ExistsAndOwnedBy(existing, caller); err != nil {
			return models.Event{}, err
		}
		block, err := s.now(txCtx)
		if err != nil {
			return models.Event{}, err
		}
		if err := s.store.Remove(txCtx, key); err != nil {
			return models.Event{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove claim")
		}
		return models.ClaimRevoked(caller, key, block), nil
	})
}

// TransferClaim hands key to dest at the current block when caller owns it.
// A ClaimTransferred event is emitted so observers see every ownership change.
//
// Errors: ErrClaimNotFound, ErrNotClaimOwner, or CodeInternal.
func (s *Service) TransferClaim(ctx context.Context, caller domain.AccountID, key domain.ClaimKey, dest domain.AccountID) error {
	return s.run(ctx, commandTransfer, caller, key, func(txCtx context.Context) (models.Event, error) {
		existing, err := s.find(txCtx, key)
		if err != nil {
			return models.Event{}, err
		}
		if err := models.ExistsAndOwnedBy(existing, caller); err != nil {
			return models.Event{}, err
		}
		block, err := s.now(txCtx)
		if err != nil {
			return models.Event{}, err
		}
		if err := s.store.Insert(txCtx, key, dest, block); err != nil {
			return models.Event{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to transfer claim")
		}
		return models.ClaimTransferred(caller, key, dest, block), nil
	})
}

// GetClaim returns the record for key, or ErrClaimNotFound.
func (s *Service) GetClaim(ctx context.Context, key domain.ClaimKey) (*models.Claim, error) {
	claim, err := s.find(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveLookup(claim != nil)
	}
	if claim == nil {
		return nil, models.ErrClaimNotFound
	}
	return claim, nil
}

// run wraps one command: it opens the transaction, emits the event returned
// by apply, and records logs, metrics and a span for the outcome.
func (s *Service) run(
	ctx context.Context,
	command string,
	caller domain.AccountID,
	key domain.ClaimKey,
	apply func(txCtx context.Context) (models.Event, error),
) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "claims."+command, trace.WithAttributes(
		attribute.String("claim.key", key.Hex()),
		attribute.String("claim.caller", caller.String()),
	))
	defer span.End()

	var event models.Event
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		ev, err := apply(txCtx)
		if err != nil {
			return err
		}
		if s.sink != nil {
			if err := s.sink.Emit(txCtx, ev); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to emit claim event")
			}
		}
		event = ev
		return nil
	})
	var coded *dErrors.Error
	if err != nil && !errors.As(err, &coded) {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit claim command")
	}

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
		span.SetStatus(codes.Error, err.Error())
		s.logRejected(ctx, command, caller, key, err)
	} else {
		span.SetAttributes(attribute.Int64("claim.block", int64(event.Block)))
		s.logAudit(ctx, event)
	}
	span.SetAttributes(attribute.String("claim.outcome", outcome))
	if s.metrics != nil {
		s.metrics.ObserveCommand(command, outcome, start)
	}
	return err
}

// find returns nil, nil when the key is absent.
func (s *Service) find(ctx context.Context, key domain.ClaimKey) (*models.Claim, error) {
	claim, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load claim")
	}
	return claim, nil
}

// now prefers the block the host dispatched the command in.
func (s *Service) now(ctx context.Context) (domain.BlockNumber, error) {
	if block, ok := clock.DispatchBlock(ctx); ok {
		return block, nil
	}
	block, err := s.clock.Current(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read logical clock")
	}
	return block, nil
}

func (s *Service) logAudit(ctx context.Context, event models.Event) {
	if s.logger == nil {
		return
	}
	args := []any{
		"event", string(event.Kind),
		"log_type", "audit",
		"caller", event.Caller.String(),
		"claim", event.Claim.Hex(),
		"block", uint64(event.Block),
	}
	if event.Kind == models.EventClaimTransferred {
		args = append(args, "destination", event.Destination.String())
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		args = append(args, "client_ip", ip, "user_agent", requestcontext.UserAgent(ctx))
	}
	s.logger.InfoContext(ctx, string(event.Kind), args...)
}

func (s *Service) logRejected(ctx context.Context, command string, caller domain.AccountID, key domain.ClaimKey, err error) {
	if s.logger == nil {
		return
	}
	args := []any{
		"command", command,
		"caller", caller.String(),
		"claim", key.Hex(),
		"error", err.Error(),
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if dErrors.HasCode(err, dErrors.CodeInternal) {
		s.logger.ErrorContext(ctx, "claim command failed", args...)
		return
	}
	s.logger.InfoContext(ctx, "claim command rejected", args...)
}
