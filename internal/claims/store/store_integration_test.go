//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"claimreg/internal/claims/models"
	"claimreg/internal/claims/service"
	"claimreg/internal/claims/store"
	"claimreg/internal/clock"
	"claimreg/internal/events"
	"claimreg/pkg/domain"
	"claimreg/pkg/platform/sentinel"
	"claimreg/pkg/testutil/containers"
)

// backend is the store surface shared by every durable implementation.
type backend interface {
	service.Store
	service.StoreTx
}

// BackendSuite runs the same contract against each durable store.
type BackendSuite struct {
	suite.Suite
	ctx   context.Context
	reset func(ctx context.Context) error
	store backend
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := new(BackendSuite)
	s.ctx = context.Background()
	pg := containers.GetManager().GetPostgres(t)
	s.store = store.NewPostgres(pg.DB)
	s.reset = func(ctx context.Context) error { return pg.TruncateTables(ctx, "claims", "claim_outbox") }
	suite.Run(t, s)
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := new(BackendSuite)
	s.ctx = context.Background()
	rc := containers.GetManager().GetRedis(t)
	s.store = store.NewRedis(rc.Client)
	s.reset = rc.FlushAll
	suite.Run(t, s)
}

func (s *BackendSuite) SetupTest() {
	s.Require().NoError(s.reset(s.ctx))
}

func (s *BackendSuite) TestInsertGetRemove() {
	owner := domain.AccountID(uuid.New())
	key := domain.ClaimKey{0x00, 0x01, 0xff}

	_, err := s.store.Get(s.ctx, key)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.Insert(s.ctx, key, owner, 42))
	got, err := s.store.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(owner, got.Owner)
	s.Equal(domain.BlockNumber(42), got.Block)
	s.True(got.Key.Equal(key))

	dest := domain.AccountID(uuid.New())
	s.Require().NoError(s.store.Insert(s.ctx, key, dest, 43))
	got, err = s.store.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(dest, got.Owner)

	s.Require().NoError(s.store.Remove(s.ctx, key))
	ok, err := s.store.Contains(s.ctx, key)
	s.Require().NoError(err)
	s.False(ok)

	s.NoError(s.store.Remove(s.ctx, key), "removing an absent key is a no-op")
}

func (s *BackendSuite) TestEmptyKeyIsDistinct() {
	owner := domain.AccountID(uuid.New())
	s.Require().NoError(s.store.Insert(s.ctx, domain.ClaimKey{}, owner, 1))

	ok, err := s.store.Contains(s.ctx, domain.ClaimKey{0})
	s.Require().NoError(err)
	s.False(ok)

	ok, err = s.store.Contains(s.ctx, domain.ClaimKey{})
	s.Require().NoError(err)
	s.True(ok)
}

func (s *BackendSuite) TestRunInTxDiscardsOnError() {
	key := domain.ClaimKey{9}
	boom := errors.New("abort")

	err := s.store.RunInTx(s.ctx, func(txCtx context.Context) error {
		if err := s.store.Insert(txCtx, key, domain.AccountID(uuid.New()), 1); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	ok, err := s.store.Contains(s.ctx, key)
	s.Require().NoError(err)
	s.False(ok)
}

// The registry scenarios hold on every backend.
func (s *BackendSuite) TestRegistryScenarios() {
	seq := clock.NewMemory(100)
	log := events.NewLog()
	svc, err := service.New(s.store, seq, 4, service.WithEventSink(log))
	s.Require().NoError(err)

	one := domain.AccountID(uuid.New())
	two := domain.AccountID(uuid.New())
	key := domain.ClaimKey{1, 2}

	s.Require().NoError(svc.CreateClaim(s.ctx, one, key))
	s.ErrorIs(svc.CreateClaim(s.ctx, two, key), models.ErrClaimAlreadyExists)
	s.ErrorIs(svc.RevokeClaim(s.ctx, two, key), models.ErrNotClaimOwner)

	got, err := svc.GetClaim(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(one, got.Owner)
	s.Equal(domain.BlockNumber(100), got.Block)

	_, err = seq.Advance(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(svc.TransferClaim(s.ctx, one, key, two))
	got, err = svc.GetClaim(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(two, got.Owner)
	s.Equal(domain.BlockNumber(101), got.Block)

	s.ErrorIs(svc.CreateClaim(s.ctx, one, domain.ClaimKey{1, 2, 3, 4, 5}), models.ErrClaimTooLong)

	s.Require().NoError(svc.RevokeClaim(s.ctx, two, key))
	_, err = svc.GetClaim(s.ctx, key)
	s.ErrorIs(err, models.ErrClaimNotFound)

	kinds := []models.EventKind{}
	for _, ev := range log.Events() {
		kinds = append(kinds, ev.Kind)
	}
	s.Equal([]models.EventKind{
		models.EventClaimCreated,
		models.EventClaimTransferred,
		models.EventClaimRevoked,
	}, kinds)
}

// Instances sharing a backend each run without a process lock; the store
// alone must stop a second create of the same key.
func (s *BackendSuite) TestConcurrentCreatesAcrossInstancesHaveOneWinner() {
	seq := clock.NewMemory(1)
	instances := make([]*service.Service, 2)
	for i := range instances {
		svc, err := service.New(s.store, seq, 4)
		s.Require().NoError(err)
		instances[i] = svc
	}

	key := domain.ClaimKey{8, 8}
	callers := make([]domain.AccountID, 8)
	errs := make([]error, len(callers))
	var wg sync.WaitGroup
	for i := range callers {
		callers[i] = domain.AccountID(uuid.New())
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = instances[i%len(instances)].CreateClaim(s.ctx, callers[i], key)
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			s.Equal(-1, winner, "more than one create succeeded")
			winner = i
			continue
		}
		s.ErrorIs(err, models.ErrClaimAlreadyExists)
	}
	s.Require().NotEqual(-1, winner)

	got, err := instances[0].GetClaim(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(callers[winner], got.Owner)
}

// A failing sink rolls back the store write on durable backends too.
func (s *BackendSuite) TestSinkFailureRollsBack() {
	svc, err := service.New(s.store, clock.NewMemory(1), 4, service.WithEventSink(events.Multi{failSink{}}))
	s.Require().NoError(err)

	key := domain.ClaimKey{5}
	s.Error(svc.CreateClaim(s.ctx, domain.AccountID(uuid.New()), key))

	ok, err := s.store.Contains(s.ctx, key)
	s.Require().NoError(err)
	s.False(ok)
}

type failSink struct{}

func (failSink) Emit(context.Context, models.Event) error { return errors.New("sink down") }
