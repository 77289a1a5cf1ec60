package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"claimreg/internal/claims/models"
	"claimreg/internal/claims/service/mocks"
	"claimreg/internal/claims/store"
	"claimreg/pkg/domain"
	dErrors "claimreg/pkg/domain-errors"
	"claimreg/pkg/platform/sentinel"
)

// ServiceFailureSuite drives the service against mocks to cover
// infrastructure failures. Unexpected calls fail the test, which also
// asserts that no mutation happens before every rule has passed.
type ServiceFailureSuite struct {
	suite.Suite
	ctx   context.Context
	ctrl  *gomock.Controller
	store *mocks.MockStore
	clock *mocks.MockClock
	sink  *mocks.MockEventSink
	svc   *Service
}

func TestServiceFailureSuite(t *testing.T) {
	suite.Run(t, new(ServiceFailureSuite))
}

func (s *ServiceFailureSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.clock = mocks.NewMockClock(s.ctrl)
	s.sink = mocks.NewMockEventSink(s.ctrl)
	svc, err := New(s.store, s.clock, 4, WithEventSink(s.sink), WithTx(directTx{}))
	s.Require().NoError(err)
	s.svc = svc
}

// directTx runs the callback without a boundary; mocks see every call.
type directTx struct{}

func (directTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *ServiceFailureSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceFailureSuite) TestTooLongKeyTouchesNothing() {
	err := s.svc.CreateClaim(s.ctx, alice, domain.ClaimKey{1, 2, 3, 4, 5})
	s.ErrorIs(err, models.ErrClaimTooLong)
}

func (s *ServiceFailureSuite) TestExistingClaimIsNotOverwritten() {
	key := domain.ClaimKey{1}
	s.store.EXPECT().Contains(gomock.Any(), key).Return(true, nil)

	err := s.svc.CreateClaim(s.ctx, bob, key)
	s.ErrorIs(err, models.ErrClaimAlreadyExists)
}

func (s *ServiceFailureSuite) TestStoreReadFailureIsInternal() {
	key := domain.ClaimKey{1}
	s.store.EXPECT().Contains(gomock.Any(), key).Return(false, sentinel.ErrUnavailable)

	err := s.svc.CreateClaim(s.ctx, alice, key)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.ErrorIs(err, sentinel.ErrUnavailable)
}

func (s *ServiceFailureSuite) TestClockFailureStopsBeforeInsert() {
	key := domain.ClaimKey{1}
	s.store.EXPECT().Contains(gomock.Any(), key).Return(false, nil)
	s.clock.EXPECT().Current(gomock.Any()).Return(domain.BlockNumber(0), errors.New("clock offline"))

	err := s.svc.CreateClaim(s.ctx, alice, key)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceFailureSuite) TestInsertFailureEmitsNothing() {
	key := domain.ClaimKey{1}
	s.store.EXPECT().Get(gomock.Any(), key).Return(&models.Claim{Key: key, Owner: alice, Block: 1}, nil)
	s.clock.EXPECT().Current(gomock.Any()).Return(domain.BlockNumber(2), nil)
	s.store.EXPECT().Insert(gomock.Any(), key, bob, domain.BlockNumber(2)).Return(sentinel.ErrUnavailable)

	err := s.svc.TransferClaim(s.ctx, alice, key, bob)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceFailureSuite) TestGetFailureIsNotMistakenForAbsence() {
	key := domain.ClaimKey{1}
	s.store.EXPECT().Get(gomock.Any(), key).Return(nil, errors.New("connection reset"))

	err := s.svc.RevokeClaim(s.ctx, alice, key)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.NotErrorIs(err, models.ErrClaimNotFound)
}

func (s *ServiceFailureSuite) TestRevokeOrderOfCalls() {
	key := domain.ClaimKey{3}
	gomock.InOrder(
		s.store.EXPECT().Get(gomock.Any(), key).Return(&models.Claim{Key: key, Owner: alice, Block: 1}, nil),
		s.clock.EXPECT().Current(gomock.Any()).Return(domain.BlockNumber(5), nil),
		s.store.EXPECT().Remove(gomock.Any(), key).Return(nil),
		s.sink.EXPECT().Emit(gomock.Any(), models.ClaimRevoked(alice, key, 5)).Return(nil),
	)

	s.Require().NoError(s.svc.RevokeClaim(s.ctx, alice, key))
}

func (s *ServiceFailureSuite) TestStoreWithoutTransactionsIsRejected() {
	_, err := New(s.store, s.clock, 4, WithEventSink(s.sink))
	s.Require().Error(err)
	s.Contains(err.Error(), "WithTx")
}

func (s *ServiceFailureSuite) TestCustomTxWrapsCommand() {
	tx := mocks.NewMockStoreTx(s.ctrl)
	svc, err := New(s.store, s.clock, 4, WithEventSink(s.sink), WithTx(tx))
	s.Require().NoError(err)

	aborted := errors.New("serialization failure")
	tx.EXPECT().RunInTx(gomock.Any(), gomock.Any()).Return(aborted)

	err = svc.CreateClaim(s.ctx, alice, domain.ClaimKey{1})
	s.ErrorIs(err, aborted)
}

// A failing sink must roll back the write it follows.
func (s *ServiceFailureSuite) TestSinkFailureRollsBackStore() {
	mem := store.NewInMemory()
	s.clock.EXPECT().Current(gomock.Any()).Return(domain.BlockNumber(3), nil).AnyTimes()
	svc, err := New(mem, s.clock, 4, WithEventSink(s.sink))
	s.Require().NoError(err)

	key := domain.ClaimKey{9}
	s.sink.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	err = svc.CreateClaim(s.ctx, alice, key)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	found, err := mem.Contains(s.ctx, key)
	s.Require().NoError(err)
	s.False(found)
}

func (s *ServiceFailureSuite) TestCommitFailureIsInternal() {
	tx := mocks.NewMockStoreTx(s.ctrl)
	svc, err := New(s.store, s.clock, 4, WithTx(tx))
	s.Require().NoError(err)

	commit := errors.New("EXEC failed")
	tx.EXPECT().RunInTx(gomock.Any(), gomock.Any()).Return(commit)

	err = svc.RevokeClaim(s.ctx, alice, domain.ClaimKey{1})
	s.ErrorIs(err, commit)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}
