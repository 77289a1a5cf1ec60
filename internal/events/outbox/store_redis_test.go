package outbox_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"claimreg/internal/claims/models"
	"claimreg/internal/claims/service"
	"claimreg/internal/claims/store"
	"claimreg/internal/clock"
	"claimreg/internal/events"
	"claimreg/internal/events/outbox"
	platformredis "claimreg/internal/platform/redis"
	"claimreg/pkg/domain"
	dErrors "claimreg/pkg/domain-errors"
)

// scriptedRedis answers commands without a server. Single commands see an
// empty keyspace; pipelines either commit, lose a WATCH race, or fail.
type scriptedRedis struct {
	mu        sync.Mutex
	conflicts int
	execErr   error
	entries   []redis.XMessage
	direct    []string
	attempted [][]string
	committed [][]string
}

func (f *scriptedRedis) DialHook(redis.DialHook) redis.DialHook {
	return func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("no redis server in unit tests")
	}
}

func (f *scriptedRedis) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.direct = append(f.direct, cmd.Name())
		switch c := cmd.(type) {
		case *redis.IntCmd:
			c.SetVal(0)
		case *redis.MapStringStringCmd:
			c.SetVal(map[string]string{})
		case *redis.XMessageSliceCmd:
			c.SetVal(f.entries)
		}
		return nil
	}
}

func (f *scriptedRedis) ProcessPipelineHook(redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(_ context.Context, cmds []redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		names := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			names = append(names, cmd.Name())
		}
		f.attempted = append(f.attempted, names)
		if f.conflicts > 0 {
			f.conflicts--
			return redis.TxFailedErr
		}
		if f.execErr != nil {
			return f.execErr
		}
		f.committed = append(f.committed, names)
		return nil
	}
}

func (f *scriptedRedis) directNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.direct...)
}

var (
	owner = domain.AccountID(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	other = domain.AccountID(uuid.MustParse("00000000-0000-0000-0000-000000000002"))
)

type RedisOutboxSuite struct {
	suite.Suite
	ctx     context.Context
	fake    *scriptedRedis
	client  *redis.Client
	outbox  *outbox.RedisStore
	service *service.Service
}

func TestRedisOutboxSuite(t *testing.T) {
	suite.Run(t, new(RedisOutboxSuite))
}

func (s *RedisOutboxSuite) SetupTest() {
	s.ctx = context.Background()
	s.fake = &scriptedRedis{}
	s.client = redis.NewClient(&redis.Options{Addr: "127.0.0.1:0", MaxRetries: -1})
	s.client.AddHook(s.fake)
	s.outbox = outbox.NewRedis(s.client, "")
	svc, err := service.New(store.NewRedis(s.client), clock.NewMemory(5), 16, service.WithEventSink(s.outbox))
	s.Require().NoError(err)
	s.service = svc
}

func (s *RedisOutboxSuite) TearDownTest() {
	_ = s.client.Close()
}

func (s *RedisOutboxSuite) TestEventCommitsInTheSameExecAsTheClaim() {
	s.Require().NoError(s.service.CreateClaim(s.ctx, owner, domain.ClaimKey{1, 2}))

	s.Require().Len(s.fake.committed, 1)
	s.Equal([]string{"multi", "del", "hset", "xadd", "exec"}, s.fake.committed[0])
	s.NotContains(s.fake.directNames(), "xadd")
}

func (s *RedisOutboxSuite) TestFailedExecLeavesNoEventBehind() {
	s.fake.execErr = errors.New("EXEC failed")

	err := s.service.CreateClaim(s.ctx, owner, domain.ClaimKey{1, 2})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	s.Empty(s.fake.committed)
	s.Require().Len(s.fake.attempted, 1)
	s.Contains(s.fake.attempted[0], "xadd")
	for _, name := range s.fake.directNames() {
		s.NotContains([]string{"xadd", "hset", "del"}, name, "no write may bypass the transaction")
	}
}

func (s *RedisOutboxSuite) TestLostWatchRaceReplaysTheCommand() {
	s.fake.conflicts = 1

	s.Require().NoError(s.service.CreateClaim(s.ctx, owner, domain.ClaimKey{7}))

	s.Len(s.fake.attempted, 2)
	s.Len(s.fake.committed, 1)
	watches := 0
	for _, name := range s.fake.directNames() {
		if name == "watch" {
			watches++
		}
	}
	s.Equal(2, watches, "each attempt re-reads the watched key")
}

func (s *RedisOutboxSuite) TestPersistentConflictGivesUp() {
	s.fake.conflicts = platformredis.DefaultTxAttempts

	err := s.service.CreateClaim(s.ctx, owner, domain.ClaimKey{7})
	s.Require().Error(err)
	s.ErrorIs(err, platformredis.ErrTxConflict)
	s.Empty(s.fake.committed)
}

func (s *RedisOutboxSuite) TestDrainDeletesOnlyPublishedEntries() {
	first := events.Message{EventID: uuid.New(), Kind: "claim_created", Key: "0x01", Value: []byte(`{}`)}
	s.fake.entries = []redis.XMessage{{
		ID: "1-0",
		Values: map[string]any{
			"event_id":     first.EventID.String(),
			"event_type":   first.Kind,
			"aggregate_id": first.Key,
			"payload":      string(first.Value),
		},
	}}

	_, err := s.outbox.Drain(s.ctx, 10, func(context.Context, []events.Message) error {
		return errors.New("broker down")
	})
	s.Require().Error(err)
	s.NotContains(s.fake.directNames(), "xdel")

	var got []events.Message
	n, err := s.outbox.Drain(s.ctx, 10, func(_ context.Context, msgs []events.Message) error {
		got = msgs
		return nil
	})
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal([]events.Message{first}, got)
	s.Contains(s.fake.directNames(), "xdel")
}

func (s *RedisOutboxSuite) TestEmitOutsideATransactionAppendsDirectly() {
	s.Require().NoError(s.outbox.Emit(s.ctx, models.ClaimCreated(other, domain.ClaimKey{3}, 2)))
	s.Contains(s.fake.directNames(), "xadd")
}
