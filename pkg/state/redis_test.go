package state_test

import (
	"os"
	"testing"

	kitlog "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/suite"

	"github.com/thingful/iotstevens/pkg/state"
)

type RedisSuite struct {
	suite.Suite
	store *state.Redis
}

func (s *RedisSuite) SetupTest() {
	connStr := os.Getenv("IOTSTEVENS_REDIS_URL")
	if connStr == "" {
		s.T().Skip("IOTSTEVENS_REDIS_URL not set, skipping redis tests")
	}

	logger := kitlog.NewNopLogger()
	s.store = state.NewRedis(connStr, false, logger)

	err := s.store.Start()
	if err != nil {
		s.T().Fatalf("failed to start redis store: %v", err)
	}
}

func (s *RedisSuite) TearDownTest() {
	if s.store != nil {
		s.store.Stop()
	}
}

func (s *RedisSuite) TestRoundTrip() {
	err := s.store.SetState("int1", "pull_observations", "s1", state.State{
		"updated_at": "2024-01-04 10:00:00",
	})
	s.Nil(err)

	got, err := s.store.GetState("int1", "pull_observations", "s1")
	s.Nil(err)
	s.Equal(state.State{"updated_at": "2024-01-04 10:00:00"}, got)
}

func (s *RedisSuite) TestMissingKeyReturnsNil() {
	got, err := s.store.GetState("int1", "pull_observations", "missing")
	s.Nil(err)
	s.Nil(got)
}

func (s *RedisSuite) TestOverwrite() {
	err := s.store.SetState("int1", "pull_observations", "s2", state.State{
		"updated_at": "2024-01-01 00:00:00",
	})
	s.Nil(err)

	err = s.store.SetState("int1", "pull_observations", "s2", state.State{
		"updated_at": "2024-01-02 00:00:00",
	})
	s.Nil(err)

	got, err := s.store.GetState("int1", "pull_observations", "s2")
	s.Nil(err)
	s.Equal("2024-01-02 00:00:00", got["updated_at"])
}

func (s *RedisSuite) TestPing() {
	s.Nil(s.store.Ping())
}

func TestRedisSuite(t *testing.T) {
	suite.Run(t, new(RedisSuite))
}
