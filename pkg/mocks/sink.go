package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/thingful/iotstevens/pkg/sink"
)

type Sink struct {
	mock.Mock
}

func (s *Sink) Send(ctx context.Context, observations []sink.Observation, integrationID string) (int, error) {
	args := s.Called(ctx, observations, integrationID)
	return args.Int(0), args.Error(1)
}
