package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/thingful/iotstevens/pkg/state"
)

type Store struct {
	mock.Mock
}

func (s *Store) GetState(integrationID, actionID, sourceID string) (state.State, error) {
	args := s.Called(integrationID, actionID, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(state.State), args.Error(1)
}

func (s *Store) SetState(integrationID, actionID, sourceID string, st state.State) error {
	args := s.Called(integrationID, actionID, sourceID, st)
	return args.Error(0)
}
