package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/thingful/iotstevens/pkg/config"
)

type Dispatcher struct {
	mock.Mock
}

func (d *Dispatcher) Trigger(integrationID, action string, task *config.StationTask) (string, error) {
	args := d.Called(integrationID, action, task)
	return args.String(0), args.Error(1)
}
