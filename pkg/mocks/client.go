package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/thingful/iotstevens/pkg/stevens"
)

type Client struct {
	mock.Mock
}

func (c *Client) Authenticate(ctx context.Context, creds stevens.Credentials) (string, error) {
	args := c.Called(ctx, creds)
	return args.String(0), args.Error(1)
}

func (c *Client) GetConfigPacket(ctx context.Context, creds stevens.Credentials) (*stevens.Catalog, error) {
	args := c.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stevens.Catalog), args.Error(1)
}

func (c *Client) GetReadings(ctx context.Context, creds stevens.Credentials, projectID string, channels []stevens.Channel, start, stop time.Time, sensorName string) ([]stevens.ReadingGroup, error) {
	args := c.Called(ctx, creds, projectID, channels, start, stop, sensorName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]stevens.ReadingGroup), args.Error(1)
}
