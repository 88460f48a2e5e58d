package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/wattwatch/wattwatch/pkg/storage"
	"github.com/wattwatch/wattwatch/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context, streamID string) (types.Settings, int, error) {
	args := m.Called(ctx, streamID)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, streamID string, settings types.Settings, version int) error {
	args := m.Called(ctx, streamID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) InsertInsight(ctx context.Context, streamID string, insight types.Insight) error {
	args := m.Called(ctx, streamID, insight)
	return args.Error(0)
}

func (m *MockDatabase) GetInsightHistory(ctx context.Context, streamID string, kind types.InsightKind, start, end time.Time) ([]types.Insight, error) {
	args := m.Called(ctx, streamID, kind, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Insight), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestInsight(ctx context.Context, streamID string, kind types.InsightKind) (*types.Insight, error) {
	args := m.Called(ctx, streamID, kind)
	if len(args) > 0 {
		ins, _ := args.Get(0).(*types.Insight)
		return ins, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) ListDevices(ctx context.Context, streamID string) ([]types.Device, error) {
	args := m.Called(ctx, streamID)
	if len(args) > 0 {
		return args.Get(0).([]types.Device), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetDevice(ctx context.Context, streamID, deviceID string) (types.Device, error) {
	args := m.Called(ctx, streamID, deviceID)
	if len(args) > 0 {
		return args.Get(0).(types.Device), args.Error(1)
	}
	return types.Device{}, nil
}

func (m *MockDatabase) UpsertDevice(ctx context.Context, streamID string, device types.Device) error {
	args := m.Called(ctx, streamID, device)
	return args.Error(0)
}

func (m *MockDatabase) DeleteDevice(ctx context.Context, streamID, deviceID string) error {
	args := m.Called(ctx, streamID, deviceID)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
