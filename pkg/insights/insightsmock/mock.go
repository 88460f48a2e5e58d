package insightsmock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/wattwatch/wattwatch/pkg/insights"
	"github.com/wattwatch/wattwatch/pkg/types"
)

type MockService struct {
	mock.Mock
}

var _ insights.Service = (*MockService)(nil)

func (m *MockService) Name() string {
	return "mock"
}

func (m *MockService) Analyze(ctx context.Context, readings []types.Reading) (string, error) {
	args := m.Called(ctx, readings)
	return args.String(0), args.Error(1)
}

func (m *MockService) DetectAnomaly(ctx context.Context, samples []types.PowerSample) (types.AnomalyResult, error) {
	args := m.Called(ctx, samples)
	if r, ok := args.Get(0).(types.AnomalyResult); ok {
		return r, args.Error(1)
	}
	return types.AnomalyResult{}, args.Error(1)
}

func (m *MockService) Forecast(ctx context.Context, req types.ForecastRequest) (types.Forecast, error) {
	args := m.Called(ctx, req)
	if f, ok := args.Get(0).(types.Forecast); ok {
		return f, args.Error(1)
	}
	return types.Forecast{}, args.Error(1)
}
