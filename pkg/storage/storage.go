package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/wattwatch/wattwatch/pkg/types"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
)

// Database defines the interface for persisting settings, insights and
// devices. Everything is scoped by a stream ID, which identifies one
// monitored circuit.
type Database interface {
	// Settings
	GetSettings(ctx context.Context, streamID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, streamID string, settings types.Settings, version int) error

	// Insights
	InsertInsight(ctx context.Context, streamID string, insight types.Insight) error
	GetInsightHistory(ctx context.Context, streamID string, kind types.InsightKind, start, end time.Time) ([]types.Insight, error)
	GetLatestInsight(ctx context.Context, streamID string, kind types.InsightKind) (*types.Insight, error)

	// Devices
	ListDevices(ctx context.Context, streamID string) ([]types.Device, error)
	GetDevice(ctx context.Context, streamID, deviceID string) (types.Device, error)
	UpsertDevice(ctx context.Context, streamID string, device types.Device) error
	DeleteDevice(ctx context.Context, streamID, deviceID string) error

	// Lifecycle
	Close() error
}

// docIDLayout is fixed width so document IDs sort in time order.
const docIDLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timeDocID(t time.Time) string {
	return t.UTC().Format(docIDLayout)
}

func sortDevices(devices []types.Device) {
	slices.SortStableFunc(devices, func(a, b types.Device) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
