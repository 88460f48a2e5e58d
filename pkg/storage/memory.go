package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/wattwatch/wattwatch/pkg/types"
)

type memoryStream struct {
	settings        types.Settings
	settingsVersion int
	insights        map[types.InsightKind][]types.Insight
	devices         map[string]types.Device
}

// Memory implements Database in process memory. Nothing survives a restart.
type Memory struct {
	mu      sync.Mutex
	streams map[string]*memoryStream
}

var _ Database = (*Memory)(nil)

// NewMemory returns an empty Memory database.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string]*memoryStream)}
}

func (m *Memory) stream(streamID string) (*memoryStream, error) {
	if streamID == "" {
		return nil, fmt.Errorf("streamID cannot be empty")
	}
	s, ok := m.streams[streamID]
	if !ok {
		s = &memoryStream{
			insights: make(map[types.InsightKind][]types.Insight),
			devices:  make(map[string]types.Device),
		}
		m.streams[streamID] = s
	}
	return s, nil
}

func (m *Memory) GetSettings(ctx context.Context, streamID string) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.stream(streamID)
	if err != nil {
		return types.Settings{}, 0, err
	}
	return s.settings, s.settingsVersion, nil
}

func (m *Memory) SetSettings(ctx context.Context, streamID string, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.stream(streamID)
	if err != nil {
		return err
	}
	s.settings = settings
	s.settingsVersion = version
	return nil
}

func (m *Memory) InsertInsight(ctx context.Context, streamID string, insight types.Insight) error {
	if insight.Timestamp.IsZero() {
		return fmt.Errorf("insight missing timestamp")
	}
	if !insight.Kind.Valid() {
		return fmt.Errorf("unknown insight kind: %s", insight.Kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.stream(streamID)
	if err != nil {
		return err
	}
	list := s.insights[insight.Kind]
	i, found := slices.BinarySearchFunc(list, insight.Timestamp, func(a types.Insight, t time.Time) int {
		return a.Timestamp.Compare(t)
	})
	if found {
		// same timestamp replaces, like a document ID collision
		list[i] = insight
	} else {
		list = slices.Insert(list, i, insight)
	}
	s.insights[insight.Kind] = list
	return nil
}

func (m *Memory) GetInsightHistory(ctx context.Context, streamID string, kind types.InsightKind, start, end time.Time) ([]types.Insight, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown insight kind: %s", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.stream(streamID)
	if err != nil {
		return nil, err
	}
	var out []types.Insight
	for _, ins := range s.insights[kind] {
		if !ins.Timestamp.Before(start) && ins.Timestamp.Before(end) {
			out = append(out, ins)
		}
	}
	return out, nil
}

func (m *Memory) GetLatestInsight(ctx context.Context, streamID string, kind types.InsightKind) (*types.Insight, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown insight kind: %s", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.stream(streamID)
	if err != nil {
		return nil, err
	}
	list := s.insights[kind]
	if len(list) == 0 {
		return nil, nil
	}
	latest := list[len(list)-1]
	return &latest, nil
}

func (m *Memory) ListDevices(ctx context.Context, streamID string) ([]types.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.stream(streamID)
	if err != nil {
		return nil, err
	}
	var devices []types.Device
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	sortDevices(devices)
	return devices, nil
}

func (m *Memory) GetDevice(ctx context.Context, streamID, deviceID string) (types.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.stream(streamID)
	if err != nil {
		return types.Device{}, err
	}
	d, ok := s.devices[deviceID]
	if !ok {
		return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return d, nil
}

func (m *Memory) UpsertDevice(ctx context.Context, streamID string, device types.Device) error {
	if device.ID == "" {
		return fmt.Errorf("device missing id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.stream(streamID)
	if err != nil {
		return err
	}
	s.devices[device.ID] = device
	return nil
}

func (m *Memory) DeleteDevice(ctx context.Context, streamID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.stream(streamID)
	if err != nil {
		return err
	}
	if _, ok := s.devices[deviceID]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	delete(s.devices, deviceID)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
