package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/storage"
	"github.com/wattwatch/wattwatch/pkg/types"
)

// deviceReq is the body accepted when adding a device.
type deviceReq struct {
	Name         string  `json:"name" validate:"required,max=64"`
	Location     string  `json:"location" validate:"required,max=64"`
	Icon         string  `json:"icon" validate:"required,oneof=lightbulb fridge tv fan ac other"`
	ConsumptionW float64 `json:"consumptionW" validate:"gt=0,lte=100000"`
}

// DevicesRes is the response type for the device list.
type DevicesRes struct {
	Devices []types.Device `json:"devices"`

	// TotalDrawW is the summed consumption of every device that is on.
	TotalDrawW float64 `json:"totalDrawW"`
}

// listDevices returns the stream's devices, seeding the monitored device the
// first time.
func (s *Server) listDevices(ctx context.Context) ([]types.Device, error) {
	devices, err := s.storage.ListDevices(ctx, s.streamID)
	if err != nil {
		return nil, err
	}
	if slices.ContainsFunc(devices, func(d types.Device) bool { return d.ID == types.DeviceIDPrimary }) {
		return devices, nil
	}

	primary := types.PrimaryDevice()
	primary.CreatedAt = s.now().UTC()
	if err := s.storage.UpsertDevice(ctx, s.streamID, primary); err != nil {
		return nil, err
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded monitored device")
	return append([]types.Device{primary}, devices...), nil
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	devices, err := s.listDevices(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list devices", slog.Any("error", err))
		writeJSONError(w, "failed to list devices", http.StatusInternalServerError)
		return
	}

	res := DevicesRes{Devices: devices}
	for _, d := range devices {
		res.TotalDrawW += d.DrawW()
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, res)
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req deviceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode device", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSONError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	device := types.Device{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Location:     req.Location,
		Icon:         types.DeviceIcon(req.Icon),
		ConsumptionW: req.ConsumptionW,
		Status:       types.DeviceStatusOff,
		CreatedAt:    s.now().UTC(),
	}
	// catches whitespace-only names that pass the required tag
	if err := device.Validate(); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.storage.UpsertDevice(ctx, s.streamID, device); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create device", slog.Any("error", err))
		writeJSONError(w, "failed to create device", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "device created", slog.String("deviceID", device.ID), slog.String("name", device.Name))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(device); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleToggleDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	device, err := s.storage.GetDevice(ctx, s.streamID, id)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get device", slog.String("deviceID", id), slog.Any("error", err))
		writeJSONError(w, "failed to get device", http.StatusInternalServerError)
		return
	}

	device.Toggle()
	if err := s.storage.UpsertDevice(ctx, s.streamID, device); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to update device", slog.String("deviceID", id), slog.Any("error", err))
		writeJSONError(w, "failed to update device", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).DebugContext(ctx, "device toggled", slog.String("deviceID", id), slog.String("status", string(device.Status)))

	writeJSON(w, device)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if id == types.DeviceIDPrimary {
		writeJSONError(w, "the monitored device cannot be removed", http.StatusBadRequest)
		return
	}

	if err := s.storage.DeleteDevice(ctx, s.streamID, id); err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to delete device", slog.String("deviceID", id), slog.Any("error", err))
		writeJSONError(w, "failed to delete device", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "device deleted", slog.String("deviceID", id))

	w.WriteHeader(http.StatusNoContent)
}
