package server

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wattwatch/wattwatch/pkg/insights/insightsmock"
	"github.com/wattwatch/wattwatch/pkg/storage"
	"github.com/wattwatch/wattwatch/pkg/storage/storagemock"
	"github.com/wattwatch/wattwatch/pkg/types"
)

func TestDevices(t *testing.T) {
	db := storage.NewMemory()
	srv := newTestServer(nil, &insightsmock.MockService{}, db)

	t.Run("Seeds Monitored Device", func(t *testing.T) {
		for range 2 {
			w := doRequest(t, srv, http.MethodGet, "/api/devices", nil)
			require.Equal(t, http.StatusOK, w.Code)
			res := decodeBody[DevicesRes](t, w)
			require.Len(t, res.Devices, 1)
			assert.Equal(t, types.DeviceIDPrimary, res.Devices[0].ID)
			assert.True(t, res.Devices[0].Monitored)
			assert.Equal(t, 18.0, res.TotalDrawW)
		}
	})

	var created types.Device
	t.Run("Create", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodPost, "/api/devices", map[string]any{
			"name":         "Fridge",
			"location":     "Kitchen",
			"icon":         "fridge",
			"consumptionW": 150,
		})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		created = decodeBody[types.Device](t, w)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, types.DeviceStatusOff, created.Status)
		assert.False(t, created.Monitored)
		assert.True(t, created.CreatedAt.Equal(testNow))

		w = doRequest(t, srv, http.MethodGet, "/api/devices", nil)
		res := decodeBody[DevicesRes](t, w)
		assert.Len(t, res.Devices, 2)
		// new devices start off
		assert.Equal(t, 18.0, res.TotalDrawW)
	})

	t.Run("Create Invalid", func(t *testing.T) {
		tests := []struct {
			name string
			body map[string]any
			msg  string
		}{
			{"Missing Name", map[string]any{"location": "Kitchen", "icon": "fridge", "consumptionW": 150}, "name is required"},
			{"Blank Name", map[string]any{"name": "  ", "location": "Kitchen", "icon": "fridge", "consumptionW": 150}, "name is required"},
			{"Bad Icon", map[string]any{"name": "Toaster", "location": "Kitchen", "icon": "toaster", "consumptionW": 800}, "icon must be one of"},
			{"Zero Consumption", map[string]any{"name": "Lamp", "location": "Den", "icon": "lightbulb", "consumptionW": 0}, "consumptionW"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := doRequest(t, srv, http.MethodPost, "/api/devices", tt.body)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, errorBody(t, w), tt.msg)
			})
		}
	})

	t.Run("Toggle", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodPost, "/api/devices/"+created.ID+"/toggle", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, types.DeviceStatusOn, decodeBody[types.Device](t, w).Status)

		w = doRequest(t, srv, http.MethodGet, "/api/devices", nil)
		assert.Equal(t, 168.0, decodeBody[DevicesRes](t, w).TotalDrawW)

		w = doRequest(t, srv, http.MethodPost, "/api/devices/missing/toggle", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodDelete, "/api/devices/"+types.DeviceIDPrimary, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doRequest(t, srv, http.MethodDelete, "/api/devices/"+created.ID, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = doRequest(t, srv, http.MethodDelete, "/api/devices/"+created.ID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = doRequest(t, srv, http.MethodGet, "/api/devices", nil)
		assert.Len(t, decodeBody[DevicesRes](t, w).Devices, 1)
	})
}

func TestDevicesStorageError(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("ListDevices", mock.Anything, types.StreamIDDefault).Return([]types.Device(nil), errors.New("down"))
	db.On("GetDevice", mock.Anything, types.StreamIDDefault, "abc").Return(types.Device{}, errors.New("down"))
	srv := newTestServer(nil, &insightsmock.MockService{}, db)

	w := doRequest(t, srv, http.MethodGet, "/api/devices", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/api/devices/abc/toggle", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
