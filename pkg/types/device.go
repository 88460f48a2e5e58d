package types

import (
	"errors"
	"strings"
	"time"
)

const (
	// DeviceIDPrimary is the device whose consumption is actually measured by
	// the telemetry feed.
	DeviceIDPrimary = "primary"
)

// DeviceIcon is the icon shown for a device.
type DeviceIcon string

const (
	DeviceIconLightbulb DeviceIcon = "lightbulb"
	DeviceIconFridge    DeviceIcon = "fridge"
	DeviceIconTV        DeviceIcon = "tv"
	DeviceIconFan       DeviceIcon = "fan"
	DeviceIconAC        DeviceIcon = "ac"
	DeviceIconOther     DeviceIcon = "other"
)

// DeviceStatus is whether a device is switched on.
type DeviceStatus string

const (
	DeviceStatusOn  DeviceStatus = "on"
	DeviceStatusOff DeviceStatus = "off"
)

// Device represents an appliance in the home. Only the monitored device has
// real telemetry; the rest are user-entered estimates.
type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Location     string       `json:"location"`
	Icon         DeviceIcon   `json:"icon"`
	ConsumptionW float64      `json:"consumptionW"`
	Status       DeviceStatus `json:"status"`
	Monitored    bool         `json:"monitored"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// PrimaryDevice returns the monitored device that every stream starts with.
func PrimaryDevice() Device {
	return Device{
		ID:           DeviceIDPrimary,
		Name:         "Room Light",
		Location:     "Home",
		Icon:         DeviceIconLightbulb,
		ConsumptionW: 18,
		Status:       DeviceStatusOn,
		Monitored:    true,
	}
}

// DrawW returns the current draw of the device, 0 when it is off.
func (d Device) DrawW() float64 {
	if d.Status != DeviceStatusOn {
		return 0
	}
	return d.ConsumptionW
}

// Toggle flips the device between on and off.
func (d *Device) Toggle() {
	if d.Status == DeviceStatusOn {
		d.Status = DeviceStatusOff
	} else {
		d.Status = DeviceStatusOn
	}
}

// Validate checks the user-editable fields of the device.
func (d Device) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(d.Location) == "" {
		return errors.New("location is required")
	}
	if d.ConsumptionW <= 0 {
		return errors.New("consumption must be greater than 0")
	}
	switch d.Icon {
	case DeviceIconLightbulb, DeviceIconFridge, DeviceIconTV, DeviceIconFan, DeviceIconAC, DeviceIconOther:
	default:
		return errors.New("unknown icon")
	}
	return nil
}
