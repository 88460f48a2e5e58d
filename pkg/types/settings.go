package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 2

const (
	DefaultDollarsPerKWH = 0.15
	DefaultForecastDays  = 30
)

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// Rate charged per kWh, used for cost estimates and forecasts.
	DollarsPerKWH float64 `json:"dollarsPerKWH"`

	// How many days ahead the cost forecast projects.
	ForecastDays int `json:"forecastDays"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.DollarsPerKWH == 0 {
				s.DollarsPerKWH = DefaultDollarsPerKWH
				migrated = true
			}
		case 2:
			// version 2: configurable forecast horizon
			if s.ForecastDays == 0 {
				s.ForecastDays = DefaultForecastDays
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
