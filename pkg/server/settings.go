package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/types"
)

func (s *Server) getSettingsWithMigration(ctx context.Context) (types.Settings, error) {
	settings, version, err := s.storage.GetSettings(ctx, s.streamID)
	if err != nil {
		return types.Settings{}, err
	}

	// Check for migration
	if version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// Log error but return settings as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			if err := s.storage.SetSettings(ctx, s.streamID, newSettings, types.CurrentSettingsVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
				// Return migrated settings even if save failed, so current request works with new defaults
			} else {
				log.Ctx(ctx).InfoContext(ctx, "saved migrated settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
			}
			settings = newSettings
		}
	}
	return settings, nil
}

// settingsReq is the body accepted by the settings update endpoint.
type settingsReq struct {
	DollarsPerKWH float64 `json:"dollarsPerKWH" validate:"gt=0,lte=10"`
	ForecastDays  int     `json:"forecastDays" validate:"gte=1,lte=365"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req settingsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSONError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	newSettings := types.Settings{
		DollarsPerKWH: req.DollarsPerKWH,
		ForecastDays:  req.ForecastDays,
	}
	if err := s.storage.SetSettings(ctx, s.streamID, newSettings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "settings updated", slog.Float64("dollarsPerKWH", newSettings.DollarsPerKWH), slog.Int("forecastDays", newSettings.ForecastDays))

	writeJSON(w, newSettings)
}
