package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"geogate/internal/config"

	"github.com/charmbracelet/log"
)

func getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

func (api *adminAPI) saveSettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		log.Error("Error decoding request body", "error", err)
		writeError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	reflagged, err := api.records.ApplySettings(r.Context(), newConfig)
	if err != nil {
		if isValidationError(err) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error("Settings saved with errors", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":     "Configuration applied but not fully persisted",
			"reflagged": reflagged,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Configuration updated successfully",
		"reflagged": reflagged,
	})
}

func isValidationError(err error) bool {
	return errors.Is(err, config.ErrInvalidCountry) ||
		errors.Is(err, config.ErrNoCountries) ||
		errors.Is(err, config.ErrInvalidThreshold) ||
		errors.Is(err, config.ErrInvalidWindow)
}
