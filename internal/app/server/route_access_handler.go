package server

import (
	"errors"
	"net/http"

	"geogate/internal/access"
	"geogate/internal/config"

	"github.com/charmbracelet/log"
)

func (api *adminAPI) getAccessSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := api.records.Summary(r.Context())
	if err != nil {
		log.Error("Failed to load access summary", "error", err)
		writeError(w, "Failed to load access summary", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (api *adminAPI) getCountryRecords(w http.ResponseWriter, r *http.Request) {
	records, err := api.records.ListByCountry(r.Context(), r.PathValue("country"))
	if err != nil {
		if errors.Is(err, config.ErrInvalidCountry) {
			writeError(w, "Invalid country code", http.StatusBadRequest)
			return
		}
		log.Error("Failed to list access records", "country", r.PathValue("country"), "error", err)
		writeError(w, "Failed to list access records", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (api *adminAPI) setRecordStatus(w http.ResponseWriter, r *http.Request) {
	ip, err := access.ParseIP(r.PathValue("ip"))
	if err != nil {
		writeError(w, "Invalid IP", http.StatusBadRequest)
		return
	}
	allowed, err := access.ParseStatus(r.PathValue("status"))
	if err != nil {
		writeError(w, "Invalid status", http.StatusBadRequest)
		return
	}

	if err := api.records.SetStatus(r.Context(), ip, allowed); err != nil {
		writeRecordError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *adminAPI) deleteRecord(w http.ResponseWriter, r *http.Request) {
	ip, err := access.ParseIP(r.PathValue("ip"))
	if err != nil {
		writeError(w, "Invalid IP", http.StatusBadRequest)
		return
	}

	if err := api.records.Remove(r.Context(), ip); err != nil {
		writeRecordError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeRecordError(w http.ResponseWriter, err error) {
	if errors.Is(err, access.ErrRecordNotFound) {
		writeError(w, "Access record not found", http.StatusNotFound)
		return
	}
	log.Error("Access record update failed", "error", err)
	writeError(w, "Failed to update access record", http.StatusInternalServerError)
}
