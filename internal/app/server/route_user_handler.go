package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"geogate/internal/api/dto"
	"geogate/internal/auth"

	"github.com/charmbracelet/log"
)

func checkLogin(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func loginAdmin(w http.ResponseWriter, r *http.Request) {
	var credentials dto.Credentials
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := auth.CheckAdminCredentials(credentials.Username, credentials.Password); err != nil {
		if errors.Is(err, auth.ErrAdminNotConfigured) {
			log.Error("Login attempted but ADMIN_PASSWORD_HASH is not set")
		}
		writeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(credentials.Username, auth.RoleAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.TokenResponse{Token: token})
}
