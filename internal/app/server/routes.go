package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"geogate/internal/access"
	"geogate/internal/auth"

	"github.com/charmbracelet/log"
)

const shutdownTimeout = 10 * time.Second

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type adminAPI struct {
	records *access.Records
}

// NewRouter builds the admin API. Everything except /login requires an
// admin token.
func NewRouter(records *access.Records) http.Handler {
	api := &adminAPI{records: records}

	router := http.NewServeMux()
	router.HandleFunc("POST /login", loginAdmin)
	router.Handle("GET /checkLogin", auth.RequireAuth(http.HandlerFunc(checkLogin)))

	router.Handle("GET /settings", auth.IsAdmin(http.HandlerFunc(getSettings)))
	router.Handle("POST /settings", auth.IsAdmin(http.HandlerFunc(api.saveSettings)))

	router.Handle("GET /access/summary", auth.IsAdmin(http.HandlerFunc(api.getAccessSummary)))
	router.Handle("GET /access/countries/{country}", auth.IsAdmin(http.HandlerFunc(api.getCountryRecords)))
	router.Handle("POST /access/ips/{ip}/status/{status}", auth.IsAdmin(http.HandlerFunc(api.setRecordStatus)))
	router.Handle("DELETE /access/ips/{ip}", auth.IsAdmin(http.HandlerFunc(api.deleteRecord)))

	return enableCORS(router)
}

// OpenRoutes serves the admin API on port until ctx is done.
func OpenRoutes(ctx context.Context, port int, records *access.Records) error {
	log.Debug("Routes opened")
	log.Infof("Starting geogate admin API on port :%d", port)
	return serve(ctx, "admin api", fmt.Sprintf(":%d", port), NewRouter(records))
}

func serve(ctx context.Context, name, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown failed", "server", name, "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server failed: %w", name, err)
	}
	return nil
}
