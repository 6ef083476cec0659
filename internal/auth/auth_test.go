package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT("admin", RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateJWT returned error: %v", err)
	}

	claims, err := ValidateJWT(token)
	if err != nil {
		t.Fatalf("ValidateJWT returned error: %v", err)
	}
	if claims["role"] != RoleAdmin || claims["sub"] != "admin" {
		t.Fatalf("unexpected claims %v", claims)
	}
}

func TestValidateJWTRejectsGarbage(t *testing.T) {
	if _, err := ValidateJWT("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ValidateJWT error = %v, want ErrInvalidToken", err)
	}
}

func TestIsAuthenticated(t *testing.T) {
	token, err := GenerateJWT("admin", RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateJWT returned error: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "valid bearer", header: "Bearer " + token, want: true},
		{name: "missing header", header: "", want: false},
		{name: "wrong scheme", header: "Basic " + token, want: false},
		{name: "tampered", header: "Bearer " + token + "x", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := IsAuthenticated(req); got != tt.want {
				t.Fatalf("IsAuthenticated = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsAdminRejectsOtherRoles(t *testing.T) {
	token, err := GenerateJWT("viewer", "user")
	if err != nil {
		t.Fatalf("GenerateJWT returned error: %v", err)
	}

	handler := IsAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}
}

func TestCheckAdminCredentials(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	t.Setenv("ADMIN_USERNAME", "root")
	t.Setenv("ADMIN_PASSWORD_HASH", hash)

	if err := CheckAdminCredentials("root", "correct horse"); err != nil {
		t.Fatalf("valid credentials rejected: %v", err)
	}
	if err := CheckAdminCredentials("root", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password error = %v", err)
	}
	if err := CheckAdminCredentials("other", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong user error = %v", err)
	}

	t.Setenv("ADMIN_PASSWORD_HASH", "")
	if err := CheckAdminCredentials("root", "correct horse"); !errors.Is(err, ErrAdminNotConfigured) {
		t.Fatalf("unconfigured error = %v", err)
	}
}
