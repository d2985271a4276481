// Package auth provides service token authentication for the gateway.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid authentication token")
)

// TokenValidator checks callers against a shared service token.
type TokenValidator struct {
	serviceToken string
}

// NewTokenValidator creates a validator. An empty token disables checks.
func NewTokenValidator(serviceToken string) *TokenValidator {
	return &TokenValidator{serviceToken: serviceToken}
}

// Enabled reports whether a service token is configured.
func (tv *TokenValidator) Enabled() bool {
	return tv.serviceToken != ""
}

// ValidateToken compares token with the service token in constant time.
func (tv *TokenValidator) ValidateToken(token string) error {
	if !tv.Enabled() {
		return nil
	}
	if token == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(tv.serviceToken)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// ExtractToken extracts the token from an HTTP request.
func ExtractToken(r *http.Request) string {
	// Check Authorization header
	auth := r.Header.Get("Authorization")
	if auth != "" {
		// Handle "Bearer " prefix if present
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		return auth
	}

	if token := r.Header.Get("X-Auth-Token"); token != "" {
		return token
	}

	// Check query parameter
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}

// ServiceAuth provides service-level authentication for clients.
type ServiceAuth struct {
	serviceToken string
}

// NewServiceAuth creates a new service authenticator.
func NewServiceAuth(serviceToken string) *ServiceAuth {
	return &ServiceAuth{
		serviceToken: serviceToken,
	}
}

// AddAuthHeader adds the service token to an HTTP request.
func (sa *ServiceAuth) AddAuthHeader(req *http.Request) {
	if sa.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+sa.serviceToken)
	}
}
