// ABOUTME: HTTP middleware for bearer token auth and the login endpoint
// ABOUTME: Extracts the JWT from the Authorization header and adds the identity to context

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return "", "invalid authorization header format"
	}
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RequireHTTP rejects requests without a valid bearer token.
func RequireHTTP(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeJSONError(w, http.StatusUnauthorized, errMsg)
				return
			}
			subject, err := verifier.Verify(token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), &Identity{Subject: subject})))
		})
	}
}

// OptionalHTTP attaches an identity when a valid bearer token is present and
// lets every request through.
func OptionalHTTP(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
				if subject, err := verifier.Verify(token); err == nil {
					r = r.WithContext(WithIdentity(r.Context(), &Identity{Subject: subject}))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginHandler exchanges a username and password for a token valid for ttl.
func LoginHandler(users Users, verifier *JWTVerifier, ttl time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := users.Authenticate(req.Username, req.Password); err != nil {
			logger.Warn("login failed", "username", req.Username, "remote_addr", r.RemoteAddr)
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}

		token, err := verifier.Generate(req.Username, ttl)
		if err != nil {
			logger.Error("failed to issue token", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "failed to issue token")
			return
		}

		logger.Info("login succeeded", "username", req.Username)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loginResponse{
			Token:     token,
			ExpiresAt: verifier.now().Add(ttl).UTC(),
		})
	})
}
