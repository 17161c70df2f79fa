package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/clinidoc/internal/api/response"
	"github.com/kiranshivaraju/clinidoc/internal/store"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is how many leading characters of a raw key are stored in clear for lookup.
const KeyPrefixLen = 8

const (
	codeInvalidToken      = "INVALID_TOKEN"
	codeInsufficientScope = "INSUFFICIENT_SCOPE"
	codeStorage           = "STORAGE_UNAVAILABLE"

	// lastUsedResolution limits last_used_at writes to one per client per minute.
	lastUsedResolution = time.Minute
)

// Auth resolves Bearer API keys to clients and enforces scopes.
type Auth struct {
	store store.APIClientStore
	now   func() time.Time
}

func NewAuth(s store.APIClientStore) *Auth {
	return &Auth{store: s, now: time.Now}
}

// Authenticate rejects the request unless its Bearer key matches an active
// client, then attaches that client to the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			unauthorized(w, false, "Missing or invalid Authorization header")
			return
		}
		if len(rawKey) < KeyPrefixLen {
			unauthorized(w, true, "Invalid API key format")
			return
		}

		candidates, err := a.store.GetAPIClientsByPrefix(r.Context(), rawKey[:KeyPrefixLen])
		if err != nil {
			slog.ErrorContext(r.Context(), "api client lookup failed", "error", err)
			response.Error(w, http.StatusServiceUnavailable, codeStorage,
				"API keys cannot be verified right now", nil)
			return
		}

		c := matchKey(candidates, rawKey)
		if c == nil {
			unauthorized(w, true, "Invalid API key")
			return
		}
		a.touch(c)
		next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), clientFromModel(c))))
	})
}

// RequireScope lets the request through only if the authenticated client
// holds scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := GetClient(r)
			if !ok {
				unauthorized(w, false, "Authentication required")
				return
			}
			if !c.HasScope(scope) {
				response.Error(w, http.StatusForbidden, codeInsufficientScope,
					"API key lacks the required scope", map[string]string{"required_scope": scope})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func matchKey(candidates []*models.APIClient, rawKey string) *models.APIClient {
	for _, c := range candidates {
		if !c.Active() {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(c.KeyHash), []byte(rawKey)) == nil {
			return c
		}
	}
	return nil
}

// touch records the use in the background so the request never waits on it.
func (a *Auth) touch(c *models.APIClient) {
	now := a.now()
	if c.LastUsedAt != nil && now.Sub(*c.LastUsedAt) < lastUsedResolution {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.UpdateAPIClientLastUsed(ctx, c.ID); err != nil {
			slog.Warn("failed to record api client use", "client_id", c.ID, "error", err)
		}
	}()
}

func unauthorized(w http.ResponseWriter, tokenPresented bool, msg string) {
	challenge := `Bearer realm="clinidoc"`
	if tokenPresented {
		challenge += `, error="invalid_token"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	response.Error(w, http.StatusUnauthorized, codeInvalidToken, msg, nil)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
