// internal/api/auth/handlers.go
package auth

import (
	"context"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ezhao/courtqueue/internal/api/apiutil"
	appdb "github.com/ezhao/courtqueue/internal/db"
	"github.com/ezhao/courtqueue/internal/ratelimit"
)

var (
	database   *appdb.DB
	tokens     *TokenManager
	limiter    *ratelimit.Limiter
	trustProxy bool
	initOnce   sync.Once
)

const authQueryTimeout = 5 * time.Second

const maxNameLength = 80

// InitHandlers must be called during server startup before handling requests.
func InitHandlers(db *appdb.DB, tm *TokenManager, rl *ratelimit.Limiter, proxied bool) {
	if db == nil || tm == nil {
		return
	}
	initOnce.Do(func() {
		database = db
		tokens = tm
		limiter = rl
		trustProxy = proxied
	})
}

type tokenRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userView  `json:"user"`
}

type userView struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// POST /api/v1/auth/token
//
// Identity is claim-based: a name and email are enough to get a token, and
// the same email always maps back to the same user record. Rate limiting by
// client IP keeps the endpoint from being a user-creation firehose.
func HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if database == nil || tokens == nil {
		logger.Error().Msg("Auth handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if limiter != nil {
		ip := ratelimit.GetClientIP(r, trustProxy)
		result := limiter.Check(ip)
		if !result.Allowed {
			logger.Warn().
				Str("ip", ip).
				Str("reason", result.Reason).
				Dur("retry_after", result.RetryAfter).
				Msg("Token issuance rate limited")
			w.Header().Set("Retry-After", result.RetryAfter.Round(time.Second).String())
			apiutil.WriteError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
	}

	var req tokenRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	name, email, err := validateIdentity(req.Name, req.Email)
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), authQueryTimeout)
	defer cancel()

	user, err := database.Queries.UpsertUser(ctx, name, email)
	if err != nil {
		logger.Error().Err(err).Str("email", email).Msg("Failed to upsert user")
		apiutil.WriteError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	signed, expiresAt, err := tokens.Issue(user.ID, user.Name, user.Email, time.Now())
	if err != nil {
		logger.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to sign token")
		apiutil.WriteError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	logger.Info().Int64("user_id", user.ID).Msg("Token issued")
	apiutil.WriteJSON(w, http.StatusOK, tokenResponse{
		Token:     signed,
		ExpiresAt: expiresAt,
		User:      userView{ID: user.ID, Name: user.Name, Email: user.Email},
	})
}

func validateIdentity(name, email string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", apiutil.FieldError{Field: "name", Reason: "is required"}
	}
	if len(name) > maxNameLength {
		return "", "", apiutil.FieldError{Field: "name", Reason: "is too long"}
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", "", apiutil.FieldError{Field: "email", Reason: "is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", "", apiutil.FieldError{Field: "email", Reason: "must be a valid email address"}
	}
	return name, email, nil
}
