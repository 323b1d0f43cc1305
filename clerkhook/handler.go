// Package clerkhook receives identity-provider webhooks delivered through
// Svix and keeps user records in step with the provider: user.created
// provisions the record, user.updated refreshes profile fields.
package clerkhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/user"
)

const bodyLimit = 1 << 20 // 1 MiB

// Identity is the engine surface the handler drives. *credits.Engine
// satisfies it.
type Identity interface {
	EnsureUser(ctx context.Context, externalID string, profile user.Profile) (*user.User, error)
	UpdateProfile(ctx context.Context, externalID string, upd user.ProfileUpdate) (*user.User, error)
}

// Handler is an http.Handler for the identity webhook endpoint.
type Handler struct {
	wh       *svix.Webhook
	identity Identity
	logger   zerolog.Logger
}

// NewHandler returns a handler verifying deliveries with the Svix signing
// secret (whsec_...).
func NewHandler(secret string, identity Identity, logger zerolog.Logger) (*Handler, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, err
	}
	return &Handler{wh: wh, identity: identity, logger: logger}, nil
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type userData struct {
	ID                    string         `json:"id"`
	FirstName             *string        `json:"first_name"`
	LastName              *string        `json:"last_name"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
}

// email returns the primary address, or the first one listed.
func (d userData) email() string {
	for _, e := range d.EmailAddresses {
		if e.ID != "" && e.ID == d.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(d.EmailAddresses) > 0 {
		return d.EmailAddresses[0].EmailAddress
	}
	return ""
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	for _, name := range []string{"svix-id", "svix-timestamp", "svix-signature"} {
		if strings.TrimSpace(r.Header.Get(name)) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing svix headers"})
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	if err := h.wh.Verify(payload, r.Header); err != nil {
		h.logger.Warn().Err(err).Msg("identity webhook signature rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook signature"})
		return
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed event"})
		return
	}

	log := h.logger.With().
		Str("svix_id", r.Header.Get("svix-id")).
		Str("type", env.Type).
		Logger()

	switch env.Type {
	case "user.created", "user.updated":
	default:
		log.Debug().Msg("identity webhook ignored")
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	}

	var data userData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed user payload"})
		return
	}

	var u *user.User
	if env.Type == "user.created" {
		u, err = h.created(r.Context(), data)
	} else {
		u, err = h.updated(r.Context(), data)
	}
	if err != nil {
		status := statusFor(err)
		log.Error().Err(err).Str("external_id", data.ID).Int("status", status).Msg("identity webhook failed")
		writeJSON(w, status, map[string]string{"error": publicMessage(err)})
		return
	}

	log.Info().Str("external_id", u.ExternalID).Msg("identity webhook applied")
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "external_id": u.ExternalID})
}

func (h *Handler) created(ctx context.Context, d userData) (*user.User, error) {
	return h.identity.EnsureUser(ctx, d.ID, user.Profile{
		Email:     d.email(),
		FirstName: deref(d.FirstName),
		LastName:  deref(d.LastName),
	})
}

// updated refreshes profile fields, provisioning the record when the
// creation delivery never arrived.
func (h *Handler) updated(ctx context.Context, d userData) (*user.User, error) {
	upd := user.ProfileUpdate{FirstName: d.FirstName, LastName: d.LastName}
	if email := d.email(); email != "" {
		upd.Email = &email
	}

	u, err := h.identity.UpdateProfile(ctx, d.ID, upd)
	if errors.Is(err, credits.ErrUserNotFound) {
		return h.created(ctx, d)
	}
	return u, err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, credits.ErrDuplicateKey):
		return http.StatusConflict
	case credits.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, credits.ErrMissingProfileData):
		return "no email provided"
	case errors.Is(err, credits.ErrDuplicateKey):
		return "email already in use"
	case credits.IsClientError(err):
		return "invalid user payload"
	default:
		return "internal server error"
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
