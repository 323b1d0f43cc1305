package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/plan"
	"github.com/DimensionCoin/credits/user"
)

const maxBodyBytes = 64 << 10

// userView is the caller-facing projection of a record. Billing linkage
// and usage history stay off it.
type userView struct {
	ID            string    `json:"id"`
	ExternalID    string    `json:"external_id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	Tier          user.Tier `json:"tier"`
	Credits       int64     `json:"credits"`
	TopSelections []string  `json:"top_selections"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func viewOf(u *user.User) userView {
	sel := u.TopSelections
	if sel == nil {
		sel = []string{}
	}
	return userView{
		ID:            u.ID.String(),
		ExternalID:    u.ExternalID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Tier:          u.Tier,
		Credits:       u.Credits,
		TopSelections: sel,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

type updateProfileRequest struct {
	Email     *string `json:"email" validate:"omitempty,email,max=254"`
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
}

type selectionsRequest struct {
	Selections []string `json:"selections" validate:"required,max=16,dive,max=64"`
}

type consumeRequest struct {
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Category string `json:"category" validate:"required,max=64"`
	Detail   string `json:"detail" validate:"max=256"`
}

type balanceResponse struct {
	Credits    int64     `json:"credits"`
	Tier       user.Tier `json:"tier"`
	Required   int64     `json:"required,omitempty"`
	Sufficient *bool     `json:"sufficient,omitempty"`
}

type consumeResponse struct {
	Credits int64           `json:"credits"`
	Entry   user.UsageEntry `json:"entry"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listPlans(w http.ResponseWriter, _ *http.Request) {
	plans := []plan.Plan{}
	if c := s.ledger.Catalog(); c != nil {
		plans = append(plans, c.Plans()...)
	}
	respondJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

// getMe returns the caller's record, provisioning it from token claims
// when the identity webhook has not arrived yet.
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromContext(r.Context())

	u, err := s.ledger.EnsureUser(r.Context(), c.Subject, user.Profile{
		Email:     c.Email,
		FirstName: c.FirstName,
		LastName:  c.LastName,
	})
	if errors.Is(err, credits.ErrMissingProfileData) {
		// Nothing to provision from; the record has to come from the
		// identity webhook.
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(u))
}

func (s *Server) patchMe(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromContext(r.Context())

	var req updateProfileRequest
	if !s.decode(w, r, &req) {
		return
	}

	u, err := s.ledger.UpdateProfile(r.Context(), c.Subject, user.ProfileUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(u))
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromContext(r.Context())

	u, err := s.ledger.GetUser(r.Context(), c.Subject)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	history := u.UsageHistory
	if history == nil {
		history = []user.UsageEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) getSelections(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromContext(r.Context())

	sel, err := s.ledger.TopSelections(r.Context(), c.Subject)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sel == nil {
		sel = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"selections": sel})
}

func (s *Server) putSelections(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromContext(r.Context())

	var req selectionsRequest
	if !s.decode(w, r, &req) {
		return
	}

	u, err := s.ledger.SetTopSelections(r.Context(), c.Subject, req.Selections)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"selections": u.TopSelections})
}

// getBalance reports the balance and, given ?required=N, whether it covers
// N. The answer is advisory; only consume decides.
func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromContext(r.Context())

	var required int64
	if raw := r.URL.Query().Get("required"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "required must be a positive integer")
			return
		}
		required = n
	}

	u, err := s.ledger.GetUser(r.Context(), c.Subject)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := balanceResponse{Credits: u.Credits, Tier: u.Tier}
	if required > 0 {
		ok, err := s.ledger.HasBalance(r.Context(), c.Subject, required)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		resp.Required = required
		resp.Sufficient = &ok
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) consume(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromContext(r.Context())

	var req consumeRequest
	if !s.decode(w, r, &req) {
		return
	}

	u, err := s.ledger.Consume(r.Context(), c.Subject, req.Amount, user.UsageMeta{
		Category: req.Category,
		Detail:   req.Detail,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := consumeResponse{Credits: u.Credits}
	if len(u.UsageHistory) > 0 {
		resp.Entry = u.UsageHistory[0]
	}
	respondJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		respondValidation(w, err)
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ev := hlog.FromRequest(r).Warn()
	if status >= http.StatusInternalServerError {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Err(err).Int("status", status).Msg("request failed")
	respondError(w, status, publicMessage(err))
}
