package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/hlog"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/user"
)

type checkoutRequest struct {
	PriceID string `json:"price_id" validate:"required,max=255"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// startCheckout opens a hosted subscription checkout for the caller. The
// price must be one the catalog knows, so the completed checkout can be
// reconciled.
func (s *Server) startCheckout(w http.ResponseWriter, r *http.Request) {
	if s.checkout == nil {
		respondError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	c, _ := ClaimsFromContext(r.Context())

	var req checkoutRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, ok := s.ledger.Catalog().Resolve(req.PriceID); !ok {
		respondError(w, http.StatusBadRequest, "unknown price id")
		return
	}

	u, err := s.ledger.EnsureUser(r.Context(), c.Subject, user.Profile{
		Email:     c.Email,
		FirstName: c.FirstName,
		LastName:  c.LastName,
	})
	if errors.Is(err, credits.ErrMissingProfileData) {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	checkoutURL, err := s.checkout.CreateCheckoutSession(r.Context(), billing.CheckoutRequest{
		ExternalID:  u.ExternalID,
		Email:       u.Email,
		CustomerRef: u.CustomerRef,
		PriceID:     req.PriceID,
	})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("price_id", req.PriceID).Msg("checkout session failed")
		respondError(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	hlog.FromRequest(r).Info().Str("price_id", req.PriceID).Msg("checkout session created")
	respondJSON(w, http.StatusOK, checkoutResponse{URL: checkoutURL})
}

// billingPortal returns the customer portal link with the caller's email
// prefilled.
func (s *Server) billingPortal(w http.ResponseWriter, r *http.Request) {
	if s.portalURL == "" {
		respondError(w, http.StatusServiceUnavailable, "billing portal not configured")
		return
	}
	c, _ := ClaimsFromContext(r.Context())

	u, err := url.Parse(s.portalURL)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if c.Email != "" {
		q := u.Query()
		q.Set("prefilled_email", c.Email)
		u.RawQuery = q.Encode()
	}
	respondJSON(w, http.StatusOK, checkoutResponse{URL: u.String()})
}
