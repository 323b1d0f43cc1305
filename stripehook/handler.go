// Package stripehook connects the credits engine to Stripe. It starts
// subscription checkouts, receives webhooks, verifies their signature and
// turns the subscription lifecycle events into billing events for the
// credits reconciler.
package stripehook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/user"
)

const bodyLimit = 1 << 20 // 1 MiB

// MetadataUserIDKeys are the checkout session metadata keys searched, in
// order, for the application user ID. client_reference_id is the fallback.
var MetadataUserIDKeys = []string{"userId", "user_id"}

// Reconciler applies billing events. *credits.Engine satisfies it.
type Reconciler interface {
	Apply(ctx context.Context, ev billing.Event) (*user.User, error)
}

// Handler is an http.Handler for the Stripe webhook endpoint.
type Handler struct {
	secret     string
	reconciler Reconciler
	prices     PriceLookup
	logger     zerolog.Logger
	tolerance  time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithPriceLookup sets how prices missing from payloads are fetched.
// Without it such events are rejected as missing a price.
func WithPriceLookup(p PriceLookup) Option {
	return func(h *Handler) { h.prices = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithTolerance overrides the accepted signature age.
func WithTolerance(d time.Duration) Option {
	return func(h *Handler) { h.tolerance = d }
}

// NewHandler returns a handler verifying deliveries with the endpoint's
// signing secret.
func NewHandler(secret string, r Reconciler, opts ...Option) *Handler {
	h := &Handler{
		secret:     secret,
		reconciler: r,
		logger:     zerolog.Nop(),
		tolerance:  webhook.DefaultTolerance,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type errorResponse struct {
	Error string `json:"error"`
}

type receivedResponse struct {
	Received bool   `json:"received"`
	Ignored  bool   `json:"ignored,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, h.secret, webhook.ConstructEventOptions{
		Tolerance:                h.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.Warn().Err(err).Msg("stripe webhook signature rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid Stripe signature"})
		return
	}

	log := h.logger.With().
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Logger()

	ev, err := h.translate(r.Context(), &event)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("stripe webhook payload rejected")
		writeJSON(w, statusFor(err), errorResponse{Error: publicMessage(err)})
		return
	case ev == nil:
		log.Debug().Msg("stripe webhook ignored (unhandled type)")
		writeJSON(w, http.StatusOK, receivedResponse{Received: true, Ignored: true})
		return
	}

	u, err := h.reconciler.Apply(r.Context(), ev)
	if err != nil {
		if errors.Is(err, credits.ErrStaleEvent) {
			log.Info().Err(err).Msg("stripe webhook superseded by a newer event")
			writeJSON(w, http.StatusOK, receivedResponse{Received: true, Outcome: string(billing.OutcomeStale)})
			return
		}
		status := statusFor(err)
		log.Error().Err(err).Int("status", status).Msg("stripe webhook processing failed")
		writeJSON(w, status, errorResponse{Error: publicMessage(err)})
		return
	}

	log.Info().
		Str("external_id", u.ExternalID).
		Str("tier", string(u.Tier)).
		Int64("credits", u.Credits).
		Msg("stripe webhook applied")
	writeJSON(w, http.StatusOK, receivedResponse{Received: true, Outcome: string(billing.OutcomeApplied)})
}

// translate maps a verified Stripe event onto a billing event. It returns
// nil, nil for types the reconciler does not act on.
func (h *Handler) translate(ctx context.Context, event *stripe.Event) (billing.Event, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event has no data", credits.ErrInvalidEvent)
	}
	env := billing.Envelope{
		ProviderEventID: event.ID,
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "checkout.session.completed":
		var s checkoutSession
		if err := decode(event, &s); err != nil {
			return nil, err
		}
		priceID := s.LineItems.firstPriceID()
		if priceID == "" && h.prices != nil && s.ID != "" {
			id, err := h.prices.CheckoutPriceID(ctx, s.ID)
			if err != nil {
				return nil, err
			}
			priceID = id
		}
		return billing.CheckoutCompleted{
			Envelope:    env,
			ExternalID:  s.externalID(),
			CustomerRef: s.Customer.ID,
			PriceID:     priceID,
		}, nil

	case "invoice.payment_succeeded", "invoice.paid":
		var inv invoice
		if err := decode(event, &inv); err != nil {
			return nil, err
		}
		priceID := inv.Lines.firstPriceID()
		if subID := inv.subscriptionID(); priceID == "" && h.prices != nil && subID != "" {
			id, err := h.prices.SubscriptionPriceID(ctx, subID)
			if err != nil {
				return nil, err
			}
			priceID = id
		}
		// Stripe sends both types for one payment; keying the log on the
		// invoice applies the renewal once.
		if inv.ID != "" {
			env.ProviderEventID = "invoice_paid:" + inv.ID
		}
		return billing.InvoicePaid{
			Envelope:    env,
			CustomerRef: inv.Customer.ID,
			PriceID:     priceID,
		}, nil

	case "customer.subscription.deleted":
		var sub subscription
		if err := decode(event, &sub); err != nil {
			return nil, err
		}
		return billing.SubscriptionCanceled{Envelope: env, CustomerRef: sub.Customer.ID}, nil

	case "invoice.payment_failed":
		var inv invoice
		if err := decode(event, &inv); err != nil {
			return nil, err
		}
		if inv.Customer.ID == "" {
			// Nothing to downgrade; acknowledging stops redelivery.
			return nil, nil
		}
		return billing.PaymentFailed{Envelope: env, CustomerRef: inv.Customer.ID}, nil

	default:
		return nil, nil
	}
}

func decode(event *stripe.Event, v any) error {
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", credits.ErrInvalidEvent, event.Type, err)
	}
	return nil
}

// statusFor picks the response code. Stripe redelivers anything outside
// 2xx, which is what an event arriving before its checkout needs.
func statusFor(err error) int {
	switch {
	case errors.Is(err, credits.ErrDuplicateKey):
		return http.StatusConflict
	case credits.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, credits.ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, credits.ErrUnknownPlan):
		return "unknown price id"
	case errors.Is(err, credits.ErrMissingCorrelation):
		return "missing required data"
	case errors.Is(err, credits.ErrUserNotFound):
		return "user not found"
	case errors.Is(err, credits.ErrDuplicateKey):
		return "customer already linked to another user"
	case credits.IsClientError(err):
		return "invalid event"
	default:
		return "processing failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
