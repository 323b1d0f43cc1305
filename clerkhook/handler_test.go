package clerkhook_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/clerkhook"
	"github.com/DimensionCoin/credits/store/memory"
	"github.com/DimensionCoin/credits/user"
)

const secret = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"

func newHandler(t *testing.T) (*credits.Engine, http.Handler) {
	t.Helper()

	e := credits.New(memory.New(), credits.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, e.Start(t.Context()))
	t.Cleanup(func() { _ = e.Stop() })

	h, err := clerkhook.NewHandler(secret, e, zerolog.Nop())
	require.NoError(t, err)
	return e, h
}

func userEvent(typ, id string, emails []string, first, last string) []byte {
	addrs := make([]map[string]string, 0, len(emails))
	for i, e := range emails {
		addrs = append(addrs, map[string]string{"id": "idn_" + strconv.Itoa(i), "email_address": e})
	}
	data := map[string]any{
		"id":              id,
		"email_addresses": addrs,
		"first_name":      first,
		"last_name":       last,
	}
	if len(emails) > 0 {
		data["primary_email_address_id"] = "idn_" + strconv.Itoa(len(emails)-1)
	}
	b, _ := json.Marshal(map[string]any{"type": typ, "object": "event", "data": data})
	return b
}

func deliver(t *testing.T, h http.Handler, payload []byte) *httptest.ResponseRecorder {
	t.Helper()

	wh, err := svix.NewWebhook(secret)
	require.NoError(t, err)

	msgID := "msg_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	now := time.Now()
	sig, err := wh.Sign(msgID, now, payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/clerk", strings.NewReader(string(payload)))
	req.Header.Set("svix-id", msgID)
	req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("svix-signature", sig)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUserCreatedProvisionsRecord(t *testing.T) {
	e, h := newHandler(t)

	rec := deliver(t, h, userEvent("user.created", "user_1", []string{"old@example.com", " Ada@Example.com "}, "Ada", "Lovelace"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	u, err := e.GetUser(t.Context(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email, "primary address wins")
	assert.Equal(t, "Ada", u.FirstName)
	assert.Equal(t, "Lovelace", u.LastName)
	assert.Equal(t, user.TierFree, u.Tier)
	assert.Equal(t, user.DefaultCredits, u.Credits)

	assert.JSONEq(t, `{"received":true,"external_id":"user_1"}`, rec.Body.String(),
		"billing linkage and history stay out of the reply")
}

func TestUserCreatedIsIdempotent(t *testing.T) {
	e, h := newHandler(t)
	payload := userEvent("user.created", "user_1", []string{"ada@example.com"}, "Ada", "")

	require.Equal(t, http.StatusOK, deliver(t, h, payload).Code)
	_, err := e.Consume(t.Context(), "user_1", 4, user.UsageMeta{Category: "analysis"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, deliver(t, h, payload).Code)

	u, err := e.GetUser(t.Context(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), u.Credits)
}

func TestUserCreatedWithoutEmail(t *testing.T) {
	e, h := newHandler(t)

	rec := deliver(t, h, userEvent("user.created", "user_1", nil, "Ada", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no email provided")

	_, err := e.GetUser(t.Context(), "user_1")
	assert.ErrorIs(t, err, credits.ErrUserNotFound)
}

func TestUserUpdated(t *testing.T) {
	e, h := newHandler(t)
	require.Equal(t, http.StatusOK, deliver(t, h, userEvent("user.created", "user_1", []string{"ada@example.com"}, "Ada", "")).Code)

	rec := deliver(t, h, userEvent("user.updated", "user_1", []string{"countess@example.com"}, "Augusta", "King"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	u, err := e.GetUser(t.Context(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "countess@example.com", u.Email)
	assert.Equal(t, "Augusta", u.FirstName)
	assert.Equal(t, "King", u.LastName)
}

func TestUserUpdatedBeforeCreated(t *testing.T) {
	e, h := newHandler(t)

	rec := deliver(t, h, userEvent("user.updated", "user_2", []string{"grace@example.com"}, "Grace", "Hopper"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	u, err := e.GetUser(t.Context(), "user_2")
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", u.Email)
}

func TestOtherEventsAcknowledged(t *testing.T) {
	_, h := newHandler(t)

	rec := deliver(t, h, []byte(`{"type":"session.created","data":{"id":"sess_1"}}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ignored"])
}

func TestVerificationFailures(t *testing.T) {
	_, h := newHandler(t)
	payload := userEvent("user.created", "user_1", []string{"ada@example.com"}, "", "")

	t.Run("missing headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(payload)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(payload)))
		req.Header.Set("svix-id", "msg_1")
		req.Header.Set("svix-timestamp", strconv.FormatInt(time.Now().Unix(), 10))
		req.Header.Set("svix-signature", "v1,bm90IGEgc2lnbmF0dXJl")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid webhook signature")
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestNewHandlerRejectsBadSecret(t *testing.T) {
	_, err := clerkhook.NewHandler("whsec_***", nil, zerolog.Nop())
	assert.Error(t, err)
}
