package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/innovfix/onlycare-calls/internal/errors"
	"github.com/innovfix/onlycare-calls/internal/httputil"
	"github.com/innovfix/onlycare-calls/internal/matching"
	"github.com/innovfix/onlycare-calls/internal/media"
	"github.com/innovfix/onlycare-calls/internal/middleware"
	"github.com/innovfix/onlycare-calls/internal/model"
	"github.com/innovfix/onlycare-calls/internal/repository"
	"github.com/innovfix/onlycare-calls/internal/service"
)

type callAPI struct {
	store  *repository.MemoryStore
	router chi.Router
}

func newCallAPI(t *testing.T, initiateLimit func(http.Handler) http.Handler) *callAPI {
	t.Helper()

	store := repository.NewMemoryStore()
	calls := service.NewCallService(
		store,
		service.NewBillingService(decimal.RequireFromString("0.10")),
		service.NewNotifier(nil),
		media.NewTokenIssuer("app-id", "app-certificate", 24*time.Hour),
		service.NewMatchingService(store, matching.Thresholds{Medium: 1000, High: 10000}, nil),
		service.DefaultRates{model.CallKindAudio: 10, model.CallKindVideo: 60},
	)

	token := "device-f1"
	store.PutUser(model.User{
		ID: "m1", Name: "Payer", Gender: model.GenderMale, Language: "en",
		Active: true, Online: true, AudioEnabled: true, VideoEnabled: true, CoinBalance: 500,
	})
	store.PutUser(model.User{
		ID: "f1", Name: "Earner", Gender: model.GenderFemale, Language: "en",
		Active: true, Online: true, AudioEnabled: true, VideoEnabled: true, PushToken: &token,
	})
	store.PutUser(model.User{
		ID: "m2", Name: "Other", Gender: model.GenderMale, Language: "en",
		Active: true, Online: true, AudioEnabled: true, VideoEnabled: true, CoinBalance: 500,
	})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := middleware.WithUserID(r.Context(), r.Header.Get("X-Test-User"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	r.Mount("/v1/calls", NewCallHandler(calls, initiateLimit).Routes())

	return &callAPI{store: store, router: r}
}

func (a *callAPI) do(t *testing.T, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Test-User", userID)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) model.CallView {
	t.Helper()
	var view model.CallView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view), rec.Body.String())
	return view
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestCallHandlerLifecycle(t *testing.T) {
	api := newCallAPI(t, nil)

	rec := api.do(t, "m1", http.MethodPost, "/v1/calls", map[string]string{"receiverId": "f1", "callType": "audio"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeView(t, rec)
	assert.Equal(t, model.CallStatusConnecting, created.Status)
	assert.NotEmpty(t, created.Token)
	assert.Equal(t, "50m 00s", created.BalanceTime)

	rec = api.do(t, "f1", http.MethodPost, "/v1/calls/"+created.ID+"/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.CallStatusOngoing, decodeView(t, rec).Status)

	rec = api.do(t, "m1", http.MethodGet, "/v1/calls/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeView(t, rec).BalanceTime)

	rec = api.do(t, "m1", http.MethodPost, "/v1/calls/"+created.ID+"/end", map[string]int64{"duration": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ended := decodeView(t, rec)
	assert.Equal(t, model.CallStatusEnded, ended.Status)
	assert.Empty(t, ended.Token, "credentials are hidden once the call is over")

	rec = api.do(t, "m1", http.MethodPost, "/v1/calls/"+created.ID+"/rating", map[string]any{"rating": 5, "feedback": "great"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, decodeView(t, rec).Rating)

	rec = api.do(t, "m1", http.MethodPost, "/v1/calls/"+created.ID+"/rating", map[string]any{"rating": 4})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, "f1", http.MethodGet, "/v1/calls?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Calls []model.CallView `json:"calls"`
		Limit int              `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Calls, 1)
	assert.Equal(t, 10, list.Limit)
}

func TestCallHandlerErrors(t *testing.T) {
	t.Run("unknown call type", func(t *testing.T) {
		api := newCallAPI(t, nil)
		rec := api.do(t, "m1", http.MethodPost, "/v1/calls", map[string]string{"receiverId": "f1", "callType": "hologram"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_REQUEST", string(decodeErr(t, rec).Code))
	})

	t.Run("missing receiver", func(t *testing.T) {
		api := newCallAPI(t, nil)
		rec := api.do(t, "m1", http.MethodPost, "/v1/calls", map[string]string{"callType": "AUDIO"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		api := newCallAPI(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/v1/calls", bytes.NewBufferString("{not json"))
		req.Header.Set("X-Test-User", "m1")
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("insufficient coins carries details", func(t *testing.T) {
		api := newCallAPI(t, nil)
		u, _ := api.store.User("m1")
		u.CoinBalance = 5
		api.store.PutUser(u)

		rec := api.do(t, "m1", http.MethodPost, "/v1/calls", map[string]string{"receiverId": "f1", "callType": "AUDIO"})

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		resp := decodeErr(t, rec)
		assert.Equal(t, "INSUFFICIENT_COINS", string(resp.Code))
		assert.NotNil(t, resp.Details)
	})

	t.Run("busy receiver", func(t *testing.T) {
		api := newCallAPI(t, nil)
		rec := api.do(t, "m1", http.MethodPost, "/v1/calls", map[string]string{"receiverId": "f1", "callType": "AUDIO"})
		require.Equal(t, http.StatusCreated, rec.Code)
		rec = api.do(t, "f1", http.MethodPost, "/v1/calls/"+decodeView(t, rec).ID+"/accept", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = api.do(t, "m2", http.MethodPost, "/v1/calls", map[string]string{"receiverId": "f1", "callType": "AUDIO"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "USER_BUSY", string(decodeErr(t, rec).Code))
	})

	t.Run("outsider cannot read a call", func(t *testing.T) {
		api := newCallAPI(t, nil)
		rec := api.do(t, "m1", http.MethodPost, "/v1/calls", map[string]string{"receiverId": "f1", "callType": "AUDIO"})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = api.do(t, "m2", http.MethodGet, "/v1/calls/"+decodeView(t, rec).ID, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		api := newCallAPI(t, nil)
		rec := api.do(t, "m1", http.MethodPost, "/v1/calls/not-a-uuid/accept", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("negative duration", func(t *testing.T) {
		api := newCallAPI(t, nil)
		rec := api.do(t, "m1", http.MethodPost, "/v1/calls/0190a000-0000-7000-8000-000000000000/end", map[string]int64{"duration": -3})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("random call from an earner", func(t *testing.T) {
		api := newCallAPI(t, nil)
		rec := api.do(t, "f1", http.MethodPost, "/v1/calls/random", map[string]string{"callType": "AUDIO"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCallHandlerRandom(t *testing.T) {
	api := newCallAPI(t, nil)

	rec := api.do(t, "m1", http.MethodPost, "/v1/calls/random", map[string]string{"callType": "VIDEO"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeView(t, rec)
	assert.Equal(t, "f1", view.ReceiverID)
	assert.Equal(t, model.CallKindVideo, view.Kind)
}

func TestCallHandlerInitiateLimit(t *testing.T) {
	limiter := middleware.NewRateLimitMiddleware(middleware.NewRateLimiter(), "initiate", 1)
	api := newCallAPI(t, limiter.Handler)

	rec := api.do(t, "m1", http.MethodPost, "/v1/calls", map[string]string{"receiverId": "f1", "callType": "AUDIO"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, "m1", http.MethodPost, "/v1/calls/random", map[string]string{"callType": "AUDIO"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other routes are not limited.
	rec = api.do(t, "m1", http.MethodGet, "/v1/calls", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseHistoryPage(t *testing.T) {
	cases := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultHistoryLimit, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=1000", MaxHistoryLimit, 0},
		{"limit=-1&offset=-5", DefaultHistoryLimit, 0},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/calls?"+tc.query, nil).WithContext(context.Background())
			p, err := ParseHistoryPage(req)
			require.NoError(t, err)
			assert.Equal(t, tc.limit, p.Limit)
			assert.Equal(t, tc.offset, p.Offset)
		})
	}

	t.Run("rejects non-numeric values", func(t *testing.T) {
		for _, query := range []string{"limit=ten", "offset=1.5"} {
			req := httptest.NewRequest(http.MethodGet, "/v1/calls?"+query, nil)
			_, err := ParseHistoryPage(req)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest), query)
		}
	})
}
