package adplatform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

func TestHTTPClient_SendsMutation(t *testing.T) {
	var gotPath, gotAuth, gotKey string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("X-Request-Id", "req-1")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	c, err := NewHTTP(logger.NewNop(), HTTPConfig{BaseURL: srv.URL + "/v1", APIKey: "k"})
	require.NoError(t, err)
	resp, err := c.Apply(context.Background(), Mutation{
		TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: "set_budget",
		Budget: decimal.NewNullDecimal(decimal.RequireFromString("98.5")), IdempotencyKey: "chg-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "/v1/ads/ad-1/set_budget", gotPath)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.Equal(t, "chg-1", gotKey)
	assert.Equal(t, "98.50", body["daily_budget"])
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, true, resp.Body["accepted"])
}

func TestHTTPClient_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusUnauthorized, ErrorUnauthorized},
		{http.StatusForbidden, ErrorUnauthorized},
		{http.StatusBadRequest, ErrorInvalid},
		{http.StatusUnprocessableEntity, ErrorInvalid},
		{http.StatusTooManyRequests, ErrorTransient},
		{http.StatusBadGateway, ErrorTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		c, err := NewHTTP(logger.NewNop(), HTTPConfig{BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = c.Apply(context.Background(), Mutation{AdID: "ad-1", Action: "pause"})
		srv.Close()
		require.Error(t, err)
		assert.Equal(t, tc.kind, KindOf(err), "status %d", tc.status)
		assert.Equal(t, tc.kind == ErrorTransient, IsTransient(err))
	}
}

func TestHTTPClient_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	c, err := NewHTTP(logger.NewNop(), HTTPConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Apply(context.Background(), Mutation{AdID: "ad-1", Action: "resume"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestNewHTTP_RejectsBadURL(t *testing.T) {
	_, err := NewHTTP(logger.NewNop(), HTTPConfig{})
	require.Error(t, err)
	_, err = NewHTTP(logger.NewNop(), HTTPConfig{BaseURL: "not a url"})
	require.Error(t, err)
}
