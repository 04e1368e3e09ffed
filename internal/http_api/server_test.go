package http_api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/speculum/internal/http_api"
	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/internal/repository"
	"github.com/core-coin/speculum/internal/testutil"
	"github.com/core-coin/speculum/pkg/logger"
)

const (
	account  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	token    = "0x0000000000000000000000000000000000000001"
	provider = "0x7986b3df570230288501eea3d890bd66948c9b79"
)

type subscriptionsSpy struct {
	refreshed, listed []string
}

func (s *subscriptionsSpy) List(_ context.Context, consumer string) ([]*models.Subscription, error) {
	s.listed = append(s.listed, consumer)
	return nil, nil
}

func (s *subscriptionsSpy) RefreshSubscriptions(_ context.Context, consumer string) ([]*models.Subscription, error) {
	s.refreshed = append(s.refreshed, consumer)
	return []*models.Subscription{{Hash: "0xabc", Consumer: consumer}}, nil
}

func setup(t *testing.T, subs http_api.SubscriptionService) (*repository.PostgresDB, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	server := http_api.NewHTTPServer(logger.NewNop(), 0, db, subs, nil)
	return db, server.Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStakeSummary(t *testing.T) {
	ctx := context.Background()
	db, h := setup(t, nil)

	require.NoError(t, db.Conn.Create(&models.Rate{Token: "rbtc", USD: decimal.RequireFromString("1.5")}).Error)
	require.NoError(t, db.Stakes(models.DomainNotifier).CreateStake(ctx, &models.Stake{
		Account: account,
		Token:   token,
		Symbol:  "rbtc",
		Total:   decimal.RequireFromString("2000000000000000000"),
	}))

	rec := get(t, h, "/api/v1/stakes/notifier/"+account+"?currency=USD")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		TotalStakedFiat string          `json:"totalStakedFiat"`
		Stakes          []*models.Stake `json:"stakes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "3.00", body.TotalStakedFiat)
	require.Len(t, body.Stakes, 1)
	assert.Equal(t, "rbtc", body.Stakes[0].Symbol)

	// stakes are per domain
	rec = get(t, h, "/api/v1/stakes/storage/"+account)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "0.00", body.TotalStakedFiat)
	assert.Empty(t, body.Stakes)
}

func TestStakeSummaryRejectsBadInput(t *testing.T) {
	_, h := setup(t, nil)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/stakes/notifier/0x123").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/stakes/marketplace/"+account).Code)
}

func TestProvidersAndPlans(t *testing.T) {
	ctx := context.Background()
	db, h := setup(t, nil)

	rec := get(t, h, "/api/v1/notifier/providers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	require.NoError(t, db.Notifier().CreateProvider(ctx, &models.Provider{Address: provider, URL: "http://provider.example"}))
	require.NoError(t, db.Notifier().SavePlan(ctx, &models.Plan{
		UpstreamID: 7,
		ProviderID: provider,
		Name:       "basic",
		Status:     models.PlanActive,
	}))

	rec = get(t, h, "/api/v1/notifier/providers")
	require.Equal(t, http.StatusOK, rec.Code)
	var providers []models.Provider
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &providers))
	require.Len(t, providers, 1)
	assert.Equal(t, "http://provider.example", providers[0].URL)

	rec = get(t, h, "/api/v1/notifier/providers/0x7986B3DF570230288501EEA3D890BD66948C9B79/plans")
	require.Equal(t, http.StatusOK, rec.Code)
	var plans []models.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plans))
	require.Len(t, plans, 1)
	assert.Equal(t, int64(7), plans[0].UpstreamID)
	assert.Equal(t, models.PlanActive, plans[0].Status)
}

func TestConsumerSubscriptions(t *testing.T) {
	spy := &subscriptionsSpy{}
	_, h := setup(t, spy)

	rec := get(t, h, "/api/v1/notifier/subscriptions?consumer="+account)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{account}, spy.refreshed)
	assert.Contains(t, rec.Body.String(), `"hash":"0xabc"`)

	rec = get(t, h, "/api/v1/notifier/subscriptions?refresh=false&consumer="+account)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{account}, spy.listed)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/notifier/subscriptions?consumer=nope").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/notifier/subscriptions?consumer="+account+"&refresh=maybe").Code)
}

func TestDisabledSurfaces(t *testing.T) {
	_, h := setup(t, nil)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/notifier/subscriptions?consumer="+account).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/ws").Code)

	rec := get(t, h, "/api/v1/storage/offers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
