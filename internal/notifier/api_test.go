package notifier_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/speculum/internal/notifier"
	"github.com/core-coin/speculum/pkg/logger"
)

func serve(t *testing.T, status int, body string) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestClientErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   notifier.Kind
	}{
		{"html", http.StatusOK, "<!DOCTYPE html><html></html>", notifier.KindMalformed},
		{"broken json", http.StatusOK, `{"success": tru`, notifier.KindMalformed},
		{"too many requests", http.StatusTooManyRequests, `{}`, notifier.KindThrottled},
		{"throttled body", http.StatusOK, `Request was throttled`, notifier.KindThrottled},
		{"throttled envelope", http.StatusOK, `{"success": false, "message": "Throttled, retry later"}`, notifier.KindThrottled},
		{"server error", http.StatusInternalServerError, `{}`, notifier.KindStatus},
		{"throttled gateway", http.StatusServiceUnavailable, `upstream throttled`, notifier.KindThrottled},
		{"unsuccessful", http.StatusOK, `{"success": false, "message": "nope"}`, notifier.KindUnsuccessful},
		{"not ok", http.StatusOK, `{"success": true, "data": {"status": "FAILED"}}`, notifier.KindUnsuccessful},
	}

	client := notifier.NewClient(logger.NewNop(), 5*time.Second, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.GetSubscriptionPlans(context.Background(), serve(t, tt.status, tt.body))

			var apiErr *notifier.APIError
			require.True(t, errors.As(err, &apiErr), "got %v", err)
			assert.Equal(t, tt.kind, apiErr.Kind)
			assert.Equal(t, "getSubscriptionPlans", apiErr.Resource)
		})
	}
}

func TestClientIgnoresThrottledInContent(t *testing.T) {
	client := notifier.NewClient(logger.NewNop(), 5*time.Second, 0)
	body := `{"success": true, "data": {"status": "OK", "content": [
		{"id": 1, "name": "Throttled alerts", "planStatus": "ACTIVE", "channels": [{"name": "throttled-sms"}]}
	]}}`

	plans, err := client.GetSubscriptionPlans(context.Background(), serve(t, http.StatusOK, body))
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Throttled alerts", plans[0].Name)
	assert.Equal(t, "throttled-sms", plans[0].Channels[0].Name)
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := notifier.NewClient(logger.NewNop(), 50*time.Millisecond, 0)
	_, err := client.GetSubscriptionPlans(context.Background(), srv.URL)

	var apiErr *notifier.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, notifier.KindTimeout, apiErr.Kind)
}

func TestClientAcceptsEmptyContent(t *testing.T) {
	client := notifier.NewClient(logger.NewNop(), 5*time.Second, 0)

	plans, err := client.GetSubscriptionPlans(context.Background(),
		serve(t, http.StatusOK, `{"success": true, "data": {"message": "ok", "content": null}}`))
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestClientDecodesPlans(t *testing.T) {
	stub, srv := newProviderStub(t)
	stub.setPlans(plan(7, "basic", "ACTIVE", []string{"email"}, price{tokenAddr, "1.5"}))

	client := notifier.NewClient(logger.NewNop(), 5*time.Second, 10)
	plans, err := client.GetSubscriptionPlans(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, int64(7), plans[0].ID)
	assert.Equal(t, "ACTIVE", plans[0].PlanStatus)
	assert.Equal(t, "email", plans[0].Channels[0].Name)
	assert.Equal(t, "1.5", plans[0].SubscriptionPriceList[0].Price)
	assert.Equal(t, tokenAddr, plans[0].SubscriptionPriceList[0].Currency.Address.Value)
}

func TestEndpoint(t *testing.T) {
	got, err := notifier.Endpoint("http://provider.example:8080/api/", "getSubscriptionPlans")
	require.NoError(t, err)
	assert.Equal(t, "http://provider.example:8080/api/getSubscriptionPlans", got)

	got, err = notifier.Endpoint("https://provider.example", "getSubscriptions")
	require.NoError(t, err)
	assert.Equal(t, "https://provider.example/getSubscriptions", got)

	_, err = notifier.Endpoint("provider.example", "getSubscriptions")
	assert.Error(t, err)
}
