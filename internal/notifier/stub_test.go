package notifier_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// providerStub plays a provider API backed by in-memory content.
type providerStub struct {
	mu    sync.Mutex
	plans []map[string]interface{}
	subs  []map[string]interface{}

	userAddress string
	hashes      string
	planCalls   int
}

func newProviderStub(t *testing.T) (*providerStub, *httptest.Server) {
	stub := &providerStub{}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return stub, srv
}

func (s *providerStub) setPlans(plans ...map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = plans
}

func (s *providerStub) setSubscriptions(subs ...map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = subs
}

func (s *providerStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var content interface{}
	switch {
	case strings.HasSuffix(r.URL.Path, "/getSubscriptionPlans"):
		s.planCalls++
		content = s.plans
	case strings.HasSuffix(r.URL.Path, "/getSubscriptions"):
		s.userAddress = r.Header.Get("userAddress")
		s.hashes = r.URL.Query().Get("hashes")
		content = s.subs
	default:
		http.NotFound(w, r)
		return
	}
	writeEnvelope(w, content)
}

func writeEnvelope(w http.ResponseWriter, content interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"status":  "OK",
			"content": content,
		},
	})
}

type price struct {
	token  string
	amount string
}

func plan(id int64, name, status string, channels []string, prices ...price) map[string]interface{} {
	chs := make([]map[string]interface{}, 0, len(channels))
	for _, c := range channels {
		chs = append(chs, map[string]interface{}{"name": c})
	}
	list := make([]map[string]interface{}, 0, len(prices))
	for _, p := range prices {
		list = append(list, map[string]interface{}{
			"price": p.amount,
			"currency": map[string]interface{}{
				"name":    "token",
				"address": map[string]interface{}{"value": p.token},
			},
		})
	}
	return map[string]interface{}{
		"id":                    id,
		"name":                  name,
		"planStatus":            status,
		"daysLeft":              30,
		"quantity":              100,
		"channels":              chs,
		"subscriptionPriceList": list,
	}
}

type emitterSpy struct {
	mu       sync.Mutex
	events   []string
	payloads []interface{}
}

func (s *emitterSpy) Emit(event string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.payloads = append(s.payloads, payload)
}
