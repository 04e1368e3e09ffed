package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/core-coin/speculum/internal/metrics"
	"github.com/core-coin/speculum/pkg/logger"
)

const (
	resourcePlans         = "getSubscriptionPlans"
	resourceSubscriptions = "getSubscriptions"

	maxBodySize = 4 << 20
)

// Kind classifies provider API failures.
type Kind string

const (
	KindMalformed    Kind = "malformed"
	KindThrottled    Kind = "throttled"
	KindTimeout      Kind = "timeout"
	KindStatus       Kind = "status"
	KindUnsuccessful Kind = "unsuccessful"
	KindTransport    Kind = "transport"
)

// APIError is every failure of a provider API call.
type APIError struct {
	Resource string
	URL      string
	Status   int
	Message  string
	Kind     Kind
	Err      error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("provider api %s at %s failed (%s)", e.Resource, e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// PlanDTO is one plan of a provider catalog.
type PlanDTO struct {
	ID                    int64        `json:"id"`
	Name                  string       `json:"name"`
	PlanStatus            string       `json:"planStatus"`
	DaysLeft              int          `json:"daysLeft"`
	Quantity              int          `json:"quantity"`
	Channels              []ChannelDTO `json:"channels"`
	SubscriptionPriceList []PriceDTO   `json:"subscriptionPriceList"`
}

type ChannelDTO struct {
	Name string `json:"name"`
}

type PriceDTO struct {
	Price    string      `json:"price"`
	Currency CurrencyDTO `json:"currency"`
}

type CurrencyDTO struct {
	Name    string `json:"name"`
	Address struct {
		Value string `json:"value"`
	} `json:"address"`
}

// SubscriptionDTO is one subscription as the provider reports it.
type SubscriptionDTO struct {
	Hash                 string          `json:"hash"`
	UserAddress          string          `json:"userAddress"`
	Status               string          `json:"status"`
	Paid                 bool            `json:"paid"`
	NotificationBalance  int64           `json:"notificationBalance"`
	ExpirationDate       time.Time       `json:"expirationDate"`
	Price                decimal.Decimal `json:"price"`
	Currency             CurrencyDTO     `json:"currency"`
	Topics               json.RawMessage `json:"topics"`
	PreviousSubscription *string         `json:"previousSubscription"`
	Signature            string          `json:"signature"`
	SubscriptionPlanID   int64           `json:"subscriptionPlanId"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code"`
	Data    struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Content json.RawMessage `json:"content"`
	} `json:"data"`
}

func (e *envelope) ok() bool {
	if !e.Success {
		return false
	}
	return strings.EqualFold(e.Data.Status, "OK") || strings.EqualFold(e.Data.Message, "OK")
}

// throttled reports whether a provider message signals rate limiting.
// Only non-envelope bodies and failure messages are checked, never content.
func throttled(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "throttled")
}

func (e *envelope) failure() string {
	for _, m := range []string{e.Data.Message, e.Message, e.Data.Status} {
		if m != "" {
			return m
		}
	}
	return "provider reported failure"
}

// ProviderAPI is the off-chain service each notifier provider runs.
type ProviderAPI interface {
	GetSubscriptionPlans(ctx context.Context, baseURL string) ([]PlanDTO, error)
	GetSubscriptions(ctx context.Context, baseURL, consumer string, hashes ...string) ([]SubscriptionDTO, error)
}

// Client calls provider APIs with a request timeout and a shared client-side rate limit.
type Client struct {
	logger  *logger.Logger
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a provider API client. A non-positive rps disables the rate limit.
func NewClient(logger *logger.Logger, timeout time.Duration, rps float64) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		logger:  logger,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// GetSubscriptionPlans fetches the current plan catalog of a provider.
func (c *Client) GetSubscriptionPlans(ctx context.Context, baseURL string) ([]PlanDTO, error) {
	var plans []PlanDTO
	if err := c.get(ctx, baseURL, resourcePlans, nil, nil, &plans); err != nil {
		return nil, err
	}
	return plans, nil
}

// GetSubscriptions fetches the subscriptions of consumer, optionally limited to hashes.
func (c *Client) GetSubscriptions(ctx context.Context, baseURL, consumer string, hashes ...string) ([]SubscriptionDTO, error) {
	query := url.Values{}
	if len(hashes) > 0 {
		query.Set("hashes", strings.Join(hashes, ","))
	}
	header := http.Header{}
	header.Set("userAddress", consumer)

	var subs []SubscriptionDTO
	if err := c.get(ctx, baseURL, resourceSubscriptions, query, header, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (c *Client) get(ctx context.Context, baseURL, resource string, query url.Values, header http.Header, out interface{}) error {
	endpoint, err := Endpoint(baseURL, resource)
	if err != nil {
		return c.fail(&APIError{Resource: resource, URL: baseURL, Kind: KindTransport, Err: err})
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(&APIError{Resource: resource, URL: endpoint, Kind: KindTransport, Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return c.fail(&APIError{Resource: resource, URL: endpoint, Kind: KindTransport, Err: err})
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		kind := KindTransport
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = KindTimeout
		}
		return c.fail(&APIError{Resource: resource, URL: endpoint, Kind: kind, Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return c.fail(&APIError{Resource: resource, URL: endpoint, Status: resp.StatusCode, Kind: KindTransport, Err: err})
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return c.fail(&APIError{Resource: resource, URL: endpoint, Status: resp.StatusCode, Kind: KindThrottled, Message: snippet(body)})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := KindStatus
		if throttled(string(body)) {
			kind = KindThrottled
		}
		return c.fail(&APIError{Resource: resource, URL: endpoint, Status: resp.StatusCode, Kind: kind, Message: snippet(body)})
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '<' {
		return c.fail(&APIError{Resource: resource, URL: endpoint, Status: resp.StatusCode, Kind: KindMalformed, Message: "received HTML instead of JSON"})
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if throttled(string(body)) {
			return c.fail(&APIError{Resource: resource, URL: endpoint, Status: resp.StatusCode, Kind: KindThrottled, Message: snippet(body)})
		}
		return c.fail(&APIError{Resource: resource, URL: endpoint, Status: resp.StatusCode, Kind: KindMalformed, Err: err})
	}
	if !env.ok() {
		kind := KindUnsuccessful
		if throttled(env.Message) || throttled(env.Data.Message) || throttled(env.Data.Status) {
			kind = KindThrottled
		}
		return c.fail(&APIError{Resource: resource, URL: endpoint, Status: resp.StatusCode, Kind: kind, Message: env.failure()})
	}
	if len(env.Data.Content) == 0 || string(env.Data.Content) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data.Content, out); err != nil {
		return c.fail(&APIError{Resource: resource, URL: endpoint, Status: resp.StatusCode, Kind: KindMalformed, Err: err})
	}
	return nil
}

func (c *Client) fail(err *APIError) error {
	metrics.ProviderAPIErrors.WithLabelValues(err.Resource, string(err.Kind)).Inc()
	c.logger.Debugw("Provider API call failed", "resource", err.Resource, "url", err.URL, "kind", err.Kind, "status", err.Status)
	return err
}

// Endpoint joins a provider base URL and a resource into a request URL.
// The base URL must carry a scheme and a host; the port is optional.
func Endpoint(baseURL, resource string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid provider url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return "", fmt.Errorf("invalid provider url %q: missing scheme or host", baseURL)
	}
	host := u.Hostname()
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	}
	path := strings.TrimRight(u.Path, "/") + "/" + resource
	return (&url.URL{Scheme: u.Scheme, Host: host, Path: path}).String(), nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
