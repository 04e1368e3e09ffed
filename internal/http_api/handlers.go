package http_api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/internal/repository"
	"github.com/core-coin/speculum/internal/staking"
	"github.com/core-coin/speculum/pkg/validation"
)

func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *HTTPServer) serveWebsocket(c *gin.Context) {
	if s.websocket == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "realtime updates are disabled"})
		return
	}
	s.websocket.ServeHTTP(c.Writer, c.Request)
}

func knownDomain(name string) (models.Domain, bool) {
	for _, d := range repository.Domains {
		if string(d) == name {
			return d, true
		}
	}
	return "", false
}

// stakeSummary is a handler for the /stakes/:domain/:account endpoint.
func (s *HTTPServer) stakeSummary(c *gin.Context) {
	domain, ok := knownDomain(c.Param("domain"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown domain: " + c.Param("domain")})
		return
	}
	account, err := validation.ValidateAndNormalizeAddress(c.Param("account"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account: " + err.Error()})
		return
	}

	summary, err := staking.Summary(c.Request.Context(), s.store.Stakes(domain), account, c.Query("currency"))
	if err != nil {
		s.logger.Errorw("Failed to build stake summary", "domain", domain, "account", account, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build stake summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// providers is a handler for the /notifier/providers endpoint.
func (s *HTTPServer) providers(c *gin.Context) {
	providers, err := s.store.Notifier().GetProviders(c.Request.Context())
	if err != nil {
		s.logger.Errorw("Failed to get providers", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get providers"})
		return
	}
	if providers == nil {
		providers = []*models.Provider{}
	}
	c.JSON(http.StatusOK, providers)
}

// plans is a handler for the /notifier/providers/:address/plans endpoint.
func (s *HTTPServer) plans(c *gin.Context) {
	address, err := validation.ValidateAndNormalizeAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid provider address: " + err.Error()})
		return
	}

	plans, err := s.store.Notifier().GetPlans(c.Request.Context(), address)
	if err != nil {
		s.logger.Errorw("Failed to get plans", "provider", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get plans"})
		return
	}
	if plans == nil {
		plans = []*models.Plan{}
	}
	c.JSON(http.StatusOK, plans)
}

// consumerSubscriptions is a handler for the /notifier/subscriptions endpoint.
// Subscriptions are refreshed from their providers unless refresh=false.
func (s *HTTPServer) consumerSubscriptions(c *gin.Context) {
	if s.subscriptions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notifier domain is disabled"})
		return
	}
	consumer, err := validation.ValidateAndNormalizeAddress(c.Query("consumer"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid consumer: " + err.Error()})
		return
	}

	refresh := true
	if raw := c.Query("refresh"); raw != "" {
		refresh, err = strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid refresh flag: " + raw})
			return
		}
	}

	var subs []*models.Subscription
	if refresh {
		subs, err = s.subscriptions.RefreshSubscriptions(c.Request.Context(), consumer)
	} else {
		subs, err = s.subscriptions.List(c.Request.Context(), consumer)
	}
	if err != nil {
		s.logger.Errorw("Failed to get subscriptions", "consumer", consumer, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get subscriptions"})
		return
	}
	if subs == nil {
		subs = []*models.Subscription{}
	}
	c.JSON(http.StatusOK, subs)
}

// offers is a handler for the /storage/offers endpoint.
func (s *HTTPServer) offers(c *gin.Context) {
	offers, err := s.store.Storage().GetOffers(c.Request.Context())
	if err != nil {
		s.logger.Errorw("Failed to get offers", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get offers"})
		return
	}
	if offers == nil {
		offers = []*models.StorageOffer{}
	}
	c.JSON(http.StatusOK, offers)
}
