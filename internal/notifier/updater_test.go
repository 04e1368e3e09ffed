package notifier_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/speculum/internal/config"
	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/internal/notifier"
	"github.com/core-coin/speculum/internal/repository"
	"github.com/core-coin/speculum/internal/testutil"
	"github.com/core-coin/speculum/pkg/logger"
)

func setupUpdater(t *testing.T) (*repository.NotifierRepository, *providerStub, *notifier.Updater) {
	t.Helper()
	_, repo, stub, updater := setupUpdaterDB(t)
	return repo, stub, updater
}

func setupUpdaterDB(t *testing.T) (*repository.PostgresDB, *repository.NotifierRepository, *providerStub, *notifier.Updater) {
	t.Helper()
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := db.Notifier()
	stub, srv := newProviderStub(t)

	require.NoError(t, repo.CreateProvider(ctx, &models.Provider{Address: providerAddr, URL: srv.URL}))
	require.NoError(t, db.Conn.Create(&models.Rate{Token: "rbtc", USD: decimal.NewFromInt(1)}).Error)

	cfg := &config.Config{Tokens: map[string]string{tokenAddr: "rbtc"}}
	api := notifier.NewClient(logger.NewNop(), 5*time.Second, 0)
	return db, repo, stub, notifier.NewUpdater(logger.NewNop(), models.DomainNotifier, repo, api, cfg)
}

func count(t *testing.T, db *repository.PostgresDB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Conn.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func plansByUpstream(t *testing.T, repo *repository.NotifierRepository) map[int64]*models.Plan {
	t.Helper()
	plans, err := repo.GetPlans(context.Background(), providerAddr)
	require.NoError(t, err)
	out := map[int64]*models.Plan{}
	for _, p := range plans {
		out[p.UpstreamID] = p
	}
	return out
}

func TestUpdaterKeepsDroppedPlans(t *testing.T) {
	ctx := context.Background()
	repo, stub, updater := setupUpdater(t)

	p1 := plan(1, "basic", "ACTIVE", []string{"email", "sms"}, price{tokenAddr, "10"})
	p2 := plan(2, "pro", "ACTIVE", []string{"email"}, price{tokenAddr, "20"})

	stub.setPlans(p1, p2)
	require.NoError(t, updater.Update(ctx, ""))

	plans := plansByUpstream(t, repo)
	require.Len(t, plans, 2)
	assert.Equal(t, models.PlanActive, plans[2].Status)
	assert.ElementsMatch(t, []string{"email", "sms"}, plans[1].ChannelNames())
	require.Len(t, plans[2].Prices, 1)
	assert.Equal(t, "rbtc", plans[2].Prices[0].RateID)
	assert.True(t, plans[2].Prices[0].Price.Equal(decimal.NewFromInt(20)))
	p2ID := plans[2].ID

	stub.setPlans(p1)
	require.NoError(t, updater.Update(ctx, ""))

	plans = plansByUpstream(t, repo)
	require.Len(t, plans, 2, "a plan missing upstream is deactivated, not deleted")
	assert.Equal(t, models.PlanActive, plans[1].Status)
	assert.Equal(t, models.PlanInactive, plans[2].Status)
	assert.Len(t, plans[2].Prices, 1)
	assert.Equal(t, []string{"email"}, plans[2].ChannelNames())

	stub.setPlans(p1, p2)
	require.NoError(t, updater.Update(ctx, ""))

	plans = plansByUpstream(t, repo)
	assert.Equal(t, models.PlanActive, plans[2].Status)
	assert.Equal(t, p2ID, plans[2].ID, "reactivated in place")
	assert.Len(t, plans[2].Prices, 1)
}

func TestUpdaterChangedPlanUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	repo, stub, updater := setupUpdater(t)

	stub.setPlans(plan(1, "basic", "ACTIVE", []string{"email", "sms"}, price{tokenAddr, "10"}))
	require.NoError(t, updater.Update(ctx, ""))
	before := plansByUpstream(t, repo)[1]

	stub.setPlans(plan(1, "basic plus", "ACTIVE", []string{"telegram"}, price{tokenAddr, "15"}))
	require.NoError(t, updater.Update(ctx, ""))

	after := plansByUpstream(t, repo)[1]
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, "basic plus", after.Name)
	assert.Equal(t, models.PlanActive, after.Status)
	assert.Equal(t, []string{"telegram"}, after.ChannelNames())
	require.Len(t, after.Prices, 1)
	assert.True(t, after.Prices[0].Price.Equal(decimal.NewFromInt(15)))
}

func TestUpdaterRollsBackPlanOnUnknownToken(t *testing.T) {
	ctx := context.Background()
	db, repo, stub, updater := setupUpdaterDB(t)

	stub.setPlans(plan(2, "pro", "ACTIVE", []string{"email"}, price{tokenAddr, "20"}))
	require.NoError(t, updater.Update(ctx, ""))

	// channels are written before prices, so the unknown token fails after they exist in the transaction
	stub.setPlans(plan(1, "basic", "ACTIVE", []string{"webhook", "sms"}, price{"0x00000000000000000000000000000000000000ff", "10"}))
	require.NoError(t, updater.Update(ctx, ""), "provider failures are logged, not returned")

	plans := plansByUpstream(t, repo)
	assert.NotContains(t, plans, int64(1), "failed plan is rolled back")
	require.Contains(t, plans, int64(2))
	assert.Equal(t, models.PlanActive, plans[2].Status, "deactivation is skipped for a failed provider")

	assert.Equal(t, int64(1), count(t, db, &models.Plan{}, ""))
	assert.Equal(t, int64(0), count(t, db, &models.Channel{}, "name IN ?", []string{"webhook", "sms"}))
	assert.Equal(t, int64(1), count(t, db, &models.Channel{}, ""))
	assert.Equal(t, int64(1), count(t, db, &models.Price{}, ""))
}

func TestUpdaterSkipsUnreachableProvider(t *testing.T) {
	ctx := context.Background()
	repo, stub, updater := setupUpdater(t)
	require.NoError(t, repo.CreateProvider(ctx, &models.Provider{Address: "0x0000000000000000000000000000000000000001", URL: "http://127.0.0.1:1"}))

	stub.setPlans(plan(1, "basic", "ACTIVE", []string{"email"}, price{tokenAddr, "10"}))
	require.NoError(t, updater.Update(ctx, ""))

	assert.Len(t, plansByUpstream(t, repo), 1)
}

func TestUpdaterByURL(t *testing.T) {
	ctx := context.Background()
	repo, stub, updater := setupUpdater(t)

	stub.setPlans(plan(1, "basic", "ACTIVE", nil))
	require.NoError(t, updater.Update(ctx, "http://unknown.example"))
	assert.Zero(t, stub.planCalls)
	assert.Empty(t, plansByUpstream(t, repo))

	provider, err := repo.FindProvider(ctx, providerAddr)
	require.NoError(t, err)
	require.NoError(t, updater.Update(ctx, provider.URL))
	assert.Equal(t, 1, stub.planCalls)
	assert.Len(t, plansByUpstream(t, repo), 1)
}

type slowCatalog struct {
	active atomic.Int32
	max    atomic.Int32
	calls  atomic.Int32
}

func (c *slowCatalog) GetSubscriptionPlans(context.Context, string) ([]notifier.PlanDTO, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	c.calls.Add(1)
	for {
		m := c.max.Load()
		if n <= m || c.max.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(50 * time.Millisecond)
	return nil, nil
}

func TestUpdaterPassesDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := db.Notifier()
	require.NoError(t, repo.CreateProvider(ctx, &models.Provider{Address: providerAddr, URL: "http://provider.example"}))

	catalog := &slowCatalog{}
	updater := notifier.NewUpdater(logger.NewNop(), models.DomainNotifier, repo, catalog, &config.Config{})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, updater.Update(ctx, ""))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), catalog.calls.Load())
	assert.Equal(t, int32(1), catalog.max.Load())
}

func TestUpdaterHonorsCancelledContext(t *testing.T) {
	db := testutil.NewDB(t)
	updater := notifier.NewUpdater(logger.NewNop(), models.DomainNotifier, db.Notifier(), &slowCatalog{}, &config.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, updater.Update(ctx, ""))
}
