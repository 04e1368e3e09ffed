package staking_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/speculum/internal/config"
	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/internal/staking"
	"github.com/core-coin/speculum/internal/testutil"
	"github.com/core-coin/speculum/pkg/logger"
)

type emitterSpy struct {
	events   []string
	payloads []map[string]interface{}
}

func (s *emitterSpy) Emit(event string, payload interface{}) {
	s.events = append(s.events, event)
	s.payloads = append(s.payloads, payload.(map[string]interface{}))
}

func stakeEvent(name, amount string) models.Event {
	return models.Event{
		Event: name,
		ReturnValues: map[string]interface{}{
			"user":   "0xAA",
			"token":  "0x00",
			"amount": amount,
		},
	}
}

func TestStakeLifecycle(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := db.Stakes(models.DomainNotifier)
	spy := &emitterSpy{}
	cfg := &config.Config{Tokens: map[string]string{"0x00": "rbtc"}}
	h := staking.NewHandler(logger.NewNop(), repo, cfg, spy)

	require.NoError(t, h.Handle(ctx, stakeEvent("Staked", "1000000000000000000")))

	stake, err := repo.FindStake(ctx, "0xaa", "0x00")
	require.NoError(t, err)
	require.NotNil(t, stake)
	assert.Equal(t, "1000000000000000000", stake.Total.String())
	assert.Equal(t, "rbtc", stake.Symbol)
	assert.Equal(t, "0.00", spy.payloads[0]["totalStakedFiat"], "no rate row yet")

	require.NoError(t, db.Conn.Create(&models.Rate{Token: "rbtc", USD: decimal.NewFromInt(1000)}).Error)

	require.NoError(t, h.Handle(ctx, stakeEvent("Staked", "1000000000000000000")))

	stake, err = repo.FindStake(ctx, "0xaa", "0x00")
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", stake.Total.String())

	summary, err := staking.Summary(ctx, repo, "0xAA", "")
	require.NoError(t, err)
	assert.Equal(t, "2000.00", summary.TotalStakedFiat)
	assert.Len(t, summary.Stakes, 1)

	assert.Equal(t, []string{models.EmitUpdated, models.EmitUpdated}, spy.events)
	assert.Equal(t, "Staked", spy.payloads[1]["event"])
	assert.Equal(t, "2000.00", spy.payloads[1]["totalStakedFiat"])

	require.NoError(t, h.Handle(ctx, stakeEvent("Unstaked", "500000000000000000")))
	summary, err = staking.Summary(ctx, repo, "0xaa", "usd")
	require.NoError(t, err)
	assert.Equal(t, "1500.00", summary.TotalStakedFiat)
}

func TestUnstakeWithoutStakeFails(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	spy := &emitterSpy{}
	h := staking.NewHandler(logger.NewNop(), db.Stakes(models.DomainStorage), &config.Config{}, spy)

	err := h.Handle(ctx, stakeEvent("Unstaked", "1"))

	require.ErrorIs(t, err, staking.ErrStakeNotFound)
	assert.Contains(t, err.Error(), "0xaa")
	assert.Contains(t, err.Error(), "0x00")
	assert.Empty(t, spy.events)

	stakes, err := db.Stakes(models.DomainStorage).GetStakes(ctx, "0xaa")
	require.NoError(t, err)
	assert.Empty(t, stakes, "unstake never creates a row")
}

func TestStakeUnknownTokenFails(t *testing.T) {
	db := testutil.NewDB(t)
	h := staking.NewHandler(logger.NewNop(), db.Stakes(models.DomainNotifier), &config.Config{}, &emitterSpy{})

	err := h.Handle(context.Background(), stakeEvent("Staked", "1"))
	assert.ErrorIs(t, err, config.ErrUnknownToken)
}

func TestSummaryMissingRateCountsAsZero(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := db.Stakes(models.DomainNotifier)

	require.NoError(t, repo.CreateStake(ctx, &models.Stake{Account: "0xbb", Token: "0x01", Symbol: "rif", Total: decimal.RequireFromString("3000000000000000000")}))
	require.NoError(t, repo.CreateStake(ctx, &models.Stake{Account: "0xbb", Token: "0x02", Symbol: "doc", Total: decimal.RequireFromString("5000000000000000000")}))
	require.NoError(t, db.Conn.Create(&models.Rate{Token: "rif", EUR: decimal.RequireFromString("0.125")}).Error)

	summary, err := staking.Summary(ctx, repo, "0xbb", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.38", summary.TotalStakedFiat)
	assert.Len(t, summary.Stakes, 2)
}
