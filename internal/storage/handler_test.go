package storage_test

import (
	"context"
	"math"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/speculum/internal/config"
	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/internal/storage"
	"github.com/core-coin/speculum/internal/testutil"
	"github.com/core-coin/speculum/pkg/logger"
)

const (
	provider = "0x7986b3df570230288501eea3d890bd66948c9b79"
	token    = "0x0000000000000000000000000000000000000000"
)

type emitterSpy struct {
	events   []string
	payloads []map[string]interface{}
}

func (s *emitterSpy) Emit(event string, payload interface{}) {
	s.events = append(s.events, event)
	s.payloads = append(s.payloads, payload.(map[string]interface{}))
}

func event(name string, values map[string]interface{}) models.Event {
	values["provider"] = "0x7986B3DF570230288501EEA3D890BD66948C9B79"
	return models.Event{Event: name, ReturnValues: values}
}

func TestOfferFromEvents(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := db.Storage()
	spy := &emitterSpy{}
	cfg := &config.Config{Tokens: map[string]string{token: "rbtc"}}
	h := storage.NewOfferHandler(logger.NewNop(), repo, cfg, spy)

	require.NoError(t, h.Handle(ctx, event(storage.EventCapacitySet, map[string]interface{}{"capacity": "1073741824"})))
	require.NoError(t, h.Handle(ctx, event(storage.EventMaximumDurationSet, map[string]interface{}{"maximumDuration": big.NewInt(86400)})))
	require.NoError(t, h.Handle(ctx, event(storage.EventPriceSet, map[string]interface{}{"period": "3600", "price": "1000", "token": token})))
	require.NoError(t, h.Handle(ctx, event(storage.EventPriceSet, map[string]interface{}{"period": "86400", "price": "20000", "token": token})))
	require.NoError(t, h.Handle(ctx, event(storage.EventPriceSet, map[string]interface{}{"period": "3600", "price": "1500", "token": token})))

	offer, err := repo.FindOffer(ctx, provider)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.True(t, offer.TotalCapacity.Equal(decimal.NewFromInt(1073741824)))
	assert.True(t, offer.MaximumDuration.Equal(decimal.NewFromInt(86400)))
	require.Len(t, offer.Prices, 2, "a period keeps a single price")
	assert.Equal(t, int64(3600), offer.Prices[0].Period)
	assert.True(t, offer.Prices[0].Amount.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, "rbtc", offer.Prices[0].RateID)
	assert.Equal(t, int64(86400), offer.Prices[1].Period)

	assert.Equal(t, []string{models.EmitCreated, models.EmitUpdated, models.EmitUpdated, models.EmitUpdated, models.EmitUpdated}, spy.events)
	assert.Equal(t, storage.EventPriceSet, spy.payloads[4]["event"])
}

func TestPriceSetUnknownToken(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := db.Storage()
	spy := &emitterSpy{}
	h := storage.NewOfferHandler(logger.NewNop(), repo, &config.Config{}, spy)

	err := h.Handle(ctx, event(storage.EventPriceSet, map[string]interface{}{"period": "1", "price": "1", "token": token}))
	require.ErrorIs(t, err, config.ErrUnknownToken)
	assert.Empty(t, spy.events)
}

func TestPriceSetRejectsOversizedPeriod(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := db.Storage()
	spy := &emitterSpy{}
	tokens := &config.Config{Tokens: map[string]string{token: "rbtc"}}
	h := storage.NewOfferHandler(logger.NewNop(), repo, tokens, spy)

	// 2^63 would wrap to a negative key
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 63).String()
	err := h.Handle(ctx, event(storage.EventPriceSet, map[string]interface{}{"period": tooLarge, "price": "1", "token": token}))
	require.ErrorIs(t, err, storage.ErrInvalidPeriod)

	require.NoError(t, h.Handle(ctx, event(storage.EventPriceSet, map[string]interface{}{"period": "9223372036854775807", "price": "1", "token": token})))
	offer, err := repo.FindOffer(ctx, provider)
	require.NoError(t, err)
	require.NotNil(t, offer)
	require.Len(t, offer.Prices, 1)
	assert.Equal(t, int64(math.MaxInt64), offer.Prices[0].Period)
	assert.Equal(t, []string{models.EmitUpdated}, spy.events)
}
