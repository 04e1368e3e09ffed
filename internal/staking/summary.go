package staking

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/validation"
)

// DefaultCurrency is used when a summary is requested without a currency.
const DefaultCurrency = "usd"

// tokenDecimals is the wei scale of every staked token.
const tokenDecimals = 18

type StakeSummary struct {
	TotalStakedFiat string          `json:"totalStakedFiat"`
	Stakes          []*models.Stake `json:"stakes"`
}

// SummaryReader is the read side of a stake repository.
type SummaryReader interface {
	GetStakes(ctx context.Context, account string) ([]*models.Stake, error)
	GetRates(ctx context.Context, symbols ...string) (map[string]*models.Rate, error)
}

// Summary sums every stake of account converted to currency, rounded to two decimals.
// Stakes whose symbol has no rate count as zero.
func Summary(ctx context.Context, repo SummaryReader, account, currency string) (*StakeSummary, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	account = validation.NormalizeAddress(account)

	stakes, err := repo.GetStakes(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to get stakes of %s: %w", account, err)
	}

	symbols := make([]string, 0, len(stakes))
	for _, s := range stakes {
		symbols = append(symbols, s.Symbol)
	}
	rates, err := repo.GetRates(ctx, symbols...)
	if err != nil {
		return nil, fmt.Errorf("failed to get rates: %w", err)
	}

	total := decimal.Zero
	for _, s := range stakes {
		rate := rates[s.Symbol].In(strings.ToLower(currency))
		total = total.Add(s.Total.Shift(-tokenDecimals).Mul(rate))
	}

	if stakes == nil {
		stakes = []*models.Stake{}
	}
	return &StakeSummary{
		TotalStakedFiat: total.StringFixed(2),
		Stakes:          stakes,
	}, nil
}
