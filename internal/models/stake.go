package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Stake is the accumulated amount an account staked in one token.
// Each domain keeps its stakes in its own table, see repository.StakeTable.
type Stake struct {
	// Account is the staker address, lowercase.
	Account string `json:"account" gorm:"column:account;primaryKey;size:42"`
	// Token is the staked token address, lowercase.
	Token string `json:"token" gorm:"column:token;primaryKey;size:42"`
	// Symbol is the rate-table symbol of Token, resolved on creation.
	Symbol string `json:"symbol" gorm:"column:symbol"`
	// Total is the wei-scale staked amount.
	Total decimal.Decimal `json:"total" gorm:"column:total;type:numeric;not null"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Rate holds the fiat conversion rates of one token symbol.
// Rows are written by the price feed; the indexer only reads them.
type Rate struct {
	Token string          `json:"token" gorm:"column:token;primaryKey"`
	USD   decimal.Decimal `json:"usd" gorm:"column:usd;type:numeric"`
	EUR   decimal.Decimal `json:"eur" gorm:"column:eur;type:numeric"`
	BTC   decimal.Decimal `json:"btc" gorm:"column:btc;type:numeric"`
	ARS   decimal.Decimal `json:"ars" gorm:"column:ars;type:numeric"`
	CNY   decimal.Decimal `json:"cny" gorm:"column:cny;type:numeric"`
	KRW   decimal.Decimal `json:"krw" gorm:"column:krw;type:numeric"`
	JPY   decimal.Decimal `json:"jpy" gorm:"column:jpy;type:numeric"`

	UpdatedAt time.Time `json:"-"`
}

func (Rate) TableName() string {
	return "rates"
}

// In returns the rate for currency, or zero for an unknown currency.
func (r *Rate) In(currency string) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	switch strings.ToLower(currency) {
	case "usd":
		return r.USD
	case "eur":
		return r.EUR
	case "btc":
		return r.BTC
	case "ars":
		return r.ARS
	case "cny":
		return r.CNY
	case "krw":
		return r.KRW
	case "jpy":
		return r.JPY
	}
	return decimal.Zero
}
