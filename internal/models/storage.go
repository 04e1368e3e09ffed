package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StorageOffer is the capacity a storage provider sells, built purely from contract events.
type StorageOffer struct {
	Provider        string          `json:"provider" gorm:"column:provider;primaryKey;size:42"`
	TotalCapacity   decimal.Decimal `json:"totalCapacity" gorm:"column:total_capacity;type:numeric"`
	MaximumDuration decimal.Decimal `json:"maximumDuration" gorm:"column:maximum_duration;type:numeric"`

	Prices []BillingPrice `json:"prices" gorm:"foreignKey:OfferID;references:Provider;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (StorageOffer) TableName() string {
	return "storage_offers"
}

// BillingPrice is the price of one billing period of an offer. (OfferID, Period) is unique.
type BillingPrice struct {
	ID      uint            `json:"-" gorm:"primaryKey;autoIncrement"`
	OfferID string          `json:"-" gorm:"column:offer_id;size:42;not null;uniqueIndex:idx_storage_price_offer_period"`
	Period  int64           `json:"period" gorm:"column:period;not null;uniqueIndex:idx_storage_price_offer_period"`
	Amount  decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric;not null"`
	Token   string          `json:"token" gorm:"column:token;size:42"`
	RateID  string          `json:"rateId" gorm:"column:rate_id"`

	UpdatedAt time.Time `json:"updatedAt"`
}

func (BillingPrice) TableName() string {
	return "storage_billing_prices"
}
