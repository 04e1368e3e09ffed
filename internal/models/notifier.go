package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PlanStatus string

const (
	PlanActive   PlanStatus = "ACTIVE"
	PlanInactive PlanStatus = "INACTIVE"
)

// Provider is an operator registered on the notifier manager contract.
type Provider struct {
	Address string `json:"address" gorm:"column:address;primaryKey;size:42"`
	URL     string `json:"url" gorm:"column:url"`

	Plans         []Plan         `json:"plans,omitempty" gorm:"foreignKey:ProviderID;references:Address;constraint:OnDelete:CASCADE"`
	Subscriptions []Subscription `json:"-" gorm:"foreignKey:ProviderID;references:Address;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Provider) TableName() string {
	return "notifier_providers"
}

// Plan is a subscription tier mirrored from a provider's catalog.
// (ProviderID, UpstreamID) is unique.
type Plan struct {
	ID         uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	UpstreamID int64      `json:"planId" gorm:"column:upstream_id;not null;uniqueIndex:idx_notifier_plan_provider_upstream"`
	ProviderID string     `json:"provider" gorm:"column:provider_id;size:42;not null;uniqueIndex:idx_notifier_plan_provider_upstream"`
	Name       string     `json:"name" gorm:"column:name"`
	Status     PlanStatus `json:"planStatus" gorm:"column:status;size:16;not null"`
	DaysLeft   int        `json:"daysLeft" gorm:"column:days_left"`
	Quantity   int        `json:"quantity" gorm:"column:quantity"`

	Channels []Channel `json:"channels" gorm:"foreignKey:PlanID;constraint:OnDelete:CASCADE"`
	Prices   []Price   `json:"prices" gorm:"foreignKey:PlanID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Plan) TableName() string {
	return "notifier_plans"
}

// ChannelNames returns the plan's channel names in stored order.
func (p *Plan) ChannelNames() []string {
	names := make([]string, 0, len(p.Channels))
	for _, c := range p.Channels {
		names = append(names, c.Name)
	}
	return names
}

// Channel is a notification delivery channel offered by one plan.
type Channel struct {
	ID     uint   `json:"-" gorm:"primaryKey;autoIncrement"`
	PlanID uint   `json:"-" gorm:"column:plan_id;not null;uniqueIndex:idx_notifier_channel_plan_name"`
	Name   string `json:"name" gorm:"column:name;not null;uniqueIndex:idx_notifier_channel_plan_name"`
}

func (Channel) TableName() string {
	return "notifier_channels"
}

// Price is the cost of one plan in one rate-table currency.
type Price struct {
	ID     uint            `json:"-" gorm:"primaryKey;autoIncrement"`
	PlanID uint            `json:"-" gorm:"column:plan_id;not null;uniqueIndex:idx_notifier_price_plan_rate"`
	RateID string          `json:"rateId" gorm:"column:rate_id;not null;uniqueIndex:idx_notifier_price_plan_rate"`
	Price  decimal.Decimal `json:"price" gorm:"column:price;type:numeric;not null"`
}

func (Price) TableName() string {
	return "notifier_prices"
}

// Subscription is created by SubscriptionCreated and refreshed from the provider on read.
type Subscription struct {
	Hash                 string          `json:"hash" gorm:"column:hash;primaryKey"`
	Consumer             string          `json:"consumer" gorm:"column:consumer;size:42;index"`
	ProviderID           string          `json:"provider" gorm:"column:provider_id;size:42;index"`
	PlanID               int64           `json:"planId" gorm:"column:plan_id"`
	Status               string          `json:"status" gorm:"column:status"`
	ExpirationDate       time.Time       `json:"expirationDate" gorm:"column:expiration_date"`
	NotificationBalance  int64           `json:"notificationBalance" gorm:"column:notification_balance"`
	Paid                 bool            `json:"paid" gorm:"column:paid"`
	Price                decimal.Decimal `json:"price" gorm:"column:price;type:numeric"`
	RateID               string          `json:"rateId" gorm:"column:rate_id"`
	Topics               datatypes.JSON  `json:"topics" gorm:"column:topics"`
	PreviousSubscription *string         `json:"previousSubscription,omitempty" gorm:"column:previous_subscription"`
	Signature            string          `json:"signature" gorm:"column:signature"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Subscription) TableName() string {
	return "notifier_subscriptions"
}
