package domain

import "time"

// CurrentInventory is the materialized "what is on the menu right now" row for
// a (retailer, product) pair. There is at most one row per pair; every
// externally visible price-change or stock-transition signal originates from
// the materializer updating this row, never from re-deriving history on read.
type CurrentInventory struct {
	ID              string     `json:"id"`
	RetailerID      string     `json:"retailerId"`
	ProductID       string     `json:"productId"`
	BrandID         string     `json:"brandId"`
	CurrentPrice    float64    `json:"currentPrice"`
	PreviousPrice   *float64   `json:"previousPrice,omitempty"`
	PriceChangedAt  *time.Time `json:"priceChangedAt,omitempty"`
	OnSale          bool       `json:"onSale"`
	InStock         bool       `json:"inStock"`
	LastInStockAt   *time.Time `json:"lastInStockAt,omitempty"`
	OutOfStockSince *time.Time `json:"outOfStockSince,omitempty"`
	FirstSeenAt     time.Time  `json:"firstSeenAt"`
	DaysOnMenu      int        `json:"daysOnMenu"`
	LastSnapshotID  string     `json:"lastSnapshotId"`
	LastUpdatedAt   time.Time  `json:"lastUpdatedAt"`
}

// InventoryFilter narrows CurrentInventory listings. Zero values mean "no
// filter"; Region filtering resolves through the owning retailer, so the
// synthetic statewide region behaves like an absent filter.
type InventoryFilter struct {
	BrandID           string
	Region            string
	Category          string
	InStock           *bool
	PriceChangedSince *time.Time
	Limit             int
}
