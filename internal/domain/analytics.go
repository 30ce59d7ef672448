package domain

import "time"

// BrandAnalytics is a periodic rollup of CurrentInventory state for one brand
// in one region (or the synthetic statewide aggregate). Rows are keyed by
// (BrandID, Region, Period, PeriodStart) and idempotently upserted:
// recomputing the same key overwrites, never accumulates.
type BrandAnalytics struct {
	ID              string    `json:"id"`
	BrandID         string    `json:"brandId"`
	Region          string    `json:"region"`
	Period          string    `json:"period"` // e.g. "daily", "weekly"
	PeriodStart     time.Time `json:"periodStart"`
	PeriodEnd       time.Time `json:"periodEnd"`
	RetailerCount   int       `json:"retailerCount"`
	SKUCount        int       `json:"skuCount"`
	AvgPrice        float64   `json:"avgPrice"`
	MinPrice        float64   `json:"minPrice"`
	MaxPrice        float64   `json:"maxPrice"`
	OutOfStockCount int       `json:"outOfStockCount"`
	AvgDaysOnMenu   float64   `json:"avgDaysOnMenu"`
	ComputedAt      time.Time `json:"computedAt"`
}
