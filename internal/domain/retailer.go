package domain

import "time"

// RegionStatewide is the synthetic aggregate over all regions. It is a filter
// predicate, never a value stored on a Retailer.
const RegionStatewide = "statewide"

// MenuSource describes one scrapeable menu for a retailer.
type MenuSource struct {
	Platform         string     `json:"platform"` // e.g. "dutchie", "jane"
	URL              string     `json:"url"`
	LastScrapedAt    *time.Time `json:"lastScrapedAt,omitempty"`
	LastScrapeStatus string     `json:"lastScrapeStatus,omitempty"`
}

// Retailer represents a licensed storefront whose menus are scraped.
// Identity (ID, Slug) is immutable once created; metadata is not.
type Retailer struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Slug        string       `json:"slug"`
	Region      string       `json:"region"`
	MenuSources []MenuSource `json:"menuSources,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}
