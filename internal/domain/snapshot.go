package domain

import "time"

// MenuSnapshot is one immutable observation of a (retailer, product) pair at a
// point in time. Snapshots are appended, never updated or deleted; the ordered
// sequence of snapshots for a pair is its full price/stock timeline.
type MenuSnapshot struct {
	ID             string     `json:"id"`
	RetailerID     string     `json:"retailerId"`
	ProductID      string     `json:"productId"`
	BrandID        string     `json:"brandId"`
	BatchID        string     `json:"batchId"`
	Price          float64    `json:"price"`
	OriginalPrice  *float64   `json:"originalPrice,omitempty"`
	OnSale         bool       `json:"onSale"`
	InStock        bool       `json:"inStock"`
	RawName        string     `json:"rawName"`
	RawBrand       string     `json:"rawBrand"`
	RawCategory    string     `json:"rawCategory,omitempty"`
	SourceURL      string     `json:"sourceUrl,omitempty"`
	SourcePlatform string     `json:"sourcePlatform,omitempty"`
	ScrapedAt      time.Time  `json:"scrapedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// RawMenuItem is one line item exactly as the scraper adapter handed it over,
// before identity resolution.
type RawMenuItem struct {
	Name           string        `json:"name"`
	Brand          string        `json:"brand"`
	Category       string        `json:"category,omitempty"`
	Strain         string        `json:"strain,omitempty"`
	Weight         string        `json:"weight,omitempty"`
	THCRange       *PotencyRange `json:"thcRange,omitempty"`
	CBDRange       *PotencyRange `json:"cbdRange,omitempty"`
	Price          float64       `json:"price"`
	OriginalPrice  *float64      `json:"originalPrice,omitempty"`
	OnSale         bool          `json:"onSale"`
	InStock        bool          `json:"inStock"`
	SourceURL      string        `json:"sourceUrl,omitempty"`
	SourcePlatform string        `json:"sourcePlatform,omitempty"`
	ScrapedAt      time.Time     `json:"scrapedAt"`
}

// Result statuses reported by the scraper adapter per retailer.
const (
	ResultStatusOK    = "ok"
	ResultStatusError = "error"
)

// ScrapeError carries the retry metadata the scraper adapter accumulated
// before giving up on a retailer.
type ScrapeError struct {
	Message         string    `json:"message"`
	StatusCode      *int      `json:"statusCode,omitempty"`
	Retries         int       `json:"retries"`
	FirstAttemptAt  time.Time `json:"firstAttemptAt"`
	LastAttemptAt   time.Time `json:"lastAttemptAt"`
	ResponsePreview string    `json:"responsePreview,omitempty"`
	SourcePlatform  string    `json:"sourcePlatform,omitempty"`
}

// RetailerResult is one retailer's outcome within a scrape batch.
type RetailerResult struct {
	RetailerID string        `json:"retailerId"`
	Status     string        `json:"status"` // "ok" or "error"
	Items      []RawMenuItem `json:"items,omitempty"`
	Error      *ScrapeError  `json:"error,omitempty"`
}

// BatchReport summarizes what one IngestBatch call did.
type BatchReport struct {
	BatchID          string    `json:"batchId"`
	RetailersOK      int       `json:"retailersOk"`
	RetailersFailed  int       `json:"retailersFailed"`
	ItemsIngested    int       `json:"itemsIngested"`
	ItemsDiverted    int       `json:"itemsDiverted"`
	SnapshotsWritten int       `json:"snapshotsWritten"`
	BrandsCreated    int       `json:"brandsCreated"`
	ProductsCreated  int       `json:"productsCreated"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
}
