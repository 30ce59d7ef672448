package domain

import (
	"context"
	"time"
)

// RetailerRepository persists retailers. Creation happens in an onboarding
// process outside this core; the repository still exposes it so deployments
// and tests can seed state.
type RetailerRepository interface {
	Create(ctx context.Context, r *Retailer) error
	Update(ctx context.Context, r *Retailer) error
	GetByID(ctx context.Context, id string) (*Retailer, error)
	List(ctx context.Context) ([]*Retailer, error)
	Regions(ctx context.Context) ([]string, error)
}

// BrandRepository persists canonical brands. Create returns ErrConflict when
// another writer already claimed the normalized name; callers re-read instead
// of creating a duplicate.
type BrandRepository interface {
	Create(ctx context.Context, b *Brand) error
	GetByID(ctx context.Context, id string) (*Brand, error)
	GetByNormalizedName(ctx context.Context, normalized string) (*Brand, error)
	AddAlias(ctx context.Context, brandID, alias string) error
	List(ctx context.Context) ([]*Brand, error)
	Delete(ctx context.Context, id string) error
}

// ProductRepository persists canonical products scoped to a brand. Create has
// the same ErrConflict contract as BrandRepository, keyed on
// (brandID, normalizedName). ReassignBrand moves every product of a brand and
// returns ErrConflict, applying nothing, when the destination already carries
// a product with the same normalized name; callers fold such duplicates first.
// Delete exists for that fold path only.
type ProductRepository interface {
	Create(ctx context.Context, p *Product) error
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByBrandAndName(ctx context.Context, brandID, normalized string) (*Product, error)
	TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error
	ListByBrand(ctx context.Context, brandID string) ([]*Product, error)
	ReassignBrand(ctx context.Context, fromBrandID, toBrandID string) error
	Delete(ctx context.Context, id string) error
}

// SnapshotRepository is the append-only observation log. There is no update
// and no delete.
type SnapshotRepository interface {
	Append(ctx context.Context, s *MenuSnapshot) error
	ListByRetailerProduct(ctx context.Context, retailerID, productID string, limit int) ([]*MenuSnapshot, error)
	ListByProduct(ctx context.Context, productID string, limit int) ([]*MenuSnapshot, error)
	ListByBatch(ctx context.Context, batchID string) ([]*MenuSnapshot, error)
}

// InventoryRepository persists the materialized view. Writes are keyed on
// (RetailerID, ProductID) and must never yield two rows for one pair.
//
// Upsert writes unconditionally and is meant for seeding and bulk repairs.
// UpsertIf is the guarded form read-modify-write callers use: the write
// applies only while the stored row's LastSnapshotID still equals
// expectedSnapshotID (empty string means "no row existed at read time");
// a stale expectation returns ErrConflict so the caller can re-read.
// ReassignProduct repoints rows from one product to another; where both
// products have a row at the same retailer, the fresher LastUpdatedAt wins.
type InventoryRepository interface {
	Get(ctx context.Context, retailerID, productID string) (*CurrentInventory, error)
	Upsert(ctx context.Context, row *CurrentInventory) error
	UpsertIf(ctx context.Context, row *CurrentInventory, expectedSnapshotID string) error
	List(ctx context.Context, filter InventoryFilter) ([]*CurrentInventory, error)
	ReassignBrand(ctx context.Context, fromBrandID, toBrandID string) error
	ReassignProduct(ctx context.Context, fromProductID, toProductID string) error
}

// DeadLetterRepository persists failed scrape attempts. Insert returns
// ErrConflict when an unresolved entry already exists for the retailer.
// Update is guarded on the entry's Version: it applies only when the stored
// version still matches the one the caller read, returns ErrConflict
// otherwise, and bumps the version on success.
type DeadLetterRepository interface {
	Insert(ctx context.Context, e *DeadLetterEntry) error
	Update(ctx context.Context, e *DeadLetterEntry) error
	GetByID(ctx context.Context, id string) (*DeadLetterEntry, error)
	GetUnresolvedByRetailer(ctx context.Context, retailerID string) (*DeadLetterEntry, error)
	ListUnresolved(ctx context.Context, errorType ErrorType) ([]*DeadLetterEntry, error)
	ListByRetailer(ctx context.Context, retailerID string) ([]*DeadLetterEntry, error)
	Stats(ctx context.Context) (*DeadLetterStats, error)
}

// AnalyticsRepository persists brand rollups keyed by
// (BrandID, Region, Period, PeriodStart).
type AnalyticsRepository interface {
	Upsert(ctx context.Context, a *BrandAnalytics) error
	Get(ctx context.Context, brandID, region, period string, periodStart time.Time) (*BrandAnalytics, error)
	Latest(ctx context.Context, brandID, region, period string) (*BrandAnalytics, error)
}

// Store aggregates every repository behind one backend.
type Store interface {
	Retailers() RetailerRepository
	Brands() BrandRepository
	Products() ProductRepository
	Snapshots() SnapshotRepository
	Inventory() InventoryRepository
	DeadLetters() DeadLetterRepository
	Analytics() AnalyticsRepository
	Close() error
}
