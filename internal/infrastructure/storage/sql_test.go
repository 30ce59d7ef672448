package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
)

// newSQLTestStore opens an ephemeral SQLite database. The same statements run
// against Postgres in production; SQLite keeps the suite hermetic.
func newSQLTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// second-precision times round-trip exactly through the unix-seconds columns.
func utcSec(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func TestSQLRetailerRoundTrip(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()
	scraped := utcSec(2026, 8, 1, 9)

	retailer := &domain.Retailer{
		ID:     "r1",
		Name:   "Green Leaf",
		Slug:   "green-leaf",
		Region: "portland",
		MenuSources: []domain.MenuSource{
			{Platform: "dutchie", URL: "https://dutchie.com/green-leaf", LastScrapedAt: &scraped, LastScrapeStatus: "ok"},
		},
		CreatedAt: utcSec(2026, 7, 1, 0),
	}
	require.NoError(t, store.Retailers().Create(ctx, retailer))

	got, err := store.Retailers().GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, retailer, got)

	err = store.Retailers().Create(ctx, &domain.Retailer{ID: "r2", Name: "Copy", Slug: "green-leaf"})
	assert.ErrorIs(t, err, domain.ErrConflict, "slug is unique")

	_, err = store.Retailers().GetByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrRetailerNotFound)
}

func TestSQLRetailerUpdateAndRegions(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()

	for _, r := range []*domain.Retailer{
		{ID: "r1", Name: "A", Slug: "a", Region: "portland", CreatedAt: utcSec(2026, 7, 1, 0)},
		{ID: "r2", Name: "B", Slug: "b", Region: "salem", CreatedAt: utcSec(2026, 7, 1, 0)},
		{ID: "r3", Name: "C", Slug: "c", Region: "portland", CreatedAt: utcSec(2026, 7, 1, 0)},
	} {
		require.NoError(t, store.Retailers().Create(ctx, r))
	}

	regions, err := store.Retailers().Regions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"portland", "salem"}, regions)

	updated := &domain.Retailer{ID: "r1", Name: "A Prime", Slug: "a", Region: "eugene", CreatedAt: utcSec(2026, 7, 1, 0)}
	require.NoError(t, store.Retailers().Update(ctx, updated))
	got, err := store.Retailers().GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "eugene", got.Region)

	err = store.Retailers().Update(ctx, &domain.Retailer{ID: "nope", Slug: "x"})
	assert.ErrorIs(t, err, domain.ErrRetailerNotFound)

	list, err := store.Retailers().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Slug, "ordered by slug")
}

func TestSQLBrandRoundTripAndAliases(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()

	brand := &domain.Brand{
		ID:             "b1",
		Name:           "Wyld",
		NormalizedName: "wyld",
		Aliases:        []string{"WYLD"},
		IsVerified:     true,
		CreatedAt:      utcSec(2026, 7, 1, 0),
		UpdatedAt:      utcSec(2026, 7, 1, 0),
	}
	require.NoError(t, store.Brands().Create(ctx, brand))

	got, err := store.Brands().GetByNormalizedName(ctx, "wyld")
	require.NoError(t, err)
	assert.Equal(t, brand, got)

	err = store.Brands().Create(ctx, &domain.Brand{ID: "b2", Name: "WYLD", NormalizedName: "wyld"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, store.Brands().AddAlias(ctx, "b1", "Wyld!"))
	require.NoError(t, store.Brands().AddAlias(ctx, "b1", "Wyld!"))
	got, err = store.Brands().GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"WYLD", "Wyld!"}, got.Aliases)

	assert.ErrorIs(t, store.Brands().AddAlias(ctx, "nope", "x"), domain.ErrBrandNotFound)
}

func TestSQLBrandDeleteFreesNormalizedName(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Brands().Create(ctx, &domain.Brand{ID: "b1", Name: "Wyld", NormalizedName: "wyld"}))
	require.NoError(t, store.Brands().Delete(ctx, "b1"))

	_, err := store.Brands().GetByID(ctx, "b1")
	assert.ErrorIs(t, err, domain.ErrBrandNotFound)
	assert.NoError(t, store.Brands().Create(ctx, &domain.Brand{ID: "b2", Name: "Wyld", NormalizedName: "wyld"}))
}

func TestSQLProductRoundTrip(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()

	product := &domain.Product{
		ID:             "p1",
		BrandID:        "b1",
		Name:           "Raspberry Gummies",
		NormalizedName: "raspberry gummies 10pk",
		Category:       "Edibles",
		Strain:         "Sativa",
		Weight:         "100mg",
		THCRange:       &domain.PotencyRange{Low: 9.5, High: 10.5},
		FirstSeenAt:    utcSec(2026, 8, 1, 0),
		LastSeenAt:     utcSec(2026, 8, 1, 0),
	}
	require.NoError(t, store.Products().Create(ctx, product))

	got, err := store.Products().GetByBrandAndName(ctx, "b1", "raspberry gummies 10pk")
	require.NoError(t, err)
	assert.Equal(t, product, got)
	assert.Nil(t, got.CBDRange)

	err = store.Products().Create(ctx, &domain.Product{ID: "p2", BrandID: "b1", NormalizedName: "raspberry gummies 10pk"})
	assert.ErrorIs(t, err, domain.ErrConflict, "(brand, normalized name) is unique")

	assert.NoError(t, store.Products().Create(ctx, &domain.Product{ID: "p3", BrandID: "b2", NormalizedName: "raspberry gummies 10pk"}))
}

func TestSQLProductTouchLastSeen(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()
	day1 := utcSec(2026, 8, 1, 0)
	day2 := utcSec(2026, 8, 2, 0)

	require.NoError(t, store.Products().Create(ctx, &domain.Product{
		ID: "p1", BrandID: "b1", NormalizedName: "gummies", FirstSeenAt: day1, LastSeenAt: day1,
	}))

	require.NoError(t, store.Products().TouchLastSeen(ctx, "p1", day2))
	got, err := store.Products().GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, day2, got.LastSeenAt)

	require.NoError(t, store.Products().TouchLastSeen(ctx, "p1", day1), "stale touch is a no-op, not an error")
	got, err = store.Products().GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, day2, got.LastSeenAt)

	assert.ErrorIs(t, store.Products().TouchLastSeen(ctx, "nope", day2), domain.ErrProductNotFound)
}

func TestSQLProductReassignBrand(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Products().Create(ctx, &domain.Product{ID: "p1", BrandID: "b1", NormalizedName: "gummies"}))
	require.NoError(t, store.Products().Create(ctx, &domain.Product{ID: "p2", BrandID: "b1", NormalizedName: "drops"}))
	require.NoError(t, store.Products().ReassignBrand(ctx, "b1", "b2"))

	products, err := store.Products().ListByBrand(ctx, "b2")
	require.NoError(t, err)
	assert.Len(t, products, 2)

	orphans, err := store.Products().ListByBrand(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestSQLProductReassignBrandConflictAppliesNothing(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Products().Create(ctx, &domain.Product{ID: "p1", BrandID: "b1", NormalizedName: "gummies"}))
	require.NoError(t, store.Products().Create(ctx, &domain.Product{ID: "p2", BrandID: "b1", NormalizedName: "drops"}))
	require.NoError(t, store.Products().Create(ctx, &domain.Product{ID: "p3", BrandID: "b2", NormalizedName: "gummies"}))

	err := store.Products().ReassignBrand(ctx, "b1", "b2")
	assert.ErrorIs(t, err, domain.ErrConflict)

	// the aborted statement moved nothing, not even the non-colliding product
	remaining, err := store.Products().ListByBrand(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestSQLProductDelete(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Products().Create(ctx, &domain.Product{ID: "p1", BrandID: "b1", NormalizedName: "gummies"}))
	require.NoError(t, store.Products().Delete(ctx, "p1"))

	_, err := store.Products().GetByID(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.NoError(t, store.Products().Create(ctx, &domain.Product{ID: "p2", BrandID: "b1", NormalizedName: "gummies"}), "delete frees the (brand, name) key")

	assert.ErrorIs(t, store.Products().Delete(ctx, "p1"), domain.ErrProductNotFound)
}

func TestSQLSnapshotTimeline(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()
	base := utcSec(2026, 8, 1, 12)
	original := 25.0

	seed := []*domain.MenuSnapshot{
		{ID: "s2", RetailerID: "r1", ProductID: "p1", BrandID: "b1", BatchID: "batch-2", Price: 18, InStock: true,
			RawName: "Gummies", RawBrand: "Wyld", ScrapedAt: base.Add(24 * time.Hour), CreatedAt: base.Add(24 * time.Hour)},
		{ID: "s1", RetailerID: "r1", ProductID: "p1", BrandID: "b1", BatchID: "batch-1", Price: 20, OriginalPrice: &original,
			OnSale: true, InStock: true, RawName: "Gummies", RawBrand: "Wyld", SourcePlatform: "dutchie",
			ScrapedAt: base, CreatedAt: base},
		{ID: "s3", RetailerID: "r2", ProductID: "p1", BrandID: "b1", BatchID: "batch-1", Price: 22, InStock: false,
			RawName: "Gummies", RawBrand: "Wyld", ScrapedAt: base.Add(time.Hour), CreatedAt: base.Add(time.Hour)},
	}
	for _, snap := range seed {
		require.NoError(t, store.Snapshots().Append(ctx, snap))
	}

	pair, err := store.Snapshots().ListByRetailerProduct(ctx, "r1", "p1", 0)
	require.NoError(t, err)
	require.Len(t, pair, 2)
	assert.Equal(t, "s1", pair[0].ID, "oldest first")
	assert.Equal(t, seed[1], pair[0], "round-trips every column")

	product, err := store.Snapshots().ListByProduct(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, product, 3)

	newest, err := store.Snapshots().ListByProduct(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "s3", newest[0].ID, "limit keeps the most recent, still ascending")
	assert.Equal(t, "s2", newest[1].ID)

	batch, err := store.Snapshots().ListByBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestSQLInventoryUpsertKeepsRowID(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()
	prev := 20.0
	changed := utcSec(2026, 8, 2, 12)

	first := &domain.CurrentInventory{
		ID: "row-1", RetailerID: "r1", ProductID: "p1", BrandID: "b1",
		CurrentPrice: 20, InStock: true, FirstSeenAt: utcSec(2026, 8, 1, 12),
		LastSnapshotID: "s1", LastUpdatedAt: utcSec(2026, 8, 1, 12),
	}
	require.NoError(t, store.Inventory().Upsert(ctx, first))

	second := &domain.CurrentInventory{
		ID: "row-2", RetailerID: "r1", ProductID: "p1", BrandID: "b1",
		CurrentPrice: 18, PreviousPrice: &prev, PriceChangedAt: &changed,
		OnSale: true, InStock: true, FirstSeenAt: utcSec(2026, 8, 1, 12), DaysOnMenu: 1,
		LastSnapshotID: "s2", LastUpdatedAt: changed,
	}
	require.NoError(t, store.Inventory().Upsert(ctx, second))

	got, err := store.Inventory().Get(ctx, "r1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "row-1", got.ID, "conflict update never rewrites the row id")
	assert.Equal(t, 18.0, got.CurrentPrice)
	require.NotNil(t, got.PreviousPrice)
	assert.Equal(t, prev, *got.PreviousPrice)
	require.NotNil(t, got.PriceChangedAt)
	assert.Equal(t, changed, *got.PriceChangedAt)

	_, err = store.Inventory().Get(ctx, "r1", "nope")
	assert.ErrorIs(t, err, domain.ErrInventoryNotFound)
}

func TestSQLInventoryFilters(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Retailers().Create(ctx, &domain.Retailer{ID: "r1", Slug: "a", Region: "portland"}))
	require.NoError(t, store.Retailers().Create(ctx, &domain.Retailer{ID: "r2", Slug: "b", Region: "salem"}))
	require.NoError(t, store.Products().Create(ctx, &domain.Product{ID: "p1", BrandID: "b1", NormalizedName: "gummies", Category: "Edibles"}))
	require.NoError(t, store.Products().Create(ctx, &domain.Product{ID: "p2", BrandID: "b2", NormalizedName: "cart", Category: "Vapes"}))

	changed := utcSec(2026, 8, 2, 12)
	rows := []*domain.CurrentInventory{
		{ID: "i1", RetailerID: "r1", ProductID: "p1", BrandID: "b1", CurrentPrice: 20, InStock: true, PriceChangedAt: &changed, FirstSeenAt: utcSec(2026, 8, 1, 0)},
		{ID: "i2", RetailerID: "r2", ProductID: "p1", BrandID: "b1", CurrentPrice: 22, InStock: false, FirstSeenAt: utcSec(2026, 8, 1, 0)},
		{ID: "i3", RetailerID: "r1", ProductID: "p2", BrandID: "b2", CurrentPrice: 40, InStock: true, FirstSeenAt: utcSec(2026, 8, 1, 0)},
	}
	for _, row := range rows {
		require.NoError(t, store.Inventory().Upsert(ctx, row))
	}

	byBrand, err := store.Inventory().List(ctx, domain.InventoryFilter{BrandID: "b1"})
	require.NoError(t, err)
	assert.Len(t, byBrand, 2)

	byRegion, err := store.Inventory().List(ctx, domain.InventoryFilter{Region: "salem"})
	require.NoError(t, err)
	require.Len(t, byRegion, 1)
	assert.Equal(t, "i2", byRegion[0].ID)

	statewide, err := store.Inventory().List(ctx, domain.InventoryFilter{Region: domain.RegionStatewide})
	require.NoError(t, err)
	assert.Len(t, statewide, 3)

	byCategory, err := store.Inventory().List(ctx, domain.InventoryFilter{Category: "edibles"})
	require.NoError(t, err)
	assert.Len(t, byCategory, 2)

	outOfStock := false
	stockouts, err := store.Inventory().List(ctx, domain.InventoryFilter{InStock: &outOfStock})
	require.NoError(t, err)
	require.Len(t, stockouts, 1)
	assert.Equal(t, "i2", stockouts[0].ID)

	since := changed.Add(-time.Minute)
	recent, err := store.Inventory().List(ctx, domain.InventoryFilter{PriceChangedSince: &since})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "i1", recent[0].ID)

	limited, err := store.Inventory().List(ctx, domain.InventoryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLInventoryReassignBrand(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Inventory().Upsert(ctx, &domain.CurrentInventory{
		ID: "i1", RetailerID: "r1", ProductID: "p1", BrandID: "b1", CurrentPrice: 20, InStock: true, FirstSeenAt: utcSec(2026, 8, 1, 0),
	}))
	require.NoError(t, store.Inventory().ReassignBrand(ctx, "b1", "b2"))

	got, err := store.Inventory().Get(ctx, "r1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "b2", got.BrandID)
}

func TestSQLInventoryUpsertIfGuardsOnSnapshot(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()
	seen := utcSec(2026, 8, 1, 12)

	// an insert expectation fails once a row exists
	require.NoError(t, store.Inventory().UpsertIf(ctx, &domain.CurrentInventory{
		ID: "row-1", RetailerID: "r1", ProductID: "p1", BrandID: "b1",
		CurrentPrice: 20, InStock: true, FirstSeenAt: seen, LastSnapshotID: "s1", LastUpdatedAt: seen,
	}, ""))
	err := store.Inventory().UpsertIf(ctx, &domain.CurrentInventory{
		ID: "row-2", RetailerID: "r1", ProductID: "p1", BrandID: "b1",
		CurrentPrice: 19, FirstSeenAt: seen, LastSnapshotID: "s2", LastUpdatedAt: seen,
	}, "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	// a stale expectation fails, a matching one applies and keeps the row id
	err = store.Inventory().UpsertIf(ctx, &domain.CurrentInventory{
		ID: "row-3", RetailerID: "r1", ProductID: "p1", BrandID: "b1",
		CurrentPrice: 18, FirstSeenAt: seen, LastSnapshotID: "s3", LastUpdatedAt: seen,
	}, "stale")
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, store.Inventory().UpsertIf(ctx, &domain.CurrentInventory{
		ID: "row-3", RetailerID: "r1", ProductID: "p1", BrandID: "b1",
		CurrentPrice: 18, FirstSeenAt: seen, LastSnapshotID: "s3", LastUpdatedAt: seen,
	}, "s1"))

	got, err := store.Inventory().Get(ctx, "r1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "row-1", got.ID)
	assert.Equal(t, 18.0, got.CurrentPrice)
	assert.Equal(t, "s3", got.LastSnapshotID)

	// an expectation against a row that never existed fails too
	err = store.Inventory().UpsertIf(ctx, &domain.CurrentInventory{
		ID: "row-4", RetailerID: "r9", ProductID: "p9", BrandID: "b1",
		CurrentPrice: 10, FirstSeenAt: seen, LastSnapshotID: "s4", LastUpdatedAt: seen,
	}, "s1")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestSQLInventoryReassignProductKeepsFresherRow(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()
	older := utcSec(2026, 8, 1, 0)
	newer := older.Add(time.Hour)

	rows := []*domain.CurrentInventory{
		{ID: "i1", RetailerID: "r1", ProductID: "p-src", BrandID: "b1", CurrentPrice: 25, FirstSeenAt: older, LastUpdatedAt: older},
		{ID: "i2", RetailerID: "r2", ProductID: "p-src", BrandID: "b1", CurrentPrice: 26, FirstSeenAt: older, LastUpdatedAt: newer},
		{ID: "i3", RetailerID: "r2", ProductID: "p-dst", BrandID: "b1", CurrentPrice: 24, FirstSeenAt: older, LastUpdatedAt: older},
		{ID: "i4", RetailerID: "r3", ProductID: "p-src", BrandID: "b1", CurrentPrice: 27, FirstSeenAt: older, LastUpdatedAt: older},
		{ID: "i5", RetailerID: "r3", ProductID: "p-dst", BrandID: "b1", CurrentPrice: 23, FirstSeenAt: older, LastUpdatedAt: older},
	}
	for _, row := range rows {
		require.NoError(t, store.Inventory().Upsert(ctx, row))
	}

	require.NoError(t, store.Inventory().ReassignProduct(ctx, "p-src", "p-dst"))

	// the uncontested row simply repoints
	moved, err := store.Inventory().Get(ctx, "r1", "p-dst")
	require.NoError(t, err)
	assert.Equal(t, 25.0, moved.CurrentPrice)

	// on collision the fresher source row replaces the stale destination row
	won, err := store.Inventory().Get(ctx, "r2", "p-dst")
	require.NoError(t, err)
	assert.Equal(t, 26.0, won.CurrentPrice)

	// equal timestamps keep the destination row
	tied, err := store.Inventory().Get(ctx, "r3", "p-dst")
	require.NoError(t, err)
	assert.Equal(t, 23.0, tied.CurrentPrice)

	_, err = store.Inventory().Get(ctx, "r2", "p-src")
	assert.ErrorIs(t, err, domain.ErrInventoryNotFound)

	all, err := store.Inventory().List(ctx, domain.InventoryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLDeadLetterLifecycle(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()
	now := utcSec(2026, 8, 1, 12)
	code := 429

	entry := &domain.DeadLetterEntry{
		ID: "d1", RetailerID: "r1", BatchID: "batch-1",
		ErrorType: domain.ErrorTypeRateLimit, ErrorMessage: "429 too many requests",
		StatusCode: &code, ResponsePreview: "slow down", SourcePlatform: "dutchie",
		RetryCount: 3, FirstAttemptAt: now, LastAttemptAt: now,
		Notes: []string{"first sighting"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.DeadLetters().Insert(ctx, entry))

	got, err := store.DeadLetters().GetUnresolvedByRetailer(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	// the partial unique index admits one unresolved entry per retailer
	dup := &domain.DeadLetterEntry{ID: "d2", RetailerID: "r1", ErrorType: domain.ErrorTypeTimeout, LastAttemptAt: now}
	assert.ErrorIs(t, store.DeadLetters().Insert(ctx, dup), domain.ErrConflict)

	resolvedAt := now.Add(time.Hour)
	entry.ResolvedAt = &resolvedAt
	entry.Resolution = "retailer switched platforms"
	entry.ResolvedBy = "ops"
	require.NoError(t, store.DeadLetters().Update(ctx, entry))

	_, err = store.DeadLetters().GetUnresolvedByRetailer(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
	assert.NoError(t, store.DeadLetters().Insert(ctx, dup), "resolution frees the retailer slot")

	history, err := store.DeadLetters().ListByRetailer(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	err = store.DeadLetters().Update(ctx, &domain.DeadLetterEntry{ID: "nope"})
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestSQLDeadLetterUpdateRejectsStaleVersion(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()
	now := utcSec(2026, 8, 1, 12)

	entry := &domain.DeadLetterEntry{
		ID: "d1", RetailerID: "r1", ErrorType: domain.ErrorTypeRateLimit,
		RetryCount: 1, FirstAttemptAt: now, LastAttemptAt: now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.DeadLetters().Insert(ctx, entry))

	first, err := store.DeadLetters().GetByID(ctx, "d1")
	require.NoError(t, err)
	second, err := store.DeadLetters().GetByID(ctx, "d1")
	require.NoError(t, err)

	first.RetryCount = 2
	require.NoError(t, store.DeadLetters().Update(ctx, first))
	assert.Equal(t, int64(1), first.Version, "a successful update bumps the version")

	// the second reader's copy is now stale
	second.RetryCount = 5
	assert.ErrorIs(t, store.DeadLetters().Update(ctx, second), domain.ErrConflict)

	got, err := store.DeadLetters().GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, int64(1), got.Version)
}

func TestSQLDeadLetterListAndStats(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()
	base := utcSec(2026, 8, 1, 0)

	entries := []*domain.DeadLetterEntry{
		{ID: "d1", RetailerID: "r1", ErrorType: domain.ErrorTypeRateLimit, SourcePlatform: "dutchie", LastAttemptAt: base},
		{ID: "d2", RetailerID: "r2", ErrorType: domain.ErrorTypeParseError, SourcePlatform: "jane", LastAttemptAt: base.Add(time.Hour)},
		{ID: "d3", RetailerID: "r3", ErrorType: domain.ErrorTypeRateLimit, SourcePlatform: "dutchie", LastAttemptAt: base.Add(2 * time.Hour)},
	}
	for _, e := range entries {
		require.NoError(t, store.DeadLetters().Insert(ctx, e))
	}

	all, err := store.DeadLetters().ListUnresolved(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "d3", all[0].ID, "newest attempt first")

	rateLimited, err := store.DeadLetters().ListUnresolved(ctx, domain.ErrorTypeRateLimit)
	require.NoError(t, err)
	assert.Len(t, rateLimited, 2)

	stats, err := store.DeadLetters().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalUnresolved)
	assert.Equal(t, 2, stats.ByErrorType[domain.ErrorTypeRateLimit])
	assert.Equal(t, 1, stats.ByErrorType[domain.ErrorTypeParseError])
	assert.Equal(t, 2, stats.BySourcePlatform["dutchie"])
	require.NotNil(t, stats.OldestUnresolvedAt)
	assert.Equal(t, base, *stats.OldestUnresolvedAt)
}

func TestSQLAnalyticsUpsertAndLatest(t *testing.T) {
	store := newSQLTestStore(t)
	ctx := context.Background()
	day1 := utcSec(2026, 8, 1, 0)
	day2 := utcSec(2026, 8, 2, 0)

	row := &domain.BrandAnalytics{
		ID: "a1", BrandID: "b1", Region: domain.RegionStatewide, Period: "daily",
		PeriodStart: day1, PeriodEnd: day2,
		RetailerCount: 2, SKUCount: 3, AvgPrice: 24, MinPrice: 20, MaxPrice: 30,
		OutOfStockCount: 1, AvgDaysOnMenu: 12.5, ComputedAt: day2,
	}
	require.NoError(t, store.Analytics().Upsert(ctx, row))

	got, err := store.Analytics().Get(ctx, "b1", domain.RegionStatewide, "daily", day1)
	require.NoError(t, err)
	assert.Equal(t, row, got)

	// recompute for the same key overwrites in place
	rerun := *row
	rerun.ID = "a1-rerun"
	rerun.AvgPrice = 25
	require.NoError(t, store.Analytics().Upsert(ctx, &rerun))

	got, err = store.Analytics().Get(ctx, "b1", domain.RegionStatewide, "daily", day1)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID, "period key owns the row id")
	assert.Equal(t, 25.0, got.AvgPrice)

	next := *row
	next.ID = "a2"
	next.PeriodStart = day2
	next.PeriodEnd = day2.Add(24 * time.Hour)
	require.NoError(t, store.Analytics().Upsert(ctx, &next))

	latest, err := store.Analytics().Latest(ctx, "b1", domain.RegionStatewide, "daily")
	require.NoError(t, err)
	assert.Equal(t, "a2", latest.ID)

	_, err = store.Analytics().Get(ctx, "b1", "portland", "daily", day1)
	assert.ErrorIs(t, err, domain.ErrAnalyticsNotFound)
}
