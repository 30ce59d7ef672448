package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
	"github.com/beloyal-club/BudAlert-sub003/internal/infrastructure/storage"
)

func newAnalyticsFixture(t *testing.T) (*AnalyticsService, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	svc := NewAnalyticsService(store.Brands(), store.Retailers(), store.Inventory(), store.Analytics())
	ctx := context.Background()

	for _, r := range []*domain.Retailer{
		{ID: "ret-pdx", Name: "Green Leaf", Slug: "green-leaf", Region: "portland"},
		{ID: "ret-slm", Name: "Herb Corner", Slug: "herb-corner", Region: "salem"},
	} {
		if err := store.Retailers().Create(ctx, r); err != nil {
			t.Fatalf("seed retailer: %v", err)
		}
	}
	for _, b := range []*domain.Brand{
		{ID: "brand-wyld", Name: "Wyld", NormalizedName: "wyld"},
		{ID: "brand-idle", Name: "Idle", NormalizedName: "idle"},
	} {
		if err := store.Brands().Create(ctx, b); err != nil {
			t.Fatalf("seed brand: %v", err)
		}
	}

	rows := []*domain.CurrentInventory{
		{ID: "i1", RetailerID: "ret-pdx", ProductID: "p1", BrandID: "brand-wyld", CurrentPrice: 20, InStock: true, DaysOnMenu: 10},
		{ID: "i2", RetailerID: "ret-pdx", ProductID: "p2", BrandID: "brand-wyld", CurrentPrice: 30, InStock: false, DaysOnMenu: 20},
		{ID: "i3", RetailerID: "ret-slm", ProductID: "p1", BrandID: "brand-wyld", CurrentPrice: 22, InStock: true, DaysOnMenu: 30},
	}
	for _, row := range rows {
		row.FirstSeenAt = time.Now().UTC()
		if err := store.Inventory().Upsert(ctx, row); err != nil {
			t.Fatalf("seed inventory: %v", err)
		}
	}
	return svc, store
}

func rollupWindow() (time.Time, time.Time) {
	start := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func TestRollUpWritesRegionalAndStatewideRows(t *testing.T) {
	svc, store := newAnalyticsFixture(t)
	ctx := context.Background()
	start, end := rollupWindow()

	written, err := svc.RollUp(ctx, "daily", start, end)
	if err != nil {
		t.Fatalf("RollUp() error = %v", err)
	}
	// wyld: portland + salem + statewide; idle has no inventory, no rows
	if written != 3 {
		t.Errorf("written = %d, want 3", written)
	}

	statewide, err := store.Analytics().Get(ctx, "brand-wyld", domain.RegionStatewide, "daily", start)
	if err != nil {
		t.Fatalf("Get(statewide) error = %v", err)
	}
	if statewide.RetailerCount != 2 || statewide.SKUCount != 2 {
		t.Errorf("statewide retailers/skus = %d/%d, want 2/2", statewide.RetailerCount, statewide.SKUCount)
	}
	if statewide.OutOfStockCount != 1 {
		t.Errorf("OutOfStockCount = %d, want 1", statewide.OutOfStockCount)
	}
	if statewide.AvgPrice != 24 {
		t.Errorf("AvgPrice = %v, want 24", statewide.AvgPrice)
	}
	if statewide.MinPrice != 20 || statewide.MaxPrice != 30 {
		t.Errorf("price range = %v..%v, want 20..30", statewide.MinPrice, statewide.MaxPrice)
	}
	if statewide.AvgDaysOnMenu != 20 {
		t.Errorf("AvgDaysOnMenu = %v, want 20", statewide.AvgDaysOnMenu)
	}

	portland, err := store.Analytics().Get(ctx, "brand-wyld", "portland", "daily", start)
	if err != nil {
		t.Fatalf("Get(portland) error = %v", err)
	}
	if portland.RetailerCount != 1 || portland.SKUCount != 2 {
		t.Errorf("portland retailers/skus = %d/%d, want 1/2", portland.RetailerCount, portland.SKUCount)
	}
	if portland.AvgPrice != 25 {
		t.Errorf("portland AvgPrice = %v, want 25", portland.AvgPrice)
	}
}

func TestRollUpSkipsBrandsWithNoInventory(t *testing.T) {
	svc, store := newAnalyticsFixture(t)
	ctx := context.Background()
	start, end := rollupWindow()

	if _, err := svc.RollUp(ctx, "daily", start, end); err != nil {
		t.Fatalf("RollUp() error = %v", err)
	}
	if _, err := store.Analytics().Get(ctx, "brand-idle", domain.RegionStatewide, "daily", start); err != domain.ErrAnalyticsNotFound {
		t.Errorf("Get(idle) error = %v, want ErrAnalyticsNotFound (zero-row brands write nothing)", err)
	}
}

func TestRollUpIsIdempotentPerPeriodKey(t *testing.T) {
	svc, store := newAnalyticsFixture(t)
	ctx := context.Background()
	start, end := rollupWindow()

	if _, err := svc.RollUp(ctx, "daily", start, end); err != nil {
		t.Fatalf("first RollUp() error = %v", err)
	}
	before, err := store.Analytics().Get(ctx, "brand-wyld", domain.RegionStatewide, "daily", start)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// a price moves between runs; the re-run overwrites, never accumulates
	if err := store.Inventory().Upsert(ctx, &domain.CurrentInventory{
		ID: "i1", RetailerID: "ret-pdx", ProductID: "p1", BrandID: "brand-wyld",
		CurrentPrice: 26, InStock: true, DaysOnMenu: 10, FirstSeenAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := svc.RollUp(ctx, "daily", start, end); err != nil {
		t.Fatalf("second RollUp() error = %v", err)
	}

	after, err := store.Analytics().Get(ctx, "brand-wyld", domain.RegionStatewide, "daily", start)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if after.ID != before.ID {
		t.Errorf("row id changed on recompute: %q vs %q", after.ID, before.ID)
	}
	if after.AvgPrice != 26 {
		t.Errorf("AvgPrice = %v, want 26 recomputed", after.AvgPrice)
	}
	if after.RetailerCount != before.RetailerCount {
		t.Errorf("RetailerCount drifted: %d vs %d", after.RetailerCount, before.RetailerCount)
	}
}

func TestRollUpValidatesWindow(t *testing.T) {
	svc, _ := newAnalyticsFixture(t)
	start, end := rollupWindow()

	if _, err := svc.RollUp(context.Background(), "", start, end); err != domain.ErrInvalidRequest {
		t.Errorf("RollUp(no period) error = %v, want ErrInvalidRequest", err)
	}
	if _, err := svc.RollUp(context.Background(), "daily", end, start); err != domain.ErrInvalidRequest {
		t.Errorf("RollUp(inverted window) error = %v, want ErrInvalidRequest", err)
	}
}
