package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
)

// MemoryStore is a thread-safe in-memory implementation of domain.Store, used
// for tests and single-process development. All methods return defensive
// copies so callers can mutate results before writing them back; same-key
// uniqueness is enforced exactly like the SQL backend, surfacing ErrConflict.
type MemoryStore struct {
	mu           sync.RWMutex
	retailers    map[string]*domain.Retailer
	brands       map[string]*domain.Brand
	brandByName  map[string]string // normalizedName -> brand id
	products     map[string]*domain.Product
	productByKey map[string]string // brandID + "\x00" + normalizedName -> product id
	snapshots    []*domain.MenuSnapshot
	inventory    map[string]*domain.CurrentInventory // retailerID + "\x00" + productID
	deadLetters  map[string]*domain.DeadLetterEntry
	unresolved   map[string]string // retailerID -> unresolved entry id
	analytics    map[string]*domain.BrandAnalytics // brand|region|period|periodStart
}

// Compile-time contract assertion.
var _ domain.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		retailers:    make(map[string]*domain.Retailer),
		brands:       make(map[string]*domain.Brand),
		brandByName:  make(map[string]string),
		products:     make(map[string]*domain.Product),
		productByKey: make(map[string]string),
		inventory:    make(map[string]*domain.CurrentInventory),
		deadLetters:  make(map[string]*domain.DeadLetterEntry),
		unresolved:   make(map[string]string),
		analytics:    make(map[string]*domain.BrandAnalytics),
	}
}

func (s *MemoryStore) Retailers() domain.RetailerRepository     { return &memRetailers{s} }
func (s *MemoryStore) Brands() domain.BrandRepository           { return &memBrands{s} }
func (s *MemoryStore) Products() domain.ProductRepository       { return &memProducts{s} }
func (s *MemoryStore) Snapshots() domain.SnapshotRepository     { return &memSnapshots{s} }
func (s *MemoryStore) Inventory() domain.InventoryRepository    { return &memInventory{s} }
func (s *MemoryStore) DeadLetters() domain.DeadLetterRepository { return &memDeadLetters{s} }
func (s *MemoryStore) Analytics() domain.AnalyticsRepository    { return &memAnalytics{s} }

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }

func pairKey(a, b string) string { return a + "\x00" + b }

func analyticsKey(brandID, region, period string, periodStart time.Time) string {
	return strings.Join([]string{brandID, region, period, periodStart.UTC().Format(time.RFC3339)}, "|")
}

// ---- retailers ----

type memRetailers struct{ s *MemoryStore }

func (r *memRetailers) Create(ctx context.Context, retailer *domain.Retailer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.retailers[retailer.ID]; exists {
		return domain.ErrConflict
	}
	for _, existing := range r.s.retailers {
		if existing.Slug == retailer.Slug {
			return domain.ErrConflict
		}
	}
	r.s.retailers[retailer.ID] = cloneRetailer(retailer)
	return nil
}

func (r *memRetailers) Update(ctx context.Context, retailer *domain.Retailer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.retailers[retailer.ID]; !exists {
		return domain.ErrRetailerNotFound
	}
	r.s.retailers[retailer.ID] = cloneRetailer(retailer)
	return nil
}

func (r *memRetailers) GetByID(ctx context.Context, id string) (*domain.Retailer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	retailer, exists := r.s.retailers[id]
	if !exists {
		return nil, domain.ErrRetailerNotFound
	}
	return cloneRetailer(retailer), nil
}

func (r *memRetailers) List(ctx context.Context) ([]*domain.Retailer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*domain.Retailer, 0, len(r.s.retailers))
	for _, retailer := range r.s.retailers {
		out = append(out, cloneRetailer(retailer))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (r *memRetailers) Regions(ctx context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	seen := make(map[string]struct{})
	var regions []string
	for _, retailer := range r.s.retailers {
		if retailer.Region == "" {
			continue
		}
		if _, ok := seen[retailer.Region]; ok {
			continue
		}
		seen[retailer.Region] = struct{}{}
		regions = append(regions, retailer.Region)
	}
	sort.Strings(regions)
	return regions, nil
}

// ---- brands ----

type memBrands struct{ s *MemoryStore }

func (r *memBrands) Create(ctx context.Context, brand *domain.Brand) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.brandByName[brand.NormalizedName]; taken {
		return domain.ErrConflict
	}
	r.s.brands[brand.ID] = cloneBrand(brand)
	r.s.brandByName[brand.NormalizedName] = brand.ID
	return nil
}

func (r *memBrands) GetByID(ctx context.Context, id string) (*domain.Brand, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	brand, exists := r.s.brands[id]
	if !exists {
		return nil, domain.ErrBrandNotFound
	}
	return cloneBrand(brand), nil
}

func (r *memBrands) GetByNormalizedName(ctx context.Context, normalized string) (*domain.Brand, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, exists := r.s.brandByName[normalized]
	if !exists {
		return nil, domain.ErrBrandNotFound
	}
	return cloneBrand(r.s.brands[id]), nil
}

func (r *memBrands) AddAlias(ctx context.Context, brandID, alias string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	brand, exists := r.s.brands[brandID]
	if !exists {
		return domain.ErrBrandNotFound
	}
	if !brand.HasAlias(alias) {
		brand.Aliases = append(brand.Aliases, alias)
		brand.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memBrands) List(ctx context.Context) ([]*domain.Brand, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*domain.Brand, 0, len(r.s.brands))
	for _, brand := range r.s.brands {
		out = append(out, cloneBrand(brand))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedName < out[j].NormalizedName })
	return out, nil
}

func (r *memBrands) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	brand, exists := r.s.brands[id]
	if !exists {
		return domain.ErrBrandNotFound
	}
	delete(r.s.brandByName, brand.NormalizedName)
	delete(r.s.brands, id)
	return nil
}

// ---- products ----

type memProducts struct{ s *MemoryStore }

func (r *memProducts) Create(ctx context.Context, product *domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := pairKey(product.BrandID, product.NormalizedName)
	if _, taken := r.s.productByKey[key]; taken {
		return domain.ErrConflict
	}
	r.s.products[product.ID] = cloneProduct(product)
	r.s.productByKey[key] = product.ID
	return nil
}

func (r *memProducts) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	product, exists := r.s.products[id]
	if !exists {
		return nil, domain.ErrProductNotFound
	}
	return cloneProduct(product), nil
}

func (r *memProducts) GetByBrandAndName(ctx context.Context, brandID, normalized string) (*domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, exists := r.s.productByKey[pairKey(brandID, normalized)]
	if !exists {
		return nil, domain.ErrProductNotFound
	}
	return cloneProduct(r.s.products[id]), nil
}

func (r *memProducts) TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	product, exists := r.s.products[id]
	if !exists {
		return domain.ErrProductNotFound
	}
	if seenAt.After(product.LastSeenAt) {
		product.LastSeenAt = seenAt
	}
	return nil
}

func (r *memProducts) ListByBrand(ctx context.Context, brandID string) ([]*domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Product
	for _, product := range r.s.products {
		if product.BrandID == brandID {
			out = append(out, cloneProduct(product))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedName < out[j].NormalizedName })
	return out, nil
}

func (r *memProducts) ReassignBrand(ctx context.Context, fromBrandID, toBrandID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// refuse the whole move when any name would collide, matching the SQL
	// backend's unique-index behavior
	for _, product := range r.s.products {
		if product.BrandID != fromBrandID {
			continue
		}
		if _, taken := r.s.productByKey[pairKey(toBrandID, product.NormalizedName)]; taken {
			return domain.ErrConflict
		}
	}

	for _, product := range r.s.products {
		if product.BrandID != fromBrandID {
			continue
		}
		delete(r.s.productByKey, pairKey(fromBrandID, product.NormalizedName))
		product.BrandID = toBrandID
		r.s.productByKey[pairKey(toBrandID, product.NormalizedName)] = product.ID
	}
	return nil
}

func (r *memProducts) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	product, exists := r.s.products[id]
	if !exists {
		return domain.ErrProductNotFound
	}
	delete(r.s.productByKey, pairKey(product.BrandID, product.NormalizedName))
	delete(r.s.products, id)
	return nil
}

// ---- snapshots ----

type memSnapshots struct{ s *MemoryStore }

func (r *memSnapshots) Append(ctx context.Context, snap *domain.MenuSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.snapshots = append(r.s.snapshots, cloneSnapshot(snap))
	return nil
}

func (r *memSnapshots) ListByRetailerProduct(ctx context.Context, retailerID, productID string, limit int) ([]*domain.MenuSnapshot, error) {
	return r.list(func(s *domain.MenuSnapshot) bool {
		return s.RetailerID == retailerID && s.ProductID == productID
	}, limit)
}

func (r *memSnapshots) ListByProduct(ctx context.Context, productID string, limit int) ([]*domain.MenuSnapshot, error) {
	return r.list(func(s *domain.MenuSnapshot) bool { return s.ProductID == productID }, limit)
}

func (r *memSnapshots) ListByBatch(ctx context.Context, batchID string) ([]*domain.MenuSnapshot, error) {
	return r.list(func(s *domain.MenuSnapshot) bool { return s.BatchID == batchID }, 0)
}

func (r *memSnapshots) list(match func(*domain.MenuSnapshot) bool, limit int) ([]*domain.MenuSnapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.MenuSnapshot
	for _, snap := range r.s.snapshots {
		if match(snap) {
			out = append(out, cloneSnapshot(snap))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScrapedAt.Before(out[j].ScrapedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ---- inventory ----

type memInventory struct{ s *MemoryStore }

func (r *memInventory) Get(ctx context.Context, retailerID, productID string) (*domain.CurrentInventory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row, exists := r.s.inventory[pairKey(retailerID, productID)]
	if !exists {
		return nil, domain.ErrInventoryNotFound
	}
	return cloneInventory(row), nil
}

func (r *memInventory) Upsert(ctx context.Context, row *domain.CurrentInventory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := pairKey(row.RetailerID, row.ProductID)
	if existing, ok := r.s.inventory[key]; ok {
		// keep the original row id so the pair invariant holds
		row.ID = existing.ID
	}
	r.s.inventory[key] = cloneInventory(row)
	return nil
}

func (r *memInventory) UpsertIf(ctx context.Context, row *domain.CurrentInventory, expectedSnapshotID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := pairKey(row.RetailerID, row.ProductID)
	existing, ok := r.s.inventory[key]
	switch {
	case !ok:
		// the caller saw no row; an expectation means it has since vanished
		if expectedSnapshotID != "" {
			return domain.ErrConflict
		}
	case expectedSnapshotID == "" || existing.LastSnapshotID != expectedSnapshotID:
		return domain.ErrConflict
	default:
		row.ID = existing.ID
	}
	r.s.inventory[key] = cloneInventory(row)
	return nil
}

func (r *memInventory) List(ctx context.Context, filter domain.InventoryFilter) ([]*domain.CurrentInventory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.CurrentInventory
	for _, row := range r.s.inventory {
		if filter.BrandID != "" && row.BrandID != filter.BrandID {
			continue
		}
		if filter.Region != "" && filter.Region != domain.RegionStatewide {
			retailer, ok := r.s.retailers[row.RetailerID]
			if !ok || retailer.Region != filter.Region {
				continue
			}
		}
		if filter.Category != "" {
			product, ok := r.s.products[row.ProductID]
			if !ok || !strings.EqualFold(product.Category, filter.Category) {
				continue
			}
		}
		if filter.InStock != nil && row.InStock != *filter.InStock {
			continue
		}
		if filter.PriceChangedSince != nil {
			if row.PriceChangedAt == nil || row.PriceChangedAt.Before(*filter.PriceChangedSince) {
				continue
			}
		}
		out = append(out, cloneInventory(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memInventory) ReassignBrand(ctx context.Context, fromBrandID, toBrandID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, row := range r.s.inventory {
		if row.BrandID == fromBrandID {
			row.BrandID = toBrandID
		}
	}
	return nil
}

func (r *memInventory) ReassignProduct(ctx context.Context, fromProductID, toProductID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for key, row := range r.s.inventory {
		if row.ProductID != fromProductID {
			continue
		}
		target := pairKey(row.RetailerID, toProductID)
		if existing, ok := r.s.inventory[target]; ok {
			// both products materialized at this retailer; the fresher row wins
			if !row.LastUpdatedAt.After(existing.LastUpdatedAt) {
				delete(r.s.inventory, key)
				continue
			}
			row.ID = existing.ID
		}
		delete(r.s.inventory, key)
		row.ProductID = toProductID
		r.s.inventory[target] = row
	}
	return nil
}

// ---- dead letters ----

type memDeadLetters struct{ s *MemoryStore }

func (r *memDeadLetters) Insert(ctx context.Context, entry *domain.DeadLetterEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if !entry.Resolved() {
		if _, exists := r.s.unresolved[entry.RetailerID]; exists {
			return domain.ErrConflict
		}
		r.s.unresolved[entry.RetailerID] = entry.ID
	}
	r.s.deadLetters[entry.ID] = cloneDeadLetter(entry)
	return nil
}

func (r *memDeadLetters) Update(ctx context.Context, entry *domain.DeadLetterEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, exists := r.s.deadLetters[entry.ID]
	if !exists {
		return domain.ErrEntryNotFound
	}
	if existing.Version != entry.Version {
		return domain.ErrConflict
	}
	if !existing.Resolved() && entry.Resolved() {
		delete(r.s.unresolved, entry.RetailerID)
	}
	entry.Version++
	r.s.deadLetters[entry.ID] = cloneDeadLetter(entry)
	return nil
}

func (r *memDeadLetters) GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	entry, exists := r.s.deadLetters[id]
	if !exists {
		return nil, domain.ErrEntryNotFound
	}
	return cloneDeadLetter(entry), nil
}

func (r *memDeadLetters) GetUnresolvedByRetailer(ctx context.Context, retailerID string) (*domain.DeadLetterEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, exists := r.s.unresolved[retailerID]
	if !exists {
		return nil, domain.ErrEntryNotFound
	}
	return cloneDeadLetter(r.s.deadLetters[id]), nil
}

func (r *memDeadLetters) ListUnresolved(ctx context.Context, errorType domain.ErrorType) ([]*domain.DeadLetterEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.DeadLetterEntry
	for _, id := range r.s.unresolved {
		entry := r.s.deadLetters[id]
		if errorType != "" && entry.ErrorType != errorType {
			continue
		}
		out = append(out, cloneDeadLetter(entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAttemptAt.After(out[j].LastAttemptAt) })
	return out, nil
}

func (r *memDeadLetters) ListByRetailer(ctx context.Context, retailerID string) ([]*domain.DeadLetterEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.DeadLetterEntry
	for _, entry := range r.s.deadLetters {
		if entry.RetailerID == retailerID {
			out = append(out, cloneDeadLetter(entry))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAttemptAt.After(out[j].LastAttemptAt) })
	return out, nil
}

func (r *memDeadLetters) Stats(ctx context.Context) (*domain.DeadLetterStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &domain.DeadLetterStats{
		ByErrorType:      make(map[domain.ErrorType]int),
		BySourcePlatform: make(map[string]int),
	}
	for _, id := range r.s.unresolved {
		entry := r.s.deadLetters[id]
		stats.TotalUnresolved++
		stats.ByErrorType[entry.ErrorType]++
		if entry.SourcePlatform != "" {
			stats.BySourcePlatform[entry.SourcePlatform]++
		}
		if stats.OldestUnresolvedAt == nil || entry.LastAttemptAt.Before(*stats.OldestUnresolvedAt) {
			at := entry.LastAttemptAt
			stats.OldestUnresolvedAt = &at
		}
	}
	return stats, nil
}

// ---- analytics ----

type memAnalytics struct{ s *MemoryStore }

func (r *memAnalytics) Upsert(ctx context.Context, row *domain.BrandAnalytics) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := analyticsKey(row.BrandID, row.Region, row.Period, row.PeriodStart)
	if existing, ok := r.s.analytics[key]; ok {
		row.ID = existing.ID
	}
	r.s.analytics[key] = cloneAnalytics(row)
	return nil
}

func (r *memAnalytics) Get(ctx context.Context, brandID, region, period string, periodStart time.Time) (*domain.BrandAnalytics, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row, exists := r.s.analytics[analyticsKey(brandID, region, period, periodStart)]
	if !exists {
		return nil, domain.ErrAnalyticsNotFound
	}
	return cloneAnalytics(row), nil
}

func (r *memAnalytics) Latest(ctx context.Context, brandID, region, period string) (*domain.BrandAnalytics, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *domain.BrandAnalytics
	for _, row := range r.s.analytics {
		if row.BrandID != brandID || row.Region != region || row.Period != period {
			continue
		}
		if latest == nil || row.PeriodStart.After(latest.PeriodStart) {
			latest = row
		}
	}
	if latest == nil {
		return nil, domain.ErrAnalyticsNotFound
	}
	return cloneAnalytics(latest), nil
}

// ---- clone helpers ----

func cloneRetailer(r *domain.Retailer) *domain.Retailer {
	out := *r
	out.MenuSources = append([]domain.MenuSource(nil), r.MenuSources...)
	return &out
}

func cloneBrand(b *domain.Brand) *domain.Brand {
	out := *b
	out.Aliases = append([]string(nil), b.Aliases...)
	return &out
}

func cloneProduct(p *domain.Product) *domain.Product {
	out := *p
	if p.THCRange != nil {
		thc := *p.THCRange
		out.THCRange = &thc
	}
	if p.CBDRange != nil {
		cbd := *p.CBDRange
		out.CBDRange = &cbd
	}
	return &out
}

func cloneSnapshot(s *domain.MenuSnapshot) *domain.MenuSnapshot {
	out := *s
	if s.OriginalPrice != nil {
		price := *s.OriginalPrice
		out.OriginalPrice = &price
	}
	return &out
}

func cloneInventory(row *domain.CurrentInventory) *domain.CurrentInventory {
	out := *row
	out.PreviousPrice = clonedFloat(row.PreviousPrice)
	out.PriceChangedAt = clonedTime(row.PriceChangedAt)
	out.LastInStockAt = clonedTime(row.LastInStockAt)
	out.OutOfStockSince = clonedTime(row.OutOfStockSince)
	return &out
}

func cloneDeadLetter(e *domain.DeadLetterEntry) *domain.DeadLetterEntry {
	out := *e
	if e.StatusCode != nil {
		code := *e.StatusCode
		out.StatusCode = &code
	}
	out.ResolvedAt = clonedTime(e.ResolvedAt)
	out.Notes = append([]string(nil), e.Notes...)
	return &out
}

func cloneAnalytics(a *domain.BrandAnalytics) *domain.BrandAnalytics {
	out := *a
	return &out
}

func clonedFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func clonedTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
