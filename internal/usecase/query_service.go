package usecase

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
)

// TrendingQuery narrows the trending listing. Zero values mean "no filter".
type TrendingQuery struct {
	Region   string
	Category string
	Period   string
	Limit    int
}

// TrendingBrand is one row of the trending listing. Velocity is the
// out-of-stock share of the brand's inventory rows — a faster-selling proxy
// in the absence of true sales data. The listing itself orders by retailer
// count, with velocity returned alongside as a secondary signal.
type TrendingBrand struct {
	Brand         *domain.Brand          `json:"brand"`
	RetailerCount int                    `json:"retailerCount"`
	SKUCount      int                    `json:"skuCount"`
	Velocity      float64                `json:"velocity"`
	AvgPrice      float64                `json:"avgPrice"`
	Window        *domain.BrandAnalytics `json:"window,omitempty"`
}

// BrandDetail carries merged metrics for one brand, optionally region-scoped.
type BrandDetail struct {
	Brand         *domain.Brand `json:"brand"`
	RetailerCount int           `json:"retailerCount"`
	SKUCount      int           `json:"skuCount"`
	StockRate     float64       `json:"stockRate"` // in-stock share of rows
	AvgPrice      float64       `json:"avgPrice"`
	MinPrice      float64       `json:"minPrice"`
	MaxPrice      float64       `json:"maxPrice"`
}

// PriceChange is one row of the price-change feed.
type PriceChange struct {
	RetailerID     string    `json:"retailerId"`
	ProductID      string    `json:"productId"`
	BrandID        string    `json:"brandId"`
	PreviousPrice  float64   `json:"previousPrice"`
	CurrentPrice   float64   `json:"currentPrice"`
	PercentChange  float64   `json:"percentChange"`
	PriceChangedAt time.Time `json:"priceChangedAt"`
}

// OutOfStockItem is one row of the out-of-stock feed.
type OutOfStockItem struct {
	RetailerID      string     `json:"retailerId"`
	ProductID       string     `json:"productId"`
	BrandID         string     `json:"brandId"`
	LastPrice       float64    `json:"lastPrice"`
	OutOfStockSince *time.Time `json:"outOfStockSince,omitempty"`
}

// QueryService is the read-only surface over the materialized state. Nothing
// here mutates anything.
type QueryService struct {
	brands    domain.BrandRepository
	products  domain.ProductRepository
	inventory domain.InventoryRepository
	snapshots domain.SnapshotRepository
	analytics domain.AnalyticsRepository
	now       func() time.Time
}

// NewQueryService creates the read model over the given repositories.
func NewQueryService(
	brands domain.BrandRepository,
	products domain.ProductRepository,
	inventory domain.InventoryRepository,
	snapshots domain.SnapshotRepository,
	analytics domain.AnalyticsRepository,
) *QueryService {
	return &QueryService{
		brands:    brands,
		products:  products,
		inventory: inventory,
		snapshots: snapshots,
		analytics: analytics,
		now:       time.Now,
	}
}

// TrendingBrands ranks brands by retailer count descending; velocity is
// computed and returned but deliberately not the primary sort key. When a
// period label is supplied, the latest matching analytics row is attached as
// windowed context without affecting the order.
func (s *QueryService) TrendingBrands(ctx context.Context, query TrendingQuery) ([]*TrendingBrand, error) {
	rows, err := s.inventory.List(ctx, domain.InventoryFilter{
		Region:   query.Region,
		Category: query.Category,
	})
	if err != nil {
		return nil, err
	}

	type accumulator struct {
		retailers  map[string]struct{}
		skus       map[string]struct{}
		total      int
		outOfStock int
		priceSum   float64
	}
	byBrand := make(map[string]*accumulator)
	for _, row := range rows {
		acc := byBrand[row.BrandID]
		if acc == nil {
			acc = &accumulator{
				retailers: make(map[string]struct{}),
				skus:      make(map[string]struct{}),
			}
			byBrand[row.BrandID] = acc
		}
		acc.retailers[row.RetailerID] = struct{}{}
		acc.skus[row.ProductID] = struct{}{}
		acc.total++
		acc.priceSum += row.CurrentPrice
		if !row.InStock {
			acc.outOfStock++
		}
	}

	trending := make([]*TrendingBrand, 0, len(byBrand))
	for brandID, acc := range byBrand {
		brand, err := s.brands.GetByID(ctx, brandID)
		if err != nil {
			if errors.Is(err, domain.ErrBrandNotFound) {
				continue
			}
			return nil, err
		}
		entry := &TrendingBrand{
			Brand:         brand,
			RetailerCount: len(acc.retailers),
			SKUCount:      len(acc.skus),
			Velocity:      float64(acc.outOfStock) / float64(acc.total),
			AvgPrice:      acc.priceSum / float64(acc.total),
		}
		if query.Period != "" {
			entry.Window = s.window(ctx, brandID, query.Region, query.Period)
		}
		trending = append(trending, entry)
	}

	sort.Slice(trending, func(i, j int) bool {
		if trending[i].RetailerCount != trending[j].RetailerCount {
			return trending[i].RetailerCount > trending[j].RetailerCount
		}
		if trending[i].SKUCount != trending[j].SKUCount {
			return trending[i].SKUCount > trending[j].SKUCount
		}
		return trending[i].Brand.Name < trending[j].Brand.Name
	})

	if query.Limit > 0 && len(trending) > query.Limit {
		trending = trending[:query.Limit]
	}
	return trending, nil
}

func (s *QueryService) window(ctx context.Context, brandID, region, period string) *domain.BrandAnalytics {
	if region == "" {
		region = domain.RegionStatewide
	}
	row, err := s.analytics.Latest(ctx, brandID, region, period)
	if err != nil {
		return nil
	}
	return row
}

// BrandDetail merges current-state metrics for one brand, optionally scoped
// to a region.
func (s *QueryService) BrandDetail(ctx context.Context, brandID, region string) (*BrandDetail, error) {
	brand, err := s.brands.GetByID(ctx, brandID)
	if err != nil {
		return nil, err
	}

	rows, err := s.inventory.List(ctx, domain.InventoryFilter{BrandID: brandID, Region: region})
	if err != nil {
		return nil, err
	}

	detail := &BrandDetail{Brand: brand}
	if len(rows) == 0 {
		return detail, nil
	}

	retailerSet := make(map[string]struct{})
	skuSet := make(map[string]struct{})
	inStock := 0
	detail.MinPrice = rows[0].CurrentPrice
	detail.MaxPrice = rows[0].CurrentPrice
	var priceSum float64
	for _, row := range rows {
		retailerSet[row.RetailerID] = struct{}{}
		skuSet[row.ProductID] = struct{}{}
		priceSum += row.CurrentPrice
		if row.InStock {
			inStock++
		}
		if row.CurrentPrice < detail.MinPrice {
			detail.MinPrice = row.CurrentPrice
		}
		if row.CurrentPrice > detail.MaxPrice {
			detail.MaxPrice = row.CurrentPrice
		}
	}
	detail.RetailerCount = len(retailerSet)
	detail.SKUCount = len(skuSet)
	detail.StockRate = float64(inStock) / float64(len(rows))
	detail.AvgPrice = priceSum / float64(len(rows))
	return detail, nil
}

// CompareBrands computes BrandDetail for each supplied id. Unknown ids are
// skipped rather than failing the whole comparison.
func (s *QueryService) CompareBrands(ctx context.Context, brandIDs []string, region string) ([]*BrandDetail, error) {
	if len(brandIDs) == 0 {
		return nil, domain.ErrInvalidRequest
	}

	details := make([]*BrandDetail, 0, len(brandIDs))
	for _, id := range brandIDs {
		detail, err := s.BrandDetail(ctx, id, region)
		if err != nil {
			if errors.Is(err, domain.ErrBrandNotFound) {
				continue
			}
			return nil, err
		}
		details = append(details, detail)
	}
	return details, nil
}

// PriceChanges lists rows whose price changed within the lookback window,
// ordered by descending absolute percent change. A zero previous price has no
// meaningful percentage; such rows are still reported, with PercentChange 0,
// so they sort after every measurable move.
func (s *QueryService) PriceChanges(ctx context.Context, lookback time.Duration, limit int) ([]*PriceChange, error) {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	since := s.now().Add(-lookback)

	rows, err := s.inventory.List(ctx, domain.InventoryFilter{PriceChangedSince: &since})
	if err != nil {
		return nil, err
	}

	changes := make([]*PriceChange, 0, len(rows))
	for _, row := range rows {
		if row.PreviousPrice == nil || row.PriceChangedAt == nil {
			continue
		}
		change := &PriceChange{
			RetailerID:     row.RetailerID,
			ProductID:      row.ProductID,
			BrandID:        row.BrandID,
			PreviousPrice:  *row.PreviousPrice,
			CurrentPrice:   row.CurrentPrice,
			PriceChangedAt: *row.PriceChangedAt,
		}
		if *row.PreviousPrice != 0 {
			change.PercentChange = (row.CurrentPrice - *row.PreviousPrice) / *row.PreviousPrice * 100
		}
		changes = append(changes, change)
	}

	sort.Slice(changes, func(i, j int) bool {
		return math.Abs(changes[i].PercentChange) > math.Abs(changes[j].PercentChange)
	})
	if limit > 0 && len(changes) > limit {
		changes = changes[:limit]
	}
	return changes, nil
}

// OutOfStock lists currently out-of-stock rows, optionally filtered by brand
// and region.
func (s *QueryService) OutOfStock(ctx context.Context, brandID, region string, limit int) ([]*OutOfStockItem, error) {
	outOfStock := false
	rows, err := s.inventory.List(ctx, domain.InventoryFilter{
		BrandID: brandID,
		Region:  region,
		InStock: &outOfStock,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	items := make([]*OutOfStockItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, &OutOfStockItem{
			RetailerID:      row.RetailerID,
			ProductID:       row.ProductID,
			BrandID:         row.BrandID,
			LastPrice:       row.CurrentPrice,
			OutOfStockSince: row.OutOfStockSince,
		})
	}
	return items, nil
}

// PriceHistory returns the ordered snapshot timeline for a (retailer,
// product) pair, or for a product across retailers when retailerID is empty.
func (s *QueryService) PriceHistory(ctx context.Context, productID, retailerID string, limit int) ([]*domain.MenuSnapshot, error) {
	if productID == "" {
		return nil, domain.ErrInvalidRequest
	}
	if retailerID == "" {
		return s.snapshots.ListByProduct(ctx, productID, limit)
	}
	return s.snapshots.ListByRetailerProduct(ctx, retailerID, productID, limit)
}
