package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
)

// AnalyticsService rolls CurrentInventory state up into per-brand, per-region
// analytics rows. A rollup is a pure function of the current view at call
// time: re-running the same period key overwrites, never accumulates.
type AnalyticsService struct {
	brands    domain.BrandRepository
	retailers domain.RetailerRepository
	inventory domain.InventoryRepository
	analytics domain.AnalyticsRepository
	now       func() time.Time
}

// NewAnalyticsService creates an analytics roller over the given repositories.
func NewAnalyticsService(
	brands domain.BrandRepository,
	retailers domain.RetailerRepository,
	inventory domain.InventoryRepository,
	analytics domain.AnalyticsRepository,
) *AnalyticsService {
	return &AnalyticsService{
		brands:    brands,
		retailers: retailers,
		inventory: inventory,
		analytics: analytics,
		now:       time.Now,
	}
}

// RollUp recomputes analytics for every brand across every named region plus
// the synthetic statewide aggregate. A (brand, region) pair with no matching
// inventory rows writes no row at all. Returns the number of rows upserted.
func (s *AnalyticsService) RollUp(ctx context.Context, period string, periodStart, periodEnd time.Time) (int, error) {
	if period == "" || periodStart.IsZero() || periodEnd.IsZero() || !periodEnd.After(periodStart) {
		return 0, domain.ErrInvalidRequest
	}

	brands, err := s.brands.List(ctx)
	if err != nil {
		return 0, err
	}
	retailers, err := s.retailers.List(ctx)
	if err != nil {
		return 0, err
	}

	retailerRegion := make(map[string]string, len(retailers))
	regionSet := make(map[string]struct{})
	for _, r := range retailers {
		retailerRegion[r.ID] = r.Region
		if r.Region != "" {
			regionSet[r.Region] = struct{}{}
		}
	}
	regions := make([]string, 0, len(regionSet)+1)
	for region := range regionSet {
		regions = append(regions, region)
	}
	regions = append(regions, domain.RegionStatewide)

	written := 0
	for _, brand := range brands {
		rows, err := s.inventory.List(ctx, domain.InventoryFilter{BrandID: brand.ID})
		if err != nil {
			return written, err
		}
		if len(rows) == 0 {
			continue
		}

		for _, region := range regions {
			matching := filterByRegion(rows, region, retailerRegion)
			if len(matching) == 0 {
				continue
			}

			row := s.compute(brand.ID, region, period, periodStart, periodEnd, matching)
			if err := s.analytics.Upsert(ctx, row); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}

// filterByRegion keeps rows whose retailer sits in the region; statewide is
// the identity filter.
func filterByRegion(rows []*domain.CurrentInventory, region string, retailerRegion map[string]string) []*domain.CurrentInventory {
	if region == domain.RegionStatewide {
		return rows
	}
	var matching []*domain.CurrentInventory
	for _, row := range rows {
		if retailerRegion[row.RetailerID] == region {
			matching = append(matching, row)
		}
	}
	return matching
}

func (s *AnalyticsService) compute(brandID, region, period string, periodStart, periodEnd time.Time, rows []*domain.CurrentInventory) *domain.BrandAnalytics {
	retailerSet := make(map[string]struct{})
	skuSet := make(map[string]struct{})
	var priceSum, daysSum float64
	minPrice := rows[0].CurrentPrice
	maxPrice := rows[0].CurrentPrice
	outOfStock := 0

	for _, row := range rows {
		retailerSet[row.RetailerID] = struct{}{}
		skuSet[row.ProductID] = struct{}{}
		priceSum += row.CurrentPrice
		daysSum += float64(row.DaysOnMenu)
		if row.CurrentPrice < minPrice {
			minPrice = row.CurrentPrice
		}
		if row.CurrentPrice > maxPrice {
			maxPrice = row.CurrentPrice
		}
		if !row.InStock {
			outOfStock++
		}
	}

	return &domain.BrandAnalytics{
		ID:              uuid.NewString(),
		BrandID:         brandID,
		Region:          region,
		Period:          period,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		RetailerCount:   len(retailerSet),
		SKUCount:        len(skuSet),
		AvgPrice:        priceSum / float64(len(rows)),
		MinPrice:        minPrice,
		MaxPrice:        maxPrice,
		OutOfStockCount: outOfStock,
		AvgDaysOnMenu:   daysSum / float64(len(rows)),
		ComputedAt:      s.now(),
	}
}
