package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
)

// Materializer folds newly logged snapshots into the CurrentInventory view.
// All delta detection is comparison-based against the previous materialized
// row, never accumulation-based, so re-applying a snapshot is a no-op.
type Materializer struct {
	inventory domain.InventoryRepository
	snapshots domain.SnapshotRepository
	now       func() time.Time
}

// NewMaterializer creates a materializer over the given repositories.
func NewMaterializer(inventory domain.InventoryRepository, snapshots domain.SnapshotRepository) *Materializer {
	return &Materializer{
		inventory: inventory,
		snapshots: snapshots,
		now:       time.Now,
	}
}

// Apply upserts the CurrentInventory row for the snapshot's (retailer,
// product) pair. The write is guarded on the LastSnapshotID observed at read
// time, so a competing writer of the same pair surfaces as ErrConflict and
// the read-modify-write is retried against the fresh state; exhausted retries
// wrap as MaterializationError since the snapshot is already durably logged
// and the operation can be replayed from the log.
func (m *Materializer) Apply(ctx context.Context, snap *domain.MenuSnapshot) (*domain.CurrentInventory, error) {
	for attempt := 0; ; attempt++ {
		row, err := m.materialize(ctx, snap)
		if err == nil {
			return row, nil
		}
		if errors.Is(err, domain.ErrConflict) && attempt < conflictRetries {
			continue
		}
		return nil, &domain.MaterializationError{SnapshotID: snap.ID, Err: err}
	}
}

func (m *Materializer) materialize(ctx context.Context, snap *domain.MenuSnapshot) (*domain.CurrentInventory, error) {
	observedAt := snap.ScrapedAt
	if observedAt.IsZero() {
		observedAt = m.now()
	}

	expected := ""
	row, err := m.inventory.Get(ctx, snap.RetailerID, snap.ProductID)
	switch {
	case errors.Is(err, domain.ErrInventoryNotFound):
		row = m.newRow(snap, observedAt)
	case err != nil:
		return nil, err
	default:
		expected = row.LastSnapshotID
		m.applyDeltas(row, snap, observedAt)
	}

	row.LastSnapshotID = snap.ID
	row.LastUpdatedAt = m.now()
	if err := m.inventory.UpsertIf(ctx, row, expected); err != nil {
		return nil, err
	}
	return row, nil
}

func (m *Materializer) newRow(snap *domain.MenuSnapshot, observedAt time.Time) *domain.CurrentInventory {
	row := &domain.CurrentInventory{
		ID:           uuid.NewString(),
		RetailerID:   snap.RetailerID,
		ProductID:    snap.ProductID,
		BrandID:      snap.BrandID,
		CurrentPrice: snap.Price,
		OnSale:       snap.OnSale,
		InStock:      snap.InStock,
		FirstSeenAt:  observedAt,
		DaysOnMenu:   0,
	}
	if snap.InStock {
		at := observedAt
		row.LastInStockAt = &at
	} else {
		at := observedAt
		row.OutOfStockSince = &at
	}
	return row
}

// applyDeltas diffs the snapshot against the previous materialized state.
// Price-change fields move only when the price actually differs; stock
// transition fields move only on a flip. Delta timestamps use the snapshot's
// scrape time so a replay reproduces the same row.
func (m *Materializer) applyDeltas(row *domain.CurrentInventory, snap *domain.MenuSnapshot, observedAt time.Time) {
	if snap.Price != row.CurrentPrice {
		previous := row.CurrentPrice
		changedAt := observedAt
		row.PreviousPrice = &previous
		row.PriceChangedAt = &changedAt
		row.CurrentPrice = snap.Price
	}

	if snap.InStock != row.InStock {
		at := observedAt
		if snap.InStock {
			row.LastInStockAt = &at
			row.OutOfStockSince = nil
		} else {
			row.OutOfStockSince = &at
		}
		row.InStock = snap.InStock
	}

	row.OnSale = snap.OnSale

	// Derived from elapsed time since first observation, clamped so replays
	// and out-of-order redelivery cannot walk the count backwards.
	if days := int(observedAt.Sub(row.FirstSeenAt).Hours() / 24); days > row.DaysOnMenu {
		row.DaysOnMenu = days
	}
}

// Rematerialize replays every snapshot of a batch against the current view,
// oldest first. It is the retry path after a MaterializationError: snapshots
// already applied reduce to no-ops.
func (m *Materializer) Rematerialize(ctx context.Context, batchID string) (int, error) {
	snaps, err := m.snapshots.ListByBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, snap := range snaps {
		if _, err := m.Apply(ctx, snap); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}
