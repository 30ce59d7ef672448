package usecase

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
	"github.com/beloyal-club/BudAlert-sub003/internal/infrastructure/metrics"
)

// IngestionService consumes completed scrape batches: it resolves raw items
// into canonical identities, appends them to the snapshot log, and
// materializes the current-state view. Failures divert to the dead letter
// handler; partial progress is always retained.
type IngestionService struct {
	retailers    domain.RetailerRepository
	identity     *IdentityService
	snapshots    domain.SnapshotRepository
	materializer *Materializer
	deadLetters  *DeadLetterService
	now          func() time.Time
}

// NewIngestionService wires the pipeline stages together.
func NewIngestionService(
	retailers domain.RetailerRepository,
	identity *IdentityService,
	snapshots domain.SnapshotRepository,
	materializer *Materializer,
	deadLetters *DeadLetterService,
) *IngestionService {
	return &IngestionService{
		retailers:    retailers,
		identity:     identity,
		snapshots:    snapshots,
		materializer: materializer,
		deadLetters:  deadLetters,
		now:          time.Now,
	}
}

// IngestBatch processes one scrape cycle's per-retailer results. Error
// results bypass the pipeline and go straight to the dead letter handler with
// the caller's retry metadata. Item-level failures divert that item; an
// unrecoverable storage error stops the retailer's remaining items and
// diverts them too. Other retailers are unaffected either way.
func (s *IngestionService) IngestBatch(ctx context.Context, batchID string, results []domain.RetailerResult) (*domain.BatchReport, error) {
	if batchID == "" {
		return nil, domain.ErrInvalidRequest
	}

	report := &domain.BatchReport{
		BatchID:   batchID,
		StartedAt: s.now(),
	}

	for i := range results {
		result := &results[i]
		if result.Status == domain.ResultStatusError || result.Error != nil {
			s.recordScrapeFailure(ctx, batchID, result)
			report.RetailersFailed++
			continue
		}
		if err := s.ingestRetailer(ctx, batchID, result, report); err != nil {
			report.RetailersFailed++
			continue
		}
		report.RetailersOK++
	}

	report.FinishedAt = s.now()
	metrics.BatchesProcessed.Inc()
	metrics.BatchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	s.refreshUnresolvedGauge(ctx)
	return report, nil
}

// ingestRetailer applies one retailer's items in order against that
// retailer's own state. The returned error marks the retailer as failed in
// the batch report; it is already recorded in the dead letter queue.
func (s *IngestionService) ingestRetailer(ctx context.Context, batchID string, result *domain.RetailerResult, report *domain.BatchReport) error {
	if _, err := s.retailers.GetByID(ctx, result.RetailerID); err != nil {
		s.divert(ctx, batchID, result.RetailerID, "", err)
		report.ItemsDiverted += len(result.Items)
		return err
	}

	for i := range result.Items {
		item := &result.Items[i]

		resolved, err := s.identity.Resolve(ctx, item)
		if err != nil {
			var normErr *domain.NormalizationError
			if errors.As(err, &normErr) {
				// bad identity fields poison only this item
				s.divert(ctx, batchID, result.RetailerID, item.SourcePlatform, err)
				report.ItemsDiverted++
				metrics.ItemsDiverted.Inc()
				continue
			}
			s.divert(ctx, batchID, result.RetailerID, item.SourcePlatform, err)
			diverted := len(result.Items) - i
			report.ItemsDiverted += diverted
			return err
		}
		if resolved.BrandCreated {
			report.BrandsCreated++
			metrics.BrandsCreated.Inc()
		}
		if resolved.ProductCreated {
			report.ProductsCreated++
			metrics.ProductsCreated.Inc()
		}

		snap := s.buildSnapshot(batchID, result.RetailerID, resolved, item)
		if err := s.snapshots.Append(ctx, snap); err != nil {
			s.divert(ctx, batchID, result.RetailerID, item.SourcePlatform, err)
			diverted := len(result.Items) - i
			report.ItemsDiverted += diverted
			return err
		}
		report.SnapshotsWritten++
		metrics.SnapshotsWritten.Inc()

		if _, err := s.materializer.Apply(ctx, snap); err != nil {
			// the snapshot is in the log; record and keep going, the view
			// catches up on Rematerialize
			log.Printf("[ingest] materialization failed for snapshot %s: %v", snap.ID, err)
			s.divert(ctx, batchID, result.RetailerID, item.SourcePlatform, err)
		}

		report.ItemsIngested++
		metrics.ItemsIngested.Inc()
	}
	return nil
}

// Rematerialize replays a batch's logged snapshots against the current view.
// It is the operator recovery path after a materialization failure: snapshots
// already applied reduce to no-ops, so replaying a healthy batch is harmless.
func (s *IngestionService) Rematerialize(ctx context.Context, batchID string) (int, error) {
	if batchID == "" {
		return 0, domain.ErrInvalidRequest
	}
	return s.materializer.Rematerialize(ctx, batchID)
}

func (s *IngestionService) buildSnapshot(batchID, retailerID string, resolved *ResolvedIdentity, item *domain.RawMenuItem) *domain.MenuSnapshot {
	scrapedAt := item.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = s.now()
	}
	return &domain.MenuSnapshot{
		ID:             uuid.NewString(),
		RetailerID:     retailerID,
		ProductID:      resolved.Product.ID,
		BrandID:        resolved.Brand.ID,
		BatchID:        batchID,
		Price:          item.Price,
		OriginalPrice:  item.OriginalPrice,
		OnSale:         item.OnSale,
		InStock:        item.InStock,
		RawName:        item.Name,
		RawBrand:       item.Brand,
		RawCategory:    item.Category,
		SourceURL:      item.SourceURL,
		SourcePlatform: item.SourcePlatform,
		ScrapedAt:      scrapedAt,
		CreatedAt:      s.now(),
	}
}

// recordScrapeFailure forwards a pre-failed retailer result, with the retry
// metadata the scraper adapter accumulated, to the dead letter handler.
func (s *IngestionService) recordScrapeFailure(ctx context.Context, batchID string, result *domain.RetailerResult) {
	report := FailureReport{
		RetailerID: result.RetailerID,
		BatchID:    batchID,
	}
	if result.Error != nil {
		report.Message = result.Error.Message
		report.StatusCode = result.Error.StatusCode
		report.Retries = result.Error.Retries
		report.FirstAttemptAt = result.Error.FirstAttemptAt
		report.LastAttemptAt = result.Error.LastAttemptAt
		report.ResponsePreview = result.Error.ResponsePreview
		report.SourcePlatform = result.Error.SourcePlatform
	}

	entry, err := s.deadLetters.RecordFailure(ctx, report)
	if err != nil {
		log.Printf("[ingest] failed to record dead letter for retailer %s: %v", result.RetailerID, err)
		return
	}
	metrics.DeadLettersRecorded.WithLabelValues(string(entry.ErrorType)).Inc()
}

// divert records a pipeline-internal failure against the retailer's
// unresolved entry instead of silently dropping the work.
func (s *IngestionService) divert(ctx context.Context, batchID, retailerID, platform string, cause error) {
	entry, err := s.deadLetters.RecordFailure(ctx, FailureReport{
		RetailerID:     retailerID,
		BatchID:        batchID,
		Message:        cause.Error(),
		SourcePlatform: platform,
	})
	if err != nil {
		log.Printf("[ingest] failed to record dead letter for retailer %s: %v", retailerID, err)
		return
	}
	metrics.DeadLettersRecorded.WithLabelValues(string(entry.ErrorType)).Inc()
}

func (s *IngestionService) refreshUnresolvedGauge(ctx context.Context) {
	stats, err := s.deadLetters.Stats(ctx)
	if err != nil {
		return
	}
	metrics.DeadLettersUnresolved.Set(float64(stats.TotalUnresolved))
}
