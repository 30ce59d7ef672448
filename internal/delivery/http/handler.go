package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
	"github.com/beloyal-club/BudAlert-sub003/internal/usecase"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	ingestion     *usecase.IngestionService
	identity      *usecase.IdentityService
	queries       *usecase.QueryService
	deadLetters   *usecase.DeadLetterService
	analytics     *usecase.AnalyticsService
	retailers     domain.RetailerRepository
	defaultPeriod string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	ingestion *usecase.IngestionService,
	identity *usecase.IdentityService,
	queries *usecase.QueryService,
	deadLetters *usecase.DeadLetterService,
	analytics *usecase.AnalyticsService,
	retailers domain.RetailerRepository,
	defaultPeriod string,
) *Handler {
	if defaultPeriod == "" {
		defaultPeriod = "daily"
	}
	return &Handler{
		ingestion:     ingestion,
		identity:      identity,
		queries:       queries,
		deadLetters:   deadLetters,
		analytics:     analytics,
		retailers:     retailers,
		defaultPeriod: defaultPeriod,
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "budalert-backend",
		"version": "1.0.0",
	})
}

// respondError maps domain errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrEntryResolved), errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRetailerNotFound),
		errors.Is(err, domain.ErrBrandNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrInventoryNotFound),
		errors.Is(err, domain.ErrEntryNotFound),
		errors.Is(err, domain.ErrAnalyticsNotFound):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// --- ingestion ---

type ingestRequest struct {
	BatchID string                  `json:"batchId"`
	Results []domain.RetailerResult `json:"results" binding:"required"`
}

// Ingest accepts one scrape batch and runs it through the pipeline
func (h *Handler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ingest payload: " + err.Error()})
		return
	}

	report, err := h.ingestion.IngestBatch(c.Request.Context(), req.BatchID, req.Results)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// RematerializeBatch replays one batch's snapshots into the inventory view
func (h *Handler) RematerializeBatch(c *gin.Context) {
	batchID := c.Param("batchId")
	applied, err := h.ingestion.Rematerialize(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"batchId":          batchID,
		"snapshotsApplied": applied,
	})
}

// --- brands ---

// TrendingBrands returns brands ranked by retailer footprint
func (h *Handler) TrendingBrands(c *gin.Context) {
	query := usecase.TrendingQuery{
		Region:   c.Query("region"),
		Category: c.Query("category"),
		Period:   c.Query("period"),
		Limit:    intQuery(c, "limit", 0),
	}

	brands, err := h.queries.TrendingBrands(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"brands": brands, "count": len(brands)})
}

// GetBrand returns merged metrics for one brand
func (h *Handler) GetBrand(c *gin.Context) {
	detail, err := h.queries.BrandDetail(c.Request.Context(), c.Param("id"), c.Query("region"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// CompareBrands returns side-by-side metrics for the requested brand ids
func (h *Handler) CompareBrands(c *gin.Context) {
	raw := c.Query("ids")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids query parameter is required"})
		return
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	details, err := h.queries.CompareBrands(c.Request.Context(), ids, c.Query("region"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"brands": details, "count": len(details)})
}

// MergeSuggestions returns brand pairs whose names look like duplicate spellings
func (h *Handler) MergeSuggestions(c *gin.Context) {
	threshold, _ := strconv.ParseFloat(c.Query("threshold"), 64)

	candidates, err := h.identity.SuggestMerges(c.Request.Context(), threshold)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": candidates, "count": len(candidates)})
}

type mergeBrandsRequest struct {
	SourceID      string `json:"sourceId" binding:"required"`
	DestinationID string `json:"destinationId" binding:"required"`
}

// MergeBrands folds the source brand into the destination brand
func (h *Handler) MergeBrands(c *gin.Context) {
	var req mergeBrandsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid merge payload: " + err.Error()})
		return
	}

	if err := h.identity.MergeBrands(c.Request.Context(), req.SourceID, req.DestinationID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"merged":        true,
		"sourceId":      req.SourceID,
		"destinationId": req.DestinationID,
	})
}

// --- inventory feeds ---

// PriceChanges returns rows whose price moved within the lookback window
func (h *Handler) PriceChanges(c *gin.Context) {
	hours := intQuery(c, "hours", 24)
	lookback := time.Duration(hours) * time.Hour

	changes, err := h.queries.PriceChanges(c.Request.Context(), lookback, intQuery(c, "limit", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes, "count": len(changes)})
}

// OutOfStock returns currently out-of-stock inventory rows
func (h *Handler) OutOfStock(c *gin.Context) {
	items, err := h.queries.OutOfStock(c.Request.Context(), c.Query("brandId"), c.Query("region"), intQuery(c, "limit", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// ProductHistory returns the snapshot timeline for one product
func (h *Handler) ProductHistory(c *gin.Context) {
	snapshots, err := h.queries.PriceHistory(c.Request.Context(), c.Param("id"), c.Query("retailerId"), intQuery(c, "limit", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots, "count": len(snapshots)})
}

// --- dead letters ---

// ListDeadLetters returns unresolved entries, optionally filtered by error type
func (h *Handler) ListDeadLetters(c *gin.Context) {
	entries, err := h.deadLetters.ListUnresolved(c.Request.Context(), domain.ErrorType(c.Query("errorType")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// DeadLetterStats returns aggregate counts over the unresolved queue
func (h *Handler) DeadLetterStats(c *gin.Context) {
	stats, err := h.deadLetters.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RetailerDeadLetters returns the full dead-letter history for one retailer
func (h *Handler) RetailerDeadLetters(c *gin.Context) {
	entries, err := h.deadLetters.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

type resolveRequest struct {
	Resolution string `json:"resolution" binding:"required"`
	ResolvedBy string `json:"resolvedBy"`
}

// ResolveDeadLetter marks one entry resolved
func (h *Handler) ResolveDeadLetter(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resolve payload: " + err.Error()})
		return
	}

	entry, err := h.deadLetters.Resolve(c.Request.Context(), c.Param("id"), req.Resolution, req.ResolvedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

type bulkResolveRequest struct {
	IDs        []string `json:"ids" binding:"required"`
	Resolution string   `json:"resolution" binding:"required"`
	ResolvedBy string   `json:"resolvedBy"`
}

// BulkResolveDeadLetters resolves a batch of entries, reporting per-id failures
func (h *Handler) BulkResolveDeadLetters(c *gin.Context) {
	var req bulkResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bulk resolve payload: " + err.Error()})
		return
	}

	result, err := h.deadLetters.BulkResolve(c.Request.Context(), req.IDs, req.Resolution, req.ResolvedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type noteRequest struct {
	Note string `json:"note" binding:"required"`
}

// AddDeadLetterNote appends an operator note to an entry
func (h *Handler) AddDeadLetterNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid note payload: " + err.Error()})
		return
	}

	entry, err := h.deadLetters.AddNote(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// --- analytics ---

type rollupRequest struct {
	Period      string    `json:"period"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// RunRollup recomputes brand analytics for the requested window. Called by an
// external scheduler; omitting the window rolls up the most recent full one.
func (h *Handler) RunRollup(c *gin.Context) {
	var req rollupRequest
	// an empty body means "roll up the default window"
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rollup payload: " + err.Error()})
		return
	}

	if req.Period == "" {
		req.Period = h.defaultPeriod
	}
	if req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() {
		window := 24 * time.Hour
		if req.Period == "weekly" {
			window = 7 * 24 * time.Hour
		}
		req.PeriodEnd = time.Now().UTC().Truncate(time.Hour)
		req.PeriodStart = req.PeriodEnd.Add(-window)
	}

	written, err := h.analytics.RollUp(c.Request.Context(), req.Period, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"period":      req.Period,
		"periodStart": req.PeriodStart,
		"periodEnd":   req.PeriodEnd,
		"rowsWritten": written,
	})
}

// --- retailers ---

type createRetailerRequest struct {
	Name        string              `json:"name" binding:"required"`
	Slug        string              `json:"slug" binding:"required"`
	Region      string              `json:"region"`
	MenuSources []domain.MenuSource `json:"menuSources"`
}

// CreateRetailer registers a retailer so scrape batches can reference it.
// Full onboarding (platform discovery, scheduling) lives outside this service.
func (h *Handler) CreateRetailer(c *gin.Context) {
	var req createRetailerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid retailer payload: " + err.Error()})
		return
	}

	retailer := &domain.Retailer{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Slug:        req.Slug,
		Region:      req.Region,
		MenuSources: req.MenuSources,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.retailers.Create(c.Request.Context(), retailer); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, retailer)
}

// ListRetailers returns all registered retailers
func (h *Handler) ListRetailers(c *gin.Context) {
	retailers, err := h.retailers.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"retailers": retailers, "count": len(retailers)})
}
