package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	_ "modernc.org/sqlite"             // database/sql driver "sqlite"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
)

// SQLStore implements domain.Store over database/sql. The same statements run
// against SQLite (modernc, CGO-free) and Postgres (pgx stdlib); both accept
// $N placeholders, partial unique indexes and ON CONFLICT upserts. Timestamps
// persist as unix seconds.
type SQLStore struct {
	db *sql.DB
}

var _ domain.Store = (*SQLStore)(nil)

// OpenSQLite opens (creating if needed) a SQLite database at path and applies
// the schema. Use ":memory:" for an ephemeral database in tests.
func OpenSQLite(path string) (*SQLStore, error) {
	if path == "" {
		path = "budalert.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)
	return newSQLStore(db)
}

// OpenPostgres connects to Postgres with the given DSN and applies the schema.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(db)
}

func newSQLStore(db *sql.DB) (*SQLStore, error) {
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Retailers() domain.RetailerRepository     { return &sqlRetailers{s.db} }
func (s *SQLStore) Brands() domain.BrandRepository           { return &sqlBrands{s.db} }
func (s *SQLStore) Products() domain.ProductRepository       { return &sqlProducts{s.db} }
func (s *SQLStore) Snapshots() domain.SnapshotRepository     { return &sqlSnapshots{s.db} }
func (s *SQLStore) Inventory() domain.InventoryRepository    { return &sqlInventory{s.db} }
func (s *SQLStore) DeadLetters() domain.DeadLetterRepository { return &sqlDeadLetters{s.db} }
func (s *SQLStore) Analytics() domain.AnalyticsRepository    { return &sqlAnalytics{s.db} }

func (s *SQLStore) Close() error { return s.db.Close() }

// isUniqueViolation matches the modernc sqlite and pgx error strings for a
// uniqueness failure. Neither driver exposes a shared typed error through
// database/sql, so this stays a string check.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func unixOf(t time.Time) int64 { return t.UTC().Unix() }

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func timeOf(n int64) time.Time { return time.Unix(n, 0).UTC() }

func timePtrOf(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

func floatPtrOf(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func intPtrOf(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatArg(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func intArg(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func marshalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json column: %w", err)
	}
	return string(raw), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ---- retailers ----

type sqlRetailers struct{ db *sql.DB }

func (r *sqlRetailers) Create(ctx context.Context, retailer *domain.Retailer) error {
	sources, err := marshalJSON(retailer.MenuSources)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO retailers (id, name, slug, region, menu_sources, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		retailer.ID, retailer.Name, retailer.Slug, retailer.Region, sources, unixOf(retailer.CreatedAt))
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *sqlRetailers) Update(ctx context.Context, retailer *domain.Retailer) error {
	sources, err := marshalJSON(retailer.MenuSources)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE retailers SET name = $2, region = $3, menu_sources = $4 WHERE id = $1`,
		retailer.ID, retailer.Name, retailer.Region, sources)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRetailerNotFound
	}
	return nil
}

func (r *sqlRetailers) GetByID(ctx context.Context, id string) (*domain.Retailer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, slug, region, menu_sources, created_at FROM retailers WHERE id = $1`, id)
	return scanRetailer(row)
}

func (r *sqlRetailers) List(ctx context.Context) ([]*domain.Retailer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, slug, region, menu_sources, created_at FROM retailers ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Retailer
	for rows.Next() {
		retailer, err := scanRetailer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, retailer)
	}
	return out, rows.Err()
}

func (r *sqlRetailers) Regions(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT region FROM retailers WHERE region <> '' ORDER BY region`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var region string
		if err := rows.Scan(&region); err != nil {
			return nil, err
		}
		out = append(out, region)
	}
	return out, rows.Err()
}

func scanRetailer(row rowScanner) (*domain.Retailer, error) {
	var (
		retailer  domain.Retailer
		sources   string
		createdAt int64
	)
	err := row.Scan(&retailer.ID, &retailer.Name, &retailer.Slug, &retailer.Region, &sources, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRetailerNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sources), &retailer.MenuSources); err != nil {
		return nil, fmt.Errorf("decode menu sources: %w", err)
	}
	retailer.CreatedAt = timeOf(createdAt)
	return &retailer, nil
}

// ---- brands ----

type sqlBrands struct{ db *sql.DB }

func (r *sqlBrands) Create(ctx context.Context, b *domain.Brand) error {
	aliases, err := marshalJSON(b.Aliases)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO brands (id, name, normalized_name, aliases, is_verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.Name, b.NormalizedName, aliases, b.IsVerified, unixOf(b.CreatedAt), unixOf(b.UpdatedAt))
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *sqlBrands) GetByID(ctx context.Context, id string) (*domain.Brand, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, normalized_name, aliases, is_verified, created_at, updated_at
		 FROM brands WHERE id = $1`, id)
	return scanBrand(row)
}

func (r *sqlBrands) GetByNormalizedName(ctx context.Context, normalized string) (*domain.Brand, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, normalized_name, aliases, is_verified, created_at, updated_at
		 FROM brands WHERE normalized_name = $1`, normalized)
	return scanBrand(row)
}

func (r *sqlBrands) AddAlias(ctx context.Context, brandID, alias string) error {
	b, err := r.GetByID(ctx, brandID)
	if err != nil {
		return err
	}
	if b.HasAlias(alias) {
		return nil
	}
	aliases, err := marshalJSON(append(b.Aliases, alias))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE brands SET aliases = $2, updated_at = $3 WHERE id = $1`,
		brandID, aliases, unixOf(time.Now()))
	return err
}

func (r *sqlBrands) List(ctx context.Context) ([]*domain.Brand, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, normalized_name, aliases, is_verified, created_at, updated_at
		 FROM brands ORDER BY normalized_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Brand
	for rows.Next() {
		b, err := scanBrand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *sqlBrands) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM brands WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrBrandNotFound
	}
	return nil
}

func scanBrand(row rowScanner) (*domain.Brand, error) {
	var (
		b         domain.Brand
		aliases   string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&b.ID, &b.Name, &b.NormalizedName, &aliases, &b.IsVerified, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrBrandNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(aliases), &b.Aliases); err != nil {
		return nil, fmt.Errorf("decode aliases: %w", err)
	}
	b.CreatedAt = timeOf(createdAt)
	b.UpdatedAt = timeOf(updatedAt)
	return &b, nil
}

// ---- products ----

type sqlProducts struct{ db *sql.DB }

func (r *sqlProducts) Create(ctx context.Context, p *domain.Product) error {
	var thcLow, thcHigh, cbdLow, cbdHigh any
	if p.THCRange != nil {
		thcLow, thcHigh = p.THCRange.Low, p.THCRange.High
	}
	if p.CBDRange != nil {
		cbdLow, cbdHigh = p.CBDRange.Low, p.CBDRange.High
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, brand_id, name, normalized_name, category, strain, weight,
		                       thc_low, thc_high, cbd_low, cbd_high, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.BrandID, p.Name, p.NormalizedName, p.Category, p.Strain, p.Weight,
		thcLow, thcHigh, cbdLow, cbdHigh, unixOf(p.FirstSeenAt), unixOf(p.LastSeenAt))
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *sqlProducts) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	row := r.db.QueryRowContext(ctx, productSelect+` WHERE id = $1`, id)
	return scanProduct(row)
}

func (r *sqlProducts) GetByBrandAndName(ctx context.Context, brandID, normalized string) (*domain.Product, error) {
	row := r.db.QueryRowContext(ctx,
		productSelect+` WHERE brand_id = $1 AND normalized_name = $2`, brandID, normalized)
	return scanProduct(row)
}

func (r *sqlProducts) TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE products SET last_seen_at = $2 WHERE id = $1 AND last_seen_at < $2`,
		id, unixOf(seenAt))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Either the product is missing or seenAt is not newer; disambiguate.
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = $1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return domain.ErrProductNotFound
	}
	return err
}

func (r *sqlProducts) ListByBrand(ctx context.Context, brandID string) ([]*domain.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		productSelect+` WHERE brand_id = $1 ORDER BY normalized_name`, brandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *sqlProducts) ReassignBrand(ctx context.Context, fromBrandID, toBrandID string) error {
	// the statement is atomic: a name collision on idx_products_brand_name
	// aborts it without moving anything
	_, err := r.db.ExecContext(ctx,
		`UPDATE products SET brand_id = $2 WHERE brand_id = $1`, fromBrandID, toBrandID)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *sqlProducts) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

const productSelect = `SELECT id, brand_id, name, normalized_name, category, strain, weight,
       thc_low, thc_high, cbd_low, cbd_high, first_seen_at, last_seen_at FROM products`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p                                domain.Product
		thcLow, thcHigh, cbdLow, cbdHigh sql.NullFloat64
		firstSeen, lastSeen              int64
	)
	err := row.Scan(&p.ID, &p.BrandID, &p.Name, &p.NormalizedName, &p.Category, &p.Strain, &p.Weight,
		&thcLow, &thcHigh, &cbdLow, &cbdHigh, &firstSeen, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if thcLow.Valid {
		p.THCRange = &domain.PotencyRange{Low: thcLow.Float64, High: thcHigh.Float64}
	}
	if cbdLow.Valid {
		p.CBDRange = &domain.PotencyRange{Low: cbdLow.Float64, High: cbdHigh.Float64}
	}
	p.FirstSeenAt = timeOf(firstSeen)
	p.LastSeenAt = timeOf(lastSeen)
	return &p, nil
}

// ---- snapshots ----

type sqlSnapshots struct{ db *sql.DB }

func (r *sqlSnapshots) Append(ctx context.Context, s *domain.MenuSnapshot) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO menu_snapshots (id, retailer_id, product_id, brand_id, batch_id,
		                             price, original_price, on_sale, in_stock,
		                             raw_name, raw_brand, raw_category, source_url, source_platform,
		                             scraped_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		s.ID, s.RetailerID, s.ProductID, s.BrandID, s.BatchID,
		s.Price, floatArg(s.OriginalPrice), s.OnSale, s.InStock,
		s.RawName, s.RawBrand, s.RawCategory, s.SourceURL, s.SourcePlatform,
		unixOf(s.ScrapedAt), unixOf(s.CreatedAt))
	return err
}

func (r *sqlSnapshots) ListByRetailerProduct(ctx context.Context, retailerID, productID string, limit int) ([]*domain.MenuSnapshot, error) {
	return r.list(ctx,
		snapshotSelect+` WHERE retailer_id = $1 AND product_id = $2 ORDER BY scraped_at, created_at`,
		limit, retailerID, productID)
}

func (r *sqlSnapshots) ListByProduct(ctx context.Context, productID string, limit int) ([]*domain.MenuSnapshot, error) {
	return r.list(ctx,
		snapshotSelect+` WHERE product_id = $1 ORDER BY scraped_at, created_at`,
		limit, productID)
}

func (r *sqlSnapshots) ListByBatch(ctx context.Context, batchID string) ([]*domain.MenuSnapshot, error) {
	return r.list(ctx,
		snapshotSelect+` WHERE batch_id = $1 ORDER BY scraped_at, created_at`,
		0, batchID)
}

// list runs a snapshot query ordered oldest-first and, when limit > 0, keeps
// only the most recent limit rows without disturbing the ascending order.
func (r *sqlSnapshots) list(ctx context.Context, query string, limit int, args ...any) ([]*domain.MenuSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.MenuSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

const snapshotSelect = `SELECT id, retailer_id, product_id, brand_id, batch_id,
       price, original_price, on_sale, in_stock,
       raw_name, raw_brand, raw_category, source_url, source_platform,
       scraped_at, created_at FROM menu_snapshots`

func scanSnapshot(row rowScanner) (*domain.MenuSnapshot, error) {
	var (
		s                    domain.MenuSnapshot
		originalPrice        sql.NullFloat64
		scrapedAt, createdAt int64
	)
	err := row.Scan(&s.ID, &s.RetailerID, &s.ProductID, &s.BrandID, &s.BatchID,
		&s.Price, &originalPrice, &s.OnSale, &s.InStock,
		&s.RawName, &s.RawBrand, &s.RawCategory, &s.SourceURL, &s.SourcePlatform,
		&scrapedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	s.OriginalPrice = floatPtrOf(originalPrice)
	s.ScrapedAt = timeOf(scrapedAt)
	s.CreatedAt = timeOf(createdAt)
	return &s, nil
}

// ---- inventory ----

type sqlInventory struct{ db *sql.DB }

func (r *sqlInventory) Get(ctx context.Context, retailerID, productID string) (*domain.CurrentInventory, error) {
	row := r.db.QueryRowContext(ctx,
		inventorySelect+` WHERE i.retailer_id = $1 AND i.product_id = $2`, retailerID, productID)
	return scanInventory(row)
}

func (r *sqlInventory) Upsert(ctx context.Context, row *domain.CurrentInventory) error {
	// ON CONFLICT keeps the original row id, so the one-row-per-pair
	// invariant survives concurrent upserts.
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO current_inventory (id, retailer_id, product_id, brand_id,
		                                current_price, previous_price, price_changed_at,
		                                on_sale, in_stock, last_in_stock_at, out_of_stock_since,
		                                first_seen_at, days_on_menu, last_snapshot_id, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (retailer_id, product_id) DO UPDATE SET
		   brand_id = excluded.brand_id,
		   current_price = excluded.current_price,
		   previous_price = excluded.previous_price,
		   price_changed_at = excluded.price_changed_at,
		   on_sale = excluded.on_sale,
		   in_stock = excluded.in_stock,
		   last_in_stock_at = excluded.last_in_stock_at,
		   out_of_stock_since = excluded.out_of_stock_since,
		   first_seen_at = excluded.first_seen_at,
		   days_on_menu = excluded.days_on_menu,
		   last_snapshot_id = excluded.last_snapshot_id,
		   last_updated_at = excluded.last_updated_at`,
		row.ID, row.RetailerID, row.ProductID, row.BrandID,
		row.CurrentPrice, floatArg(row.PreviousPrice), unixPtr(row.PriceChangedAt),
		row.OnSale, row.InStock, unixPtr(row.LastInStockAt), unixPtr(row.OutOfStockSince),
		unixOf(row.FirstSeenAt), row.DaysOnMenu, row.LastSnapshotID, unixOf(row.LastUpdatedAt))
	return err
}

func (r *sqlInventory) UpsertIf(ctx context.Context, row *domain.CurrentInventory, expectedSnapshotID string) error {
	if expectedSnapshotID == "" {
		// the caller saw no row; losing the insert race is the conflict
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO current_inventory (id, retailer_id, product_id, brand_id,
			                                current_price, previous_price, price_changed_at,
			                                on_sale, in_stock, last_in_stock_at, out_of_stock_since,
			                                first_seen_at, days_on_menu, last_snapshot_id, last_updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			row.ID, row.RetailerID, row.ProductID, row.BrandID,
			row.CurrentPrice, floatArg(row.PreviousPrice), unixPtr(row.PriceChangedAt),
			row.OnSale, row.InStock, unixPtr(row.LastInStockAt), unixPtr(row.OutOfStockSince),
			unixOf(row.FirstSeenAt), row.DaysOnMenu, row.LastSnapshotID, unixOf(row.LastUpdatedAt))
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}

	// the update applies only while the stored last_snapshot_id still matches
	// what the caller read
	res, err := r.db.ExecContext(ctx,
		`UPDATE current_inventory SET
		   brand_id = $4, current_price = $5, previous_price = $6, price_changed_at = $7,
		   on_sale = $8, in_stock = $9, last_in_stock_at = $10, out_of_stock_since = $11,
		   first_seen_at = $12, days_on_menu = $13, last_snapshot_id = $14, last_updated_at = $15
		 WHERE retailer_id = $1 AND product_id = $2 AND last_snapshot_id = $3`,
		row.RetailerID, row.ProductID, expectedSnapshotID, row.BrandID,
		row.CurrentPrice, floatArg(row.PreviousPrice), unixPtr(row.PriceChangedAt),
		row.OnSale, row.InStock, unixPtr(row.LastInStockAt), unixPtr(row.OutOfStockSince),
		unixOf(row.FirstSeenAt), row.DaysOnMenu, row.LastSnapshotID, unixOf(row.LastUpdatedAt))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *sqlInventory) List(ctx context.Context, filter domain.InventoryFilter) ([]*domain.CurrentInventory, error) {
	query := inventorySelect
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Region != "" && filter.Region != domain.RegionStatewide {
		query += ` JOIN retailers r ON r.id = i.retailer_id`
		conds = append(conds, `r.region = `+arg(filter.Region))
	}
	if filter.Category != "" {
		query += ` JOIN products p ON p.id = i.product_id`
		conds = append(conds, `lower(p.category) = lower(`+arg(filter.Category)+`)`)
	}
	if filter.BrandID != "" {
		conds = append(conds, `i.brand_id = `+arg(filter.BrandID))
	}
	if filter.InStock != nil {
		conds = append(conds, `i.in_stock = `+arg(*filter.InStock))
	}
	if filter.PriceChangedSince != nil {
		conds = append(conds, `i.price_changed_at >= `+arg(unixOf(*filter.PriceChangedSince)))
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY i.retailer_id, i.product_id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.CurrentInventory
	for rows.Next() {
		row, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *sqlInventory) ReassignBrand(ctx context.Context, fromBrandID, toBrandID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE current_inventory SET brand_id = $2 WHERE brand_id = $1`, fromBrandID, toBrandID)
	return err
}

func (r *sqlInventory) ReassignProduct(ctx context.Context, fromProductID, toProductID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Where both products have a row at the same retailer, keep the fresher
	// of the two so repointing never collides on the pair index. Ties go to
	// the destination row.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM current_inventory
		 WHERE product_id = $1 AND EXISTS (
		   SELECT 1 FROM current_inventory o
		   WHERE o.product_id = $2 AND o.retailer_id = current_inventory.retailer_id
		     AND o.last_updated_at >= current_inventory.last_updated_at)`,
		fromProductID, toProductID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM current_inventory
		 WHERE product_id = $2 AND EXISTS (
		   SELECT 1 FROM current_inventory o
		   WHERE o.product_id = $1 AND o.retailer_id = current_inventory.retailer_id)`,
		fromProductID, toProductID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE current_inventory SET product_id = $2 WHERE product_id = $1`,
		fromProductID, toProductID); err != nil {
		return err
	}
	return tx.Commit()
}

const inventorySelect = `SELECT i.id, i.retailer_id, i.product_id, i.brand_id,
       i.current_price, i.previous_price, i.price_changed_at,
       i.on_sale, i.in_stock, i.last_in_stock_at, i.out_of_stock_since,
       i.first_seen_at, i.days_on_menu, i.last_snapshot_id, i.last_updated_at FROM current_inventory i`

func scanInventory(row rowScanner) (*domain.CurrentInventory, error) {
	var (
		inv            domain.CurrentInventory
		previousPrice  sql.NullFloat64
		priceChangedAt sql.NullInt64
		lastInStockAt  sql.NullInt64
		oosSince       sql.NullInt64
		firstSeen      int64
		lastUpdated    int64
	)
	err := row.Scan(&inv.ID, &inv.RetailerID, &inv.ProductID, &inv.BrandID,
		&inv.CurrentPrice, &previousPrice, &priceChangedAt,
		&inv.OnSale, &inv.InStock, &lastInStockAt, &oosSince,
		&firstSeen, &inv.DaysOnMenu, &inv.LastSnapshotID, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, domain.ErrInventoryNotFound
	}
	if err != nil {
		return nil, err
	}
	inv.PreviousPrice = floatPtrOf(previousPrice)
	inv.PriceChangedAt = timePtrOf(priceChangedAt)
	inv.LastInStockAt = timePtrOf(lastInStockAt)
	inv.OutOfStockSince = timePtrOf(oosSince)
	inv.FirstSeenAt = timeOf(firstSeen)
	inv.LastUpdatedAt = timeOf(lastUpdated)
	return &inv, nil
}

// ---- dead letters ----

type sqlDeadLetters struct{ db *sql.DB }

func (r *sqlDeadLetters) Insert(ctx context.Context, e *domain.DeadLetterEntry) error {
	notes, err := marshalJSON(e.Notes)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, retailer_id, batch_id, error_type, error_message, status_code,
		                           response_preview, source_platform, retry_count,
		                           first_attempt_at, last_attempt_at,
		                           resolved_at, resolution, resolved_by, notes, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		e.ID, e.RetailerID, e.BatchID, string(e.ErrorType), e.ErrorMessage, intArg(e.StatusCode),
		e.ResponsePreview, e.SourcePlatform, e.RetryCount,
		unixOf(e.FirstAttemptAt), unixOf(e.LastAttemptAt),
		unixPtr(e.ResolvedAt), e.Resolution, e.ResolvedBy, notes, unixOf(e.CreatedAt), unixOf(e.UpdatedAt),
		e.Version)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *sqlDeadLetters) Update(ctx context.Context, e *domain.DeadLetterEntry) error {
	notes, err := marshalJSON(e.Notes)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE dead_letters SET batch_id = $2, error_type = $3, error_message = $4, status_code = $5,
		        response_preview = $6, source_platform = $7, retry_count = $8,
		        first_attempt_at = $9, last_attempt_at = $10,
		        resolved_at = $11, resolution = $12, resolved_by = $13, notes = $14, updated_at = $15,
		        version = version + 1
		 WHERE id = $1 AND version = $16`,
		e.ID, e.BatchID, string(e.ErrorType), e.ErrorMessage, intArg(e.StatusCode),
		e.ResponsePreview, e.SourcePlatform, e.RetryCount,
		unixOf(e.FirstAttemptAt), unixOf(e.LastAttemptAt),
		unixPtr(e.ResolvedAt), e.Resolution, e.ResolvedBy, notes, unixOf(e.UpdatedAt),
		e.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		e.Version++
		return nil
	}
	// Either the entry is missing or another writer got there first.
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM dead_letters WHERE id = $1`, e.ID).Scan(&exists)
	if err == sql.ErrNoRows {
		return domain.ErrEntryNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrConflict
}

func (r *sqlDeadLetters) GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	row := r.db.QueryRowContext(ctx, deadLetterSelect+` WHERE id = $1`, id)
	return scanDeadLetter(row)
}

func (r *sqlDeadLetters) GetUnresolvedByRetailer(ctx context.Context, retailerID string) (*domain.DeadLetterEntry, error) {
	row := r.db.QueryRowContext(ctx,
		deadLetterSelect+` WHERE retailer_id = $1 AND resolved_at IS NULL`, retailerID)
	return scanDeadLetter(row)
}

func (r *sqlDeadLetters) ListUnresolved(ctx context.Context, errorType domain.ErrorType) ([]*domain.DeadLetterEntry, error) {
	query := deadLetterSelect + ` WHERE resolved_at IS NULL`
	var args []any
	if errorType != "" {
		query += ` AND error_type = $1`
		args = append(args, string(errorType))
	}
	query += ` ORDER BY last_attempt_at DESC`
	return r.list(ctx, query, args...)
}

func (r *sqlDeadLetters) ListByRetailer(ctx context.Context, retailerID string) ([]*domain.DeadLetterEntry, error) {
	return r.list(ctx,
		deadLetterSelect+` WHERE retailer_id = $1 ORDER BY last_attempt_at DESC`, retailerID)
}

func (r *sqlDeadLetters) Stats(ctx context.Context) (*domain.DeadLetterStats, error) {
	stats := &domain.DeadLetterStats{
		ByErrorType:      make(map[domain.ErrorType]int),
		BySourcePlatform: make(map[string]int),
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT error_type, source_platform, last_attempt_at FROM dead_letters WHERE resolved_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			errorType, platform string
			lastAttempt         int64
		)
		if err := rows.Scan(&errorType, &platform, &lastAttempt); err != nil {
			return nil, err
		}
		stats.TotalUnresolved++
		stats.ByErrorType[domain.ErrorType(errorType)]++
		if platform != "" {
			stats.BySourcePlatform[platform]++
		}
		at := timeOf(lastAttempt)
		if stats.OldestUnresolvedAt == nil || at.Before(*stats.OldestUnresolvedAt) {
			stats.OldestUnresolvedAt = &at
		}
	}
	return stats, rows.Err()
}

func (r *sqlDeadLetters) list(ctx context.Context, query string, args ...any) ([]*domain.DeadLetterEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DeadLetterEntry
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const deadLetterSelect = `SELECT id, retailer_id, batch_id, error_type, error_message, status_code,
       response_preview, source_platform, retry_count,
       first_attempt_at, last_attempt_at,
       resolved_at, resolution, resolved_by, notes, created_at, updated_at, version FROM dead_letters`

func scanDeadLetter(row rowScanner) (*domain.DeadLetterEntry, error) {
	var (
		e                         domain.DeadLetterEntry
		errorType, notes          string
		statusCode, resolvedAt    sql.NullInt64
		firstAttempt, lastAttempt int64
		createdAt, updatedAt      int64
	)
	err := row.Scan(&e.ID, &e.RetailerID, &e.BatchID, &errorType, &e.ErrorMessage, &statusCode,
		&e.ResponsePreview, &e.SourcePlatform, &e.RetryCount,
		&firstAttempt, &lastAttempt,
		&resolvedAt, &e.Resolution, &e.ResolvedBy, &notes, &createdAt, &updatedAt, &e.Version)
	if err == sql.ErrNoRows {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(notes), &e.Notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	e.ErrorType = domain.ErrorType(errorType)
	e.StatusCode = intPtrOf(statusCode)
	e.FirstAttemptAt = timeOf(firstAttempt)
	e.LastAttemptAt = timeOf(lastAttempt)
	e.ResolvedAt = timePtrOf(resolvedAt)
	e.CreatedAt = timeOf(createdAt)
	e.UpdatedAt = timeOf(updatedAt)
	return &e, nil
}

// ---- analytics ----

type sqlAnalytics struct{ db *sql.DB }

func (r *sqlAnalytics) Upsert(ctx context.Context, a *domain.BrandAnalytics) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO brand_analytics (id, brand_id, region, period, period_start, period_end,
		                              retailer_count, sku_count, avg_price, min_price, max_price,
		                              out_of_stock_count, avg_days_on_menu, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (brand_id, region, period, period_start) DO UPDATE SET
		   period_end = excluded.period_end,
		   retailer_count = excluded.retailer_count,
		   sku_count = excluded.sku_count,
		   avg_price = excluded.avg_price,
		   min_price = excluded.min_price,
		   max_price = excluded.max_price,
		   out_of_stock_count = excluded.out_of_stock_count,
		   avg_days_on_menu = excluded.avg_days_on_menu,
		   computed_at = excluded.computed_at`,
		a.ID, a.BrandID, a.Region, a.Period, unixOf(a.PeriodStart), unixOf(a.PeriodEnd),
		a.RetailerCount, a.SKUCount, a.AvgPrice, a.MinPrice, a.MaxPrice,
		a.OutOfStockCount, a.AvgDaysOnMenu, unixOf(a.ComputedAt))
	return err
}

func (r *sqlAnalytics) Get(ctx context.Context, brandID, region, period string, periodStart time.Time) (*domain.BrandAnalytics, error) {
	row := r.db.QueryRowContext(ctx,
		analyticsSelect+` WHERE brand_id = $1 AND region = $2 AND period = $3 AND period_start = $4`,
		brandID, region, period, unixOf(periodStart))
	return scanAnalytics(row)
}

func (r *sqlAnalytics) Latest(ctx context.Context, brandID, region, period string) (*domain.BrandAnalytics, error) {
	row := r.db.QueryRowContext(ctx,
		analyticsSelect+` WHERE brand_id = $1 AND region = $2 AND period = $3
		 ORDER BY period_start DESC LIMIT 1`,
		brandID, region, period)
	return scanAnalytics(row)
}

const analyticsSelect = `SELECT id, brand_id, region, period, period_start, period_end,
       retailer_count, sku_count, avg_price, min_price, max_price,
       out_of_stock_count, avg_days_on_menu, computed_at FROM brand_analytics`

func scanAnalytics(row rowScanner) (*domain.BrandAnalytics, error) {
	var (
		a                                  domain.BrandAnalytics
		periodStart, periodEnd, computedAt int64
	)
	err := row.Scan(&a.ID, &a.BrandID, &a.Region, &a.Period, &periodStart, &periodEnd,
		&a.RetailerCount, &a.SKUCount, &a.AvgPrice, &a.MinPrice, &a.MaxPrice,
		&a.OutOfStockCount, &a.AvgDaysOnMenu, &computedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAnalyticsNotFound
	}
	if err != nil {
		return nil, err
	}
	a.PeriodStart = timeOf(periodStart)
	a.PeriodEnd = timeOf(periodEnd)
	a.ComputedAt = timeOf(computedAt)
	return &a, nil
}
