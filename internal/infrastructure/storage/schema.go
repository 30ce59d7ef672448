package storage

// schema is the DDL applied on open. It is written in the dialect subset
// shared by SQLite and Postgres: TEXT ids, unix-second BIGINT timestamps,
// JSON-in-TEXT for small lists, partial unique indexes for the
// one-unresolved-entry-per-retailer invariant.
const schema = `
CREATE TABLE IF NOT EXISTS retailers (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	slug         TEXT NOT NULL,
	region       TEXT NOT NULL DEFAULT '',
	menu_sources TEXT NOT NULL DEFAULT '[]',
	created_at   BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_retailers_slug ON retailers(slug);
CREATE INDEX IF NOT EXISTS idx_retailers_region ON retailers(region);

CREATE TABLE IF NOT EXISTS brands (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	aliases         TEXT NOT NULL DEFAULT '[]',
	is_verified     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      BIGINT NOT NULL,
	updated_at      BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_brands_normalized_name ON brands(normalized_name);

CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	brand_id        TEXT NOT NULL,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	category        TEXT NOT NULL DEFAULT '',
	strain          TEXT NOT NULL DEFAULT '',
	weight          TEXT NOT NULL DEFAULT '',
	thc_low         DOUBLE PRECISION,
	thc_high        DOUBLE PRECISION,
	cbd_low         DOUBLE PRECISION,
	cbd_high        DOUBLE PRECISION,
	first_seen_at   BIGINT NOT NULL,
	last_seen_at    BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_products_brand_name ON products(brand_id, normalized_name);
CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);

CREATE TABLE IF NOT EXISTS menu_snapshots (
	id              TEXT PRIMARY KEY,
	retailer_id     TEXT NOT NULL,
	product_id      TEXT NOT NULL,
	brand_id        TEXT NOT NULL,
	batch_id        TEXT NOT NULL,
	price           DOUBLE PRECISION NOT NULL,
	original_price  DOUBLE PRECISION,
	on_sale         BOOLEAN NOT NULL DEFAULT FALSE,
	in_stock        BOOLEAN NOT NULL DEFAULT TRUE,
	raw_name        TEXT NOT NULL,
	raw_brand       TEXT NOT NULL,
	raw_category    TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	source_platform TEXT NOT NULL DEFAULT '',
	scraped_at      BIGINT NOT NULL,
	created_at      BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_retailer_scraped ON menu_snapshots(retailer_id, scraped_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_product_scraped ON menu_snapshots(product_id, scraped_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_batch ON menu_snapshots(batch_id);

CREATE TABLE IF NOT EXISTS current_inventory (
	id                 TEXT PRIMARY KEY,
	retailer_id        TEXT NOT NULL,
	product_id         TEXT NOT NULL,
	brand_id           TEXT NOT NULL,
	current_price      DOUBLE PRECISION NOT NULL,
	previous_price     DOUBLE PRECISION,
	price_changed_at   BIGINT,
	on_sale            BOOLEAN NOT NULL DEFAULT FALSE,
	in_stock           BOOLEAN NOT NULL DEFAULT TRUE,
	last_in_stock_at   BIGINT,
	out_of_stock_since BIGINT,
	first_seen_at      BIGINT NOT NULL,
	days_on_menu       INTEGER NOT NULL DEFAULT 0,
	last_snapshot_id   TEXT NOT NULL,
	last_updated_at    BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_inventory_pair ON current_inventory(retailer_id, product_id);
CREATE INDEX IF NOT EXISTS idx_inventory_brand ON current_inventory(brand_id);
CREATE INDEX IF NOT EXISTS idx_inventory_stock_brand ON current_inventory(in_stock, brand_id);
CREATE INDEX IF NOT EXISTS idx_inventory_price_changed ON current_inventory(price_changed_at);

CREATE TABLE IF NOT EXISTS dead_letters (
	id               TEXT PRIMARY KEY,
	retailer_id      TEXT NOT NULL,
	batch_id         TEXT NOT NULL DEFAULT '',
	error_type       TEXT NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	status_code      INTEGER,
	response_preview TEXT NOT NULL DEFAULT '',
	source_platform  TEXT NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	first_attempt_at BIGINT NOT NULL,
	last_attempt_at  BIGINT NOT NULL,
	resolved_at      BIGINT,
	resolution       TEXT NOT NULL DEFAULT '',
	resolved_by      TEXT NOT NULL DEFAULT '',
	notes            TEXT NOT NULL DEFAULT '[]',
	created_at       BIGINT NOT NULL,
	updated_at       BIGINT NOT NULL,
	version          BIGINT NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_dead_letters_open ON dead_letters(retailer_id) WHERE resolved_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_dead_letters_retailer ON dead_letters(retailer_id);
CREATE INDEX IF NOT EXISTS idx_dead_letters_type ON dead_letters(error_type);

CREATE TABLE IF NOT EXISTS brand_analytics (
	id                 TEXT PRIMARY KEY,
	brand_id           TEXT NOT NULL,
	region             TEXT NOT NULL,
	period             TEXT NOT NULL,
	period_start       BIGINT NOT NULL,
	period_end         BIGINT NOT NULL,
	retailer_count     INTEGER NOT NULL DEFAULT 0,
	sku_count          INTEGER NOT NULL DEFAULT 0,
	avg_price          DOUBLE PRECISION NOT NULL DEFAULT 0,
	min_price          DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_price          DOUBLE PRECISION NOT NULL DEFAULT 0,
	out_of_stock_count INTEGER NOT NULL DEFAULT 0,
	avg_days_on_menu   DOUBLE PRECISION NOT NULL DEFAULT 0,
	computed_at        BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_analytics_key ON brand_analytics(brand_id, region, period, period_start);
`
