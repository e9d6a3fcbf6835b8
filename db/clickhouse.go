package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"metals_scanner/config"
	"metals_scanner/middleware"
	"metals_scanner/models"
	"metals_scanner/monitoring"
)

const createQuotaTrackersSQL = `
CREATE TABLE IF NOT EXISTS quota_trackers (
    provider String,
    period_kind String,
    call_limit Int64,
    calls_used Int64,
    reset_at DateTime,
    last_call_at DateTime,
    updated_at DateTime64(3)
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY provider
`

const createSpotPricesSQL = `
CREATE TABLE IF NOT EXISTS spot_prices (
    metal_type String,
    price_per_oz Float64,
    fetched_at DateTime
) ENGINE = MergeTree()
ORDER BY (metal_type, fetched_at)
`

const createCallAuditSQL = `
CREATE TABLE IF NOT EXISTS api_call_log (
    api_name String,
    endpoint String,
    status_code Int32,
    success Bool,
    error_message String,
    response_time_ms Int64,
    called_at DateTime
) ENGINE = MergeTree()
ORDER BY (api_name, called_at)
`

const createListingsSQL = `
CREATE TABLE IF NOT EXISTS listings (
    source String,
    external_id String,
    title String,
    price Float64,
    metal_type String,
    weight_oz Float64,
    weight_extraction_failed Bool,
    url String,
    spread_pct Float64,
    has_spread Bool,
    fetched_at DateTime64(3)
) ENGINE = ReplacingMergeTree(fetched_at)
ORDER BY external_id
`

// ClickHouseDB is the record store. Logical updates (quota trackers,
// listing upserts) insert a new version row into a ReplacingMergeTree;
// reads use FINAL to see the latest version. Price and audit tables are
// plain append-only.
type ClickHouseDB struct {
	conn driver.Conn
}

func NewClickHouseDB(cfg *config.Config) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.ClickHouse.Host, cfg.ClickHouse.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
		},
		Protocol: clickhouse.Native,
		Debug:    cfg.ClickHouse.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.ClickHouse.QueryTimeout.Seconds()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	db := &ClickHouseDB{conn: conn}
	if err := db.createTables(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *ClickHouseDB) createTables() error {
	ctx := context.Background()
	for _, ddl := range []string{
		createQuotaTrackersSQL,
		createSpotPricesSQL,
		createCallAuditSQL,
		createListingsSQL,
	} {
		if err := db.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Ping is used by the health endpoint.
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// --- quota trackers ---

func (db *ClickHouseDB) GetTracker(ctx context.Context, provider string) (*models.QuotaTracker, error) {
	defer observe("quota_select", time.Now())
	var tracker models.QuotaTracker
	row := db.conn.QueryRow(ctx,
		`SELECT provider, period_kind, call_limit, calls_used, reset_at, last_call_at, updated_at
		 FROM quota_trackers FINAL WHERE provider = ?`, provider)
	if err := row.ScanStruct(&tracker); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &tracker, nil
}

func (db *ClickHouseDB) SaveTracker(ctx context.Context, tracker *models.QuotaTracker) error {
	defer observe("quota_insert", time.Now())
	return middleware.WithCircuitBreaker(func() error {
		batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO quota_trackers")
		if err != nil {
			return err
		}
		if err := batch.AppendStruct(tracker); err != nil {
			return err
		}
		return batch.Send()
	})
}

func (db *ClickHouseDB) ListTrackers(ctx context.Context) ([]models.QuotaTracker, error) {
	defer observe("quota_select", time.Now())
	rows, err := db.conn.Query(ctx,
		`SELECT provider, period_kind, call_limit, calls_used, reset_at, last_call_at, updated_at
		 FROM quota_trackers FINAL ORDER BY provider`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trackers []models.QuotaTracker
	for rows.Next() {
		var t models.QuotaTracker
		if err := rows.ScanStruct(&t); err != nil {
			return nil, err
		}
		trackers = append(trackers, t)
	}
	return trackers, rows.Err()
}

// EnsureTracker seeds a provider's quota row when it does not exist yet.
// The initial reset_at is the start of the next period.
func (db *ClickHouseDB) EnsureTracker(ctx context.Context, provider, periodKind string, limit int64) error {
	existing, err := db.GetTracker(ctx, provider)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	now := time.Now().UTC()
	var resetAt time.Time
	if periodKind == models.PeriodMonthly {
		resetAt = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	} else {
		resetAt = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}

	return db.SaveTracker(ctx, &models.QuotaTracker{
		Provider:   provider,
		PeriodKind: periodKind,
		Limit:      limit,
		ResetAt:    resetAt,
		UpdatedAt:  now,
	})
}

// --- spot prices ---

func (db *ClickHouseDB) LatestPrice(ctx context.Context, metalType string) (*models.SpotPrice, error) {
	defer observe("price_select", time.Now())
	var price models.SpotPrice
	row := db.conn.QueryRow(ctx,
		`SELECT metal_type, price_per_oz, fetched_at
		 FROM spot_prices WHERE metal_type = ?
		 ORDER BY fetched_at DESC LIMIT 1`, metalType)
	if err := row.ScanStruct(&price); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &price, nil
}

func (db *ClickHouseDB) InsertPrice(ctx context.Context, price models.SpotPrice) error {
	defer observe("price_insert", time.Now())
	return middleware.WithCircuitBreaker(func() error {
		batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO spot_prices")
		if err != nil {
			return err
		}
		if err := batch.AppendStruct(&price); err != nil {
			return err
		}
		return batch.Send()
	})
}

func (db *ClickHouseDB) PurgePricesBefore(ctx context.Context, cutoff time.Time) error {
	defer observe("price_purge", time.Now())
	return db.conn.Exec(ctx,
		`ALTER TABLE spot_prices DELETE WHERE fetched_at < ?`, cutoff)
}

// --- call audits ---

func (db *ClickHouseDB) InsertAudit(ctx context.Context, audit models.CallAudit) error {
	defer observe("audit_insert", time.Now())
	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO api_call_log")
	if err != nil {
		return err
	}
	if err := batch.AppendStruct(&audit); err != nil {
		return err
	}
	return batch.Send()
}

// --- listings ---

func (db *ClickHouseDB) GetListing(ctx context.Context, externalID string) (*models.Listing, error) {
	defer observe("listing_select", time.Now())
	var listing models.Listing
	row := db.conn.QueryRow(ctx,
		`SELECT source, external_id, title, price, metal_type, weight_oz,
		        weight_extraction_failed, url, spread_pct, has_spread, fetched_at
		 FROM listings FINAL WHERE external_id = ?`, externalID)
	if err := row.ScanStruct(&listing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &listing, nil
}

func (db *ClickHouseDB) UpsertListing(ctx context.Context, listing models.Listing) error {
	defer observe("listing_insert", time.Now())
	return middleware.WithCircuitBreaker(func() error {
		batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO listings")
		if err != nil {
			return err
		}
		if err := batch.AppendStruct(&listing); err != nil {
			return err
		}
		return batch.Send()
	})
}

func observe(queryType string, start time.Time) {
	monitoring.QueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
}
