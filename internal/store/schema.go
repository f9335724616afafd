package store

import (
	"context"
	"fmt"
	"strings"
)

// schemaDDL holds every table and index. %s is the dialect's
// auto-incrementing primary key column type. Both engines accept the rest of
// the DDL verbatim.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		cadence TEXT NOT NULL,
		direct_url TEXT NOT NULL DEFAULT '',
		archive_url TEXT NOT NULL DEFAULT '',
		snapshot_url TEXT NOT NULL DEFAULT '',
		transformer_tag TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS zones (
		id %s,
		name TEXT NOT NULL UNIQUE
	)`,

	`CREATE TABLE IF NOT EXISTS interfaces (
		id %s,
		name TEXT NOT NULL UNIQUE
	)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id %s,
		source_code TEXT NOT NULL,
		target_date TIMESTAMP NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		status TEXT NOT NULL,
		rows_inserted INTEGER NOT NULL DEFAULT 0,
		rows_updated INTEGER NOT NULL DEFAULT 0,
		parse_warnings INTEGER NOT NULL DEFAULT 0,
		error_text TEXT,
		url_used TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_source_date ON jobs (source_code, target_date)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_started ON jobs (started_at)`,

	`CREATE TABLE IF NOT EXISTS job_logs (
		id %s,
		job_id INTEGER NOT NULL REFERENCES jobs (id),
		level TEXT NOT NULL,
		ts TIMESTAMP NOT NULL,
		message TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs (job_id)`,

	`CREATE TABLE IF NOT EXISTS rt_lbmp (
		ts TIMESTAMP NOT NULL,
		zone_id INTEGER NOT NULL REFERENCES zones (id),
		lbmp DOUBLE PRECISION,
		mcc DOUBLE PRECISION,
		mcl DOUBLE PRECISION,
		UNIQUE (ts, zone_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rt_lbmp_ts ON rt_lbmp (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_rt_lbmp_zone ON rt_lbmp (zone_id)`,

	`CREATE TABLE IF NOT EXISTS da_lbmp (
		ts TIMESTAMP NOT NULL,
		zone_id INTEGER NOT NULL REFERENCES zones (id),
		lbmp DOUBLE PRECISION,
		mcc DOUBLE PRECISION,
		mcl DOUBLE PRECISION,
		UNIQUE (ts, zone_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_da_lbmp_ts ON da_lbmp (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_da_lbmp_zone ON da_lbmp (zone_id)`,

	`CREATE TABLE IF NOT EXISTS tw_lbmp (
		ts TIMESTAMP NOT NULL,
		zone_id INTEGER NOT NULL REFERENCES zones (id),
		lbmp DOUBLE PRECISION,
		mcc DOUBLE PRECISION,
		mcl DOUBLE PRECISION,
		UNIQUE (ts, zone_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tw_lbmp_ts ON tw_lbmp (ts)`,

	`CREATE TABLE IF NOT EXISTS rt_load (
		ts TIMESTAMP NOT NULL,
		zone_id INTEGER NOT NULL REFERENCES zones (id),
		load_mw DOUBLE PRECISION,
		UNIQUE (ts, zone_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rt_load_ts ON rt_load (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_rt_load_zone ON rt_load (zone_id)`,

	`CREATE TABLE IF NOT EXISTS load_forecast (
		ts TIMESTAMP NOT NULL,
		zone_id INTEGER NOT NULL REFERENCES zones (id),
		forecast_mw DOUBLE PRECISION,
		UNIQUE (ts, zone_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_load_forecast_ts ON load_forecast (ts)`,

	`CREATE TABLE IF NOT EXISTS interface_flow (
		ts TIMESTAMP NOT NULL,
		interface_id INTEGER NOT NULL REFERENCES interfaces (id),
		flow_mw DOUBLE PRECISION,
		pos_limit_mw DOUBLE PRECISION,
		neg_limit_mw DOUBLE PRECISION,
		UNIQUE (ts, interface_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interface_flow_ts ON interface_flow (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_interface_flow_iface ON interface_flow (interface_id)`,

	`CREATE TABLE IF NOT EXISTS ancillary (
		ts TIMESTAMP NOT NULL,
		zone_id INTEGER NOT NULL REFERENCES zones (id),
		market TEXT NOT NULL,
		service_type TEXT NOT NULL,
		price DOUBLE PRECISION,
		UNIQUE (ts, zone_id, market, service_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ancillary_ts ON ancillary (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_ancillary_market_ts ON ancillary (market, ts)`,

	`CREATE TABLE IF NOT EXISTS constraints (
		ts TIMESTAMP NOT NULL,
		market TEXT NOT NULL,
		constraint_name TEXT NOT NULL,
		shadow_price DOUBLE PRECISION,
		binding BOOLEAN NOT NULL DEFAULT FALSE,
		limit_mw DOUBLE PRECISION,
		flow_mw DOUBLE PRECISION,
		UNIQUE (ts, constraint_name, market)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_constraints_ts ON constraints (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_constraints_market_ts ON constraints (market, ts)`,

	`CREATE TABLE IF NOT EXISTS external_rto_price (
		ts TIMESTAMP NOT NULL,
		rto TEXT NOT NULL,
		rtc_price DOUBLE PRECISION,
		cts_price DOUBLE PRECISION,
		price_diff DOUBLE PRECISION,
		UNIQUE (ts, rto)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_external_rto_price_ts ON external_rto_price (ts)`,

	`CREATE TABLE IF NOT EXISTS atc_ttc (
		ts TIMESTAMP NOT NULL,
		interface_id INTEGER NOT NULL REFERENCES interfaces (id),
		forecast_type TEXT NOT NULL DEFAULT '',
		atc_mw DOUBLE PRECISION,
		ttc_mw DOUBLE PRECISION,
		trm_mw DOUBLE PRECISION,
		direction TEXT NOT NULL DEFAULT '',
		UNIQUE (ts, interface_id, forecast_type, direction)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_atc_ttc_ts ON atc_ttc (ts)`,

	`CREATE TABLE IF NOT EXISTS outage (
		ts TIMESTAMP NOT NULL,
		outage_type TEXT NOT NULL DEFAULT '',
		market TEXT NOT NULL DEFAULT '',
		resource_name TEXT NOT NULL,
		resource_type TEXT NOT NULL DEFAULT '',
		mw_capacity DOUBLE PRECISION,
		mw_outage DOUBLE PRECISION,
		start_t TIMESTAMP,
		end_t TIMESTAMP,
		status TEXT NOT NULL DEFAULT '',
		UNIQUE (ts, resource_name, outage_type, market)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outage_ts ON outage (ts)`,

	`CREATE TABLE IF NOT EXISTS weather (
		ts TIMESTAMP NOT NULL,
		forecast_ts TIMESTAMP NOT NULL,
		location TEXT NOT NULL,
		temp_f DOUBLE PRECISION,
		humidity DOUBLE PRECISION,
		wind_mph DOUBLE PRECISION,
		wind_dir TEXT NOT NULL DEFAULT '',
		cloud_pct DOUBLE PRECISION,
		UNIQUE (ts, forecast_ts, location)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_weather_ts ON weather (ts)`,

	`CREATE TABLE IF NOT EXISTS fuel_mix (
		ts TIMESTAMP NOT NULL,
		fuel_type TEXT NOT NULL,
		generation_mw DOUBLE PRECISION,
		pct DOUBLE PRECISION,
		UNIQUE (ts, fuel_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fuel_mix_ts ON fuel_mix (ts)`,

	`CREATE TABLE IF NOT EXISTS advisory (
		ts TIMESTAMP NOT NULL,
		advisory_type TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT '',
		UNIQUE (ts, advisory_type, title)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_advisory_ts ON advisory (ts)`,
}

// Migrate creates all tables and indexes idempotently.
func (s *Store) Migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	for _, stmt := range schemaDDL {
		if strings.Contains(stmt, "%s") {
			stmt = fmt.Sprintf(stmt, serial)
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
