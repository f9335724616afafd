package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Filter narrows a read. Zero values mean "no restriction"; Limit <= 0 falls
// back to a default cap.
type Filter struct {
	Start       *time.Time
	End         *time.Time
	Zones       []string
	Market      string
	RTO         string
	ServiceType string
	FuelType    string
	OutageType  string
	Interface   string
	Limit       int
	Ascending   bool
}

const defaultReadLimit = 10000

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultReadLimit
	}
	return f.Limit
}

func (f Filter) order() string {
	if f.Ascending {
		return "ASC"
	}
	return "DESC"
}

// queryBuilder accumulates WHERE clauses and their arguments.
type queryBuilder struct {
	clauses []string
	args    []interface{}
}

func (q *queryBuilder) where(clause string, args ...interface{}) {
	q.clauses = append(q.clauses, clause)
	q.args = append(q.args, args...)
}

func (q *queryBuilder) sql() string {
	if len(q.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.clauses, " AND ")
}

func (s *Store) selectRows(ctx context.Context, dest interface{}, query string, args []interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return fmt.Errorf("failed to expand query: %w", err)
	}
	if err := s.db.SelectContext(ctx, dest, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	return nil
}

func timeRange(q *queryBuilder, col string, f Filter) {
	if f.Start != nil {
		q.where(col+" >= ?", Stamp(*f.Start))
	}
	if f.End != nil {
		q.where(col+" <= ?", Stamp(*f.End))
	}
}

// readLBMP serves the three price families; they share a table shape.
func (s *Store) readLBMP(ctx context.Context, table string, f Filter) ([]LBMPPoint, error) {
	var q queryBuilder
	timeRange(&q, "t.ts", f)
	if len(f.Zones) > 0 {
		q.where("z.name IN (?)", f.Zones)
	}

	query := fmt.Sprintf(`
		SELECT t.ts, z.name AS zone_name, t.lbmp, t.mcl, t.mcc
		FROM %s t
		JOIN zones z ON z.id = t.zone_id%s
		ORDER BY t.ts %s, z.name
		LIMIT %d`, table, q.sql(), f.order(), f.limit())

	points := []LBMPPoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// RTLBMP reads real-time locational prices.
func (s *Store) RTLBMP(ctx context.Context, f Filter) ([]LBMPPoint, error) {
	return s.readLBMP(ctx, "rt_lbmp", f)
}

// DALBMP reads day-ahead locational prices.
func (s *Store) DALBMP(ctx context.Context, f Filter) ([]LBMPPoint, error) {
	return s.readLBMP(ctx, "da_lbmp", f)
}

// TWLBMP reads time-weighted hourly prices.
func (s *Store) TWLBMP(ctx context.Context, f Filter) ([]LBMPPoint, error) {
	return s.readLBMP(ctx, "tw_lbmp", f)
}

// Loads reads actual zone load.
func (s *Store) Loads(ctx context.Context, f Filter) ([]LoadPoint, error) {
	var q queryBuilder
	timeRange(&q, "t.ts", f)
	if len(f.Zones) > 0 {
		q.where("z.name IN (?)", f.Zones)
	}

	query := fmt.Sprintf(`
		SELECT t.ts, z.name AS zone_name, t.load_mw
		FROM rt_load t
		JOIN zones z ON z.id = t.zone_id%s
		ORDER BY t.ts %s, z.name
		LIMIT %d`, q.sql(), f.order(), f.limit())

	points := []LoadPoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// LoadForecasts reads forecast zone load.
func (s *Store) LoadForecasts(ctx context.Context, f Filter) ([]LoadForecastPoint, error) {
	var q queryBuilder
	timeRange(&q, "t.ts", f)
	if len(f.Zones) > 0 {
		q.where("z.name IN (?)", f.Zones)
	}

	query := fmt.Sprintf(`
		SELECT t.ts, z.name AS zone_name, t.forecast_mw
		FROM load_forecast t
		JOIN zones z ON z.id = t.zone_id%s
		ORDER BY t.ts %s, z.name
		LIMIT %d`, q.sql(), f.order(), f.limit())

	points := []LoadForecastPoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// InterfaceFlows reads interface flow observations.
func (s *Store) InterfaceFlows(ctx context.Context, f Filter) ([]InterfaceFlowPoint, error) {
	var q queryBuilder
	timeRange(&q, "t.ts", f)
	if f.Interface != "" {
		q.where("i.name = ?", f.Interface)
	}

	query := fmt.Sprintf(`
		SELECT t.ts, i.name AS interface_name, t.flow_mw, t.pos_limit_mw, t.neg_limit_mw
		FROM interface_flow t
		JOIN interfaces i ON i.id = t.interface_id%s
		ORDER BY t.ts %s, i.name
		LIMIT %d`, q.sql(), f.order(), f.limit())

	points := []InterfaceFlowPoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// LatestInterfaceFlows returns the most recent observation per interface.
func (s *Store) LatestInterfaceFlows(ctx context.Context) ([]InterfaceFlowPoint, error) {
	query := `
		SELECT t.ts, i.name AS interface_name, t.flow_mw, t.pos_limit_mw, t.neg_limit_mw
		FROM interface_flow t
		JOIN interfaces i ON i.id = t.interface_id
		JOIN (
			SELECT interface_id, MAX(ts) AS max_ts
			FROM interface_flow
			GROUP BY interface_id
		) latest ON latest.interface_id = t.interface_id AND latest.max_ts = t.ts
		ORDER BY i.name`

	points := []InterfaceFlowPoint{}
	return points, s.selectRows(ctx, &points, query, nil)
}

// AncillaryPrices reads ancillary-service prices.
func (s *Store) AncillaryPrices(ctx context.Context, f Filter) ([]AncillaryPoint, error) {
	var q queryBuilder
	timeRange(&q, "t.ts", f)
	if f.Market != "" {
		q.where("t.market = ?", f.Market)
	}
	if f.ServiceType != "" {
		q.where("t.service_type = ?", f.ServiceType)
	}
	if len(f.Zones) > 0 {
		q.where("z.name IN (?)", f.Zones)
	}

	query := fmt.Sprintf(`
		SELECT t.ts, z.name AS zone_name, t.market, t.service_type, t.price
		FROM ancillary t
		JOIN zones z ON z.id = t.zone_id%s
		ORDER BY t.ts %s, z.name, t.service_type
		LIMIT %d`, q.sql(), f.order(), f.limit())

	points := []AncillaryPoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// Constraints reads limiting-constraint observations.
func (s *Store) Constraints(ctx context.Context, f Filter) ([]ConstraintPoint, error) {
	var q queryBuilder
	timeRange(&q, "ts", f)
	if f.Market != "" {
		q.where("market = ?", f.Market)
	}

	query := fmt.Sprintf(`
		SELECT ts, market, constraint_name, shadow_price, binding, limit_mw, flow_mw
		FROM constraints%s
		ORDER BY ts %s, constraint_name
		LIMIT %d`, q.sql(), f.order(), f.limit())

	points := []ConstraintPoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// ExternalRTOPrices reads cross-market price comparisons.
func (s *Store) ExternalRTOPrices(ctx context.Context, f Filter) ([]ExternalRTOPricePoint, error) {
	var q queryBuilder
	timeRange(&q, "ts", f)
	if f.RTO != "" {
		q.where("rto = ?", f.RTO)
	}

	query := fmt.Sprintf(`
		SELECT ts, rto, rtc_price, cts_price, price_diff
		FROM external_rto_price%s
		ORDER BY ts %s, rto
		LIMIT %d`, q.sql(), f.order(), f.limit())

	points := []ExternalRTOPricePoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// ATCTTC reads transfer-capability forecasts.
func (s *Store) ATCTTC(ctx context.Context, f Filter) ([]ATCTTCPoint, error) {
	var q queryBuilder
	timeRange(&q, "t.ts", f)
	if f.Interface != "" {
		q.where("i.name = ?", f.Interface)
	}

	query := fmt.Sprintf(`
		SELECT t.ts, i.name AS interface_name, t.forecast_type, t.atc_mw, t.ttc_mw, t.trm_mw, t.direction
		FROM atc_ttc t
		JOIN interfaces i ON i.id = t.interface_id%s
		ORDER BY t.ts %s, i.name
		LIMIT %d`, q.sql(), f.order(), f.limit())

	points := []ATCTTCPoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// Outages reads outage records.
func (s *Store) Outages(ctx context.Context, f Filter) ([]OutagePoint, error) {
	var q queryBuilder
	timeRange(&q, "ts", f)
	if f.OutageType != "" {
		q.where("outage_type = ?", f.OutageType)
	}
	if f.Market != "" {
		q.where("market = ?", f.Market)
	}

	query := fmt.Sprintf(`
		SELECT ts, outage_type, market, resource_name, resource_type,
		       mw_capacity, mw_outage, start_t, end_t, status
		FROM outage%s
		ORDER BY ts %s, resource_name
		LIMIT %d`, q.sql(), f.order(), f.limit())

	points := []OutagePoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// Weather reads station forecasts.
func (s *Store) Weather(ctx context.Context, f Filter) ([]WeatherPoint, error) {
	var q queryBuilder
	timeRange(&q, "ts", f)

	query := fmt.Sprintf(`
		SELECT ts, forecast_ts, location, temp_f, humidity, wind_mph, wind_dir, cloud_pct
		FROM weather%s
		ORDER BY ts %s, location
		LIMIT %d`, q.sql(), f.order(), f.limit())

	points := []WeatherPoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// FuelMix reads generation by fuel category.
func (s *Store) FuelMix(ctx context.Context, f Filter) ([]FuelMixPoint, error) {
	var q queryBuilder
	timeRange(&q, "ts", f)
	if f.FuelType != "" {
		q.where("fuel_type = ?", f.FuelType)
	}

	query := fmt.Sprintf(`
		SELECT ts, fuel_type, generation_mw, pct
		FROM fuel_mix%s
		ORDER BY ts %s, fuel_type
		LIMIT %d`, q.sql(), f.order(), f.limit())

	points := []FuelMixPoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// Advisories reads operator notices.
func (s *Store) Advisories(ctx context.Context, f Filter) ([]AdvisoryPoint, error) {
	var q queryBuilder
	timeRange(&q, "ts", f)

	query := fmt.Sprintf(`
		SELECT ts, advisory_type, title, message, severity
		FROM advisory%s
		ORDER BY ts %s
		LIMIT %d`, q.sql(), f.order(), f.limit())

	points := []AdvisoryPoint{}
	return points, s.selectRows(ctx, &points, query, q.args)
}

// ZoneNames lists every interned zone.
func (s *Store) ZoneNames(ctx context.Context) ([]string, error) {
	names := []string{}
	return names, s.selectRows(ctx, &names, `SELECT name FROM zones ORDER BY name`, nil)
}

// InterfaceNames lists every interned interface.
func (s *Store) InterfaceNames(ctx context.Context) ([]string, error) {
	names := []string{}
	return names, s.selectRows(ctx, &names, `SELECT name FROM interfaces ORDER BY name`, nil)
}
