package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gridfeed/gridfeed/internal/normalize"
)

// Counts is the write tally for one job.
type Counts struct {
	Inserted int
	Updated  int
}

func (c *Counts) add(inserted, updated bool) {
	if inserted {
		c.Inserted++
	}
	if updated {
		c.Updated++
	}
}

// WriteResult upserts every row of a normalization result inside the job
// transaction. Rows whose key already exists are rewritten only when a value
// actually changed, so re-scraping an unchanged file reports zero inserts and
// zero updates.
func (s *Store) WriteResult(ctx context.Context, tx *sqlx.Tx, res *normalize.Result, refs *RefResolver) (Counts, error) {
	var counts Counts

	writeLBMP := func(table string, rows []normalize.LBMPRow) error {
		for _, r := range rows {
			zoneID, err := refs.ZoneID(ctx, r.Zone)
			if err != nil {
				return err
			}
			ins, upd, err := upsertOne(ctx, tx, table,
				[]string{"ts", "zone_id"}, []interface{}{Stamp(r.TS), zoneID},
				[]string{"lbmp", "mcc", "mcl"}, []interface{}{r.LBMP, r.MCC, r.MCL})
			if err != nil {
				return err
			}
			counts.add(ins, upd)
		}
		return nil
	}

	if err := writeLBMP("rt_lbmp", res.RTLBMP); err != nil {
		return counts, err
	}
	if err := writeLBMP("da_lbmp", res.DALBMP); err != nil {
		return counts, err
	}
	if err := writeLBMP("tw_lbmp", res.TWLBMP); err != nil {
		return counts, err
	}

	for _, r := range res.Loads {
		zoneID, err := refs.ZoneID(ctx, r.Zone)
		if err != nil {
			return counts, err
		}
		ins, upd, err := upsertOne(ctx, tx, "rt_load",
			[]string{"ts", "zone_id"}, []interface{}{Stamp(r.TS), zoneID},
			[]string{"load_mw"}, []interface{}{r.LoadMW})
		if err != nil {
			return counts, err
		}
		counts.add(ins, upd)
	}

	for _, r := range res.LoadForecasts {
		zoneID, err := refs.ZoneID(ctx, r.Zone)
		if err != nil {
			return counts, err
		}
		ins, upd, err := upsertOne(ctx, tx, "load_forecast",
			[]string{"ts", "zone_id"}, []interface{}{Stamp(r.TS), zoneID},
			[]string{"forecast_mw"}, []interface{}{r.ForecastMW})
		if err != nil {
			return counts, err
		}
		counts.add(ins, upd)
	}

	for _, r := range res.InterfaceFlows {
		ifaceID, err := refs.InterfaceID(ctx, r.Interface)
		if err != nil {
			return counts, err
		}
		ins, upd, err := upsertOne(ctx, tx, "interface_flow",
			[]string{"ts", "interface_id"}, []interface{}{Stamp(r.TS), ifaceID},
			[]string{"flow_mw", "pos_limit_mw", "neg_limit_mw"},
			[]interface{}{r.FlowMW, r.PosLimitMW, r.NegLimitMW})
		if err != nil {
			return counts, err
		}
		counts.add(ins, upd)
	}

	for _, r := range res.Ancillary {
		zoneID, err := refs.ZoneID(ctx, r.Zone)
		if err != nil {
			return counts, err
		}
		ins, upd, err := upsertOne(ctx, tx, "ancillary",
			[]string{"ts", "zone_id", "market", "service_type"},
			[]interface{}{Stamp(r.TS), zoneID, r.Market, r.ServiceType},
			[]string{"price"}, []interface{}{r.Price})
		if err != nil {
			return counts, err
		}
		counts.add(ins, upd)
	}

	for _, r := range res.Constraints {
		ins, upd, err := upsertOne(ctx, tx, "constraints",
			[]string{"ts", "constraint_name", "market"},
			[]interface{}{Stamp(r.TS), r.ConstraintName, r.Market},
			[]string{"shadow_price", "binding", "limit_mw", "flow_mw"},
			[]interface{}{r.ShadowPrice, r.Binding, r.LimitMW, r.FlowMW})
		if err != nil {
			return counts, err
		}
		counts.add(ins, upd)
	}

	for _, r := range res.ExternalPrices {
		ins, upd, err := upsertOne(ctx, tx, "external_rto_price",
			[]string{"ts", "rto"}, []interface{}{Stamp(r.TS), r.RTO},
			[]string{"rtc_price", "cts_price", "price_diff"},
			[]interface{}{r.RTCPrice, r.CTSPrice, r.PriceDiff})
		if err != nil {
			return counts, err
		}
		counts.add(ins, upd)
	}

	for _, r := range res.ATCTTC {
		ifaceID, err := refs.InterfaceID(ctx, r.Interface)
		if err != nil {
			return counts, err
		}
		ins, upd, err := upsertOne(ctx, tx, "atc_ttc",
			[]string{"ts", "interface_id", "forecast_type", "direction"},
			[]interface{}{Stamp(r.TS), ifaceID, r.ForecastType, r.Direction},
			[]string{"atc_mw", "ttc_mw", "trm_mw"},
			[]interface{}{r.ATCMW, r.TTCMW, r.TRMMW})
		if err != nil {
			return counts, err
		}
		counts.add(ins, upd)
	}

	for _, r := range res.Outages {
		ins, upd, err := upsertOne(ctx, tx, "outage",
			[]string{"ts", "resource_name", "outage_type", "market"},
			[]interface{}{Stamp(r.TS), r.ResourceName, r.OutageType, r.Market},
			[]string{"resource_type", "mw_capacity", "mw_outage", "start_t", "end_t", "status"},
			[]interface{}{r.ResourceType, r.MWCapacity, r.MWOutage, stampPtr(r.Start), stampPtr(r.End), r.Status})
		if err != nil {
			return counts, err
		}
		counts.add(ins, upd)
	}

	for _, r := range res.Weather {
		ins, upd, err := upsertOne(ctx, tx, "weather",
			[]string{"ts", "forecast_ts", "location"},
			[]interface{}{Stamp(r.TS), Stamp(r.ForecastTS), r.Location},
			[]string{"temp_f", "humidity", "wind_mph", "wind_dir", "cloud_pct"},
			[]interface{}{r.TempF, r.Humidity, r.WindMPH, r.WindDir, r.CloudPct})
		if err != nil {
			return counts, err
		}
		counts.add(ins, upd)
	}

	for _, r := range res.FuelMix {
		ins, upd, err := upsertOne(ctx, tx, "fuel_mix",
			[]string{"ts", "fuel_type"}, []interface{}{Stamp(r.TS), r.FuelType},
			[]string{"generation_mw", "pct"}, []interface{}{r.GenerationMW, r.Pct})
		if err != nil {
			return counts, err
		}
		counts.add(ins, upd)
	}

	for _, r := range res.Advisories {
		ins, upd, err := upsertOne(ctx, tx, "advisory",
			[]string{"ts", "advisory_type", "title"},
			[]interface{}{Stamp(r.TS), r.AdvisoryType, r.Title},
			[]string{"message", "severity"}, []interface{}{r.Message, r.Severity})
		if err != nil {
			return counts, err
		}
		counts.add(ins, upd)
	}

	return counts, nil
}

func stampPtr(t *time.Time) *Stamp {
	if t == nil {
		return nil
	}
	s := Stamp(*t)
	return &s
}

// upsertOne writes a single keyed row: insert when the key is absent, update
// when present and any value column changed, nothing when identical. The
// select-then-write dance keeps inserted/updated counts exact on both
// backends.
func upsertOne(ctx context.Context, tx *sqlx.Tx, table string,
	keyCols []string, keyVals []interface{},
	valCols []string, valVals []interface{}) (inserted, updated bool, err error) {

	where := make([]string, len(keyCols))
	for i, c := range keyCols {
		where[i] = c + " = ?"
	}
	whereSQL := strings.Join(where, " AND ")

	query := tx.Rebind(fmt.Sprintf(`SELECT %s FROM %s WHERE %s`,
		strings.Join(valCols, ", "), table, whereSQL))

	existing := make([]interface{}, len(valCols))
	ptrs := make([]interface{}, len(valCols))
	for i := range existing {
		ptrs[i] = &existing[i]
	}

	err = tx.QueryRowxContext(ctx, query, keyVals...).Scan(ptrs...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cols := append(append([]string{}, keyCols...), valCols...)
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		insert := tx.Rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			table, strings.Join(cols, ", "), marks))
		args := append(append([]interface{}{}, keyVals...), valVals...)
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			if isUniqueViolation(err) {
				return false, false, &WriteConflict{Table: table, Err: err}
			}
			return false, false, fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		return true, false, nil

	case err != nil:
		return false, false, fmt.Errorf("failed to read %s: %w", table, err)
	}

	changed := false
	for i := range valCols {
		if normValue(existing[i]) != normValue(valVals[i]) {
			changed = true
			break
		}
	}
	if !changed {
		return false, false, nil
	}

	sets := make([]string, len(valCols))
	for i, c := range valCols {
		sets[i] = c + " = ?"
	}
	update := tx.Rebind(fmt.Sprintf(`UPDATE %s SET %s WHERE %s`,
		table, strings.Join(sets, ", "), whereSQL))
	args := append(append([]interface{}{}, valVals...), keyVals...)
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return false, false, fmt.Errorf("failed to update %s: %w", table, err)
	}
	return false, true, nil
}

// normValue collapses driver and Go representations of the same value so
// change detection compares semantics, not types. Numbers and booleans become
// float64, byte slices become strings and timestamps become a canonical
// second-precision string.
func normValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case *float64:
		if t == nil {
			return nil
		}
		return *t
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case bool:
		if t {
			return float64(1)
		}
		return float64(0)
	case []byte:
		return normString(string(t))
	case string:
		return normString(t)
	case time.Time:
		return t.UTC().Format(stampLayout)
	case Stamp:
		return time.Time(t).UTC().Format(stampLayout)
	case *Stamp:
		if t == nil {
			return nil
		}
		return time.Time(*t).UTC().Format(stampLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(stampLayout)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// normString canonicalizes strings that are really timestamps in SQLite's
// text affinity. Everything else compares raw: boolean columns never reach
// here because both drivers scan them as numeric or bool, and coercing text
// like "1" would alias legitimately different values.
func normString(s string) interface{} {
	var st Stamp
	if err := st.scanString(s); err == nil {
		return time.Time(st).UTC().Format(stampLayout)
	}
	return s
}
