package normalize

import (
	"strings"
	"time"

	"github.com/gridfeed/gridfeed/internal/registry"
)

func init() {
	register("rt_lbmp", func(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
		rows, err := lbmpRows(t, "rt_lbmp", &res.Warnings)
		if err != nil {
			return err
		}
		res.RTLBMP = rows
		return nil
	})
	register("da_lbmp", func(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
		rows, err := lbmpRows(t, "da_lbmp", &res.Warnings)
		if err != nil {
			return err
		}
		res.DALBMP = rows
		return nil
	})
	register("tw_lbmp", func(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
		rows, err := lbmpRows(t, "tw_lbmp", &res.Warnings)
		if err != nil {
			return err
		}
		res.TWLBMP = rows
		return nil
	})
	register("external_rto", externalRTO)
}

// lbmpRows handles the shared zonal price shape of the RT, DA and
// time-weighted LBMP files.
func lbmpRows(t *table, tag string, warnings *int) ([]LBMPRow, error) {
	tsCol, err := t.require(tag, "Time Stamp")
	if err != nil {
		return nil, err
	}
	zoneCol, err := t.require(tag, "Name")
	if err != nil {
		return nil, err
	}
	lbmpCol, err := t.require(tag, "LBMP ($/MWHr)", "LBMP")
	if err != nil {
		return nil, err
	}
	mclCol, hasMCL := t.col("Marginal Cost Losses ($/MWHr)", "Marginal Cost Losses")
	mccCol, hasMCC := t.col("Marginal Cost Congestion ($/MWHr)", "Marginal Cost Congestion")

	var rows []LBMPRow
	for _, rec := range t.records {
		ts, err := ParseTimestamp(cell(rec, tsCol))
		if err != nil {
			*warnings++
			continue
		}
		zone := canonicalName(cell(rec, zoneCol))
		if zone == "" {
			*warnings++
			continue
		}

		row := LBMPRow{TS: ts, Zone: zone, LBMP: ParseNumber(cell(rec, lbmpCol))}
		if hasMCL {
			row.MCL = ParseNumber(cell(rec, mclCol))
		}
		if hasMCC {
			row.MCC = ParseNumber(cell(rec, mccCol))
		}
		rows = append(rows, row)
	}

	return dedupeKeyed(rows, func(r LBMPRow) string {
		return r.TS.Format(time.RFC3339) + "|" + r.Zone
	}), nil
}

// externalRTO normalizes the cross-market price file. The RTO is derived from
// the proxy generator bus name; unmatched rows are dropped. The row timestamp
// is the interval end time.
func externalRTO(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
	const tag = "external_rto"
	tsCol, err := t.require(tag, "Interval End Time", "RTD End Time Stamp")
	if err != nil {
		return err
	}
	genCol, err := t.require(tag, "Generator Name")
	if err != nil {
		return err
	}
	rtcCol, hasRTC := t.col("RTC Price ($/MWHr)", "RTC Price")
	ctsCol, hasCTS := t.col("CTS Price ($/MWHr)", "CTS Price")
	diffCol, hasDiff := t.col("Price Difference ($/MWHr)", "Price Difference")

	var rows []ExternalRTOPriceRow
	for _, rec := range t.records {
		ts, err := ParseTimestamp(cell(rec, tsCol))
		if err != nil {
			res.Warnings++
			continue
		}
		rto := rtoFromGenerator(cell(rec, genCol))
		if rto == "" {
			continue // not one of the tracked neighbors
		}

		row := ExternalRTOPriceRow{TS: ts, RTO: rto}
		if hasRTC {
			row.RTCPrice = ParseNumber(cell(rec, rtcCol))
		}
		if hasCTS {
			row.CTSPrice = ParseNumber(cell(rec, ctsCol))
		}
		if hasDiff {
			row.PriceDiff = ParseNumber(cell(rec, diffCol))
		}
		if row.PriceDiff == nil && row.RTCPrice != nil && row.CTSPrice != nil {
			diff := *row.RTCPrice - *row.CTSPrice
			row.PriceDiff = &diff
		}
		rows = append(rows, row)
	}

	res.ExternalPrices = dedupeKeyed(rows, func(r ExternalRTOPriceRow) string {
		return r.TS.Format(time.RFC3339) + "|" + r.RTO
	})
	return nil
}

// rtoFromGenerator maps a proxy generator bus name to its RTO; empty means
// the row belongs to no tracked neighbor.
func rtoFromGenerator(name string) string {
	n := canonicalName(name)
	switch {
	case strings.HasPrefix(n, "N.E._") || strings.HasPrefix(n, "NE_"):
		return "ISO-NE"
	case strings.HasPrefix(n, "PJM_"):
		return "PJM"
	case strings.HasPrefix(n, "IESO_"):
		return "IESO"
	default:
		return ""
	}
}
