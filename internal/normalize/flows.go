package normalize

import (
	"time"

	"github.com/gridfeed/gridfeed/internal/registry"
)

func init() {
	register("interface_flows", interfaceFlows)
	register("atc_ttc", atcTTC)
}

// interfaceFlows normalizes the interface limits-and-flows file. The current
// snapshot variant has no interval column; rows are then stamped with the
// scrape-start time.
func interfaceFlows(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
	const tag = "interface_flows"
	nameCol, err := t.require(tag, "Interface Name")
	if err != nil {
		return err
	}
	flowCol, err := t.require(tag, "Flow (MWH)", "Flow (MW)")
	if err != nil {
		return err
	}
	posCol, hasPos := t.col("Positive Limit (MWH)", "Positive Limit (MW)")
	negCol, hasNeg := t.col("Negative Limit (MWH)", "Negative Limit (MW)")
	tsCol, hasTS := t.col("Time Stamp", "Timestamp")

	var rows []InterfaceFlowRow
	for _, rec := range t.records {
		ts := stampedAt
		if hasTS {
			parsed, err := ParseTimestamp(cell(rec, tsCol))
			if err != nil {
				res.Warnings++
				continue
			}
			ts = parsed
		}
		name := canonicalName(cell(rec, nameCol))
		if name == "" {
			res.Warnings++
			continue
		}

		row := InterfaceFlowRow{TS: ts, Interface: name, FlowMW: ParseNumber(cell(rec, flowCol))}
		if hasPos {
			row.PosLimitMW = ParseNumber(cell(rec, posCol))
		}
		if hasNeg {
			row.NegLimitMW = ParseNumber(cell(rec, negCol))
		}
		rows = append(rows, row)
	}

	res.InterfaceFlows = dedupeKeyed(rows, func(r InterfaceFlowRow) string {
		return r.TS.Format(time.RFC3339) + "|" + r.Interface
	})
	return nil
}

// atcTTC normalizes the transfer-capability file; one interface appears once
// per (forecast horizon, direction) at each instant.
func atcTTC(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
	const tag = "atc_ttc"
	tsCol, err := t.require(tag, "Time Stamp")
	if err != nil {
		return err
	}
	nameCol, err := t.require(tag, "Interface Name")
	if err != nil {
		return err
	}
	atcCol, err := t.require(tag, "ATC (MWH)", "ATC (MW)")
	if err != nil {
		return err
	}
	ttcCol, hasTTC := t.col("TTC (MWH)", "TTC (MW)")
	trmCol, hasTRM := t.col("TRM (MWH)", "TRM (MW)")
	fcCol, hasFC := t.col("Forecast Type")
	dirCol, hasDir := t.col("Direction")

	var rows []ATCTTCRow
	for _, rec := range t.records {
		ts, err := ParseTimestamp(cell(rec, tsCol))
		if err != nil {
			res.Warnings++
			continue
		}
		name := canonicalName(cell(rec, nameCol))
		if name == "" {
			res.Warnings++
			continue
		}

		row := ATCTTCRow{TS: ts, Interface: name, ATCMW: ParseNumber(cell(rec, atcCol))}
		if hasTTC {
			row.TTCMW = ParseNumber(cell(rec, ttcCol))
		}
		if hasTRM {
			row.TRMMW = ParseNumber(cell(rec, trmCol))
		}
		if hasFC {
			row.ForecastType = canonicalName(cell(rec, fcCol))
		}
		if hasDir {
			row.Direction = canonicalName(cell(rec, dirCol))
		}
		rows = append(rows, row)
	}

	res.ATCTTC = dedupeKeyed(rows, func(r ATCTTCRow) string {
		return r.TS.Format(time.RFC3339) + "|" + r.Interface + "|" + r.ForecastType + "|" + r.Direction
	})
	return nil
}
