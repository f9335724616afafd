package normalize

import (
	"time"

	"github.com/gridfeed/gridfeed/internal/registry"
)

func init() {
	register("rt_load", rtLoad)
	register("load_forecast", loadForecast)
}

// rtLoad normalizes the 5-minute actual load file.
func rtLoad(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
	const tag = "rt_load"
	tsCol, err := t.require(tag, "Time Stamp")
	if err != nil {
		return err
	}
	zoneCol, err := t.require(tag, "Name")
	if err != nil {
		return err
	}
	loadCol, err := t.require(tag, "Load", "Load (MW)")
	if err != nil {
		return err
	}

	var rows []LoadRow
	for _, rec := range t.records {
		ts, err := ParseTimestamp(cell(rec, tsCol))
		if err != nil {
			res.Warnings++
			continue
		}
		zone := canonicalName(cell(rec, zoneCol))
		if zone == "" {
			res.Warnings++
			continue
		}
		rows = append(rows, LoadRow{TS: ts, Zone: zone, LoadMW: ParseNumber(cell(rec, loadCol))})
	}

	res.Loads = dedupeKeyed(rows, func(r LoadRow) string {
		return r.TS.Format(time.RFC3339) + "|" + r.Zone
	})
	return nil
}

// loadForecast normalizes the wide hourly forecast file: one column per zone,
// reshaped to one row per (target hour, zone).
func loadForecast(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
	const tag = "load_forecast"
	tsCol, err := t.require(tag, "Time Stamp")
	if err != nil {
		return err
	}

	// Every remaining column is a zone except bookkeeping ones.
	type zoneCol struct {
		idx  int
		name string
	}
	var zones []zoneCol
	for i, name := range t.header {
		if i == tsCol {
			continue
		}
		switch normalizeHeader(name) {
		case "time zone", "ptid", "":
			continue
		}
		zones = append(zones, zoneCol{idx: i, name: canonicalName(name)})
	}
	if len(zones) == 0 {
		return &SchemaError{Tag: tag, Column: "(zone columns)"}
	}

	var rows []LoadForecastRow
	for _, rec := range t.records {
		ts, err := ParseTimestamp(cell(rec, tsCol))
		if err != nil {
			res.Warnings++
			continue
		}
		for _, z := range zones {
			rows = append(rows, LoadForecastRow{
				TS:         ts,
				Zone:       z.name,
				ForecastMW: ParseNumber(cell(rec, z.idx)),
			})
		}
	}

	res.LoadForecasts = dedupeKeyed(rows, func(r LoadForecastRow) string {
		return r.TS.Format(time.RFC3339) + "|" + r.Zone
	})
	return nil
}
