package normalize

import (
	"time"

	"github.com/gridfeed/gridfeed/internal/registry"
)

func init() {
	register("outages", outages)
	register("weather", weather)
	register("fuel_mix", fuelMix)
	register("advisories", advisories)
}

// outages normalizes the scheduled/forced outage report.
func outages(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
	const tag = "outages"
	tsCol, err := t.require(tag, "Time Stamp")
	if err != nil {
		return err
	}
	resourceCol, err := t.require(tag, "Resource Name")
	if err != nil {
		return err
	}
	typeCol, hasType := t.col("Outage Type")
	marketCol, hasMarket := t.col("Market")
	rtypeCol, hasRType := t.col("Resource Type")
	capCol, hasCap := t.col("Capacity (MW)")
	outCol, hasOut := t.col("Outage (MW)")
	startCol, hasStart := t.col("Start Date")
	endCol, hasEnd := t.col("End Date")
	statusCol, hasStatus := t.col("Status")

	var rows []OutageRow
	for _, rec := range t.records {
		ts, err := ParseTimestamp(cell(rec, tsCol))
		if err != nil {
			res.Warnings++
			continue
		}
		resource := canonicalName(cell(rec, resourceCol))
		if resource == "" {
			res.Warnings++
			continue
		}

		row := OutageRow{TS: ts, ResourceName: resource}
		if hasType {
			row.OutageType = canonicalName(cell(rec, typeCol))
		}
		if hasMarket {
			row.Market = canonicalName(cell(rec, marketCol))
		}
		if hasRType {
			row.ResourceType = canonicalName(cell(rec, rtypeCol))
		}
		if hasCap {
			row.MWCapacity = ParseNumber(cell(rec, capCol))
		}
		if hasOut {
			row.MWOutage = ParseNumber(cell(rec, outCol))
		}
		if hasStart {
			if at, err := ParseTimestamp(cell(rec, startCol)); err == nil {
				row.Start = &at
			}
		}
		if hasEnd {
			if at, err := ParseTimestamp(cell(rec, endCol)); err == nil {
				row.End = &at
			}
		}
		if hasStatus {
			row.Status = canonicalName(cell(rec, statusCol))
		}
		rows = append(rows, row)
	}

	res.Outages = dedupeKeyed(rows, func(r OutageRow) string {
		return r.TS.Format(time.RFC3339) + "|" + r.ResourceName + "|" + r.OutageType + "|" + r.Market
	})
	return nil
}

// weather normalizes the station weather forecast file. The vintage column is
// the forecast issue time; absent, the target instant doubles as vintage.
func weather(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
	const tag = "weather"
	tsCol, err := t.require(tag, "Time Stamp", "Forecast Date")
	if err != nil {
		return err
	}
	locCol, err := t.require(tag, "Location", "Station Location", "Station ID")
	if err != nil {
		return err
	}
	vintageCol, hasVintage := t.col("Forecast Time", "Vintage Date")
	tempCol, hasTemp := t.col("Temp (F)", "Max Temp")
	humCol, hasHum := t.col("Humidity (%)", "Humidity")
	windCol, hasWind := t.col("Wind Speed (MPH)", "Wind Speed")
	dirCol, hasDir := t.col("Wind Direction")
	cloudCol, hasCloud := t.col("Cloud Cover (%)", "Cloud Cover")

	var rows []WeatherRow
	for _, rec := range t.records {
		ts, err := ParseTimestamp(cell(rec, tsCol))
		if err != nil {
			res.Warnings++
			continue
		}
		loc := canonicalName(cell(rec, locCol))
		if loc == "" {
			res.Warnings++
			continue
		}

		row := WeatherRow{TS: ts, ForecastTS: ts, Location: loc}
		if hasVintage {
			if at, err := ParseTimestamp(cell(rec, vintageCol)); err == nil {
				row.ForecastTS = at
			}
		}
		if hasTemp {
			row.TempF = ParseNumber(cell(rec, tempCol))
		}
		if hasHum {
			row.Humidity = ParseNumber(cell(rec, humCol))
		}
		if hasWind {
			row.WindMPH = ParseNumber(cell(rec, windCol))
		}
		if hasDir {
			row.WindDir = canonicalName(cell(rec, dirCol))
		}
		if hasCloud {
			row.CloudPct = ParseNumber(cell(rec, cloudCol))
		}
		rows = append(rows, row)
	}

	res.Weather = dedupeKeyed(rows, func(r WeatherRow) string {
		return r.TS.Format(time.RFC3339) + "|" + r.ForecastTS.Format(time.RFC3339) + "|" + r.Location
	})
	return nil
}

// fuelMix normalizes the generation-by-fuel file. The percentage column is
// derived per instant when the file only carries megawatts.
func fuelMix(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
	const tag = "fuel_mix"
	tsCol, err := t.require(tag, "Time Stamp")
	if err != nil {
		return err
	}
	fuelCol, err := t.require(tag, "Fuel Category", "Fuel Type")
	if err != nil {
		return err
	}
	genCol, err := t.require(tag, "Gen MW", "Generation (MW)")
	if err != nil {
		return err
	}

	var rows []FuelMixRow
	for _, rec := range t.records {
		ts, err := ParseTimestamp(cell(rec, tsCol))
		if err != nil {
			res.Warnings++
			continue
		}
		fuel := canonicalName(cell(rec, fuelCol))
		if fuel == "" {
			res.Warnings++
			continue
		}
		rows = append(rows, FuelMixRow{TS: ts, FuelType: fuel, GenerationMW: ParseNumber(cell(rec, genCol))})
	}

	rows = dedupeKeyed(rows, func(r FuelMixRow) string {
		return r.TS.Format(time.RFC3339) + "|" + r.FuelType
	})

	// Share of total generation at each instant.
	totals := make(map[time.Time]float64)
	for _, r := range rows {
		if r.GenerationMW != nil {
			totals[r.TS] += *r.GenerationMW
		}
	}
	for i := range rows {
		if rows[i].GenerationMW == nil {
			continue
		}
		if total := totals[rows[i].TS]; total != 0 {
			pct := 100 * *rows[i].GenerationMW / total
			rows[i].Pct = &pct
		}
	}

	res.FuelMix = rows
	return nil
}

// advisories normalizes the operator notices snapshot; rows without their own
// timestamp are stamped with the scrape-start time.
func advisories(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
	const tag = "advisories"
	titleCol, err := t.require(tag, "Title", "Subject")
	if err != nil {
		return err
	}
	typeCol, hasType := t.col("Advisory Type", "Type")
	msgCol, hasMsg := t.col("Message", "Body")
	sevCol, hasSev := t.col("Severity")
	tsCol, hasTS := t.col("Time Stamp", "Posted")

	var rows []AdvisoryRow
	for _, rec := range t.records {
		title := cell(rec, titleCol)
		if title == "" {
			res.Warnings++
			continue
		}
		ts := stampedAt
		if hasTS {
			if at, err := ParseTimestamp(cell(rec, tsCol)); err == nil {
				ts = at
			}
		}

		row := AdvisoryRow{TS: ts, Title: title}
		if hasType {
			row.AdvisoryType = canonicalName(cell(rec, typeCol))
		}
		if hasMsg {
			row.Message = cell(rec, msgCol)
		}
		if hasSev {
			row.Severity = canonicalName(cell(rec, sevCol))
		}
		rows = append(rows, row)
	}

	res.Advisories = dedupeKeyed(rows, func(r AdvisoryRow) string {
		return r.TS.Format(time.RFC3339) + "|" + r.AdvisoryType + "|" + r.Title
	})
	return nil
}
