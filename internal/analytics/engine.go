// Package analytics derives trading metrics from the stored series on read.
// Nothing here is persisted; every operation recomputes from the store.
package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/gridfeed/gridfeed/internal/store"
)

// Engine computes metrics over the store's read path.
type Engine struct {
	store *store.Store
}

// New builds an Engine over the store.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// toAscending flips the store's newest-first rows in place so joins and
// rolling windows walk forward in time. Fetching newest-first means a row
// limit truncates the oldest data, never the most recent.
func toAscending[T any](rows []T) []T {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows
}

// SpreadPoint is one RT-vs-DA price comparison.
type SpreadPoint struct {
	Timestamp     store.Stamp `json:"timestamp"`
	ZoneName      string      `json:"zone_name"`
	RTLBMP        float64     `json:"rt_lbmp"`
	DALBMP        float64     `json:"da_lbmp"`
	Spread        float64     `json:"spread"`
	SpreadPercent *float64    `json:"spread_percent"`
}

// RTDASpreads aligns each real-time price with its hour's day-ahead price and
// emits the difference. minSpread, when non-nil, keeps only rows with
// |spread| >= minSpread.
func (e *Engine) RTDASpreads(ctx context.Context, f store.Filter, minSpread *float64) ([]SpreadPoint, error) {
	rt, err := e.store.RTLBMP(ctx, f)
	if err != nil {
		return nil, err
	}
	rt = toAscending(rt)
	da, err := e.store.DALBMP(ctx, widenToHour(f))
	if err != nil {
		return nil, err
	}

	type key struct {
		hour time.Time
		zone string
	}
	daByKey := make(map[key]float64, len(da))
	for _, p := range da {
		if p.LBMP == nil {
			continue
		}
		daByKey[key{p.Timestamp.Time().Truncate(time.Hour), p.ZoneName}] = *p.LBMP
	}

	points := []SpreadPoint{}
	for _, p := range rt {
		if p.LBMP == nil {
			continue
		}
		daPrice, ok := daByKey[key{p.Timestamp.Time().Truncate(time.Hour), p.ZoneName}]
		if !ok {
			continue
		}
		spread := *p.LBMP - daPrice
		if minSpread != nil && math.Abs(spread) < *minSpread {
			continue
		}
		sp := SpreadPoint{
			Timestamp: p.Timestamp,
			ZoneName:  p.ZoneName,
			RTLBMP:    *p.LBMP,
			DALBMP:    daPrice,
			Spread:    spread,
		}
		if daPrice != 0 {
			pct := 100 * spread / daPrice
			sp.SpreadPercent = &pct
		}
		points = append(points, sp)
	}
	return points, nil
}

// widenToHour expands the range so hour-aligned day-ahead rows covering the
// first and last real-time instants are fetched too.
func widenToHour(f store.Filter) store.Filter {
	out := f
	out.Limit = 0
	if f.Start != nil {
		s := f.Start.Truncate(time.Hour)
		out.Start = &s
	}
	if f.End != nil {
		e := f.End.Truncate(time.Hour).Add(time.Hour)
		out.End = &e
	}
	return out
}

// ZoneSpreadPoint is the widest price gap across zones at one instant.
type ZoneSpreadPoint struct {
	Timestamp store.Stamp `json:"timestamp"`
	MaxZone   string      `json:"max_zone"`
	MinZone   string      `json:"min_zone"`
	MaxLBMP   float64     `json:"max_lbmp"`
	MinLBMP   float64     `json:"min_lbmp"`
	Spread    float64     `json:"spread"`
}

// ZoneSpreads emits, per instant, the highest- and lowest-priced zones and
// their gap. Instants with fewer than two priced zones are dropped.
func (e *Engine) ZoneSpreads(ctx context.Context, f store.Filter) ([]ZoneSpreadPoint, error) {
	rt, err := e.store.RTLBMP(ctx, f)
	if err != nil {
		return nil, err
	}
	rt = toAscending(rt)

	type extreme struct {
		count    int
		min, max float64
		minZone  string
		maxZone  string
	}
	byTS := make(map[time.Time]*extreme)
	var order []time.Time
	for _, p := range rt {
		if p.LBMP == nil {
			continue
		}
		ts := p.Timestamp.Time()
		ex, ok := byTS[ts]
		if !ok {
			ex = &extreme{min: *p.LBMP, max: *p.LBMP, minZone: p.ZoneName, maxZone: p.ZoneName, count: 1}
			byTS[ts] = ex
			order = append(order, ts)
			continue
		}
		ex.count++
		if *p.LBMP > ex.max {
			ex.max, ex.maxZone = *p.LBMP, p.ZoneName
		}
		if *p.LBMP < ex.min {
			ex.min, ex.minZone = *p.LBMP, p.ZoneName
		}
	}

	points := []ZoneSpreadPoint{}
	for _, ts := range order {
		ex := byTS[ts]
		if ex.count < 2 {
			continue
		}
		points = append(points, ZoneSpreadPoint{
			Timestamp: store.Stamp(ts),
			MaxZone:   ex.maxZone,
			MinZone:   ex.minZone,
			MaxLBMP:   ex.max,
			MinLBMP:   ex.min,
			Spread:    ex.max - ex.min,
		})
	}
	return points, nil
}

// ForecastErrorPoint compares forecast to actual system load for one hour.
type ForecastErrorPoint struct {
	Hour         store.Stamp `json:"hour"`
	ActualMW     float64     `json:"actual_mw"`
	ForecastMW   float64     `json:"forecast_mw"`
	ErrorMW      float64     `json:"error_mw"`
	ErrorPercent *float64    `json:"error_percent"`
}

// LoadForecastErrors totals forecast and actual load per hour and emits the
// difference. Actuals are hourly means of the 5-minute samples per zone,
// summed across zones. An hour with no exact actual borrows the previous then
// the next hour. maxErrorPercent, when non-nil, caps |error_percent|.
func (e *Engine) LoadForecastErrors(ctx context.Context, f store.Filter, maxErrorPercent *float64) ([]ForecastErrorPoint, error) {
	forecasts, err := e.store.LoadForecasts(ctx, f)
	if err != nil {
		return nil, err
	}
	forecasts = toAscending(forecasts)
	actuals, err := e.store.Loads(ctx, widenToHour(f))
	if err != nil {
		return nil, err
	}

	type hourZone struct {
		hour time.Time
		zone string
	}
	sums := make(map[hourZone]float64)
	counts := make(map[hourZone]int)
	for _, p := range actuals {
		if p.LoadMW == nil {
			continue
		}
		k := hourZone{p.Timestamp.Time().Truncate(time.Hour), p.ZoneName}
		sums[k] += *p.LoadMW
		counts[k]++
	}
	actualTotal := make(map[time.Time]float64)
	for k, sum := range sums {
		actualTotal[k.hour] += sum / float64(counts[k])
	}

	forecastTotal := make(map[time.Time]float64)
	var hours []time.Time
	for _, p := range forecasts {
		if p.ForecastMW == nil {
			continue
		}
		h := p.Timestamp.Time().Truncate(time.Hour)
		if _, seen := forecastTotal[h]; !seen {
			hours = append(hours, h)
		}
		forecastTotal[h] += *p.ForecastMW
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	points := []ForecastErrorPoint{}
	for _, h := range hours {
		actual, ok := actualTotal[h]
		if !ok {
			// Fuzzy match: prefer the preceding hour, then the following.
			if v, prev := actualTotal[h.Add(-time.Hour)]; prev {
				actual, ok = v, true
			} else if v, next := actualTotal[h.Add(time.Hour)]; next {
				actual, ok = v, true
			}
		}
		if !ok {
			continue
		}

		forecast := forecastTotal[h]
		p := ForecastErrorPoint{
			Hour:       store.Stamp(h),
			ActualMW:   actual,
			ForecastMW: forecast,
			ErrorMW:    actual - forecast,
		}
		if forecast != 0 {
			pct := 100 * p.ErrorMW / forecast
			p.ErrorPercent = &pct
		}
		if maxErrorPercent != nil && (p.ErrorPercent == nil || math.Abs(*p.ErrorPercent) > *maxErrorPercent) {
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// ReserveMarginPoint is system generation headroom at one instant.
type ReserveMarginPoint struct {
	Timestamp         store.Stamp `json:"timestamp"`
	TotalGenerationMW float64     `json:"total_generation_mw"`
	TotalLoadMW       float64     `json:"total_load_mw"`
	MarginMW          float64     `json:"margin_mw"`
	MarginPercent     *float64    `json:"margin_percent"`
}

// ReserveMargins joins total fuel-mix generation against total actual load at
// matching instants.
func (e *Engine) ReserveMargins(ctx context.Context, f store.Filter) ([]ReserveMarginPoint, error) {
	mix, err := e.store.FuelMix(ctx, f)
	if err != nil {
		return nil, err
	}
	mix = toAscending(mix)
	loads, err := e.store.Loads(ctx, f)
	if err != nil {
		return nil, err
	}

	genTotal := make(map[time.Time]float64)
	var order []time.Time
	for _, p := range mix {
		if p.GenerationMW == nil {
			continue
		}
		ts := p.Timestamp.Time()
		if _, seen := genTotal[ts]; !seen {
			order = append(order, ts)
		}
		genTotal[ts] += *p.GenerationMW
	}

	loadTotal := make(map[time.Time]float64)
	for _, p := range loads {
		if p.LoadMW == nil {
			continue
		}
		loadTotal[p.Timestamp.Time()] += *p.LoadMW
	}

	points := []ReserveMarginPoint{}
	for _, ts := range order {
		load, ok := loadTotal[ts]
		if !ok {
			continue
		}
		p := ReserveMarginPoint{
			Timestamp:         store.Stamp(ts),
			TotalGenerationMW: genTotal[ts],
			TotalLoadMW:       load,
			MarginMW:          genTotal[ts] - load,
		}
		if load != 0 {
			pct := 100 * p.MarginMW / load
			p.MarginPercent = &pct
		}
		points = append(points, p)
	}
	return points, nil
}

// VolatilityPoint is the rolling price volatility ending at one observation.
type VolatilityPoint struct {
	Timestamp         store.Stamp `json:"timestamp"`
	ZoneName          string      `json:"zone_name"`
	MeanLBMP          *float64    `json:"mean_lbmp"`
	StdDev            *float64    `json:"std_dev"`
	VolatilityPercent *float64    `json:"volatility_percent"`
	SampleCount       int         `json:"sample_count"`
}

// PriceVolatility computes, per zone, the rolling coefficient of variation of
// real-time prices over a trailing window. Windows with fewer than two samples
// or a zero mean yield null metrics.
func (e *Engine) PriceVolatility(ctx context.Context, f store.Filter, windowHours int) ([]VolatilityPoint, error) {
	if windowHours < 1 {
		windowHours = 24
	}
	window := time.Duration(windowHours) * time.Hour

	rt, err := e.store.RTLBMP(ctx, f)
	if err != nil {
		return nil, err
	}
	rt = toAscending(rt)

	type obs struct {
		ts    time.Time
		price float64
	}
	byZone := make(map[string][]obs)
	var zones []string
	for _, p := range rt {
		if p.LBMP == nil {
			continue
		}
		if _, seen := byZone[p.ZoneName]; !seen {
			zones = append(zones, p.ZoneName)
		}
		byZone[p.ZoneName] = append(byZone[p.ZoneName], obs{p.Timestamp.Time(), *p.LBMP})
	}
	sort.Strings(zones)

	points := []VolatilityPoint{}
	for _, zone := range zones {
		series := byZone[zone]
		lo := 0
		for i, o := range series {
			for series[lo].ts.Before(o.ts.Add(-window)) {
				lo++
			}
			sample := make([]float64, 0, i-lo+1)
			for _, w := range series[lo : i+1] {
				sample = append(sample, w.price)
			}

			p := VolatilityPoint{
				Timestamp:   store.Stamp(o.ts),
				ZoneName:    zone,
				SampleCount: len(sample),
			}
			if len(sample) >= 2 {
				m := mean(sample)
				sd := stddev(sample, m)
				p.MeanLBMP = &m
				p.StdDev = &sd
				if m != 0 {
					v := 100 * sd / m
					p.VolatilityPercent = &v
				}
			}
			points = append(points, p)
		}
	}

	sort.Slice(points, func(i, j int) bool {
		ti, tj := points[i].Timestamp.Time(), points[j].Timestamp.Time()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return points[i].ZoneName < points[j].ZoneName
	})
	return points, nil
}

// CorrelationPoint is the price co-movement of one zone pair.
type CorrelationPoint struct {
	ZoneA       string  `json:"zone_a"`
	ZoneB       string  `json:"zone_b"`
	Correlation float64 `json:"correlation"`
	SampleCount int     `json:"sample_count"`
}

// Correlations computes Pearson correlation between every zone pair's
// real-time price series over the filtered window, aligned on shared
// timestamps. Pairs with fewer than two shared observations are omitted; a
// zone against itself is 1 by definition.
func (e *Engine) Correlations(ctx context.Context, f store.Filter) ([]CorrelationPoint, error) {
	rt, err := e.store.RTLBMP(ctx, f)
	if err != nil {
		return nil, err
	}

	byZone := make(map[string]map[time.Time]float64)
	for _, p := range rt {
		if p.LBMP == nil {
			continue
		}
		if byZone[p.ZoneName] == nil {
			byZone[p.ZoneName] = make(map[time.Time]float64)
		}
		byZone[p.ZoneName][p.Timestamp.Time()] = *p.LBMP
	}

	zones := make([]string, 0, len(byZone))
	for z := range byZone {
		zones = append(zones, z)
	}
	sort.Strings(zones)

	points := []CorrelationPoint{}
	for i, a := range zones {
		for _, b := range zones[i:] {
			if a == b {
				if len(byZone[a]) >= 2 {
					points = append(points, CorrelationPoint{
						ZoneA: a, ZoneB: b, Correlation: 1, SampleCount: len(byZone[a]),
					})
				}
				continue
			}
			var xs, ys []float64
			for ts, x := range byZone[a] {
				if y, ok := byZone[b][ts]; ok {
					xs = append(xs, x)
					ys = append(ys, y)
				}
			}
			if len(xs) < 2 {
				continue
			}
			r, ok := pearson(xs, ys)
			if !ok {
				continue
			}
			points = append(points, CorrelationPoint{
				ZoneA: a, ZoneB: b, Correlation: r, SampleCount: len(xs),
			})
		}
	}
	return points, nil
}
