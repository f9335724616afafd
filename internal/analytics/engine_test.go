package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridfeed/gridfeed/internal/normalize"
	"github.com/gridfeed/gridfeed/internal/store"
)

func f64(v float64) *float64 { return &v }

func newEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite::memory:", store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return New(st), st
}

func seed(t *testing.T, st *store.Store, res *normalize.Result) {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	refs := st.Refs(tx)
	_, err = st.WriteResult(ctx, tx, res, refs)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	refs.Commit()
}

func TestRTDASpreads(t *testing.T) {
	eng, st := newEngine(t)
	hour := time.Date(2025, 11, 13, 14, 0, 0, 0, time.UTC)

	seed(t, st, &normalize.Result{
		DALBMP: []normalize.LBMPRow{
			{TS: hour, Zone: "WEST", LBMP: f64(40)},
			{TS: hour, Zone: "NORTH", LBMP: f64(0)},
		},
		RTLBMP: []normalize.LBMPRow{
			{TS: hour.Add(5 * time.Minute), Zone: "WEST", LBMP: f64(58)},
			{TS: hour.Add(10 * time.Minute), Zone: "WEST", LBMP: f64(42)},
			{TS: hour.Add(5 * time.Minute), Zone: "NORTH", LBMP: f64(10)},
			{TS: hour.Add(5 * time.Minute), Zone: "GHOST", LBMP: f64(99)}, // no DA match
		},
	})

	points, err := eng.RTDASpreads(context.Background(), store.Filter{}, nil)
	require.NoError(t, err)
	require.Len(t, points, 3)

	byZoneMin := map[string]SpreadPoint{}
	for _, p := range points {
		if _, ok := byZoneMin[p.ZoneName]; !ok {
			byZoneMin[p.ZoneName] = p
		}
	}
	west := byZoneMin["WEST"]
	assert.Equal(t, 18.0, west.Spread)
	require.NotNil(t, west.SpreadPercent)
	assert.InDelta(t, 45.0, *west.SpreadPercent, 1e-9)

	// DA price of zero yields a null percentage.
	north := byZoneMin["NORTH"]
	assert.Nil(t, north.SpreadPercent)

	// min_spread filter drops the small spread.
	points, err = eng.RTDASpreads(context.Background(), store.Filter{}, f64(15))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 18.0, points[0].Spread)
}

func TestRTDASpreadsLimitKeepsNewestRows(t *testing.T) {
	eng, st := newEngine(t)
	hour := time.Date(2025, 11, 13, 14, 0, 0, 0, time.UTC)

	rt := make([]normalize.LBMPRow, 0, 6)
	for i := 0; i < 6; i++ {
		rt = append(rt, normalize.LBMPRow{
			TS: hour.Add(time.Duration(i*5) * time.Minute), Zone: "WEST", LBMP: f64(40 + float64(i)),
		})
	}
	seed(t, st, &normalize.Result{
		DALBMP: []normalize.LBMPRow{{TS: hour, Zone: "WEST", LBMP: f64(30)}},
		RTLBMP: rt,
	})

	// A row limit smaller than the series must truncate the oldest
	// observations, keeping the window anchored on the most recent data.
	points, err := eng.RTDASpreads(context.Background(), store.Filter{Limit: 2}, nil)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[0].Timestamp.Time().Equal(hour.Add(20*time.Minute)))
	assert.True(t, points[1].Timestamp.Time().Equal(hour.Add(25*time.Minute)))
}

func TestZoneSpreads(t *testing.T) {
	eng, st := newEngine(t)
	ts := time.Date(2025, 11, 13, 14, 5, 0, 0, time.UTC)

	seed(t, st, &normalize.Result{RTLBMP: []normalize.LBMPRow{
		{TS: ts, Zone: "WEST", LBMP: f64(42)},
		{TS: ts, Zone: "NYC", LBMP: f64(61)},
		{TS: ts, Zone: "NORTH", LBMP: f64(35)},
		{TS: ts.Add(5 * time.Minute), Zone: "WEST", LBMP: f64(44)}, // lone zone, dropped
	}})

	points, err := eng.ZoneSpreads(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "NYC", points[0].MaxZone)
	assert.Equal(t, "NORTH", points[0].MinZone)
	assert.Equal(t, 26.0, points[0].Spread)
}

func TestLoadForecastErrors(t *testing.T) {
	eng, st := newEngine(t)
	hour := time.Date(2025, 11, 13, 14, 0, 0, 0, time.UTC)

	seed(t, st, &normalize.Result{
		LoadForecasts: []normalize.LoadForecastRow{
			{TS: hour, Zone: "WEST", ForecastMW: f64(1000)},
			{TS: hour, Zone: "NORTH", ForecastMW: f64(500)},
			{TS: hour.Add(time.Hour), Zone: "WEST", ForecastMW: f64(1100)},
		},
		Loads: []normalize.LoadRow{
			// WEST hour average = 1050, NORTH = 500.
			{TS: hour, Zone: "WEST", LoadMW: f64(1000)},
			{TS: hour.Add(5 * time.Minute), Zone: "WEST", LoadMW: f64(1100)},
			{TS: hour.Add(10 * time.Minute), Zone: "NORTH", LoadMW: f64(500)},
		},
	})

	points, err := eng.LoadForecastErrors(context.Background(), store.Filter{}, nil)
	require.NoError(t, err)
	require.Len(t, points, 2)

	exact := points[0]
	assert.InDelta(t, 1550.0, exact.ActualMW, 1e-9)
	assert.InDelta(t, 1500.0, exact.ForecastMW, 1e-9)
	assert.InDelta(t, 50.0, exact.ErrorMW, 1e-9)
	require.NotNil(t, exact.ErrorPercent)
	assert.InDelta(t, 100.0/30.0, *exact.ErrorPercent, 1e-9)

	// Hour 15 has no actuals; fuzzy match borrows hour 14.
	fuzzy := points[1]
	assert.Equal(t, 15, fuzzy.Hour.Time().Hour())
	assert.InDelta(t, 1550.0, fuzzy.ActualMW, 1e-9)
}

func TestReserveMargins(t *testing.T) {
	eng, st := newEngine(t)
	ts := time.Date(2025, 11, 13, 14, 5, 0, 0, time.UTC)

	seed(t, st, &normalize.Result{
		FuelMix: []normalize.FuelMixRow{
			{TS: ts, FuelType: "GAS", GenerationMW: f64(9000)},
			{TS: ts, FuelType: "HYDRO", GenerationMW: f64(6000)},
		},
		Loads: []normalize.LoadRow{
			{TS: ts, Zone: "WEST", LoadMW: f64(8000)},
			{TS: ts, Zone: "NORTH", LoadMW: f64(4000)},
		},
	})

	points, err := eng.ReserveMargins(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 15000.0, points[0].TotalGenerationMW)
	assert.Equal(t, 12000.0, points[0].TotalLoadMW)
	assert.Equal(t, 3000.0, points[0].MarginMW)
	require.NotNil(t, points[0].MarginPercent)
	assert.InDelta(t, 25.0, *points[0].MarginPercent, 1e-9)
}

func TestPriceVolatility(t *testing.T) {
	eng, st := newEngine(t)
	base := time.Date(2025, 11, 13, 10, 0, 0, 0, time.UTC)

	rows := []normalize.LBMPRow{}
	for i, price := range []float64{40, 50, 60} {
		rows = append(rows, normalize.LBMPRow{
			TS: base.Add(time.Duration(i) * time.Hour), Zone: "WEST", LBMP: f64(price),
		})
	}
	seed(t, st, &normalize.Result{RTLBMP: rows})

	points, err := eng.PriceVolatility(context.Background(), store.Filter{}, 24)
	require.NoError(t, err)
	require.Len(t, points, 3)

	// First observation has a single-sample window: null metrics.
	assert.Nil(t, points[0].VolatilityPercent)
	assert.Equal(t, 1, points[0].SampleCount)

	last := points[2]
	assert.Equal(t, 3, last.SampleCount)
	require.NotNil(t, last.VolatilityPercent)
	assert.InDelta(t, 20.0, *last.VolatilityPercent, 1e-9) // stddev 10 over mean 50
}

func TestPriceVolatilityWindowSlides(t *testing.T) {
	eng, st := newEngine(t)
	base := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)

	seed(t, st, &normalize.Result{RTLBMP: []normalize.LBMPRow{
		{TS: base, Zone: "WEST", LBMP: f64(100)},
		{TS: base.Add(10 * time.Hour), Zone: "WEST", LBMP: f64(40)},
		{TS: base.Add(11 * time.Hour), Zone: "WEST", LBMP: f64(60)},
	}})

	points, err := eng.PriceVolatility(context.Background(), store.Filter{}, 2)
	require.NoError(t, err)
	require.Len(t, points, 3)

	// The first point fell out of the 2h window by the third observation.
	assert.Equal(t, 2, points[2].SampleCount)
	require.NotNil(t, points[2].MeanLBMP)
	assert.InDelta(t, 50.0, *points[2].MeanLBMP, 1e-9)
}

func TestCorrelations(t *testing.T) {
	eng, st := newEngine(t)
	base := time.Date(2025, 11, 13, 10, 0, 0, 0, time.UTC)

	var rows []normalize.LBMPRow
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * 5 * time.Minute)
		v := float64(i)
		rows = append(rows,
			normalize.LBMPRow{TS: ts, Zone: "A", LBMP: f64(10 + v)},
			normalize.LBMPRow{TS: ts, Zone: "B", LBMP: f64(20 + 2*v)}, // perfectly correlated
			normalize.LBMPRow{TS: ts, Zone: "C", LBMP: f64(30 - v)},   // perfectly anti-correlated
		)
	}
	// A zone with a single observation produces no pair.
	rows = append(rows, normalize.LBMPRow{TS: base, Zone: "LONER", LBMP: f64(5)})
	seed(t, st, &normalize.Result{RTLBMP: rows})

	points, err := eng.Correlations(context.Background(), store.Filter{})
	require.NoError(t, err)

	byPair := map[string]CorrelationPoint{}
	for _, p := range points {
		byPair[p.ZoneA+"/"+p.ZoneB] = p
	}

	assert.InDelta(t, 1.0, byPair["A/B"].Correlation, 1e-9)
	assert.InDelta(t, -1.0, byPair["A/C"].Correlation, 1e-9)
	assert.InDelta(t, 1.0, byPair["A/A"].Correlation, 1e-9)
	assert.Equal(t, 4, byPair["A/B"].SampleCount)
	assert.NotContains(t, byPair, "A/LONER")
	assert.NotContains(t, byPair, "LONER/LONER")
}

func TestExternalInterfaces(t *testing.T) {
	eng, st := newEngine(t)
	ts := time.Date(2025, 11, 13, 14, 5, 0, 0, time.UTC)

	seed(t, st, &normalize.Result{InterfaceFlows: []normalize.InterfaceFlowRow{
		{TS: ts, Interface: "SCH - PJ - NY", FlowMW: f64(500), PosLimitMW: f64(2000), NegLimitMW: f64(-1500)},
		{TS: ts, Interface: "SCH - HQ - NY", FlowMW: f64(-300), PosLimitMW: f64(1200), NegLimitMW: f64(-1000)},
		{TS: ts, Interface: "SCH - NPX - NY", FlowMW: f64(0), PosLimitMW: f64(1400), NegLimitMW: f64(-1400)},
		{TS: ts, Interface: "CENTRAL EAST", FlowMW: f64(999)}, // internal, excluded
	}})

	points, err := eng.ExternalInterfaces(context.Background())
	require.NoError(t, err)
	require.Len(t, points, 3)

	byIface := map[string]ExternalInterfacePoint{}
	for _, p := range points {
		byIface[p.InterfaceName] = p
	}

	pjm := byIface["SCH - PJ - NY"]
	assert.Equal(t, "PJM", pjm.Region)
	assert.Equal(t, DirectionImport, pjm.Direction)
	require.NotNil(t, pjm.UtilizationPercent)
	assert.InDelta(t, 25.0, *pjm.UtilizationPercent, 1e-9)

	hq := byIface["SCH - HQ - NY"]
	assert.Equal(t, "HQ", hq.Region)
	assert.Equal(t, DirectionExport, hq.Direction)
	require.NotNil(t, hq.UtilizationPercent)
	assert.InDelta(t, 30.0, *hq.UtilizationPercent, 1e-9)

	npx := byIface["SCH - NPX - NY"]
	assert.Equal(t, "ISO-NE", npx.Region)
	assert.Equal(t, DirectionZero, npx.Direction)
	assert.Nil(t, npx.UtilizationPercent)
}

func TestTradingSignals(t *testing.T) {
	eng, st := newEngine(t)
	now := time.Now().UTC().Truncate(time.Hour)

	seed(t, st, &normalize.Result{
		DALBMP: []normalize.LBMPRow{{TS: now, Zone: "WEST", LBMP: f64(40)}},
		RTLBMP: []normalize.LBMPRow{{TS: now.Add(5 * time.Minute), Zone: "WEST", LBMP: f64(70)}},
		FuelMix: []normalize.FuelMixRow{
			{TS: now, FuelType: "GAS", GenerationMW: f64(10300)},
		},
		Loads: []normalize.LoadRow{{TS: now, Zone: "WEST", LoadMW: f64(10000)}},
	})

	signals, err := eng.TradingSignals(context.Background(), 24)
	require.NoError(t, err)

	byRule := map[string]Signal{}
	for _, s := range signals {
		byRule[s.Rule] = s
	}

	// |spread| = 30 >= 25: critical.
	spread := byRule["rt_da_spread"]
	assert.Equal(t, SeverityCritical, spread.Severity)
	assert.Equal(t, 30.0, spread.Value)

	// margin 3% < 5: critical.
	reserve := byRule["low_reserve_margin"]
	assert.Equal(t, SeverityCritical, reserve.Severity)
	assert.InDelta(t, 3.0, reserve.Value, 1e-9)
}

func TestStats(t *testing.T) {
	assert.InDelta(t, 2.0, mean([]float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 1.0, stddev([]float64{1, 2, 3}, 2.0), 1e-9)

	r, ok := pearson([]float64{1, 2, 3}, []float64{2, 4, 6})
	require.True(t, ok)
	assert.InDelta(t, 1.0, r, 1e-9)

	_, ok = pearson([]float64{1, 1, 1}, []float64{2, 4, 6})
	assert.False(t, ok)
}
