package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridfeed/gridfeed/internal/normalize"
	"github.com/gridfeed/gridfeed/internal/registry"
)

func writeRegistryFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func loadRegistry(t *testing.T, path string) *registry.Registry {
	t.Helper()
	reg, err := registry.Load(path)
	require.NoError(t, err)
	return reg
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite::memory:", DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func f64(v float64) *float64 { return &v }

func writeResult(t *testing.T, s *Store, res *normalize.Result) Counts {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	refs := s.Refs(tx)
	counts, err := s.WriteResult(ctx, tx, res, refs)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	refs.Commit()
	return counts
}

func TestParseURL(t *testing.T) {
	driver, dsn, err := parseURL("postgres://u:p@localhost/grid")
	require.NoError(t, err)
	assert.Equal(t, "postgres", driver)
	assert.Equal(t, "postgres://u:p@localhost/grid", dsn)

	driver, dsn, err = parseURL("sqlite:grid.db")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", driver)
	assert.Contains(t, dsn, "grid.db?")

	driver, _, err = parseURL("plain/path.db")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", driver)

	_, _, err = parseURL("")
	assert.Error(t, err)
}

func TestWriteResultInsertAndIdempotency(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)

	res := &normalize.Result{RTLBMP: []normalize.LBMPRow{
		{TS: ts, Zone: "WEST", LBMP: f64(42.10), MCL: f64(1.20), MCC: f64(0.50)},
		{TS: ts, Zone: "CAPITL", LBMP: f64(40.00)},
	}}

	counts := writeResult(t, s, res)
	assert.Equal(t, Counts{Inserted: 2}, counts)

	// Same payload again: nothing inserted, nothing rewritten.
	counts = writeResult(t, s, res)
	assert.Equal(t, Counts{}, counts)

	// One changed value: exactly one update.
	res.RTLBMP[0].LBMP = f64(45.00)
	counts = writeResult(t, s, res)
	assert.Equal(t, Counts{Updated: 1}, counts)

	points, err := s.RTLBMP(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, points, 2)
}

func TestWriteResultNullTransitions(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)

	res := &normalize.Result{RTLBMP: []normalize.LBMPRow{{TS: ts, Zone: "WEST", LBMP: f64(42.10)}}}
	writeResult(t, s, res)

	// nil -> value and value -> nil both count as updates.
	res.RTLBMP[0].MCL = f64(1.0)
	assert.Equal(t, Counts{Updated: 1}, writeResult(t, s, res))
	res.RTLBMP[0].MCL = nil
	assert.Equal(t, Counts{Updated: 1}, writeResult(t, s, res))
}

func TestWriteResultTextValuesCompareRaw(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)

	res := &normalize.Result{Advisories: []normalize.AdvisoryRow{{
		TS: ts, AdvisoryType: "NOTICE", Title: "Thunderstorm Alert", Message: "1", Severity: "low",
	}}}
	assert.Equal(t, Counts{Inserted: 1}, writeResult(t, s, res))

	// "1" and "true" are different text values, not the same boolean.
	res.Advisories[0].Message = "true"
	assert.Equal(t, Counts{Updated: 1}, writeResult(t, s, res))
	assert.Equal(t, Counts{}, writeResult(t, s, res))
}

func TestWriteResultBooleanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)

	res := &normalize.Result{Constraints: []normalize.ConstraintRow{{
		TS: ts, ConstraintName: "CENTRAL EAST", Market: "REALTIME",
		ShadowPrice: f64(12.5), Binding: true,
	}}}
	assert.Equal(t, Counts{Inserted: 1}, writeResult(t, s, res))
	assert.Equal(t, Counts{}, writeResult(t, s, res))

	res.Constraints[0].Binding = false
	assert.Equal(t, Counts{Updated: 1}, writeResult(t, s, res))
}

func TestZoneInterning(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)

	writeResult(t, s, &normalize.Result{
		RTLBMP: []normalize.LBMPRow{{TS: ts, Zone: "WEST", LBMP: f64(42.0)}},
	})
	writeResult(t, s, &normalize.Result{
		Loads: []normalize.LoadRow{{TS: ts, Zone: "WEST", LoadMW: f64(1800)}},
	})

	names, err := s.ZoneNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"WEST"}, names)
}

func TestRefResolverRollbackDoesNotPoisonCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	refs := s.Refs(tx)
	_, err = refs.ZoneID(ctx, "GHOST")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	// No refs.Commit: the minted id must not be visible.

	_, ok := s.refs.get("zones", "GHOST")
	assert.False(t, ok)
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)

	job, err := s.BeginJob(ctx, "RT-LBMP", date, false)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, job.Status)
	assert.NotZero(t, job.ID)

	job.Status = StatusSucceeded
	job.RowsInserted = 42
	url := "https://example.com/rt.csv"
	job.URLUsed = &url
	require.NoError(t, s.FinishJob(ctx, job))

	// A second finish on the same job is refused.
	assert.Error(t, s.FinishJob(ctx, job))

	// The succeeded pair skips unless forced.
	skipped, err := s.BeginJob(ctx, "RT-LBMP", date, false)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, skipped.Status)

	forced, err := s.BeginJob(ctx, "RT-LBMP", date, true)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, forced.Status)
	forced.Status = StatusFailed
	msg := "upstream 500"
	forced.ErrorText = &msg
	require.NoError(t, s.FinishJob(ctx, forced))

	jobs, err := s.RecentJobs(ctx, "RT-LBMP", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	require.NoError(t, s.AppendJobLog(ctx, job.ID, "info", "parsed 42 rows"))
}

func TestFailedJobDoesNotBlockRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)

	job, err := s.BeginJob(ctx, "RT-LOAD", date, false)
	require.NoError(t, err)
	job.Status = StatusFailed
	require.NoError(t, s.FinishJob(ctx, job))

	retry, err := s.BeginJob(ctx, "RT-LOAD", date, false)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, retry.Status)
}

func TestReadFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)

	var rows []normalize.LBMPRow
	for i := 0; i < 4; i++ {
		rows = append(rows,
			normalize.LBMPRow{TS: base.Add(time.Duration(i) * 5 * time.Minute), Zone: "WEST", LBMP: f64(40 + float64(i))},
			normalize.LBMPRow{TS: base.Add(time.Duration(i) * 5 * time.Minute), Zone: "NORTH", LBMP: f64(38 + float64(i))},
		)
	}
	writeResult(t, s, &normalize.Result{RTLBMP: rows})

	// Newest first by default.
	points, err := s.RTLBMP(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, points, 8)
	assert.Equal(t, 15, points[0].Timestamp.Time().Minute())

	// Zone and range filters compose.
	start := base.Add(5 * time.Minute)
	end := base.Add(10 * time.Minute)
	points, err = s.RTLBMP(ctx, Filter{Start: &start, End: &end, Zones: []string{"WEST"}, Ascending: true})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 5, points[0].Timestamp.Time().Minute())
	assert.Equal(t, "WEST", points[0].ZoneName)

	points, err = s.RTLBMP(ctx, Filter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, points, 3)
}

func TestAncillaryMarketFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 11, 13, 14, 0, 0, 0, time.UTC)

	writeResult(t, s, &normalize.Result{Ancillary: []normalize.AncillaryRow{
		{TS: ts, Zone: "EAST", Market: "realtime", ServiceType: "10 Min Spinning Reserve", Price: f64(5.25)},
		{TS: ts, Zone: "EAST", Market: "dayahead", ServiceType: "10 Min Spinning Reserve", Price: f64(4.80)},
	}})

	points, err := s.AncillaryPrices(ctx, Filter{Market: "realtime"})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 5.25, *points[0].Price)

	points, err = s.AncillaryPrices(ctx, Filter{ServiceType: "10 Min Spinning Reserve"})
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestLatestInterfaceFlows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 11, 13, 9, 0, 0, 0, time.UTC)

	writeResult(t, s, &normalize.Result{InterfaceFlows: []normalize.InterfaceFlowRow{
		{TS: base, Interface: "SCH - PJ - NY", FlowMW: f64(400)},
		{TS: base.Add(5 * time.Minute), Interface: "SCH - PJ - NY", FlowMW: f64(450)},
		{TS: base, Interface: "SCH - HQ - NY", FlowMW: f64(-120)},
	}})

	latest, err := s.LatestInterfaceFlows(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	byName := map[string]InterfaceFlowPoint{}
	for _, p := range latest {
		byName[p.InterfaceName] = p
	}
	assert.Equal(t, 450.0, *byName["SCH - PJ - NY"].FlowMW)
	assert.Equal(t, -120.0, *byName["SCH - HQ - NY"].FlowMW)
}

func TestOutageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 11, 13, 6, 0, 0, 0, time.UTC)
	end := ts.AddDate(0, 0, 7)

	writeResult(t, s, &normalize.Result{Outages: []normalize.OutageRow{{
		TS: ts, OutageType: "PLANNED", Market: "REALTIME", ResourceName: "RAVENSWOOD 3",
		ResourceType: "GENERATOR", MWCapacity: f64(972), MWOutage: f64(972),
		Start: &ts, End: &end, Status: "ACTIVE",
	}}})

	points, err := s.Outages(ctx, Filter{OutageType: "PLANNED"})
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.NotNil(t, points[0].End)
	assert.Equal(t, 20, points[0].End.Time().Day())
}

func TestSyncSources(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := dir + "/sources.txt"
	writeRegistryFile(t, path, `Real-Time LBMP, RT-LBMP, realtime, realtime_zone, http://x/{YYYYMMDD}rt.csv, http://x/{YYYYMM01}rt.zip, , rt5, pricing
`)
	reg := loadRegistry(t, path)

	require.NoError(t, s.SyncSources(ctx, reg))
	records, err := s.Sources(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "RT-LBMP", records[0].Code)
	assert.Equal(t, "rt_lbmp", records[0].TransformerTag)

	// Re-sync is an update, not a duplicate.
	require.NoError(t, s.SyncSources(ctx, reg))
	records, err = s.Sources(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStampJSON(t *testing.T) {
	s := Stamp(time.Date(2025, 11, 13, 14, 5, 0, 0, time.UTC))
	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2025-11-13T14:05:00"`, string(b))

	var back Stamp
	require.NoError(t, back.UnmarshalJSON(b))
	assert.True(t, back.Time().Equal(s.Time()))
}
