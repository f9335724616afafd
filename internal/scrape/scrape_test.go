package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridfeed/gridfeed/internal/fetch"
	"github.com/gridfeed/gridfeed/internal/registry"
	"github.com/gridfeed/gridfeed/internal/store"
)

const lbmpCSV = `Time Stamp,Name,PTID,LBMP ($/MWHr),Marginal Cost Losses ($/MWHr),Marginal Cost Congestion ($/MWHr)
11/13/2025 00:00:00,WEST,61752,42.10,1.20,0.50
11/13/2025 00:00:00,CAPITL,61757,40.00,1.00,0.10
`

func testRegistry(t *testing.T, lines ...string) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.txt")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	reg, err := registry.Load(path)
	require.NoError(t, err)
	return reg
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite::memory:", store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func fastDownloader() *fetch.Downloader {
	cfg := fetch.DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.HostRPS = 1000
	cfg.HostBurst = 100
	return fetch.New(cfg)
}

func TestScrapeOneSuccess(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, lbmpCSV)
	}))
	defer srv.Close()

	reg := testRegistry(t,
		"Real-Time LBMP, RT-LBMP, realtime, realtime_zone, "+srv.URL+"/{YYYYMMDD}rt.csv, , , rt5, pricing")
	st := testStore(t)
	orch := New(reg, fastDownloader(), st, 2)

	date := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)
	job, err := orch.ScrapeOne(context.Background(), "RT-LBMP", date, false)
	require.NoError(t, err)

	assert.Equal(t, store.StatusSucceeded, job.Status)
	assert.Equal(t, 2, job.RowsInserted)
	assert.Equal(t, 0, job.RowsUpdated)
	require.NotNil(t, job.URLUsed)
	assert.Contains(t, *job.URLUsed, "20251113rt.csv")

	points, err := st.RTLBMP(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Len(t, points, 2)

	// A second pass without force is a skip; upstream is not re-fetched.
	before := hits
	job, err = orch.ScrapeOne(context.Background(), "RT-LBMP", date, false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSkipped, job.Status)
	assert.Equal(t, before, hits)

	// Forced re-scrape of identical data succeeds with zero writes.
	job, err = orch.ScrapeOne(context.Background(), "RT-LBMP", date, true)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, job.Status)
	assert.Equal(t, 0, job.RowsInserted)
	assert.Equal(t, 0, job.RowsUpdated)
}

func TestScrapeOneMissingDatedFileFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	reg := testRegistry(t,
		"Real-Time LBMP, RT-LBMP, realtime, realtime_zone, "+srv.URL+"/{YYYYMMDD}rt.csv, , , rt5, pricing")
	st := testStore(t)
	orch := New(reg, fastDownloader(), st, 2)

	job, err := orch.ScrapeOne(context.Background(), "RT-LBMP", time.Now().UTC(), false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorText)
	assert.Contains(t, *job.ErrorText, "not found")
}

func TestScrapeOneMissingSnapshotSucceedsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	reg := testRegistry(t,
		"Operator Advisories, ADVISORIES, advisories, advisories, , , "+srv.URL+"/advisories.csv, snapshot, notices")
	st := testStore(t)
	orch := New(reg, fastDownloader(), st, 2)

	job, err := orch.ScrapeOne(context.Background(), "ADVISORIES", time.Now().UTC(), false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, job.Status)
	assert.Equal(t, 0, job.RowsInserted)
}

func TestScrapeOneSchemaErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Totally,Wrong,Header\n1,2,3\n")
	}))
	defer srv.Close()

	reg := testRegistry(t,
		"Real-Time LBMP, RT-LBMP, realtime, realtime_zone, "+srv.URL+"/{YYYYMMDD}rt.csv, , , rt5, pricing")
	st := testStore(t)
	orch := New(reg, fastDownloader(), st, 2)

	job, err := orch.ScrapeOne(context.Background(), "RT-LBMP", time.Now().UTC(), false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorText)
	assert.Contains(t, *job.ErrorText, "normalize")

	// The failed job left no partial rows behind.
	points, perr := st.RTLBMP(context.Background(), store.Filter{})
	require.NoError(t, perr)
	assert.Empty(t, points)
}

func TestScrapeOneCancelledMidDownloadStillCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done() // hold the download open until the client gives up
	}))
	defer srv.Close()

	reg := testRegistry(t,
		"Real-Time LBMP, RT-LBMP, realtime, realtime_zone, "+srv.URL+"/{YYYYMMDD}rt.csv, , , rt5, pricing")
	st := testStore(t)
	orch := New(reg, fastDownloader(), st, 2)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	job, err := orch.ScrapeOne(ctx, "RT-LBMP", time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC), false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorText)
	assert.Contains(t, *job.ErrorText, "download")

	// The ledger row reached a terminal state despite the canceled context.
	jobs, err := st.RecentJobs(context.Background(), "RT-LBMP", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.StatusFailed, jobs[0].Status)
	assert.NotNil(t, jobs[0].FinishedAt)
}

func TestScrapeOneUnknownSource(t *testing.T) {
	reg := testRegistry(t,
		"Real-Time LBMP, RT-LBMP, realtime, realtime_zone, http://localhost/{YYYYMMDD}.csv, , , rt5, pricing")
	orch := New(reg, fastDownloader(), testStore(t), 2)

	_, err := orch.ScrapeOne(context.Background(), "NOPE", time.Now(), false)
	assert.ErrorIs(t, err, registry.ErrUnknownSource)
}

func TestScrapeOneOverlapRefused(t *testing.T) {
	reg := testRegistry(t,
		"Real-Time LBMP, RT-LBMP, realtime, realtime_zone, http://localhost/{YYYYMMDD}.csv, , , rt5, pricing")
	orch := New(reg, fastDownloader(), testStore(t), 2)

	date := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)
	require.True(t, orch.acquire("RT-LBMP", date))

	_, err := orch.ScrapeOne(context.Background(), "RT-LBMP", date, false)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	orch.release("RT-LBMP", date)
	require.True(t, orch.acquire("RT-LBMP", date))
	orch.release("RT-LBMP", date)
}

func TestScrapeRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, lbmpCSV)
	}))
	defer srv.Close()

	reg := testRegistry(t,
		"Day-Ahead LBMP, DA-LBMP, dayahead, damlbmp_zone, "+srv.URL+"/{YYYYMMDD}da.csv, , , daily, pricing")
	st := testStore(t)
	orch := New(reg, fastDownloader(), st, 2)

	start := time.Date(2025, 11, 11, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC)
	jobs, err := orch.ScrapeRange(context.Background(), "DA-LBMP", start, end, false)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for _, j := range jobs {
		assert.Equal(t, store.StatusSucceeded, j.Status)
	}

	_, err = orch.ScrapeRange(context.Background(), "DA-LBMP", end, start, false)
	assert.Error(t, err)
}

func TestScrapeRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, lbmpCSV)
	}))
	defer srv.Close()

	reg := testRegistry(t,
		"Real-Time LBMP, RT-LBMP, realtime, realtime_zone, "+srv.URL+"/rt/{YYYYMMDD}.csv, , , rt5, pricing",
		"Day-Ahead LBMP, DA-LBMP, dayahead, damlbmp_zone, "+srv.URL+"/da/{YYYYMMDD}.csv, , , daily, pricing")
	st := testStore(t)
	orch := New(reg, fastDownloader(), st, 4)

	require.NoError(t, orch.ScrapeRecent(context.Background(), 2, false))

	jobs, err := st.RecentJobs(context.Background(), "", 50)
	require.NoError(t, err)
	assert.Len(t, jobs, 4) // 2 sources x 2 days
}
