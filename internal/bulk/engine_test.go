package bulk

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgeops/edgectl/internal/papi"
	"github.com/edgeops/edgectl/internal/papi/papitest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC) }

func newTestEngine(t *testing.T, srv *papitest.Server, workers int) (*Engine, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	e := NewEngine(papi.New(srv.Client()), Options{
		Workers:      workers,
		PollInterval: time.Millisecond,
		ConsoleURL:   "https://console.example.net",
		Dir:          t.TempDir(),
		Out:          out,
		Logger:       zerolog.Nop(),
		Now:          fixedNow,
	})
	return e, out
}

// seedProperty registers a property whose versions 1..latest exist; the latest
// one is inactive and the rest were activated at some point.
func seedProperty(srv *papitest.Server, id int64, name string, latest int) {
	p := papitest.Property{
		ID: id, Name: name, ContractID: "ctr_C-1", GroupID: 244000, AssetID: id * 100,
		ProductID: "prd_Fresca", RuleFormat: "v2023-01-05",
		Hostnames: []string{name},
	}
	for v := 1; v <= latest; v++ {
		status := papi.StatusInactive
		if v < latest {
			status = papi.StatusActive
		}
		p.Versions = append(p.Versions, papi.Version{
			PropertyVersion: v, ProductionStatus: status, StagingStatus: status,
			ProductID: "prd_Fresca", RuleFormat: "v2023-01-05", UpdatedDate: "2024-05-01T10:00:00Z",
		})
	}
	srv.AddProperty(p)
}

func latestResult(id int64, name string, version int) papi.SearchResult {
	return papi.SearchResult{
		PropertyID: id, PropertyName: name, PropertyVersion: version, IsLatest: true,
		ProductionStatus: papi.StatusInactive, StagingStatus: papi.StatusInactive,
		MatchLocations: []string{"/rules/behaviors/0"},
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewEngineClampsWorkers(t *testing.T) {
	srv := papitest.New(t)
	e, _ := newTestEngine(t, srv, 50)
	assert.Equal(t, 10, e.opts.Workers)

	e, _ = newTestEngine(t, srv, 0)
	assert.Equal(t, 4, e.opts.Workers)

	e, _ = newTestEngine(t, srv, -3)
	assert.Equal(t, 1, e.opts.Workers)
}

func TestWorkbookPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "bulk_search_12.xlsx"), WorkbookPath("out", "", StageSearch, "12"))
	assert.Equal(t, filepath.Join("out", "bulk_q3_create_7.xlsx"), WorkbookPath("out", "q3", StageCreate, "7"))
}

func TestJobLabel(t *testing.T) {
	srv := papitest.New(t)
	e, _ := newTestEngine(t, srv, 4)
	assert.Equal(t, "3_4", e.jobLabel(3, 4))
	assert.Equal(t, "20240601_123000", e.jobLabel())
	assert.Equal(t, "20240601_123000", e.jobLabel(0))
}

func TestCheckReportsFlagNames(t *testing.T) {
	srv := papitest.New(t)
	e, _ := newTestEngine(t, srv, 4)

	err := e.check(SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, "--id is required with this combination of options", err.Error())

	err = e.check(CreateOptions{BulkSearchID: 1, Version: "newest"})
	require.Error(t, err)
	assert.Equal(t, "--version must be one of: production staging latest", err.Error())
}

func TestEnrichmentIsBounded(t *testing.T) {
	srv := papitest.New(t)
	srv.Delay = 5 * time.Millisecond
	var results []papi.SearchResult
	for i := range 12 {
		id := int64(500 + i)
		name := fmt.Sprintf("site%d.example.com", i)
		seedProperty(srv, id, name, 2)
		results = append(results, latestResult(id, name, 2))
	}
	srv.SearchResults = results

	e, _ := newTestEngine(t, srv, 3)
	res, err := e.Search(context.Background(), SearchOptions{
		JSONPath: writeFile(t, "q.json", `{"bulkSearchQuery":{"syntax":"JSONPATH","match":"$..behaviors"}}`),
	})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 12)
	assert.LessOrEqual(t, srv.MaxInFlight(), 3)
	assert.Greater(t, srv.MaxInFlight(), 1)
}

func TestEnrichRowKeepsSentinelOnFailure(t *testing.T) {
	srv := papitest.New(t)
	seedProperty(srv, 10, "www.example.com", 2)
	srv.FailVersions = map[int64]bool{10: true}
	e, _ := newTestEngine(t, srv, 2)

	row := WorkingRow{PropertyID: 10, PropertyName: "www.example.com", PropertyVersion: 2}
	require.NoError(t, e.enrichRow(context.Background(), &row, 2))
	assert.Equal(t, "10", row.PropertyURL)
	assert.Zero(t, row.AssetID)
	assert.Equal(t, []string{"www.example.com"}, row.Hostnames)
}

func TestEnrichRowFillsColumns(t *testing.T) {
	srv := papitest.New(t)
	srv.Groups = []papi.Group{{GroupID: 244000, GroupName: "Media"}}
	seedProperty(srv, 10, "www.example.com", 2)
	e, _ := newTestEngine(t, srv, 2)

	row := WorkingRow{PropertyID: 10, PropertyName: "www.example.com", PropertyVersion: 2}
	require.NoError(t, e.enrichRow(context.Background(), &row, 2))
	assert.Equal(t, "ctr_C-1", row.ContractID)
	assert.Equal(t, int64(244000), row.GroupID)
	assert.Equal(t, "Media", row.GroupName)
	assert.Equal(t, int64(1000), row.AssetID)
	assert.Equal(t, "v2023-01-05", row.RuleFormat)
	assert.Equal(t, "prd_Fresca", row.ProductID)
	assert.Equal(t, "2024-05-01 10:00", row.UpdatedDate)
	assert.Equal(t, "https://console.example.net/apps/property-manager/#/property-version/1000/2/edit?gid=244000", row.PropertyURL)
}

func TestRateLimitStopsStage(t *testing.T) {
	srv := papitest.New(t)
	srv.RateLimited = true
	e, _ := newTestEngine(t, srv, 2)

	_, err := e.Search(context.Background(), SearchOptions{ID: 44})
	require.Error(t, err)
	assert.True(t, fatal(err))
}
