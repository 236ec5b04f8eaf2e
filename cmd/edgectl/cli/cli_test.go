package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/edgeops/edgectl/internal/client"
	"github.com/edgeops/edgectl/internal/config"
	"github.com/edgeops/edgectl/internal/identity"
	"github.com/edgeops/edgectl/internal/papi"
	"github.com/edgeops/edgectl/internal/papi/papitest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubRemote(t *testing.T) *papitest.Server {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	srv := papitest.New(t)
	srv.AddProperty(papitest.Property{
		ID: 10, Name: "www.example.com", ContractID: "ctr_C-1", GroupID: 244000, AssetID: 1000,
		Versions: []papi.Version{{PropertyVersion: 5, ProductionStatus: "INACTIVE", StagingStatus: "INACTIVE", RuleFormat: "latest"}},
	})
	srv.SearchResults = []papi.SearchResult{{
		PropertyID: 10, PropertyName: "www.example.com", PropertyVersion: 5, IsLatest: true,
		ProductionStatus: "INACTIVE", StagingStatus: "INACTIVE", MatchLocations: []string{"/rules/behaviors/1"},
	}}

	prev := newClient
	newClient = func(config.Config, zerolog.Logger) (*client.Client, error) { return srv.Client(), nil }
	t.Cleanup(func() { newClient = prev })
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func queryFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "q.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bulkSearchQuery":{"syntax":"JSONPATH","match":"$..behaviors"}}`), 0o600))
	return path
}

func TestBulkSearchWritesUnderAccountDir(t *testing.T) {
	stubRemote(t)
	outDir := t.TempDir()

	out, err := run(t, "bulk", "search", "--jsonpath", queryFile(t), "--group", "244000", "--output-dir", outDir)
	require.NoError(t, err)

	workbook := filepath.Join(outDir, "Example_Media", "bulk", "bulk_search_1001.xlsx")
	assert.FileExists(t, workbook)
	assert.Contains(t, out, "workbook: ")
	assert.Contains(t, out, "next: edgectl bulk create --input-excel")
	assert.FileExists(t, filepath.Join(outDir, "Example_Media", "bulk", "catalog.db"))

	out, err = run(t, "bulk", "jobs", "--output-dir", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "STAGE")
	assert.Contains(t, out, "search")
	assert.Contains(t, out, "1001")

	out, err = run(t, "bulk", "jobs", "--verify", "--output-dir", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 snapshots intact")
}

func TestBulkJobsShowsSnapshot(t *testing.T) {
	stubRemote(t)
	outDir := t.TempDir()

	_, err := run(t, "bulk", "search", "--jsonpath", queryFile(t), "--group", "244000", "--output-dir", outDir)
	require.NoError(t, err)

	out, err := run(t, "bulk", "jobs", "--stage", "search", "--job", "1001", "--output-dir", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, `"bulkSearchId": 1001`)
	assert.Contains(t, out, "www.example.com")

	listing, err := run(t, "bulk", "jobs", "--output-dir", outDir)
	require.NoError(t, err)
	var prefix string
	for _, line := range strings.Split(listing, "\n") {
		if fields := strings.Fields(line); len(fields) > 1 && fields[1] == "search" {
			prefix = fields[0]
		}
	}
	require.NotEmpty(t, prefix)
	shown, err := run(t, "bulk", "jobs", "--show", prefix, "--output-dir", outDir)
	require.NoError(t, err)
	assert.Equal(t, out, shown)

	_, err = run(t, "bulk", "jobs", "--stage", "search", "--job", "77", "--output-dir", outDir)
	assert.ErrorContains(t, err, "no search snapshot for job 77")

	_, err = run(t, "bulk", "jobs", "--job", "1001", "--output-dir", outDir)
	assert.ErrorContains(t, err, "--job requires --stage")
}

func TestBulkAuditRecordsCreate(t *testing.T) {
	stubRemote(t)
	outDir := t.TempDir()

	out, err := run(t, "bulk", "audit", "--output-dir", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "No changes recorded.")

	_, err = run(t, "bulk", "search", "--jsonpath", queryFile(t), "--group", "244000", "--output-dir", outDir)
	require.NoError(t, err)
	workbook := filepath.Join(outDir, "Example_Media", "bulk", "bulk_search_1001.xlsx")
	_, err = run(t, "bulk", "create", "--input-excel", workbook, "--output-dir", outDir)
	require.NoError(t, err)

	out, err = run(t, "bulk", "audit", "--output-dir", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "EVENT")
	assert.Contains(t, out, "versions_created")
	assert.Contains(t, out, `"bulkCreateId":1002`)

	out, err = run(t, "bulk", "audit", "--verify", "--output-dir", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 audit records intact")
}

func TestBulkJobsEmpty(t *testing.T) {
	stubRemote(t)
	out, err := run(t, "bulk", "jobs", "--output-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No snapshots found.")
}

func TestAccountSwitchKeyNamesDirectory(t *testing.T) {
	srv := stubRemote(t)
	srv.SwitchKeys = map[string]string{"1-ABC:1-2RBL": "Acme Corp"}
	outDir := t.TempDir()

	_, err := run(t, "bulk", "search", "--jsonpath", queryFile(t), "--output-dir", outDir, "--account-key", "1-ABC:1-2RBL")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(outDir, "Acme_Corp", "bulk"))
}

func TestAccountSwitchKeyFromEnvironment(t *testing.T) {
	srv := stubRemote(t)
	srv.SwitchKeys = map[string]string{"1-XYZ": "Env Account"}
	t.Setenv("EDGECTL_ACCOUNT_SWITCH_KEY", "1-XYZ")
	outDir := t.TempDir()

	_, err := run(t, "bulk", "search", "--jsonpath", queryFile(t), "--output-dir", outDir)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(outDir, "Env_Account", "bulk"))
}

func TestNoSwitchContextIsTerminal(t *testing.T) {
	srv := stubRemote(t)
	srv.NoSwitchCtx = true

	_, err := run(t, "bulk", "search", "--jsonpath", queryFile(t), "--output-dir", t.TempDir(), "--account-key", "1-ABC")
	assert.ErrorIs(t, err, identity.ErrNoSwitchContext)
}

func TestRateLimitedSurfacesSentinel(t *testing.T) {
	srv := stubRemote(t)
	srv.RateLimited = true

	_, err := run(t, "bulk", "search", "--id", "44", "--output-dir", t.TempDir())
	assert.ErrorIs(t, err, client.ErrRateLimited)
}

func TestMutuallyExclusiveFlags(t *testing.T) {
	stubRemote(t)

	_, err := run(t, "bulk", "create", "--id", "1", "--bulksearchid", "2", "--output-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")

	_, err = run(t, "bulk", "search", "--contract", "ctr_C-1", "--group", "1", "--jsonpath", "q.json")
	require.Error(t, err)
}

func TestFilteredToEmptyIsAnError(t *testing.T) {
	stubRemote(t)
	_, err := run(t, "bulk", "search", "--jsonpath", queryFile(t), "--name-contains", "zzz", "--output-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, "no property found with requested conditions", err.Error())
}

func TestCooldown(t *testing.T) {
	var out bytes.Buffer
	Cooldown(context.Background(), &out, 30*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 3, strings.Count(out.String(), "cooling down"))
	assert.Contains(t, out.String(), "cooldown finished")

	out.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	Cooldown(ctx, &out, time.Minute, time.Second)
	assert.Equal(t, 1, strings.Count(out.String(), "cooling down"))
	assert.NotContains(t, out.String(), "finished")
}
