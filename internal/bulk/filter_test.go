package bulk

import (
	"testing"

	"github.com/edgeops/edgectl/internal/papi"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() WorkingSet {
	return rowsFromResults([]papi.SearchResult{
		{PropertyID: 1, PropertyName: "www.example.com", PropertyVersion: 4, IsLatest: true, ProductionStatus: "ACTIVE", StagingStatus: "ACTIVE"},
		{PropertyID: 2, PropertyName: "qa.example.com", PropertyVersion: 9, IsLatest: true, ProductionStatus: "INACTIVE", StagingStatus: "ACTIVE"},
		{PropertyID: 3, PropertyName: "stg-api.example.com", PropertyVersion: 2, ProductionStatus: "INACTIVE", StagingStatus: "INACTIVE"},
		{PropertyID: 4, PropertyName: "shop.example.org", PropertyVersion: 12, IsLatest: true, ProductionStatus: "ACTIVE", StagingStatus: "INACTIVE"},
	})
}

func ids(rows WorkingSet) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.PropertyID)
	}
	return out
}

func TestFilterPredicates(t *testing.T) {
	include := writeFile(t, "include.txt", "www.example.com\n\n  shop.example.org  \n")
	exclude := writeFile(t, "exclude.txt", "qa.example.com\n")

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"none", Filter{}, []int64{1, 2, 3, 4}},
		{"production", Filter{Version: VersionProduction}, []int64{1, 4}},
		{"staging", Filter{Version: VersionStaging}, []int64{1, 2}},
		{"latest", Filter{Version: VersionLatest}, []int64{1, 2, 4}},
		{"name contains", Filter{NameContains: "example.com"}, []int64{1, 2, 3}},
		{"env", Filter{Env: "staging"}, []int64{3}},
		{"property", Filter{Properties: []string{"qa.example.com", "missing"}}, []int64{2}},
		{"include", Filter{Include: include}, []int64{1, 4}},
		{"exclude", Filter{Exclude: exclude}, []int64{1, 3, 4}},
		{"combined", Filter{Version: VersionLatest, NameContains: ".com", Exclude: exclude}, []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.filter.Apply(sampleRows(), zerolog.Nop())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestFilterProductNeedsEnrichment(t *testing.T) {
	rows := sampleRows()
	rows[0].ProductID = "prd_Fresca"
	rows[3].ProductID = "prd_Site_Accel"

	c, err := Filter{Product: "prd_Fresca"}.compile()
	require.NoError(t, err)
	assert.Len(t, c.ApplyRaw(rows, zerolog.Nop()), 4)
	assert.Equal(t, []int64{1}, ids(c.ApplyEnriched(rows, zerolog.Nop())))
}

func TestFilterIdempotent(t *testing.T) {
	f := Filter{Version: VersionLatest, NameContains: "example"}
	once, err := f.Apply(sampleRows(), zerolog.Nop())
	require.NoError(t, err)
	twice, err := f.Apply(once, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	again, err := f.Apply(sampleRows(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, once, again)
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	rows := sampleRows()
	_, err := Filter{Version: VersionProduction}.Apply(rows, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(rows))
}

func TestFilterRejectsIncludeWithExclude(t *testing.T) {
	_, err := Filter{Include: "a.txt", Exclude: "b.txt"}.Apply(sampleRows(), zerolog.Nop())
	assert.EqualError(t, err, "--include and --exclude are mutually exclusive")
}

func TestFilterMissingNameList(t *testing.T) {
	_, err := Filter{Include: "/does/not/exist.txt"}.Apply(sampleRows(), zerolog.Nop())
	assert.ErrorContains(t, err, "reading name list")
}

func TestLoadNameList(t *testing.T) {
	names, err := LoadNameList(writeFile(t, "names.txt", " a.example.com \n\nb.example.com\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, names)
}

func TestLockedRow(t *testing.T) {
	assert.False(t, WorkingRow{}.Locked())
	assert.False(t, WorkingRow{ProductionStatus: "INACTIVE", StagingStatus: "INACTIVE"}.Locked())
	assert.True(t, WorkingRow{IsLocked: true}.Locked())
	assert.True(t, WorkingRow{StagingStatus: "ACTIVE"}.Locked())
	assert.True(t, WorkingRow{ProductionStatus: "DEACTIVATED"}.Locked())
}
