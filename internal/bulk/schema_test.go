package bulk

import (
	"path/filepath"
	"testing"

	"github.com/edgeops/edgectl/internal/workbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullRow() WorkingRow {
	return WorkingRow{
		PropertyID: 10, PropertyName: "www.example.com", PropertyVersion: 5, PropertyType: "TRADITIONAL",
		IsLatest: true, ProductionStatus: "INACTIVE", StagingStatus: "ACTIVE",
		LastModifiedTime: "2024-05-01T10:00:00Z",
		MatchLocations:   []string{"/rules/behaviors/0/options/strictMode", "/rules/children/1/behaviors/2"},
		Env:              "prod", ContractID: "ctr_C-1", GroupID: 244000, GroupName: "Media",
		AssetID: 1000, RuleFormat: "v2023-01-05", ProductID: "prd_Fresca", UpdatedDate: "2024-05-01 10:00",
		Hostnames:   []string{"www.example.com", "example.com"},
		PropertyURL: "https://console.example.net/apps/property-manager/#/property-version/1000/5/edit?gid=244000",
	}
}

func TestWorkingSetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.xlsx")
	require.NoError(t, WriteWorkingSet(path, WorkingSet{fullRow()}))

	rows, err := ReadWorkingSet(path, false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, fullRow(), rows[0])
}

func TestMatchLocationsCellRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.xlsx")
	row := fullRow()
	require.NoError(t, WriteWorkingSet(path, WorkingSet{row}))

	recs, err := workbook.Read(path, SearchSchema)
	require.NoError(t, err)
	cell := recs[0]["matchLocations"]
	assert.Equal(t, `["/rules/behaviors/0/options/strictMode","/rules/children/1/behaviors/2"]`, cell)

	decoded, err := workbook.DecodeList(cell)
	require.NoError(t, err)
	assert.Equal(t, cell, workbook.EncodeList(decoded))

	stripped, err := ReadWorkingSet(path, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/rules/behaviors/0", "/rules/children/1/behaviors/2"}, stripped[0].MatchLocations)
}

func TestCreateRowsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "create.xlsx")
	in := []CreateRow{{WorkingRow: fullRow(), BaseVersion: 5, NewVersion: 6, CreateStatus: "COMPLETE"}}
	require.NoError(t, WriteCreateRows(path, in))

	out, err := ReadCreateRows(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	staged, err := readStageInput(path, false)
	require.NoError(t, err)
	assert.Equal(t, in, staged)
}

func TestReadStageInputFromSearchWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.xlsx")
	require.NoError(t, WriteWorkingSet(path, WorkingSet{fullRow()}))

	rows, err := readStageInput(path, false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].BaseVersion)
	assert.Zero(t, rows[0].NewVersion)
	assert.Empty(t, rows[0].CreateStatus)
}

func TestReadStageInputFromAddWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "add.xlsx")
	failed := fullRow()
	failed.PropertyID = 11
	require.NoError(t, WriteAddRows(path, []AddRow{
		{WorkingRow: fullRow(), BaseVersion: 5, TargetVersion: 6, CreateStatus: "COMPLETE", UpdateStatus: 200},
		{WorkingRow: failed, BaseVersion: 5, TargetVersion: 5, Error: "version is locked"},
	}))

	rows, err := readStageInput(path, false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Created())
	assert.Equal(t, 6, rows[0].NewVersion)
	assert.False(t, rows[1].Created())
	assert.Equal(t, "ERROR", rows[1].CreateStatus)
}

func TestReadWorkingSetRejectsBadCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xlsx")
	values := workingValues(fullRow())
	values[2] = "five"
	require.NoError(t, workbook.Write(path, SearchSchema, [][]any{values}))

	_, err := ReadWorkingSet(path, false)
	assert.ErrorContains(t, err, "propertyVersion")
}

func TestHyperlinkFormulaBlankWithoutURL(t *testing.T) {
	row := fullRow()
	assert.Contains(t, hyperlinkFormula(row), "HYPERLINK(")
	row.PropertyURL = "10"
	assert.Empty(t, hyperlinkFormula(row))
}
