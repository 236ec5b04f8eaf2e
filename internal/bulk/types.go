package bulk

import (
	"strconv"

	"github.com/edgeops/edgectl/internal/enrich"
	"github.com/edgeops/edgectl/internal/papi"
)

// WorkingRow is one property version of a working set: the search columns
// plus the enrichment columns filled in by the worker pool.
type WorkingRow struct {
	PropertyID       int64
	PropertyName     string
	PropertyVersion  int
	PropertyType     string
	IsLatest         bool
	IsLocked         bool
	IsSecure         bool
	ProductionStatus string
	StagingStatus    string
	LastModifiedTime string
	MatchLocations   []string

	Env         string
	ContractID  string
	GroupID     int64
	GroupName   string
	AssetID     int64
	RuleFormat  string
	ProductID   string
	UpdatedDate string
	Hostnames   []string
	PropertyURL string
}

// WorkingSet is an ordered list of rows. Order is the remote's result order.
type WorkingSet []WorkingRow

func rowFromResult(r papi.SearchResult) WorkingRow {
	return WorkingRow{
		PropertyID:       r.PropertyID,
		PropertyName:     r.PropertyName,
		PropertyVersion:  r.PropertyVersion,
		PropertyType:     r.PropertyType,
		IsLatest:         r.IsLatest,
		IsLocked:         r.IsLocked,
		IsSecure:         r.IsSecure,
		ProductionStatus: r.ProductionStatus,
		StagingStatus:    r.StagingStatus,
		LastModifiedTime: r.LastModifiedTime,
		MatchLocations:   r.MatchLocations,
		Env:              enrich.Env(r.PropertyName),
	}
}

func rowsFromResults(results []papi.SearchResult) WorkingSet {
	rows := make(WorkingSet, 0, len(results))
	for _, r := range results {
		rows = append(rows, rowFromResult(r))
	}
	return rows
}

// Locked reports whether the row's version can no longer be edited in place.
func (r WorkingRow) Locked() bool {
	if r.IsLocked {
		return true
	}
	return (r.ProductionStatus != "" && r.ProductionStatus != papi.StatusInactive) ||
		(r.StagingStatus != "" && r.StagingStatus != papi.StatusInactive)
}

// Hyperlink is the display-only spreadsheet formula for the row.
func (r WorkingRow) Hyperlink() string {
	return enrich.Hyperlink(r.PropertyURL, r.PropertyName)
}

func (r WorkingRow) enriched() bool {
	return r.AssetID != 0
}

// CreateRow is a working row joined with its bulk-create outcome.
type CreateRow struct {
	WorkingRow
	BaseVersion  int
	NewVersion   int
	CreateStatus string
}

// Created reports whether a successor version exists for the row.
func (r CreateRow) Created() bool {
	return r.NewVersion > 0 && r.CreateStatus == papi.StatusComplete
}

// UpdateRow is one row of a bulk patch job.
type UpdateRow struct {
	BulkPatchID  int64
	PropertyID   int64
	PropertyName string
	Version      int
	Status       string
	FatalError   string
	RuleFormat   string
	AssetID      int64
	GroupID      int64
	URL          string
	NoteStatus   int
}

// ActivationRow is one row of an activation, batch or per-property.
type ActivationRow struct {
	BulkActivationID int64
	ActivationID     int64
	PropertyID       int64
	PropertyName     string
	PropertyVersion  int
	Network          string
	TaskStatus       string
	ActivationStatus string
	FatalError       string
	Link             string
}

// AddRow is the outcome of adding a behavior to one property.
type AddRow struct {
	WorkingRow
	BaseVersion   int
	TargetVersion int
	CreateStatus  string
	BehaviorExist bool
	UpdateStatus  int
	Error         string
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
