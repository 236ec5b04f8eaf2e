package bulk

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/edgeops/edgectl/internal/papi"
	"github.com/edgeops/edgectl/internal/workbook"
)

// Sheet names, one per stage.
const (
	SheetSearch     = "search_results"
	SheetCreate     = "data"
	SheetUpdate     = "update"
	SheetActivation = "activation"
	SheetAdd        = "add_results"
)

const colHyperlink = "propertyName(hyperlink)"

var workingColumns = []string{
	"propertyId", "propertyName", "propertyVersion", "propertyType",
	"isLatest", "isLocked", "isSecure", "productionStatus", "stagingStatus",
	"lastModifiedTime", "matchLocations",
	"env", "contractId", "groupId", "groupName", "assetId", "ruleFormat",
	"productId", "updatedDate", "hostnames", "propertyURL", colHyperlink,
}

var workingRequired = []string{"propertyId", "propertyName", "propertyVersion", "matchLocations"}

var (
	SearchSchema = workbook.Schema{
		Sheet:    SheetSearch,
		Columns:  workingColumns,
		Required: workingRequired,
	}
	CreateSchema = workbook.Schema{
		Sheet:    SheetCreate,
		Columns:  concat(workingColumns, "base_version", "new_version", "createVersionStatus"),
		Required: concat(workingRequired, "base_version", "new_version", "createVersionStatus"),
	}
	UpdateSchema = workbook.Schema{
		Sheet: SheetUpdate,
		Columns: []string{
			"bulkPatchId", "propertyId", "propertyName", "version", "status", "fatalError",
			"ruleFormat", "assetId", "groupId", "url", "note_status",
		},
		Required: []string{"propertyId", "version", "status"},
	}
	ActivationSchema = workbook.Schema{
		Sheet: SheetActivation,
		Columns: []string{
			"bulkActivationId", "activationId", "propertyId", "propertyName", "propertyVersion",
			"network", "taskStatus", "activation_status", "fatalError", "propertyActivationsLink",
		},
		Required: []string{"propertyId", "propertyVersion", "network"},
	}
	AddSchema = workbook.Schema{
		Sheet: SheetAdd,
		Columns: concat(workingColumns,
			"base_version", "target_version", "createVersionStatus", "behavior_exist", "update_status", "error"),
		Required: workingRequired,
	}
)

func concat(base []string, extra ...string) []string {
	return append(slices.Clone(base), extra...)
}

func workingValues(r WorkingRow) []any {
	return []any{
		r.PropertyID, r.PropertyName, r.PropertyVersion, r.PropertyType,
		r.IsLatest, r.IsLocked, r.IsSecure, r.ProductionStatus, r.StagingStatus,
		r.LastModifiedTime, workbook.EncodeList(r.MatchLocations),
		r.Env, r.ContractID, r.GroupID, r.GroupName, r.AssetID, r.RuleFormat,
		r.ProductID, r.UpdatedDate, strings.Join(r.Hostnames, ", "), r.PropertyURL,
		workbook.Formula(hyperlinkFormula(r)),
	}
}

// hyperlinkFormula is empty when the row has no console URL; the cell is then
// left blank rather than holding a formula that evaluates to the name.
func hyperlinkFormula(r WorkingRow) string {
	link := r.Hyperlink()
	if link == r.PropertyName {
		return ""
	}
	return link
}

// cellReader decodes typed values from one workbook row, remembering the
// first failure.
type cellReader struct {
	rec map[string]string
	row int
	err error
}

func (c *cellReader) str(col string) string {
	return strings.TrimSpace(c.rec[col])
}

func (c *cellReader) int64(col string) int64 {
	s := c.str(col)
	if s == "" || c.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Numeric cells sometimes come back as "6.0".
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int64(f)) {
			c.err = fmt.Errorf("row %d: column %s: %q is not an integer", c.row, col, s)
			return 0
		}
		n = int64(f)
	}
	return n
}

func (c *cellReader) int(col string) int {
	return int(c.int64(col))
}

func (c *cellReader) bool(col string) bool {
	s := c.str(col)
	if s == "" || c.err != nil {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		c.err = fmt.Errorf("row %d: column %s: %q is not a boolean", c.row, col, s)
	}
	return b
}

func (c *cellReader) list(col string, strip bool) []string {
	s := c.str(col)
	if strip {
		s = workbook.StripStrictMode(s)
	}
	items, err := workbook.DecodeList(s)
	if err != nil && c.err == nil {
		c.err = fmt.Errorf("row %d: column %s: %w", c.row, col, err)
	}
	return items
}

func (c *cellReader) working(strip bool) WorkingRow {
	r := WorkingRow{
		PropertyID:       c.int64("propertyId"),
		PropertyName:     c.str("propertyName"),
		PropertyVersion:  c.int("propertyVersion"),
		PropertyType:     c.str("propertyType"),
		IsLatest:         c.bool("isLatest"),
		IsLocked:         c.bool("isLocked"),
		IsSecure:         c.bool("isSecure"),
		ProductionStatus: c.str("productionStatus"),
		StagingStatus:    c.str("stagingStatus"),
		LastModifiedTime: c.str("lastModifiedTime"),
		MatchLocations:   c.list("matchLocations", strip),
		Env:              c.str("env"),
		ContractID:       c.str("contractId"),
		GroupID:          c.int64("groupId"),
		GroupName:        c.str("groupName"),
		AssetID:          c.int64("assetId"),
		RuleFormat:       c.str("ruleFormat"),
		ProductID:        c.str("productId"),
		UpdatedDate:      c.str("updatedDate"),
		PropertyURL:      c.str("propertyURL"),
	}
	if h := c.str("hostnames"); h != "" {
		r.Hostnames = strings.Split(h, ", ")
	}
	if r.PropertyID == 0 && c.err == nil {
		c.err = fmt.Errorf("row %d: propertyId is empty", c.row)
	}
	return r
}

// WriteWorkingSet writes a search workbook.
func WriteWorkingSet(path string, rows WorkingSet) error {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, workingValues(r))
	}
	return workbook.Write(path, SearchSchema, out)
}

// ReadWorkingSet loads a search workbook. With strip set, the strict-mode
// suffix is removed from every matchLocations cell before decoding.
func ReadWorkingSet(path string, strip bool) (WorkingSet, error) {
	recs, err := workbook.Read(path, SearchSchema)
	if err != nil {
		return nil, err
	}
	rows := make(WorkingSet, 0, len(recs))
	for i, rec := range recs {
		c := cellReader{rec: rec, row: i + 2}
		r := c.working(strip)
		if c.err != nil {
			return nil, fmt.Errorf("%s: %w", SheetSearch, c.err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// WriteCreateRows writes a create workbook.
func WriteCreateRows(path string, rows []CreateRow) error {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, append(workingValues(r.WorkingRow), r.BaseVersion, r.NewVersion, r.CreateStatus))
	}
	return workbook.Write(path, CreateSchema, out)
}

// ReadCreateRows loads a create workbook.
func ReadCreateRows(path string) ([]CreateRow, error) {
	recs, err := workbook.Read(path, CreateSchema)
	if err != nil {
		return nil, err
	}
	rows := make([]CreateRow, 0, len(recs))
	for i, rec := range recs {
		c := cellReader{rec: rec, row: i + 2}
		r := CreateRow{
			WorkingRow:   c.working(false),
			BaseVersion:  c.int("base_version"),
			NewVersion:   c.int("new_version"),
			CreateStatus: c.str("createVersionStatus"),
		}
		if c.err != nil {
			return nil, fmt.Errorf("%s: %w", SheetCreate, c.err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// WriteUpdateRows writes an update workbook.
func WriteUpdateRows(path string, rows []UpdateRow) error {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, []any{
			r.BulkPatchID, r.PropertyID, r.PropertyName, r.Version, r.Status, r.FatalError,
			r.RuleFormat, r.AssetID, r.GroupID, r.URL, r.NoteStatus,
		})
	}
	return workbook.Write(path, UpdateSchema, out)
}

// WriteActivationRows writes an activation workbook.
func WriteActivationRows(path string, rows []ActivationRow) error {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, []any{
			r.BulkActivationID, r.ActivationID, r.PropertyID, r.PropertyName, r.PropertyVersion,
			r.Network, r.TaskStatus, r.ActivationStatus, r.FatalError, r.Link,
		})
	}
	return workbook.Write(path, ActivationSchema, out)
}

// WriteAddRows writes an add-behavior workbook.
func WriteAddRows(path string, rows []AddRow) error {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, append(workingValues(r.WorkingRow),
			r.BaseVersion, r.TargetVersion, r.CreateStatus, r.BehaviorExist, r.UpdateStatus, r.Error))
	}
	return workbook.Write(path, AddSchema, out)
}

// ReadAddRows loads an add-behavior workbook.
func ReadAddRows(path string) ([]AddRow, error) {
	recs, err := workbook.Read(path, AddSchema)
	if err != nil {
		return nil, err
	}
	rows := make([]AddRow, 0, len(recs))
	for i, rec := range recs {
		c := cellReader{rec: rec, row: i + 2}
		r := AddRow{
			WorkingRow:    c.working(false),
			BaseVersion:   c.int("base_version"),
			TargetVersion: c.int("target_version"),
			CreateStatus:  c.str("createVersionStatus"),
			BehaviorExist: c.bool("behavior_exist"),
			UpdateStatus:  c.int("update_status"),
			Error:         c.str("error"),
		}
		if c.err != nil {
			return nil, fmt.Errorf("%s: %w", SheetAdd, c.err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// readStageInput loads rows to act on. A create workbook is used as is; an
// add-behavior workbook contributes its target versions, with failed rows
// marked so later stages skip them; a search workbook contributes its own
// versions.
func readStageInput(path string, strip bool) ([]CreateRow, error) {
	sheets, err := workbook.Sheets(path)
	if err != nil {
		return nil, err
	}
	if slices.Contains(sheets, SheetCreate) {
		return ReadCreateRows(path)
	}
	if slices.Contains(sheets, SheetAdd) {
		added, err := ReadAddRows(path)
		if err != nil {
			return nil, err
		}
		out := make([]CreateRow, 0, len(added))
		for _, r := range added {
			row := CreateRow{WorkingRow: r.WorkingRow, BaseVersion: r.BaseVersion, NewVersion: r.TargetVersion, CreateStatus: papi.StatusComplete}
			if r.Error != "" || r.TargetVersion == 0 {
				row.NewVersion, row.CreateStatus = 0, "ERROR"
			}
			out = append(out, row)
		}
		return out, nil
	}
	rows, err := ReadWorkingSet(path, strip)
	if err != nil {
		return nil, err
	}
	out := make([]CreateRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, CreateRow{WorkingRow: r, BaseVersion: r.PropertyVersion})
	}
	return out, nil
}
