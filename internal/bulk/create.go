package bulk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/edgeops/edgectl/internal/audit"
	"github.com/edgeops/edgectl/internal/enrich"
	"github.com/edgeops/edgectl/internal/papi"
	"github.com/edgeops/edgectl/internal/render"
	"github.com/edgeops/edgectl/internal/workbook"
)

// CreateOptions selects the rows that get a successor version. Exactly one of
// ID (review), InputExcel and BulkSearchID is set.
type CreateOptions struct {
	ID              int64  `flag:"id"`
	InputExcel      string `flag:"input-excel"`
	BulkSearchID    int64  `flag:"bulksearchid"`
	Version         string `flag:"version" validate:"omitempty,oneof=production staging latest"`
	StripStrictMode bool   `flag:"strip-strict-mode"`
	Tag             string `flag:"tag"`
}

// CreateResult is the outcome of the CREATE stage.
type CreateResult struct {
	JobID    int64
	Rows     []CreateRow
	Workbook string
}

func countSet(vals ...bool) int {
	n := 0
	for _, v := range vals {
		if v {
			n++
		}
	}
	return n
}

// Create runs the CREATE stage: submit one bulk version-creation job, wait for
// it, and join its rows back onto the working set by property.
func (e *Engine) Create(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	if countSet(opts.ID != 0, opts.InputExcel != "", opts.BulkSearchID != 0) != 1 {
		return nil, errors.New("exactly one of --id, --input-excel or --bulksearchid is required")
	}
	if opts.BulkSearchID != 0 && opts.Version == "" {
		return nil, errors.New("--version is required with --bulksearchid")
	}
	if err := e.check(opts); err != nil {
		return nil, err
	}

	if opts.ID != 0 {
		return e.reviewCreate(ctx, opts)
	}

	var rows WorkingSet
	if opts.InputExcel != "" {
		ws, err := ReadWorkingSet(opts.InputExcel, opts.StripStrictMode)
		if err != nil {
			return nil, err
		}
		rows = ws
	} else {
		job, err := e.awaitSearch(ctx, opts.BulkSearchID)
		if err != nil {
			return nil, err
		}
		rows, err = Filter{Version: opts.Version}.Apply(rowsFromResults(job.Results), e.logger)
		if err != nil {
			return nil, err
		}
		if opts.StripStrictMode {
			for i := range rows {
				rows[i].MatchLocations = stripLocations(rows[i].MatchLocations)
			}
		}
	}
	if len(rows) == 0 {
		return nil, ErrNoProperties
	}

	pending := make([]int, 0, len(rows))
	for i, r := range rows {
		if !r.enriched() {
			pending = append(pending, i)
		}
	}
	if err := e.forEach(ctx, len(pending), func(ctx context.Context, k int) error {
		row := &rows[pending[k]]
		return e.enrichRow(ctx, row, row.PropertyVersion)
	}); err != nil {
		return nil, err
	}

	pairs := make([]papi.VersionPair, 0, len(rows))
	for _, r := range rows {
		pairs = append(pairs, papi.VersionPair{PropertyID: r.PropertyID, CreateFromVersion: r.PropertyVersion})
	}
	id, err := e.api.SubmitBulkCreate(ctx, pairs)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Int64("bulkCreateId", id).Int("pairs", len(pairs)).Msg("bulk create submitted")
	e.audit(audit.EventVersionsCreated, map[string]any{"bulkCreateId": id, "pairs": len(pairs)})

	job, err := e.awaitCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &CreateResult{JobID: id, Rows: e.joinCreate(rows, job)}
	if err := e.checkSuccessors(ctx, res.Rows); err != nil {
		return nil, err
	}
	return res, e.finishCreate(res, opts.Tag)
}

// checkSuccessors warns about created versions that are not the newest
// version of their property, which means another version appeared meanwhile.
func (e *Engine) checkSuccessors(ctx context.Context, rows []CreateRow) error {
	return e.forEach(ctx, len(rows), func(ctx context.Context, i int) error {
		row := rows[i]
		if !row.Created() {
			return nil
		}
		log := e.logger.With().Int64("propertyId", row.PropertyID).Int("new_version", row.NewVersion).Logger()
		list, err := e.api.ListVersions(ctx, row.PropertyID)
		if err != nil {
			if fatal(err) {
				return err
			}
			log.Warn().Err(err).Msg("version list lookup failed")
			return nil
		}
		if latest := list.Latest(); latest != row.NewVersion {
			log.Warn().Int("latest_version", latest).Msg("new version is not the newest version of the property")
		}
		return nil
	})
}

// reviewCreate rebuilds the CREATE output from the job id alone.
func (e *Engine) reviewCreate(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	job, err := e.awaitCreate(ctx, opts.ID)
	if err != nil {
		return nil, err
	}
	rows := make(WorkingSet, 0, len(job.CreatePropertyVersions))
	for _, cv := range job.CreatePropertyVersions {
		rows = append(rows, WorkingRow{PropertyID: cv.PropertyID, PropertyVersion: cv.CreateFromVersion})
	}
	if err := e.enrichAll(ctx, rows, func(r WorkingRow) int { return r.PropertyVersion }); err != nil {
		return nil, err
	}
	res := &CreateResult{JobID: opts.ID, Rows: e.joinCreate(rows, job)}
	return res, e.finishCreate(res, opts.Tag)
}

func (e *Engine) awaitCreate(ctx context.Context, id int64) (*papi.BulkCreate, error) {
	job, err := poll(ctx, e, "bulk create", id, func(ctx context.Context) (*papi.BulkCreate, bool, error) {
		job, err := e.api.GetBulkCreate(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return job, job.Done(), nil
	})
	if err != nil {
		return nil, err
	}
	e.snapshot(StageCreate, id, "", job)
	return job, nil
}

type versionKey struct {
	propertyID int64
	version    int
}

// joinCreate left-joins the job rows onto rows by (propertyId, base version).
func (e *Engine) joinCreate(rows WorkingSet, job *papi.BulkCreate) []CreateRow {
	created := make(map[versionKey]papi.CreatedVersion, len(job.CreatePropertyVersions))
	for _, cv := range job.CreatePropertyVersions {
		created[versionKey{cv.PropertyID, cv.CreateFromVersion}] = cv
	}

	out := make([]CreateRow, 0, len(rows))
	for _, r := range rows {
		row := CreateRow{WorkingRow: r, BaseVersion: r.PropertyVersion}
		if cv, ok := created[versionKey{r.PropertyID, r.PropertyVersion}]; ok {
			row.NewVersion = cv.PropertyVersion
			row.CreateStatus = cv.CreateVersionStatus
		}
		log := e.logger.With().Int64("propertyId", r.PropertyID).Int("base_version", row.BaseVersion).Logger()
		switch {
		case !row.Created():
			log.Warn().Str("createVersionStatus", row.CreateStatus).Msg("version not created")
		case row.NewVersion <= row.BaseVersion:
			log.Warn().Int("new_version", row.NewVersion).Msg("new version does not follow base version")
		}
		if row.Created() && row.AssetID != 0 {
			row.PropertyURL = enrich.PropertyURL(e.opts.ConsoleURL, row.AssetID, row.NewVersion, row.GroupID)
		}
		out = append(out, row)
	}
	return out
}

func (e *Engine) finishCreate(res *CreateResult, tag string) error {
	t := render.Table{Headers: []string{"propertyId", "propertyName", "base_version", "new_version", "createVersionStatus"}}
	for _, r := range res.Rows {
		t.Rows = append(t.Rows, []string{
			itoa(r.PropertyID), r.PropertyName, strconv.Itoa(r.BaseVersion), strconv.Itoa(r.NewVersion), r.CreateStatus,
		})
	}
	render.Print(e.opts.Out, fmt.Sprintf("bulk create %d", res.JobID), t)

	res.Workbook = WorkbookPath(e.opts.Dir, tag, StageCreate, e.jobLabel(res.JobID))
	if err := WriteCreateRows(res.Workbook, res.Rows); err != nil {
		return err
	}
	e.done(res.Workbook,
		fmt.Sprintf("edgectl bulk create --id %d", res.JobID),
		fmt.Sprintf("edgectl bulk update --input-excel %s --jsonpath PATCH.json --note NOTE", res.Workbook))
	return nil
}

func stripLocations(locs []string) []string {
	out := make([]string, len(locs))
	for i, l := range locs {
		out[i] = strings.ReplaceAll(l, workbook.StrictModeSuffix, "")
	}
	return out
}
