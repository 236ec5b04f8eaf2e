package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/edgeops/edgectl/internal/audit"
	"github.com/edgeops/edgectl/internal/papi"
	"github.com/edgeops/edgectl/internal/render"
)

// UpdateOptions selects review (ID, optionally with Note) or apply
// (InputExcel with JSONPath and Note).
type UpdateOptions struct {
	ID         int64  `flag:"id"`
	InputExcel string `flag:"input-excel"`
	JSONPath   string `flag:"jsonpath" validate:"required_with=InputExcel"`
	Note       string `flag:"note" validate:"required_with=InputExcel"`
	Tag        string `flag:"tag"`
}

// UpdateResult is the outcome of the UPDATE stage.
type UpdateResult struct {
	JobID    int64
	Rows     []UpdateRow
	Workbook string
}

// Update runs the UPDATE stage. Apply mode submits one patch job and returns
// without waiting for it; review mode reports a job's state and can refresh
// the version note of completed rows.
func (e *Engine) Update(ctx context.Context, opts UpdateOptions) (*UpdateResult, error) {
	if countSet(opts.ID != 0, opts.InputExcel != "") != 1 {
		return nil, errors.New("exactly one of --id or --input-excel is required")
	}
	if err := e.check(opts); err != nil {
		return nil, err
	}
	if opts.ID != 0 {
		return e.reviewUpdate(ctx, opts)
	}
	return e.applyUpdate(ctx, opts)
}

// updateTarget picks the version a row's patch goes to: the fresh successor
// when one was created, the row's own version when it is still editable.
func updateTarget(r CreateRow) (int, bool) {
	if r.Created() {
		return r.NewVersion, true
	}
	if r.CreateStatus == "" && !r.Locked() {
		return r.PropertyVersion, true
	}
	return 0, false
}

func (e *Engine) applyUpdate(ctx context.Context, opts UpdateOptions) (*UpdateResult, error) {
	rows, err := readStageInput(opts.InputExcel, false)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(opts.JSONPath)
	if err != nil {
		return nil, fmt.Errorf("reading patch query: %w", err)
	}
	var ops []papi.PatchOp
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("patch query must be a JSON array of operations: %w", err)
	}

	var targets []papi.PatchTarget
	byProperty := map[int64]CreateRow{}
	for _, r := range rows {
		version, ok := updateTarget(r)
		if !ok {
			e.logger.Warn().Int64("propertyId", r.PropertyID).Int("version", r.PropertyVersion).
				Str("createVersionStatus", r.CreateStatus).Msg("no editable version, row skipped")
			continue
		}
		locations := r.MatchLocations
		if len(locations) == 0 {
			locations = []string{""}
		}
		t := papi.PatchTarget{PropertyID: r.PropertyID, PropertyVersion: version}
		for _, loc := range locations {
			for _, op := range ops {
				t.Patches = append(t.Patches, papi.PatchOp{Op: op.Op, Path: loc + op.Path, Value: op.Value})
			}
		}
		targets = append(targets, t)
		byProperty[r.PropertyID] = r
	}
	if len(targets) == 0 {
		return nil, ErrNoProperties
	}

	id, err := e.api.SubmitBulkPatch(ctx, targets)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Int64("bulkPatchId", id).Int("properties", len(targets)).Msg("bulk patch submitted")
	e.audit(audit.EventPatchSubmitted, map[string]any{"bulkPatchId": id, "properties": len(targets), "note": opts.Note})

	job, err := e.api.GetBulkPatch(ctx, id)
	if err != nil {
		return nil, err
	}
	e.snapshot(StageUpdate, id, opts.Note, job)

	res := &UpdateResult{JobID: id, Rows: updateRows(id, job)}
	for i := range res.Rows {
		row := &res.Rows[i]
		if src, ok := byProperty[row.PropertyID]; ok {
			row.RuleFormat = src.RuleFormat
			row.AssetID = src.AssetID
			row.GroupID = src.GroupID
			row.URL = src.PropertyURL
		}
	}
	return res, e.finishUpdate(res, opts.Tag,
		fmt.Sprintf("edgectl bulk update --id %d --note %s", id, strconv.Quote(opts.Note)))
}

func updateRows(id int64, job *papi.BulkPatch) []UpdateRow {
	rows := make([]UpdateRow, 0, len(job.PatchPropertyVersions))
	for _, pv := range job.PatchPropertyVersions {
		pid := pv.PatchPropertyID
		if pid == 0 {
			pid = pv.PropertyID
		}
		rows = append(rows, UpdateRow{
			BulkPatchID:  id,
			PropertyID:   pid,
			PropertyName: pv.PropertyName,
			Version:      pv.PatchPropertyVersion,
			Status:       pv.PatchPropertyVersionStatus,
			FatalError:   pv.FatalError,
		})
	}
	return rows
}

func (e *Engine) reviewUpdate(ctx context.Context, opts UpdateOptions) (*UpdateResult, error) {
	job, err := e.api.GetBulkPatch(ctx, opts.ID)
	if err != nil {
		return nil, err
	}
	e.snapshot(StageUpdate, opts.ID, "", job)

	res := &UpdateResult{JobID: opts.ID, Rows: updateRows(opts.ID, job)}
	err = e.forEach(ctx, len(res.Rows), func(ctx context.Context, i int) error {
		row := &res.Rows[i]
		wr := WorkingRow{PropertyID: row.PropertyID, PropertyName: row.PropertyName}
		if err := e.enrichRow(ctx, &wr, row.Version); err != nil {
			return err
		}
		row.PropertyName = wr.PropertyName
		row.RuleFormat = wr.RuleFormat
		row.AssetID = wr.AssetID
		row.GroupID = wr.GroupID
		row.URL = wr.PropertyURL

		if opts.Note == "" || row.Status != papi.StatusComplete {
			return nil
		}
		return e.refreshNote(ctx, row, opts.Note)
	})
	if err != nil {
		return nil, err
	}
	return res, e.finishUpdate(res, opts.Tag, fmt.Sprintf("edgectl bulk update --id %d", opts.ID))
}

// refreshNote re-submits a version's current rules unchanged so that the
// version carries note.
func (e *Engine) refreshNote(ctx context.Context, row *UpdateRow, note string) error {
	log := e.logger.With().Int64("propertyId", row.PropertyID).Int("version", row.Version).Logger()
	tree, err := e.api.GetRuleTree(ctx, row.PropertyID, row.Version)
	if err != nil {
		if fatal(err) {
			return err
		}
		log.Warn().Err(err).Msg("rule tree lookup failed, note not updated")
		return nil
	}
	format := tree.RuleFormat
	if format == "" {
		format = row.RuleFormat
	}
	status, body, err := e.api.PutRuleTree(ctx, row.PropertyID, row.Version, format, note, tree.Rules)
	if err != nil {
		if fatal(err) {
			return err
		}
		log.Warn().Err(err).Msg("note update failed")
		return nil
	}
	row.NoteStatus = status
	e.audit(audit.EventRulesUpdated, map[string]any{"propertyId": row.PropertyID, "version": row.Version, "status": status, "note": note})
	if status >= 300 {
		log.Warn().Int("status", status).Str("body", string(body)).Msg("note update rejected")
	}
	return nil
}

func (e *Engine) finishUpdate(res *UpdateResult, tag, review string) error {
	t := render.Table{Headers: []string{"propertyName", "version", "status", "ruleFormat", "url"}}
	if anyNote(res.Rows) {
		t.Headers = append(t.Headers, "note_status")
	}
	for _, r := range res.Rows {
		cells := []string{r.PropertyName, strconv.Itoa(r.Version), r.Status, r.RuleFormat, r.URL}
		if len(t.Headers) > 5 {
			cells = append(cells, strconv.Itoa(r.NoteStatus))
		}
		t.Rows = append(t.Rows, cells)
	}
	render.Print(e.opts.Out, fmt.Sprintf("bulk update %d", res.JobID), t)

	res.Workbook = WorkbookPath(e.opts.Dir, tag, StageUpdate, e.jobLabel(res.JobID))
	if err := WriteUpdateRows(res.Workbook, res.Rows); err != nil {
		return err
	}
	e.done(res.Workbook, review)
	return nil
}

func anyNote(rows []UpdateRow) bool {
	for _, r := range rows {
		if r.NoteStatus != 0 {
			return true
		}
	}
	return false
}
