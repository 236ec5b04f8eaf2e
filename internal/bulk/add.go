package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/edgeops/edgectl/internal/audit"
	"github.com/edgeops/edgectl/internal/enrich"
	"github.com/edgeops/edgectl/internal/papi"
	"github.com/edgeops/edgectl/internal/render"
)

// AddOptions describes an ADD-BEHAVIOR run. Current and New are the literal
// strings "true" or "false" so that "--new false" parses as a value.
type AddOptions struct {
	InputJSON  string `flag:"input-json" validate:"required"`
	Note       string `flag:"note" validate:"required"`
	BulkID     int64  `flag:"bulk-id"`
	InputExcel string `flag:"input-excel"`
	Base       string `flag:"base" validate:"required,oneof=production staging latest"`
	Current    string `flag:"current" validate:"required,oneof=true false"`
	New        string `flag:"new" validate:"required,oneof=true false"`
	Tag        string `flag:"tag"`
	Output     string `flag:"output"`
}

// AddResult is the outcome of ADD-BEHAVIOR.
type AddResult struct {
	Rows     []AddRow
	Workbook string
}

// AddBehavior puts one behavior on the default rule of every selected
// property, creating a successor first when the base version is locked.
func (e *Engine) AddBehavior(ctx context.Context, opts AddOptions) (*AddResult, error) {
	if countSet(opts.BulkID != 0, opts.InputExcel != "") != 1 {
		return nil, errors.New("exactly one of --bulk-id or --input-excel is required")
	}
	if err := e.check(opts); err != nil {
		return nil, err
	}
	current, _ := strconv.ParseBool(opts.Current)
	newValue, _ := strconv.ParseBool(opts.New)

	desired, err := readBehavior(opts.InputJSON)
	if err != nil {
		return nil, err
	}
	if enabled, ok := BehaviorEnable(desired); ok && enabled != newValue {
		e.logger.Warn().Bool("enable", enabled).Bool("new", newValue).Msg("desired behavior does not carry the new value")
	}

	var rows WorkingSet
	if opts.InputExcel != "" {
		rows, err = ReadWorkingSet(opts.InputExcel, false)
	} else {
		var job *papi.BulkSearch
		job, err = e.awaitSearch(ctx, opts.BulkID)
		if err == nil {
			rows = rowsFromResults(job.Results)
		}
	}
	if err != nil {
		return nil, err
	}
	rows, err = Filter{Version: opts.Base}.Apply(rows, e.logger)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoProperties
	}

	out := make([]AddRow, len(rows))
	err = e.forEach(ctx, len(rows), func(ctx context.Context, i int) error {
		row := AddRow{WorkingRow: rows[i], BaseVersion: rows[i].PropertyVersion}
		defer func() { out[i] = row }()
		if !row.enriched() {
			if err := e.enrichRow(ctx, &row.WorkingRow, row.BaseVersion); err != nil {
				return err
			}
		}
		return e.addOne(ctx, &row, desired, current, newValue, opts.Note)
	})
	if err != nil {
		return nil, err
	}

	res := &AddResult{Rows: out}
	return res, e.finishAdd(res, opts)
}

func readBehavior(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading behavior: %w", err)
	}
	var b map[string]any
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("behavior must be a JSON object: %w", err)
	}
	if name, _ := b["name"].(string); name == "" {
		return nil, ErrNoBehaviorName
	}
	return b, nil
}

// addOne handles one row. Per-row failures end up in row.Error.
func (e *Engine) addOne(ctx context.Context, row *AddRow, desired map[string]any, current, newValue bool, note string) error {
	log := e.logger.With().Int64("propertyId", row.PropertyID).Int("base_version", row.BaseVersion).Logger()
	degrade := func(err error) error {
		if fatal(err) {
			return err
		}
		row.Error = err.Error()
		log.Warn().Err(err).Msg("add behavior failed")
		return nil
	}

	row.TargetVersion = row.BaseVersion
	if row.Locked() {
		version, status, err := e.createSuccessor(ctx, row.PropertyID, row.BaseVersion)
		row.CreateStatus = status
		if err != nil {
			return degrade(err)
		}
		row.TargetVersion = version
		if row.AssetID != 0 {
			row.PropertyURL = enrich.PropertyURL(e.opts.ConsoleURL, row.AssetID, version, row.GroupID)
		}
	}

	tree, err := e.api.GetRuleTree(ctx, row.PropertyID, row.TargetVersion)
	if err != nil {
		return degrade(err)
	}
	exist, warning, err := ApplyBehavior(tree.Rules, desired, current, newValue)
	if err != nil {
		return degrade(err)
	}
	if warning != "" {
		log.Warn().Msg(warning)
	}
	row.BehaviorExist = exist
	if exist {
		log.Debug().Msg("behavior already in place")
		return nil
	}

	format := row.RuleFormat
	if format == "" {
		format = tree.RuleFormat
	}
	status, body, err := e.api.PutRuleTree(ctx, row.PropertyID, row.TargetVersion, format, note, tree.Rules)
	if err != nil {
		return degrade(err)
	}
	row.UpdateStatus = status
	e.audit(audit.EventRulesUpdated, map[string]any{
		"propertyId": row.PropertyID, "version": row.TargetVersion, "status": status,
		"behavior": desired["name"], "note": note,
	})
	if status >= 300 {
		row.Error = strings.TrimSpace(string(body))
		log.Warn().Int("status", status).Msg("rule tree update rejected")
	}
	return nil
}

// createSuccessor runs a single-pair bulk create and returns the new version.
func (e *Engine) createSuccessor(ctx context.Context, propertyID int64, base int) (int, string, error) {
	id, err := e.api.SubmitBulkCreate(ctx, []papi.VersionPair{{PropertyID: propertyID, CreateFromVersion: base}})
	if err != nil {
		return 0, "", err
	}
	e.audit(audit.EventVersionsCreated, map[string]any{"bulkCreateId": id, "propertyId": propertyID, "from": base})
	job, err := e.awaitCreate(ctx, id)
	if err != nil {
		return 0, "", err
	}
	for _, cv := range job.CreatePropertyVersions {
		if cv.PropertyID != propertyID {
			continue
		}
		if cv.CreateVersionStatus != papi.StatusComplete || cv.PropertyVersion <= base {
			return 0, cv.CreateVersionStatus, fmt.Errorf("bulk create %d: version not created (%s)", id, cv.CreateVersionStatus)
		}
		return cv.PropertyVersion, cv.CreateVersionStatus, nil
	}
	return 0, "", fmt.Errorf("bulk create %d: property %d missing from job", id, propertyID)
}

func (e *Engine) finishAdd(res *AddResult, opts AddOptions) error {
	t := render.Table{Headers: []string{"propertyName", "base_version", "target_version", "behavior_exist", "update_status", "error"}}
	for _, r := range res.Rows {
		t.Rows = append(t.Rows, []string{
			r.PropertyName, strconv.Itoa(r.BaseVersion), strconv.Itoa(r.TargetVersion),
			strconv.FormatBool(r.BehaviorExist), strconv.Itoa(r.UpdateStatus), r.Error,
		})
	}
	label := e.jobLabel(opts.BulkID)
	render.Print(e.opts.Out, "add behavior "+label, t)

	res.Workbook = opts.Output
	if res.Workbook == "" {
		res.Workbook = WorkbookPath(e.opts.Dir, opts.Tag, StageAdd, label)
	}
	if err := WriteAddRows(res.Workbook, res.Rows); err != nil {
		return err
	}
	e.done(res.Workbook, fmt.Sprintf("edgectl bulk activate --input-excel %s --network staging --note NOTE --email EMAIL", res.Workbook))
	return nil
}
