package bulk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/edgeops/edgectl/internal/audit"
	"github.com/edgeops/edgectl/internal/papi"
	"github.com/edgeops/edgectl/internal/render"
)

// ActivateOptions selects review (IDs) or submission (InputExcel with the
// network, note and notification addresses).
type ActivateOptions struct {
	IDs          []int64  `flag:"id"`
	InputExcel   string   `flag:"input-excel"`
	Network      string   `flag:"network" validate:"omitempty,oneof=staging production"`
	Note         string   `flag:"note" validate:"required_with=InputExcel"`
	Emails       []string `flag:"email" validate:"dive,contains=@"`
	ReviewEmails []string `flag:"review-email" validate:"dive,contains=@"`
	Normal       bool     `flag:"normal"`
	Tag          string   `flag:"tag"`
}

// ActivateResult is the outcome of the ACTIVATE stage.
type ActivateResult struct {
	JobIDs   []int64
	Rows     []ActivationRow
	Summary  render.Table
	Workbook string
}

// Activate runs the ACTIVATE stage in batch, per-row or review mode.
func (e *Engine) Activate(ctx context.Context, opts ActivateOptions) (*ActivateResult, error) {
	if countSet(len(opts.IDs) > 0, opts.InputExcel != "") != 1 {
		return nil, errors.New("exactly one of --id or --input-excel is required")
	}
	if opts.InputExcel != "" {
		if opts.Network == "" {
			return nil, errors.New("--network is required with --input-excel")
		}
		if len(opts.Emails) == 0 {
			return nil, errors.New("at least one --email is required")
		}
	}
	if err := e.check(opts); err != nil {
		return nil, err
	}
	if len(opts.IDs) > 0 {
		return e.reviewActivation(ctx, opts)
	}

	input, err := readStageInput(opts.InputExcel, false)
	if err != nil {
		return nil, err
	}
	var targets []papi.ActivationTarget
	names := map[int64]string{}
	network := papi.Network(opts.Network)
	for _, r := range input {
		version := r.PropertyVersion
		switch {
		case r.Created():
			version = r.NewVersion
		case r.CreateStatus != "":
			e.logger.Warn().Int64("propertyId", r.PropertyID).Str("createVersionStatus", r.CreateStatus).
				Msg("no version was created, row skipped")
			continue
		}
		targets = append(targets, papi.ActivationTarget{
			PropertyID: r.PropertyID, PropertyVersion: version, Network: network, Note: opts.Note,
		})
		names[r.PropertyID] = r.PropertyName
	}
	if len(targets) == 0 {
		return nil, ErrNoProperties
	}

	if opts.Normal {
		return e.activateEach(ctx, opts, targets, names)
	}
	return e.activateBatch(ctx, opts, targets)
}

func (e *Engine) settings(opts ActivateOptions) papi.ActivationSettings {
	s := papi.ActivationSettings{
		NotifyEmails:           append(append([]string(nil), opts.Emails...), opts.ReviewEmails...),
		AcknowledgeAllWarnings: true,
	}
	if papi.Network(opts.Network) == papi.NetworkProduction {
		s.ComplianceRecord = &papi.ComplianceRecord{
			NoncomplianceReason: "NONE",
			PeerReviewedBy:      strings.Join(opts.ReviewEmails, ","),
		}
	}
	return s
}

func (e *Engine) activateBatch(ctx context.Context, opts ActivateOptions, targets []papi.ActivationTarget) (*ActivateResult, error) {
	id, err := e.api.SubmitBulkActivation(ctx, papi.BulkActivationRequest{
		DefaultActivationSettings: e.settings(opts),
		ActivatePropertyVersions:  targets,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info().Int64("bulkActivationId", id).Int("properties", len(targets)).Str("network", papi.Network(opts.Network)).
		Msg("bulk activation submitted")
	e.audit(audit.EventActivationSubmitted, map[string]any{
		"bulkActivationId": id, "network": papi.Network(opts.Network), "properties": len(targets), "note": opts.Note,
	})

	job, err := e.api.GetBulkActivation(ctx, id)
	if err != nil {
		return nil, err
	}
	e.snapshot(StageActivation, id, opts.Note, job)

	res := &ActivateResult{JobIDs: []int64{id}, Rows: activationRows(id, job)}
	return res, e.finishActivation(res, opts.Tag, fmt.Sprintf("edgectl bulk activate --id %d", id))
}

// activateEach submits one activation per property and looks each one up.
func (e *Engine) activateEach(ctx context.Context, opts ActivateOptions, targets []papi.ActivationTarget, names map[int64]string) (*ActivateResult, error) {
	settings := e.settings(opts)
	rows := make([]ActivationRow, len(targets))
	err := e.forEach(ctx, len(targets), func(ctx context.Context, i int) error {
		t := targets[i]
		row := ActivationRow{
			PropertyID: t.PropertyID, PropertyName: names[t.PropertyID],
			PropertyVersion: t.PropertyVersion, Network: t.Network,
		}
		defer func() { rows[i] = row }()

		aid, err := e.api.Activate(ctx, t.PropertyID, papi.ActivationRequest{
			PropertyVersion:        t.PropertyVersion,
			Network:                t.Network,
			Note:                   t.Note,
			NotifyEmails:           settings.NotifyEmails,
			AcknowledgeAllWarnings: settings.AcknowledgeAllWarnings,
			ComplianceRecord:       settings.ComplianceRecord,
		})
		if err != nil {
			if fatal(err) {
				return err
			}
			row.FatalError = err.Error()
			return nil
		}
		row.ActivationID = aid
		row.TaskStatus = "SUBMITTED"
		e.audit(audit.EventActivationSubmitted, map[string]any{
			"activationId": aid, "propertyId": t.PropertyID, "version": t.PropertyVersion, "network": t.Network, "note": t.Note,
		})

		act, err := e.api.GetActivation(ctx, t.PropertyID, aid)
		if err != nil {
			if fatal(err) {
				return err
			}
			e.logger.Warn().Err(err).Int64("activationId", aid).Msg("activation lookup failed")
			return nil
		}
		row.Network = act.Network
		row.ActivationStatus = act.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	res := &ActivateResult{Rows: rows}
	return res, e.finishActivation(res, opts.Tag)
}

func activationRows(id int64, job *papi.BulkActivation) []ActivationRow {
	rows := make([]ActivationRow, 0, len(job.ActivatePropertyVersions))
	for _, av := range job.ActivatePropertyVersions {
		rows = append(rows, ActivationRow{
			BulkActivationID: id,
			PropertyID:       av.PropertyID,
			PropertyName:     av.PropertyName,
			PropertyVersion:  av.PropertyVersion,
			Network:          av.Network,
			TaskStatus:       av.TaskStatus,
			ActivationStatus: av.ActivationStatus,
			FatalError:       av.FatalError,
			Link:             av.PropertyActivationsLink,
		})
	}
	return rows
}

// reviewActivation concatenates the rows of several bulk activations and
// resolves each row's activation status through its link.
func (e *Engine) reviewActivation(ctx context.Context, opts ActivateOptions) (*ActivateResult, error) {
	res := &ActivateResult{JobIDs: opts.IDs}
	for _, id := range opts.IDs {
		job, err := e.api.GetBulkActivation(ctx, id)
		if err != nil {
			return nil, err
		}
		e.snapshot(StageActivation, id, "", job)
		res.Rows = append(res.Rows, activationRows(id, job)...)
	}

	err := e.forEach(ctx, len(res.Rows), func(ctx context.Context, i int) error {
		row := &res.Rows[i]
		if row.Link == "" {
			return nil
		}
		act, err := e.api.GetActivationByLink(ctx, row.Link)
		if err != nil {
			if fatal(err) {
				return err
			}
			e.logger.Warn().Err(err).Int64("propertyId", row.PropertyID).Msg("activation lookup failed")
			return nil
		}
		row.ActivationID = act.ActivationID
		row.ActivationStatus = act.Status
		if row.PropertyName == "" {
			row.PropertyName = act.PropertyName
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(opts.IDs))
	for i, id := range opts.IDs {
		ids[i] = "--id " + itoa(id)
	}
	return res, e.finishActivation(res, opts.Tag, "edgectl bulk activate "+strings.Join(ids, " "))
}

// ActivationSummary groups rows by job, network, task and activation status.
func ActivationSummary(rows []ActivationRow) render.Table {
	keys := make([][]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, []string{itoa(r.BulkActivationID), r.Network, r.TaskStatus, r.ActivationStatus})
	}
	return render.GroupCount([]string{"bulkActivationId", "network", "taskStatus", "activation_status"}, keys)
}

func (e *Engine) finishActivation(res *ActivateResult, tag string, review ...string) error {
	t := render.Table{Headers: []string{"propertyName", "propertyVersion", "network", "taskStatus", "activation_status", "fatalError"}}
	for _, r := range res.Rows {
		t.Rows = append(t.Rows, []string{
			r.PropertyName, strconv.Itoa(r.PropertyVersion), r.Network, r.TaskStatus, r.ActivationStatus, r.FatalError,
		})
	}
	label := e.jobLabel(res.JobIDs...)
	render.Print(e.opts.Out, "bulk activation "+label, t)
	res.Summary = ActivationSummary(res.Rows)
	render.Print(e.opts.Out, "summary", res.Summary)

	res.Workbook = WorkbookPath(e.opts.Dir, tag, StageActivation, label)
	if err := WriteActivationRows(res.Workbook, res.Rows); err != nil {
		return err
	}
	e.done(res.Workbook, review...)
	return nil
}
