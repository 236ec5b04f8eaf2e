package bulk

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/edgeops/edgectl/internal/papi"
	"github.com/edgeops/edgectl/internal/render"
)

// SearchOptions selects an existing search job or describes a new one.
type SearchOptions struct {
	ID       int64    `flag:"id" validate:"required_without=JSONPath,excluded_with=JSONPath"`
	JSONPath string   `flag:"jsonpath"`
	Contract string   `flag:"contract"`
	Groups   []string `flag:"group"`
	Filter   Filter
	Output   string `flag:"output"`
	Tag      string `flag:"tag"`
}

// SearchResult is the outcome of the SEARCH stage.
type SearchResult struct {
	JobIDs   []int64
	Rows     WorkingSet
	Workbook string
}

// Search runs the SEARCH stage. An empty remote result is reported and
// returns no rows; a non-empty result that filters down to nothing is
// ErrNoProperties.
func (e *Engine) Search(ctx context.Context, opts SearchOptions) (*SearchResult, error) {
	if opts.Contract != "" && len(opts.Groups) > 0 {
		return nil, ErrScopeConflict
	}
	if err := e.check(opts); err != nil {
		return nil, err
	}
	filter, err := opts.Filter.compile()
	if err != nil {
		return nil, err
	}

	var jobs []*papi.BulkSearch
	if opts.ID != 0 {
		job, err := e.awaitSearch(ctx, opts.ID)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	} else {
		query, err := os.ReadFile(opts.JSONPath)
		if err != nil {
			return nil, fmt.Errorf("reading search query: %w", err)
		}
		for _, scope := range searchScopes(opts.Contract, opts.Groups) {
			id, err := e.api.SubmitBulkSearch(ctx, query, scope)
			if err != nil {
				return nil, err
			}
			e.logger.Info().Int64("bulkSearchId", id).Str("contract", scope.ContractID).Str("group", scope.GroupID).Msg("bulk search submitted")
			job, err := e.awaitSearch(ctx, id)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}
	}

	res := &SearchResult{}
	var results []papi.SearchResult
	for _, job := range jobs {
		res.JobIDs = append(res.JobIDs, job.BulkSearchID)
		results = append(results, job.Results...)
	}
	label := e.jobLabel(res.JobIDs...)

	if len(results) == 0 {
		e.logger.Warn().Str("bulkSearchId", label).Msg("bulk search returned no results")
		e.printf("bulk search %s returned no properties\n", label)
		return res, nil
	}

	rows := filter.ApplyRaw(rowsFromResults(results), e.logger)
	if len(rows) == 0 {
		return nil, ErrNoProperties
	}
	if err := e.enrichAll(ctx, rows, func(r WorkingRow) int { return r.PropertyVersion }); err != nil {
		return nil, err
	}
	rows = filter.ApplyEnriched(rows, e.logger)
	if len(rows) == 0 {
		return nil, ErrNoProperties
	}
	res.Rows = rows

	render.Print(e.opts.Out, "bulk search "+label, searchTable(rows))

	res.Workbook = opts.Output
	if res.Workbook == "" {
		res.Workbook = WorkbookPath(e.opts.Dir, opts.Tag, StageSearch, label)
	}
	if err := WriteWorkingSet(res.Workbook, rows); err != nil {
		return nil, err
	}
	e.done(res.Workbook,
		fmt.Sprintf("edgectl bulk search --id %d", res.JobIDs[0]),
		fmt.Sprintf("edgectl bulk create --input-excel %s", res.Workbook))
	return res, nil
}

func searchScopes(contract string, groups []string) []papi.SearchScope {
	if len(groups) == 0 {
		return []papi.SearchScope{{ContractID: contract}}
	}
	scopes := make([]papi.SearchScope, 0, len(groups))
	for _, g := range groups {
		scopes = append(scopes, papi.SearchScope{GroupID: g})
	}
	return scopes
}

// awaitSearch polls a search job until the remote has finished it and keeps
// a snapshot of the result.
func (e *Engine) awaitSearch(ctx context.Context, id int64) (*papi.BulkSearch, error) {
	job, err := poll(ctx, e, "bulk search", id, func(ctx context.Context) (*papi.BulkSearch, bool, error) {
		job, err := e.api.GetBulkSearch(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return job, job.Done(), nil
	})
	if err != nil {
		return nil, err
	}
	e.snapshot(StageSearch, id, "", job)
	e.logger.Info().Int64("bulkSearchId", id).Int("results", len(job.Results)).Msg("bulk search complete")
	return job, nil
}

// displaySorted returns a copy of rows ordered by env, group and name.
func displaySorted(rows WorkingSet) WorkingSet {
	out := append(WorkingSet(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Env != b.Env {
			return a.Env < b.Env
		}
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		return a.PropertyName < b.PropertyName
	})
	return out
}

func searchTable(rows WorkingSet) render.Table {
	t := render.Table{Headers: []string{"env", "groupId", "propertyName", "propertyVersion", "matchLocations", "propertyURL"}}
	for _, r := range displaySorted(rows) {
		t.Rows = append(t.Rows, []string{
			r.Env, itoa(r.GroupID), r.PropertyName, strconv.Itoa(r.PropertyVersion),
			strings.Join(r.MatchLocations, "\n"), r.PropertyURL,
		})
	}
	return t
}
